package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
// 校验失败属于用法错误，必须在任何工作开始前快速失败。
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateHarness(cfg)
	v.validateSession(cfg)
	v.validateOptimizer(cfg)
	v.validateProcessor(cfg)
	v.validateProducer(cfg)
	v.validateScorer(cfg)
	v.validateServer(cfg)
	v.validateLogging(cfg)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateHarness(cfg *Config) {
	if cfg.Harness.Parallelism < 1 {
		v.addError("harness.parallelism", "must be at least 1")
	}
	if cfg.Harness.MaxRetries < 0 {
		v.addError("harness.max_retries", "cannot be negative")
	}
	if cfg.Harness.TimeoutPerSession < 0 {
		v.addError("harness.timeout_per_session", "cannot be negative")
	}
	if cfg.Harness.BatchSize < 1 {
		v.addError("harness.batch_size", "must be at least 1")
	}
}

func (v *Validator) validateSession(cfg *Config) {
	if cfg.Session.MaxRounds < 1 {
		v.addError("session.max_rounds", "must be at least 1")
	}
	if cfg.Session.ConvergenceThreshold < 0 || cfg.Session.ConvergenceThreshold > 1 {
		v.addError("session.convergence_threshold", "must be in [0, 1]")
	}
}

func (v *Validator) validateOptimizer(cfg *Config) {
	if cfg.Optimizer.WindowSize < 2 {
		v.addError("optimizer.window_size", "must be at least 2")
	}
	if cfg.Optimizer.MinImprovementRate < 0 {
		v.addError("optimizer.min_improvement_rate", "cannot be negative")
	}
	if cfg.Optimizer.ConvergenceThreshold < 0 || cfg.Optimizer.ConvergenceThreshold > 1 {
		v.addError("optimizer.convergence_threshold", "must be in [0, 1]")
	}
}

func (v *Validator) validateProcessor(cfg *Config) {
	if cfg.Processor.NumWorkers < 1 {
		v.addError("processor.num_workers", "must be at least 1")
	}
	if cfg.Processor.MaxRetries < 0 {
		v.addError("processor.max_retries", "cannot be negative")
	}
	if cfg.Processor.HeartbeatInterval <= 0 {
		v.addError("processor.heartbeat_interval", "must be positive")
	}
	if cfg.Processor.TaskTimeout <= 0 {
		v.addError("processor.task_timeout", "must be positive")
	}
}

func (v *Validator) validateProducer(cfg *Config) {
	switch cfg.Producer.Type {
	case "llm":
		if cfg.Producer.LLM.Model == "" {
			v.addError("producer.llm.model", "model is required")
		}
	case "http":
		if cfg.Producer.HTTP.BaseURL == "" {
			v.addError("producer.http.base_url", "base_url is required")
		}
	default:
		v.addError("producer.type", fmt.Sprintf("unknown producer type %q", cfg.Producer.Type))
	}
}

func (v *Validator) validateScorer(cfg *Config) {
	switch cfg.Scorer.Type {
	case "jsonpath":
		if len(cfg.Scorer.JSONPath.Dimensions) == 0 {
			v.addError("scorer.jsonpath.dimensions", "at least one dimension is required")
		}
	case "script":
		if cfg.Scorer.Script.Source == "" && cfg.Scorer.Script.Path == "" {
			v.addError("scorer.script", "source or path is required")
		}
	case "http":
		if cfg.Scorer.HTTP.BaseURL == "" {
			v.addError("scorer.http.base_url", "base_url is required")
		}
	default:
		v.addError("scorer.type", fmt.Sprintf("unknown scorer type %q", cfg.Scorer.Type))
	}
}

func (v *Validator) validateServer(cfg *Config) {
	if !cfg.Server.Enabled {
		return
	}
	if cfg.Server.Address == "" {
		v.addError("server.address", "address is required")
	} else if !isValidAddress(cfg.Server.Address) {
		v.addError("server.address", "invalid address format, expected host:port or :port")
	}
	if cfg.Server.StreamInterval <= 0 {
		v.addError("server.stream_interval", "must be positive")
	}
}

func (v *Validator) validateLogging(cfg *Config) {
	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		v.addError("logging.level", fmt.Sprintf("unknown log level %q", cfg.Logging.Level))
	}
}

// isValidAddress checks a host:port listen address.
func isValidAddress(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	return port != ""
}
