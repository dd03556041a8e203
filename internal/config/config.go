// Package config loads and validates the engine configuration from defaults,
// a YAML file, and environment variable overrides, in that precedence order.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/optimization-engine/pkg/types"
)

// Config represents the complete configuration for the optimization engine.
type Config struct {
	Harness   types.HarnessConfig   `yaml:"harness"`
	Session   types.SessionConfig   `yaml:"session"`
	Optimizer types.OptimizerConfig `yaml:"optimizer"`
	Processor types.ProcessorConfig `yaml:"processor"`
	Producer  ProducerConfig        `yaml:"producer"`
	Scorer    ScorerConfig          `yaml:"scorer"`
	Server    ServerConfig          `yaml:"server"`
	Logging   LoggingConfig         `yaml:"logging"`
}

// ProducerConfig selects and configures the producer adapter.
type ProducerConfig struct {
	// Type is the producer adapter type: "llm" or "http".
	Type string       `yaml:"type" env:"OE_PRODUCER_TYPE"`
	LLM  LLMConfig    `yaml:"llm"`
	HTTP RemoteConfig `yaml:"http"`
}

// LLMConfig holds LLM producer configuration.
type LLMConfig struct {
	Provider    string   `yaml:"provider" env:"OE_LLM_PROVIDER"`
	Model       string   `yaml:"model" env:"OE_LLM_MODEL"`
	APIKey      string   `yaml:"api_key" env:"OE_LLM_API_KEY"`
	BaseURL     string   `yaml:"base_url" env:"OE_LLM_BASE_URL"`
	Temperature *float32 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
}

// RemoteConfig holds remote produce/score service configuration.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url" env:"OE_REMOTE_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"OE_REMOTE_TIMEOUT"`
}

// ScorerConfig selects and configures the scorer adapter.
type ScorerConfig struct {
	// Type is the scorer adapter type: "jsonpath", "script" or "http".
	Type     string         `yaml:"type" env:"OE_SCORER_TYPE"`
	JSONPath JSONPathConfig `yaml:"jsonpath"`
	Script   ScriptConfig   `yaml:"script"`
	HTTP     RemoteConfig   `yaml:"http"`
}

// JSONPathConfig maps scoring dimensions to JSONPath expressions evaluated
// against the artifact content.
type JSONPathConfig struct {
	Dimensions map[string]string  `yaml:"dimensions"`
	Weights    map[string]float64 `yaml:"weights,omitempty"`
}

// ScriptConfig holds the JS scoring script.
type ScriptConfig struct {
	Path    string        `yaml:"path,omitempty" env:"OE_SCRIPT_PATH"`
	Source  string        `yaml:"source,omitempty"`
	Timeout time.Duration `yaml:"timeout" env:"OE_SCRIPT_TIMEOUT"`
}

// ServerConfig holds the status REST server configuration.
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled" env:"OE_SERVER_ENABLED"`
	Address         string        `yaml:"address" env:"OE_SERVER_ADDRESS"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"OE_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"OE_SERVER_WRITE_TIMEOUT"`
	EnableCORS      bool          `yaml:"enable_cors" env:"OE_SERVER_ENABLE_CORS"`
	EnableWebSocket bool          `yaml:"enable_websocket" env:"OE_SERVER_ENABLE_WEBSOCKET"`
	StreamInterval  time.Duration `yaml:"stream_interval" env:"OE_SERVER_STREAM_INTERVAL"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"OE_LOG_LEVEL"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Harness:   *types.DefaultHarnessConfig(),
		Session:   *types.DefaultSessionConfig(),
		Optimizer: *types.DefaultOptimizerConfig(),
		Processor: *types.DefaultProcessorConfig(),
		Producer: ProducerConfig{
			Type: "llm",
			LLM: LLMConfig{
				Provider: "openai",
				Model:    "gpt-4o-mini",
			},
			HTTP: RemoteConfig{Timeout: 30 * time.Second},
		},
		Scorer: ScorerConfig{
			Type: "jsonpath",
			JSONPath: JSONPathConfig{
				Dimensions: map[string]string{"overall": "$.overall"},
			},
			Script: ScriptConfig{
				Timeout: 10 * time.Second,
			},
			HTTP: RemoteConfig{Timeout: 30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:         false,
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			EnableCORS:      true,
			EnableWebSocket: true,
			StreamInterval:  time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration with the precedence defaults < YAML file < env.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	if err := applyEnvOverrides(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides recursively applies `env:` tagged overrides.
func applyEnvOverrides(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := applyEnvOverrides(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}

	return nil
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("无效的整数: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("无效的浮点数: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}

	return nil
}

// ScriptSource returns the scoring script source, reading Path if Source is
// not set inline.
func (c *ScriptConfig) ScriptSource() (string, error) {
	if c.Source != "" {
		return c.Source, nil
	}
	if c.Path == "" {
		return "", fmt.Errorf("script scorer requires source or path")
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return "", fmt.Errorf("读取脚本文件失败: %w", err)
	}
	return string(data), nil
}
