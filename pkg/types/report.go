package types

import "time"

// HarnessConfig holds the configuration for the parallel batch runner.
type HarnessConfig struct {
	// Parallelism is the number of concurrent session workers.
	Parallelism int `yaml:"parallelism" env:"OE_HARNESS_PARALLELISM"`

	// MaxRetries is the number of additional attempts for a panicking session.
	MaxRetries int `yaml:"max_retries" env:"OE_HARNESS_MAX_RETRIES"`

	// TimeoutPerSession bounds the collection wait: the whole batch waits at
	// most TimeoutPerSession * len(inputs).
	TimeoutPerSession time.Duration `yaml:"timeout_per_session" env:"OE_HARNESS_TIMEOUT_PER_SESSION"`

	// BatchSize is the number of inputs drawn per optimization cycle.
	BatchSize int `yaml:"batch_size" env:"OE_HARNESS_BATCH_SIZE"`
}

// DefaultHarnessConfig returns a default harness configuration.
func DefaultHarnessConfig() *HarnessConfig {
	return &HarnessConfig{
		Parallelism:       4,
		MaxRetries:        2,
		TimeoutPerSession: 5 * time.Minute,
		BatchSize:         10,
	}
}

// HarnessResult is the outcome of one batch run.
// 分数统计只统计成功的会话；全部失败时各项为 0.0。
type HarnessResult struct {
	BatchID           string             `json:"batch_id"`
	Sessions          []*SessionResult   `json:"sessions,omitempty"`
	Total             int                `json:"total"`
	Successful        int                `json:"successful"`
	Failed            int                `json:"failed"`
	AverageScore      float64            `json:"average_score"`
	BestScore         float64            `json:"best_score"`
	WorstScore        float64            `json:"worst_score"`
	ConvergenceRate   float64            `json:"convergence_rate"`
	AverageRounds     float64            `json:"average_rounds"`
	MaxRoundsUsed     int                `json:"max_rounds_used"`
	DimensionAverages map[string]float64 `json:"dimension_averages,omitempty"`
	Elapsed           time.Duration      `json:"elapsed"`
}

// Trend classifies how the rolling score history is moving.
type Trend string

const (
	// TrendImproving indicates scores are rising beyond the improvement rate.
	TrendImproving Trend = "improving"
	// TrendDeclining indicates scores are dropping beyond the improvement rate.
	TrendDeclining Trend = "declining"
	// TrendStable indicates scores are moving within the improvement rate.
	TrendStable Trend = "stable"
	// TrendInsufficientData indicates there is not enough history to classify.
	TrendInsufficientData Trend = "insufficient_data"
)

// ConvergenceStatus is the optimizer's verdict on the optimization loop.
type ConvergenceStatus string

const (
	// ConvergenceConverged indicates the average score reached the threshold.
	ConvergenceConverged ConvergenceStatus = "converged"
	// ConvergenceNear indicates a stable trend with a high average.
	ConvergenceNear ConvergenceStatus = "near_convergence"
	// ConvergenceNot indicates the loop has not converged.
	ConvergenceNot ConvergenceStatus = "not_converged"
)

// DimensionStats aggregates one scoring dimension across a batch.
type DimensionStats struct {
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// OptimizationReport is the outcome of an optimizer analysis call.
type OptimizationReport struct {
	AverageScore    float64                    `json:"average_score"`
	Trend           Trend                      `json:"trend"`
	Convergence     ConvergenceStatus          `json:"convergence"`
	ImprovementRate float64                    `json:"improvement_rate"`
	Recommendations []string                   `json:"recommendations,omitempty"`
	Dimensions      map[string]*DimensionStats `json:"dimensions,omitempty"`
	Insights        []string                   `json:"insights,omitempty"`
	GeneratedAt     time.Time                  `json:"generated_at"`
}

// OptimizerConfig holds the configuration for the trend analyzer.
type OptimizerConfig struct {
	// WindowSize is the number of history entries considered for the trend.
	WindowSize int `yaml:"window_size" env:"OE_OPTIMIZER_WINDOW_SIZE"`

	// MinImprovementRate is the score delta below which the trend is stable.
	MinImprovementRate float64 `yaml:"min_improvement_rate" env:"OE_OPTIMIZER_MIN_IMPROVEMENT_RATE"`

	// ConvergenceThreshold is the average score that counts as converged.
	ConvergenceThreshold float64 `yaml:"convergence_threshold" env:"OE_OPTIMIZER_CONVERGENCE_THRESHOLD"`
}

// DefaultOptimizerConfig returns a default optimizer configuration.
func DefaultOptimizerConfig() *OptimizerConfig {
	return &OptimizerConfig{
		WindowSize:           5,
		MinImprovementRate:   0.01,
		ConvergenceThreshold: 0.85,
	}
}
