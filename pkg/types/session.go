package types

import "time"

// SessionState represents the terminal state of a convergence session.
type SessionState string

const (
	// SessionStateRunning indicates the session is still iterating.
	SessionStateRunning SessionState = "running"
	// SessionStateConverged indicates the session reached the score threshold.
	SessionStateConverged SessionState = "converged"
	// SessionStateExhausted indicates the round limit was hit before convergence.
	SessionStateExhausted SessionState = "exhausted"
	// SessionStateFailed indicates no round ever produced a scoreable artifact.
	SessionStateFailed SessionState = "failed"
)

// SessionRound 记录一次 produce/score 迭代。追加到历史后不可变。
type SessionRound struct {
	Round           int                `json:"round"`
	Artifact        *Artifact          `json:"artifact,omitempty"`
	Score           float64            `json:"score"`
	Dimensions      map[string]float64 `json:"dimensions,omitempty"`
	Strengths       []string           `json:"strengths,omitempty"`
	Weaknesses      []string           `json:"weaknesses,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Err             string             `json:"error,omitempty"`
	Duration        time.Duration      `json:"duration"`
}

// SessionResult is the outcome of one Session run. It is owned exclusively
// by the caller once returned.
type SessionResult struct {
	Input        string         `json:"input,omitempty"`
	BestArtifact *Artifact      `json:"best_artifact,omitempty"`
	BestScore    float64        `json:"best_score"`
	Rounds       []SessionRound `json:"rounds,omitempty"`
	Converged    bool           `json:"converged"`
	Success      bool           `json:"success"`
	State        SessionState   `json:"state"`
	Elapsed      time.Duration  `json:"elapsed"`
}

// RoundsUsed 返回实际执行的轮数。
func (r *SessionResult) RoundsUsed() int {
	return len(r.Rounds)
}

// SessionConfig holds the configuration for a single convergence session.
type SessionConfig struct {
	// MaxRounds is the maximum number of produce/score rounds.
	MaxRounds int `yaml:"max_rounds" env:"OE_SESSION_MAX_ROUNDS"`

	// ConvergenceThreshold is the overall score at which the session stops early.
	ConvergenceThreshold float64 `yaml:"convergence_threshold" env:"OE_SESSION_CONVERGENCE_THRESHOLD"`
}

// DefaultSessionConfig returns a default session configuration.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		MaxRounds:            3,
		ConvergenceThreshold: 0.85,
	}
}
