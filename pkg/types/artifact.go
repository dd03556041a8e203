package types

import "context"

// Artifact is one candidate produced for an input.
type Artifact struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Format   string         `json:"format,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ProduceContext carries refinement state across produce calls.
// Hints 保存上一轮反馈的改进建议，PriorArtifacts 保存之前各轮的产物。
type ProduceContext struct {
	DataType       string      `json:"data_type,omitempty"`
	Mode           string      `json:"mode,omitempty"`
	Domain         string      `json:"domain,omitempty"`
	PriorArtifacts []*Artifact `json:"prior_artifacts,omitempty"`
	Hints          []string    `json:"hints,omitempty"`
}

// Clone returns a deep-enough copy for per-session ownership: the slices are
// copied, the artifacts themselves are shared read-only.
func (c *ProduceContext) Clone() *ProduceContext {
	if c == nil {
		return &ProduceContext{}
	}
	clone := &ProduceContext{
		DataType: c.DataType,
		Mode:     c.Mode,
		Domain:   c.Domain,
	}
	if len(c.PriorArtifacts) > 0 {
		clone.PriorArtifacts = append([]*Artifact(nil), c.PriorArtifacts...)
	}
	if len(c.Hints) > 0 {
		clone.Hints = append([]string(nil), c.Hints...)
	}
	return clone
}

// ScoreResult is the outcome of scoring a single artifact.
// Overall 取值范围为 [0, 1]。
type ScoreResult struct {
	Overall         float64            `json:"overall"`
	Dimensions      map[string]float64 `json:"dimensions,omitempty"`
	Strengths       []string           `json:"strengths,omitempty"`
	Weaknesses      []string           `json:"weaknesses,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// Producer turns raw input into a candidate artifact. A failed produce call
// returns an error; it must not panic past this boundary.
type Producer interface {
	Produce(ctx context.Context, input string, pctx *ProduceContext) (*Artifact, error)
}

// Scorer evaluates an artifact and returns its score plus feedback.
type Scorer interface {
	Score(ctx context.Context, artifact *Artifact) (*ScoreResult, error)
}
