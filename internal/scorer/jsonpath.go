// Package scorer provides concrete Scorer implementations: a JSONPath
// dimension scorer for JSON artifacts, a JS script scorer, and a remote HTTP
// scorer. The engine core stays generic over the Scorer interface.
package scorer

import (
	"context"
	"fmt"
	"sort"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"yqhp/optimization-engine/internal/config"
	"yqhp/optimization-engine/pkg/logger"
	"yqhp/optimization-engine/pkg/types"
)

// 维度得分的强弱阈值，用于生成反馈。
const (
	dimensionStrong = 0.8
	dimensionWeak   = 0.5
)

// JSONPathScorer evaluates JSON artifacts by extracting one numeric score per
// dimension with a JSONPath expression. The overall score is the weighted
// mean of the dimension scores.
type JSONPathScorer struct {
	paths   map[string]jp.Expr
	weights map[string]float64
	log     logger.Logger
}

// NewJSONPathScorer parses the configured dimension expressions up front so
// invalid expressions fail fast.
func NewJSONPathScorer(cfg *config.JSONPathConfig, log logger.Logger) (*JSONPathScorer, error) {
	if len(cfg.Dimensions) == 0 {
		return nil, fmt.Errorf("jsonpath scorer requires at least one dimension")
	}

	paths := make(map[string]jp.Expr, len(cfg.Dimensions))
	for dim, expr := range cfg.Dimensions {
		path, err := jp.ParseString(expr)
		if err != nil {
			return nil, fmt.Errorf("维度 %q 的 JSONPath 表达式无效 %q: %w", dim, expr, err)
		}
		paths[dim] = path
	}

	return &JSONPathScorer{
		paths:   paths,
		weights: cfg.Weights,
		log:     logger.OrNop(log),
	}, nil
}

// Score parses the artifact content as JSON and evaluates every dimension.
// 缺失或非数值的维度计为 0 分并记为弱项。
func (s *JSONPathScorer) Score(ctx context.Context, artifact *types.Artifact) (*types.ScoreResult, error) {
	if artifact == nil {
		return nil, fmt.Errorf("artifact cannot be nil")
	}

	data, err := oj.ParseString(artifact.Content)
	if err != nil {
		return nil, fmt.Errorf("产物不是合法 JSON: %w", err)
	}

	result := &types.ScoreResult{
		Dimensions: make(map[string]float64, len(s.paths)),
	}

	var weightedSum, weightSum float64

	// 按维度名排序，保证反馈内容顺序稳定。
	dims := make([]string, 0, len(s.paths))
	for dim := range s.paths {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	for _, dim := range dims {
		score := s.evaluate(dim, data)
		result.Dimensions[dim] = score

		weight := 1.0
		if w, ok := s.weights[dim]; ok && w > 0 {
			weight = w
		}
		weightedSum += score * weight
		weightSum += weight

		switch {
		case score >= dimensionStrong:
			result.Strengths = append(result.Strengths, fmt.Sprintf("strong %s", dim))
		case score < dimensionWeak:
			result.Weaknesses = append(result.Weaknesses, fmt.Sprintf("low %s", dim))
			result.Recommendations = append(result.Recommendations, fmt.Sprintf("improve %s (currently %.2f)", dim, score))
		}
	}

	if weightSum > 0 {
		result.Overall = weightedSum / weightSum
	}

	return result, nil
}

// evaluate runs one dimension's expression and clamps the result to [0, 1].
func (s *JSONPathScorer) evaluate(dim string, data any) float64 {
	matches := s.paths[dim].Get(data)
	if len(matches) == 0 {
		s.log.Debug("[scorer] dimension %q matched nothing", dim)
		return 0
	}

	value, ok := toFloat(matches[0])
	if !ok {
		s.log.Debug("[scorer] dimension %q value %v is not numeric", dim, matches[0])
		return 0
	}

	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// toFloat converts the numeric types oj produces.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
