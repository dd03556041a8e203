package scorer

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"yqhp/optimization-engine/internal/config"
	"yqhp/optimization-engine/pkg/logger"
	"yqhp/optimization-engine/pkg/types"
)

const defaultScriptTimeout = 10 * time.Second

// ScriptScorer evaluates artifacts with a user-supplied JavaScript function.
// 脚本必须定义 score(artifact) 函数，返回
// {overall, dimensions, strengths, weaknesses, recommendations}。
type ScriptScorer struct {
	source  string
	timeout time.Duration
	log     logger.Logger
}

// scriptOutput 是脚本返回值的映射目标。
type scriptOutput struct {
	Overall         float64            `json:"overall"`
	Dimensions      map[string]float64 `json:"dimensions"`
	Strengths       []string           `json:"strengths"`
	Weaknesses      []string           `json:"weaknesses"`
	Recommendations []string           `json:"recommendations"`
}

// NewScriptScorer loads the script source from the configuration.
func NewScriptScorer(cfg *config.ScriptConfig, log logger.Logger) (*ScriptScorer, error) {
	source, err := cfg.ScriptSource()
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}

	return &ScriptScorer{
		source:  source,
		timeout: timeout,
		log:     logger.OrNop(log),
	}, nil
}

// Score runs the script in a fresh VM per call. A fresh VM keeps scoring
// calls independent so the scorer is safe for concurrent sessions.
func (s *ScriptScorer) Score(ctx context.Context, artifact *types.Artifact) (*types.ScoreResult, error) {
	if artifact == nil {
		return nil, fmt.Errorf("artifact cannot be nil")
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	// 超时中断：goja 通过 Interrupt 终止执行。
	timer := time.AfterFunc(s.timeout, func() {
		vm.Interrupt("script timeout")
	})
	defer timer.Stop()

	if _, err := vm.RunString(s.source); err != nil {
		return nil, fmt.Errorf("脚本加载失败: %w", err)
	}

	scoreFn, ok := goja.AssertFunction(vm.Get("score"))
	if !ok {
		return nil, fmt.Errorf("脚本必须定义 score(artifact) 函数")
	}

	value, err := scoreFn(goja.Undefined(), vm.ToValue(artifact))
	if err != nil {
		return nil, fmt.Errorf("脚本执行失败: %w", err)
	}

	var out scriptOutput
	if err := vm.ExportTo(value, &out); err != nil {
		return nil, fmt.Errorf("脚本返回值格式无效: %w", err)
	}

	if out.Overall < 0 || out.Overall > 1 {
		return nil, fmt.Errorf("脚本返回的 overall 分数 %v 不在 [0, 1] 区间", out.Overall)
	}

	return &types.ScoreResult{
		Overall:         out.Overall,
		Dimensions:      out.Dimensions,
		Strengths:       out.Strengths,
		Weaknesses:      out.Weaknesses,
		Recommendations: out.Recommendations,
	}, nil
}
