package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/optimization-engine/pkg/types"
)

func testOptimizer() *Optimizer {
	return New(&types.OptimizerConfig{
		WindowSize:           5,
		MinImprovementRate:   0.01,
		ConvergenceThreshold: 0.85,
	}, nil)
}

func successResult(score float64) *types.SessionResult {
	return &types.SessionResult{
		Success:   true,
		BestScore: score,
		State:     types.SessionStateExhausted,
	}
}

func batchOf(scores ...float64) []*types.SessionResult {
	results := make([]*types.SessionResult, len(scores))
	for i, s := range scores {
		results[i] = successResult(s)
	}
	return results
}

func TestAnalyzeBatch_EmptyBatch(t *testing.T) {
	o := testOptimizer()

	report := o.AnalyzeBatch(nil)
	assert.Zero(t, report.AverageScore)
	assert.Equal(t, types.TrendInsufficientData, report.Trend)
	assert.Equal(t, types.ConvergenceNot, report.Convergence)
	assert.NotEmpty(t, report.Recommendations)

	// 空批不应污染历史
	assert.Empty(t, o.History())
}

func TestAnalyzeBatch_MeanOverSuccessfulOnly(t *testing.T) {
	o := testOptimizer()

	results := batchOf(0.6, 0.8)
	results = append(results, &types.SessionResult{State: types.SessionStateFailed})

	report := o.AnalyzeBatch(results)
	assert.InDelta(t, 0.7, report.AverageScore, 1e-9)
}

func TestAnalyzeBatch_TrendImproving(t *testing.T) {
	o := testOptimizer()

	o.AnalyzeBatch(batchOf(0.5))
	o.AnalyzeBatch(batchOf(0.5))
	report := o.AnalyzeBatch(batchOf(0.9))

	assert.Equal(t, types.TrendImproving, report.Trend)
	assert.Equal(t, []float64{0.5, 0.5, 0.9}, o.History())
}

func TestAnalyzeBatch_TrendDeclining(t *testing.T) {
	o := testOptimizer()

	o.AnalyzeBatch(batchOf(0.9))
	report := o.AnalyzeBatch(batchOf(0.5))

	assert.Equal(t, types.TrendDeclining, report.Trend)
}

func TestAnalyzeBatch_TrendStable(t *testing.T) {
	o := testOptimizer()

	o.AnalyzeBatch(batchOf(0.7))
	report := o.AnalyzeBatch(batchOf(0.705))

	assert.Equal(t, types.TrendStable, report.Trend)
}

func TestAnalyzeBatch_SingleBatchInsufficientData(t *testing.T) {
	o := testOptimizer()

	report := o.AnalyzeBatch(batchOf(0.5))
	assert.Equal(t, types.TrendInsufficientData, report.Trend)
}

func TestAnalyzeBatch_TrendWindowed(t *testing.T) {
	o := New(&types.OptimizerConfig{
		WindowSize:           2,
		MinImprovementRate:   0.01,
		ConvergenceThreshold: 0.85,
	}, nil)

	// 窗口只看最后两个点: 0.8 -> 0.6 为下降，虽然整体从 0.1 上升
	o.AnalyzeBatch(batchOf(0.1))
	o.AnalyzeBatch(batchOf(0.8))
	report := o.AnalyzeBatch(batchOf(0.6))

	assert.Equal(t, types.TrendDeclining, report.Trend)
}

func TestAnalyzeBatch_ConvergenceVerdicts(t *testing.T) {
	t.Run("converged at threshold", func(t *testing.T) {
		o := testOptimizer()
		report := o.AnalyzeBatch(batchOf(0.85))
		assert.Equal(t, types.ConvergenceConverged, report.Convergence)
	})

	t.Run("near convergence on stable high trend", func(t *testing.T) {
		o := testOptimizer()
		o.AnalyzeBatch(batchOf(0.75))
		report := o.AnalyzeBatch(batchOf(0.75))
		assert.Equal(t, types.TrendStable, report.Trend)
		assert.Equal(t, types.ConvergenceNear, report.Convergence)
	})

	t.Run("not converged on low average", func(t *testing.T) {
		o := testOptimizer()
		report := o.AnalyzeBatch(batchOf(0.5))
		assert.Equal(t, types.ConvergenceNot, report.Convergence)
	})
}

func TestAnalyzeBatch_Recommendations(t *testing.T) {
	t.Run("urgent prepended on critically low average", func(t *testing.T) {
		o := testOptimizer()
		report := o.AnalyzeBatch(batchOf(0.2))
		require.NotEmpty(t, report.Recommendations)
		assert.Contains(t, report.Recommendations[0], "URGENT")
	})

	t.Run("weak dimensions sorted by name", func(t *testing.T) {
		o := testOptimizer()
		results := []*types.SessionResult{{
			Success:   true,
			BestScore: 0.6,
			Rounds: []types.SessionRound{{
				Round: 1,
				Score: 0.6,
				Dimensions: map[string]float64{
					"zeta":  0.3,
					"alpha": 0.2,
					"good":  0.9,
				},
			}},
		}}

		report := o.AnalyzeBatch(results)
		require.GreaterOrEqual(t, len(report.Recommendations), 2)
		assert.Contains(t, report.Recommendations[0], `"alpha"`)
		assert.Contains(t, report.Recommendations[1], `"zeta"`)
	})

	t.Run("high scores suggest harder cases", func(t *testing.T) {
		o := testOptimizer()
		report := o.AnalyzeBatch(batchOf(0.9))
		require.NotEmpty(t, report.Recommendations)
		assert.Contains(t, report.Recommendations[len(report.Recommendations)-1], "harder test cases")
	})
}

func TestAnalyzeBatch_DimensionStats(t *testing.T) {
	o := testOptimizer()
	results := []*types.SessionResult{
		{
			Success: true, BestScore: 0.6,
			Rounds: []types.SessionRound{
				{Round: 1, Score: 0.4, Dimensions: map[string]float64{"clarity": 0.4}},
				{Round: 2, Score: 0.6, Dimensions: map[string]float64{"clarity": 0.8}},
			},
		},
		{
			// 失败会话中带分数的轮次也计入维度统计
			State: types.SessionStateFailed,
			Rounds: []types.SessionRound{
				{Round: 1, Score: 0.6, Dimensions: map[string]float64{"clarity": 0.6}},
				{Round: 2, Err: "score: backend down"},
			},
		},
	}

	report := o.AnalyzeBatch(results)
	require.Contains(t, report.Dimensions, "clarity")
	stats := report.Dimensions["clarity"]
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 0.6, stats.Mean, 1e-9)
	assert.InDelta(t, 0.4, stats.Min, 1e-9)
	assert.InDelta(t, 0.8, stats.Max, 1e-9)
}

func TestAnalyzeBatch_TopWeaknessInsight(t *testing.T) {
	o := testOptimizer()
	results := []*types.SessionResult{{
		Success: true, BestScore: 0.5,
		Rounds: []types.SessionRound{
			{Round: 1, Weaknesses: []string{"vague", "too long"}},
			{Round: 2, Weaknesses: []string{"vague"}},
		},
	}}

	report := o.AnalyzeBatch(results)
	require.NotEmpty(t, report.Insights)
	assert.Contains(t, report.Insights[0], "vague")
}

func TestAnalyzeTrends(t *testing.T) {
	o := testOptimizer()

	batches := []*types.HarnessResult{
		{AverageScore: 0.4},
		{AverageScore: 0.6},
		{AverageScore: 0.8},
	}

	report := o.AnalyzeTrends(batches)
	assert.InDelta(t, 0.6, report.AverageScore, 1e-9)
	assert.InDelta(t, (0.8-0.4)/3, report.ImprovementRate, 1e-9)
	assert.Equal(t, types.TrendImproving, report.Trend)

	// AnalyzeTrends 不触碰滚动历史
	assert.Empty(t, o.History())
}

func TestAnalyzeTrends_Empty(t *testing.T) {
	o := testOptimizer()
	report := o.AnalyzeTrends(nil)
	assert.Zero(t, report.AverageScore)
	assert.Equal(t, types.TrendInsufficientData, report.Trend)
}

func TestNew_NormalizesWindowSize(t *testing.T) {
	o := New(&types.OptimizerConfig{WindowSize: 0, MinImprovementRate: 0.01, ConvergenceThreshold: 0.85}, nil)
	assert.Equal(t, 2, o.config.WindowSize)
}
