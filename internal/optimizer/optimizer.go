// Package optimizer analyzes score trends across harness batches and emits
// actionable recommendations plus a convergence verdict. It is generic over
// the {dimension -> score} shape and knows nothing about what is scored.
package optimizer

import (
	"fmt"
	"sort"
	"time"

	"yqhp/optimization-engine/pkg/logger"
	"yqhp/optimization-engine/pkg/types"
)

// Dimension and overall thresholds driving recommendation generation.
const (
	weakDimensionThreshold = 0.5
	urgentOverallThreshold = 0.4
	strongOverallThreshold = 0.8
	nearConvergenceFloor   = 0.7
)

// scorePoint 是一条分数历史记录，按追加时间单调排列。
type scorePoint struct {
	score float64
	at    time.Time
}

// Optimizer maintains a rolling score history across batches. It retains
// only scalar history, never full reports. Not safe for concurrent use:
// the analysis methods are meant to be called from a single driving loop.
type Optimizer struct {
	config  *types.OptimizerConfig
	log     logger.Logger
	history []scorePoint
}

// New creates a new optimizer.
func New(config *types.OptimizerConfig, log logger.Logger) *Optimizer {
	if config == nil {
		config = types.DefaultOptimizerConfig()
	}
	if config.WindowSize < 2 {
		config.WindowSize = 2
	}
	return &Optimizer{
		config: config,
		log:    logger.OrNop(log),
	}
}

// AnalyzeBatch computes the mean score over successful session results,
// appends it to the rolling history, and builds a full report: trend over the
// history window, per-dimension statistics, the most frequent weakness, and
// threshold-keyed recommendations.
func (o *Optimizer) AnalyzeBatch(results []*types.SessionResult) *types.OptimizationReport {
	report := &types.OptimizationReport{
		Trend:       types.TrendInsufficientData,
		Convergence: types.ConvergenceNot,
		GeneratedAt: time.Now(),
	}

	if len(results) == 0 {
		report.Recommendations = []string{"no results to analyze; supply a non-empty batch"}
		return report
	}

	var scoreSum float64
	successful := 0
	for _, r := range results {
		if r.Success {
			scoreSum += r.BestScore
			successful++
		}
	}

	if successful > 0 {
		report.AverageScore = scoreSum / float64(successful)
	}

	o.history = append(o.history, scorePoint{score: report.AverageScore, at: time.Now()})
	report.Trend = o.classifyTrend()

	report.Dimensions = dimensionStats(results)
	if weakness := topWeakness(results); weakness != "" {
		report.Insights = append(report.Insights, fmt.Sprintf("most frequent weakness: %s", weakness))
	}
	report.Recommendations = o.recommend(report)
	report.Convergence = o.verdict(report.AverageScore, report.Trend)

	o.log.Debug("[optimizer] batch analyzed: avg=%.3f trend=%s convergence=%s", report.AverageScore, report.Trend, report.Convergence)

	return report
}

// AnalyzeTrends analyzes a list of historical batches without touching the
// rolling history: one mean score per batch, a linear improvement rate, and
// the same trend classification.
func (o *Optimizer) AnalyzeTrends(batches []*types.HarnessResult) *types.OptimizationReport {
	report := &types.OptimizationReport{
		Trend:       types.TrendInsufficientData,
		Convergence: types.ConvergenceNot,
		GeneratedAt: time.Now(),
	}

	if len(batches) == 0 {
		return report
	}

	means := make([]float64, len(batches))
	var sum float64
	for i, b := range batches {
		means[i] = b.AverageScore
		sum += b.AverageScore
	}
	report.AverageScore = sum / float64(len(means))

	if len(means) >= 2 {
		report.ImprovementRate = (means[len(means)-1] - means[0]) / float64(len(means))
		report.Trend = classifyDelta(means[len(means)-1]-means[0], o.config.MinImprovementRate)
	}

	report.Recommendations = o.recommend(report)
	report.Convergence = o.verdict(report.AverageScore, report.Trend)

	return report
}

// History returns a copy of the rolling score history.
func (o *Optimizer) History() []float64 {
	scores := make([]float64, len(o.history))
	for i, p := range o.history {
		scores[i] = p.score
	}
	return scores
}

// classifyTrend compares the first and last entry of the last WindowSize
// history points.
func (o *Optimizer) classifyTrend() types.Trend {
	if len(o.history) < 2 {
		return types.TrendInsufficientData
	}

	window := o.history
	if len(window) > o.config.WindowSize {
		window = window[len(window)-o.config.WindowSize:]
	}

	delta := window[len(window)-1].score - window[0].score
	return classifyDelta(delta, o.config.MinImprovementRate)
}

// classifyDelta 将分数差值归类。
func classifyDelta(delta, minRate float64) types.Trend {
	switch {
	case delta > minRate:
		return types.TrendImproving
	case delta < -minRate:
		return types.TrendDeclining
	default:
		return types.TrendStable
	}
}

// verdict maps average score and trend to a convergence status.
func (o *Optimizer) verdict(average float64, trend types.Trend) types.ConvergenceStatus {
	switch {
	case average >= o.config.ConvergenceThreshold:
		return types.ConvergenceConverged
	case trend == types.TrendStable && average > nearConvergenceFloor:
		return types.ConvergenceNear
	default:
		return types.ConvergenceNot
	}
}

// recommend generates recommendations keyed by dimension and overall
// thresholds. The slice order is deterministic: the urgent entry first, then
// weak dimensions sorted by name.
func (o *Optimizer) recommend(report *types.OptimizationReport) []string {
	var recs []string

	var weakDims []string
	for dim, stats := range report.Dimensions {
		if stats.Mean < weakDimensionThreshold {
			weakDims = append(weakDims, dim)
		}
	}
	sort.Strings(weakDims)
	for _, dim := range weakDims {
		recs = append(recs, fmt.Sprintf("[high] dimension %q averages %.2f; focus refinement there", dim, report.Dimensions[dim].Mean))
	}

	switch {
	case report.AverageScore < urgentOverallThreshold:
		recs = append([]string{fmt.Sprintf("URGENT: overall average %.2f is critically low; review producer prompts and scoring criteria", report.AverageScore)}, recs...)
	case report.AverageScore > strongOverallThreshold:
		recs = append(recs, "scores are consistently high; add harder test cases to keep the signal useful")
	default:
		recs = append(recs, "quality is moderate; continue iterating with the current configuration")
	}

	return recs
}

// dimensionStats aggregates per-dimension mean/min/max/count across all
// results, failed sessions included when their rounds carry scores.
func dimensionStats(results []*types.SessionResult) map[string]*types.DimensionStats {
	stats := make(map[string]*types.DimensionStats)
	sums := make(map[string]float64)

	for _, r := range results {
		for _, round := range r.Rounds {
			if round.Err != "" {
				continue
			}
			for dim, score := range round.Dimensions {
				entry, ok := stats[dim]
				if !ok {
					entry = &types.DimensionStats{Min: score, Max: score}
					stats[dim] = entry
				}
				if score < entry.Min {
					entry.Min = score
				}
				if score > entry.Max {
					entry.Max = score
				}
				entry.Count++
				sums[dim] += score
			}
		}
	}

	for dim, entry := range stats {
		entry.Mean = sums[dim] / float64(entry.Count)
	}

	if len(stats) == 0 {
		return nil
	}
	return stats
}

// topWeakness returns the single most frequent weakness tag across all
// rounds, ties broken alphabetically.
func topWeakness(results []*types.SessionResult) string {
	counts := make(map[string]int)
	for _, r := range results {
		for _, round := range r.Rounds {
			for _, w := range round.Weaknesses {
				counts[w]++
			}
		}
	}

	best := ""
	bestCount := 0
	for w, c := range counts {
		if c > bestCount || (c == bestCount && best != "" && w < best) {
			best = w
			bestCount = c
		}
	}
	return best
}
