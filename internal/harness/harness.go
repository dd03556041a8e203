// Package harness runs many convergence sessions in parallel over a fixed
// goroutine pool and aggregates their outcomes into batch statistics.
package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"yqhp/optimization-engine/internal/session"
	"yqhp/optimization-engine/pkg/logger"
	"yqhp/optimization-engine/pkg/types"
)

// Harness orchestrates one Session per input across a pool of Parallelism
// workers, with per-session retry and result aggregation.
type Harness struct {
	producer   types.Producer
	scorer     types.Scorer
	config     *types.HarnessConfig
	sessionCfg *types.SessionConfig
	log        logger.Logger

	// sleep and runSession are swappable for tests.
	sleep      func(time.Duration)
	runSession func(ctx context.Context, input string, pctx *types.ProduceContext) *types.SessionResult
}

// New creates a new harness.
func New(producer types.Producer, scorer types.Scorer, config *types.HarnessConfig, sessionCfg *types.SessionConfig, log logger.Logger) *Harness {
	if config == nil {
		config = types.DefaultHarnessConfig()
	}
	if config.Parallelism < 1 {
		config.Parallelism = 1
	}
	if sessionCfg == nil {
		sessionCfg = types.DefaultSessionConfig()
	}
	h := &Harness{
		producer:   producer,
		scorer:     scorer,
		config:     config,
		sessionCfg: sessionCfg,
		log:        logger.OrNop(log),
		sleep:      time.Sleep,
	}
	h.runSession = func(ctx context.Context, input string, pctx *types.ProduceContext) *types.SessionResult {
		return session.New(h.producer, h.scorer, h.sessionCfg, h.log).Run(ctx, input, pctx)
	}
	return h
}

// RunBatch runs one session per input and aggregates the results. contexts
// may be nil; if given, its length must match inputs (usage error otherwise,
// reported before any work starts). Per-session failures are data in the
// result, never errors.
func (h *Harness) RunBatch(ctx context.Context, inputs []string, contexts []*types.ProduceContext) (*types.HarnessResult, error) {
	if contexts != nil && len(contexts) != len(inputs) {
		return nil, fmt.Errorf("contexts length %d does not match inputs length %d", len(contexts), len(inputs))
	}

	start := time.Now()
	result := &types.HarnessResult{
		BatchID: uuid.New().String(),
		Total:   len(inputs),
	}

	if len(inputs) == 0 {
		result.Elapsed = time.Since(start)
		return result, nil
	}

	h.log.Info("[harness] batch %s: %d inputs, parallelism=%d", result.BatchID, len(inputs), h.config.Parallelism)

	// 共享索引通道喂给固定数量的 worker goroutine。
	// resMu 保护 results；sealed 置位后迟到的 worker 丢弃结果，
	// 返回的 HarnessResult 不会再被触碰。
	results := make([]*types.SessionResult, len(inputs))
	var resMu sync.Mutex
	sealed := false

	indexCh := make(chan int, len(inputs))
	for i := range inputs {
		indexCh <- i
	}
	close(indexCh)

	var wg sync.WaitGroup
	for w := 0; w < h.config.Parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexCh {
				resMu.Lock()
				stop := sealed
				resMu.Unlock()
				if stop {
					return
				}

				var pctx *types.ProduceContext
				if contexts != nil {
					pctx = contexts[idx]
				}
				res := h.runWithRetry(ctx, inputs[idx], pctx)

				resMu.Lock()
				if !sealed {
					results[idx] = res
				}
				resMu.Unlock()
			}
		}()
	}

	// 收集等待上限为 timeout_per_session * len(inputs)。
	// 这是整批预算：单个病态会话可以耗尽全部预算。
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	budget := h.config.TimeoutPerSession * time.Duration(len(inputs))
	if budget <= 0 {
		<-done
	} else {
		select {
		case <-done:
		case <-time.After(budget):
			h.log.Warn("[harness] batch %s: collection timed out after %v", result.BatchID, budget)
		}
	}

	// 封口：此后 worker 不再写入 results，切片归调用方独占。
	resMu.Lock()
	sealed = true
	resMu.Unlock()

	// 未完成的会话计为失败。
	for i, r := range results {
		if r == nil {
			results[i] = &types.SessionResult{
				Input: inputs[i],
				State: types.SessionStateFailed,
			}
		}
	}

	result.Sessions = results
	aggregate(result)
	result.Elapsed = time.Since(start)

	h.log.Info("[harness] batch %s: %d/%d successful, avg=%.3f, convergence=%.0f%%",
		result.BatchID, result.Successful, result.Total, result.AverageScore, result.ConvergenceRate*100)

	return result, nil
}

// runWithRetry calls Session.Run up to MaxRetries+1 times with 2^attempt
// second blocking backoff between attempts, retrying only when the session
// itself panics. The retry stays in the same worker goroutine; it is never
// rescheduled elsewhere.
func (h *Harness) runWithRetry(ctx context.Context, input string, pctx *types.ProduceContext) *types.SessionResult {
	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		res, panicked := h.runOnce(ctx, input, pctx)
		if !panicked {
			return res
		}

		if attempt < h.config.MaxRetries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			h.log.Warn("[harness] session for %q panicked, retrying in %v (attempt %d/%d)", input, backoff, attempt+1, h.config.MaxRetries)
			h.sleep(backoff)
		}
	}

	h.log.Error("[harness] session for %q failed after %d attempts", input, h.config.MaxRetries+1)
	return &types.SessionResult{
		Input: input,
		State: types.SessionStateFailed,
	}
}

// runOnce runs a single session attempt with panic recovery.
func (h *Harness) runOnce(ctx context.Context, input string, pctx *types.ProduceContext) (res *types.SessionResult, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("[harness] session panic for %q: %v", input, r)
			res, panicked = nil, true
		}
	}()

	return h.runSession(ctx, input, pctx), false
}

// Aggregate builds batch statistics for sessions executed outside the
// harness pool, for callers that run sessions through other schedulers.
func Aggregate(batchID string, sessions []*types.SessionResult) *types.HarnessResult {
	result := &types.HarnessResult{
		BatchID:  batchID,
		Total:    len(sessions),
		Sessions: sessions,
	}
	aggregate(result)
	return result
}

// aggregate computes batch statistics over successful sessions only.
func aggregate(result *types.HarnessResult) {
	dimTotals := make(map[string]float64)
	dimCounts := make(map[string]int)

	var scoreSum float64
	var roundSum int
	converged := 0
	first := true

	for _, s := range result.Sessions {
		roundSum += s.RoundsUsed()
		if s.RoundsUsed() > result.MaxRoundsUsed {
			result.MaxRoundsUsed = s.RoundsUsed()
		}

		if !s.Success {
			result.Failed++
			continue
		}

		result.Successful++
		scoreSum += s.BestScore

		if first || s.BestScore > result.BestScore {
			result.BestScore = s.BestScore
		}
		if first || s.BestScore < result.WorstScore {
			result.WorstScore = s.BestScore
		}
		first = false

		if s.Converged {
			converged++
		}

		// 维度均值覆盖所有评分成功的轮次。
		for _, round := range s.Rounds {
			if round.Err != "" {
				continue
			}
			for dim, score := range round.Dimensions {
				dimTotals[dim] += score
				dimCounts[dim]++
			}
		}
	}

	if result.Successful > 0 {
		result.AverageScore = scoreSum / float64(result.Successful)
		result.ConvergenceRate = float64(converged) / float64(result.Successful)
	}
	if result.Total > 0 {
		result.AverageRounds = float64(roundSum) / float64(result.Total)
	}

	if len(dimTotals) > 0 {
		result.DimensionAverages = make(map[string]float64, len(dimTotals))
		for dim, total := range dimTotals {
			result.DimensionAverages[dim] = total / float64(dimCounts[dim])
		}
	}
}
