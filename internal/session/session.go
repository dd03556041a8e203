// Package session implements the per-input convergence loop: produce an
// artifact, score it, feed the feedback into the next round, and stop at the
// convergence threshold or the round limit.
package session

import (
	"context"
	"fmt"
	"time"

	"yqhp/optimization-engine/pkg/logger"
	"yqhp/optimization-engine/pkg/types"
)

// maxFeedbackHints 限制反馈给下一轮的建议数量。
const maxFeedbackHints = 3

// Session runs one bounded produce/score/refine loop over a single input.
// Sessions hold no shared state with each other; each owns its own round
// history and feedback context.
type Session struct {
	producer types.Producer
	scorer   types.Scorer
	config   *types.SessionConfig
	log      logger.Logger
}

// New creates a new session.
func New(producer types.Producer, scorer types.Scorer, config *types.SessionConfig, log logger.Logger) *Session {
	if config == nil {
		config = types.DefaultSessionConfig()
	}
	return &Session{
		producer: producer,
		scorer:   scorer,
		config:   config,
		log:      logger.OrNop(log),
	}
}

// Run executes the convergence loop to completion. Per-round produce/score
// failures are recorded in the round history and never propagate out; the
// loop runs until the threshold is reached or MaxRounds is exhausted.
func (s *Session) Run(ctx context.Context, input string, pctx *types.ProduceContext) *types.SessionResult {
	start := time.Now()

	// 每个会话持有自己的反馈上下文，调用方传入的不被修改。
	pctx = pctx.Clone()

	result := &types.SessionResult{
		Input: input,
		State: types.SessionStateRunning,
	}

	for round := 1; round <= s.config.MaxRounds; round++ {
		entry := s.runRound(ctx, round, input, pctx)
		result.Rounds = append(result.Rounds, *entry)

		if entry.Err != "" {
			s.log.Debug("[session] round %d failed: %s", round, entry.Err)
			continue
		}

		if entry.Score > result.BestScore || result.BestArtifact == nil {
			result.BestArtifact = entry.Artifact
			result.BestScore = entry.Score
		}

		if entry.Score >= s.config.ConvergenceThreshold {
			s.log.Debug("[session] converged at round %d with score %.3f", round, entry.Score)
			result.Converged = true
			break
		}

		// 将本轮反馈注入下一轮的 produce 上下文。
		pctx.PriorArtifacts = append(pctx.PriorArtifacts, entry.Artifact)
		pctx.Hints = topHints(entry.Recommendations)
	}

	result.Success = result.BestArtifact != nil
	result.Elapsed = time.Since(start)

	switch {
	case result.Converged:
		result.State = types.SessionStateConverged
	case result.Success:
		result.State = types.SessionStateExhausted
	default:
		result.State = types.SessionStateFailed
	}

	return result
}

// runRound executes a single produce/score iteration. Panics from the
// producer or scorer are converted into a failed round.
func (s *Session) runRound(ctx context.Context, round int, input string, pctx *types.ProduceContext) (entry *types.SessionRound) {
	roundStart := time.Now()
	entry = &types.SessionRound{Round: round}

	defer func() {
		if r := recover(); r != nil {
			entry.Err = fmt.Sprintf("round panic: %v", r)
		}
		entry.Duration = time.Since(roundStart)
	}()

	artifact, err := s.producer.Produce(ctx, input, pctx)
	if err != nil {
		entry.Err = fmt.Sprintf("produce: %v", err)
		return entry
	}
	if artifact == nil {
		entry.Err = "produce: no artifact"
		return entry
	}
	entry.Artifact = artifact

	score, err := s.scorer.Score(ctx, artifact)
	if err != nil {
		entry.Err = fmt.Sprintf("score: %v", err)
		return entry
	}
	if score == nil {
		entry.Err = "score: no result"
		return entry
	}

	entry.Score = score.Overall
	entry.Dimensions = score.Dimensions
	entry.Strengths = score.Strengths
	entry.Weaknesses = score.Weaknesses
	entry.Recommendations = score.Recommendations

	return entry
}

// topHints 截取最多 maxFeedbackHints 条建议。
func topHints(recommendations []string) []string {
	if len(recommendations) <= maxFeedbackHints {
		return append([]string(nil), recommendations...)
	}
	return append([]string(nil), recommendations[:maxFeedbackHints]...)
}
