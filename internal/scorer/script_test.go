package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/optimization-engine/internal/config"
	"yqhp/optimization-engine/pkg/types"
)

func TestScriptScorer_Score(t *testing.T) {
	src := `
function score(artifact) {
	var overall = artifact.content.length > 10 ? 0.9 : 0.4;
	return {
		overall: overall,
		dimensions: {length: overall},
		strengths: overall >= 0.8 ? ["detailed"] : [],
		weaknesses: overall < 0.5 ? ["too short"] : [],
		recommendations: overall < 0.5 ? ["add more detail"] : []
	};
}
`
	s, err := NewScriptScorer(&config.ScriptConfig{Source: src}, nil)
	require.NoError(t, err)

	long, err := s.Score(context.Background(), &types.Artifact{ID: "a", Content: "a long enough artifact"})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, long.Overall, 1e-9)
	assert.Equal(t, []string{"detailed"}, long.Strengths)

	short, err := s.Score(context.Background(), &types.Artifact{ID: "b", Content: "tiny"})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, short.Overall, 1e-9)
	assert.Equal(t, []string{"too short"}, short.Weaknesses)
	assert.Equal(t, []string{"add more detail"}, short.Recommendations)
}

func TestScriptScorer_MissingScoreFunction(t *testing.T) {
	s, err := NewScriptScorer(&config.ScriptConfig{Source: "var x = 1;"}, nil)
	require.NoError(t, err)

	_, err = s.Score(context.Background(), &types.Artifact{ID: "a", Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "score(artifact)")
}

func TestScriptScorer_SyntaxError(t *testing.T) {
	s, err := NewScriptScorer(&config.ScriptConfig{Source: "function score( {"}, nil)
	require.NoError(t, err)

	_, err = s.Score(context.Background(), &types.Artifact{ID: "a", Content: "x"})
	require.Error(t, err)
}

func TestScriptScorer_OverallOutOfRange(t *testing.T) {
	s, err := NewScriptScorer(&config.ScriptConfig{
		Source: "function score(a) { return {overall: 1.5}; }",
	}, nil)
	require.NoError(t, err)

	_, err = s.Score(context.Background(), &types.Artifact{ID: "a", Content: "x"})
	require.Error(t, err)
}

func TestScriptScorer_Timeout(t *testing.T) {
	s, err := NewScriptScorer(&config.ScriptConfig{
		Source:  "function score(a) { while (true) {} }",
		Timeout: 50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Score(context.Background(), &types.Artifact{ID: "a", Content: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestScriptScorer_NilArtifact(t *testing.T) {
	s, err := NewScriptScorer(&config.ScriptConfig{
		Source: "function score(a) { return {overall: 0.5}; }",
	}, nil)
	require.NoError(t, err)

	_, err = s.Score(context.Background(), nil)
	require.Error(t, err)
}

func TestNewScriptScorer_NoSource(t *testing.T) {
	_, err := NewScriptScorer(&config.ScriptConfig{}, nil)
	require.Error(t, err)
}
