package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codey/internal/coretypes"
	"codey/internal/engine"
)

func TestClassifyTierBToolVerb(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	res := r.Classify(context.Background(), "git status", nil)
	require.True(t, res.Valid())
	assert.Equal(t, coretypes.IntentToolCall, res.Intent)
	assert.Equal(t, coretypes.ToolGit, res.Tool)
	assert.Equal(t, "status", res.Params["action"])
	assert.GreaterOrEqual(t, res.Confidence, 0.95)
	assert.True(t, res.FallbackUsed)
}

func TestClassifyTierBSimpleAnswer(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	res := r.Classify(context.Background(), "what does this function do", nil)
	assert.Equal(t, coretypes.IntentSimpleAnswer, res.Intent)
	assert.Equal(t, 0.85, res.Confidence)
}

func TestClassifyTierBAlgorithmicBeatsCoding(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	res := r.Classify(context.Background(), "implement binary search with O(log n) complexity", nil)
	assert.Equal(t, coretypes.IntentAlgorithmTask, res.Intent)
	assert.Equal(t, 0.80, res.Confidence)
}

func TestClassifyTierBCodingVerb(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	res := r.Classify(context.Background(), "create calc.py with add and sub functions", nil)
	assert.Equal(t, coretypes.IntentCodingTask, res.Intent)
	assert.Equal(t, 0.75, res.Confidence)
}

func TestClassifyEmptyUtteranceIsUnknown(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	res := r.Classify(context.Background(), "   ", nil)
	assert.Equal(t, coretypes.IntentUnknown, res.Intent)
	assert.Zero(t, res.Confidence)
}

func TestClassifyTierAAcceptsHighConfidenceParse(t *testing.T) {
	adapter := engine.NewStubAdapter()
	adapter.GenerateFunc = func(prompt string, opts engine.GenOptions) (string, error) {
		return "intent=coding_task confidence=0.90", nil
	}
	e := &fakeEngine{}
	r := New(DefaultConfig(), adapter, nil)

	res := r.Classify(context.Background(), "do the thing", e)
	assert.Equal(t, coretypes.IntentCodingTask, res.Intent)
	assert.Equal(t, 0.90, res.Confidence)
	assert.False(t, res.FallbackUsed)
}

func TestClassifyTierAFallsBackOnParseFailure(t *testing.T) {
	adapter := engine.NewStubAdapter()
	adapter.GenerateFunc = func(prompt string, opts engine.GenOptions) (string, error) {
		return "not a valid response", nil
	}
	e := &fakeEngine{}
	r := New(DefaultConfig(), adapter, nil)

	res := r.Classify(context.Background(), "git status", e)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, coretypes.IntentToolCall, res.Intent)
}

func TestClassifyTierAFallsBackOnLowConfidence(t *testing.T) {
	adapter := engine.NewStubAdapter()
	adapter.GenerateFunc = func(prompt string, opts engine.GenOptions) (string, error) {
		return "intent=coding_task confidence=0.10", nil
	}
	e := &fakeEngine{}
	r := New(DefaultConfig(), adapter, nil)

	res := r.Classify(context.Background(), "create foo.py", e)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, coretypes.IntentCodingTask, res.Intent)
	assert.Equal(t, 0.75, res.Confidence)
}

func TestConfigDecideThresholds(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ActionAct, cfg.Decide(0.90))
	assert.Equal(t, ActionEscalate, cfg.Decide(0.70))
	assert.Equal(t, ActionClarify, cfg.Decide(0.55))
	assert.Equal(t, ActionUnknownResult, cfg.Decide(0.20))
}

func TestShouldEscalateToAlgorithm(t *testing.T) {
	assert.True(t, ShouldEscalateToAlgorithm("sort this list efficiently"))
	assert.False(t, ShouldEscalateToAlgorithm("write a hello world script"))
}

func TestRouterDecideUsesOwnConfig(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	assert.Equal(t, ActionAct, r.Decide(0.90))
	assert.Equal(t, ActionUnknownResult, r.Decide(0.10))
}

func TestRouterAnswerUsesAdapterDirectly(t *testing.T) {
	adapter := engine.NewStubAdapter()
	adapter.GenerateFunc = func(prompt string, opts engine.GenOptions) (string, error) {
		assert.Equal(t, 256, opts.MaxTokens)
		return "a short answer", nil
	}
	r := New(DefaultConfig(), adapter, nil)

	answer, err := r.Answer(context.Background(), "what is a slice", &fakeEngine{})
	require.NoError(t, err)
	assert.Equal(t, "a short answer", answer)
}

func TestCandidateIntentsCollectsAllMatchingFamilies(t *testing.T) {
	candidates := CandidateIntents("explain how binary search works")
	var intents []coretypes.Intent
	for _, c := range candidates {
		intents = append(intents, c.Intent)
	}
	assert.Contains(t, intents, coretypes.IntentAlgorithmTask)
	assert.Contains(t, intents, coretypes.IntentSimpleAnswer)
}

func TestCandidateIntentsEmptyForUnrecognizedUtterance(t *testing.T) {
	assert.Empty(t, CandidateIntents("asdf qwer zxcv"))
}

type fakeEngine struct{}

func (f *fakeEngine) Path() string { return "fake" }
