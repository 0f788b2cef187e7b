// Package router implements the Intent Router: a cheap, always-resident
// classifier that turns one utterance into a typed coretypes.IntentResult.
// It generalizes a verb-table free-text inference approach from a single
// deterministic table into a two-tier classifier: a model-backed tier that
// falls back to the same kind of frozen pattern table when the model is
// unavailable or its output does not parse.
package router

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"codey/internal/coretypes"
	"codey/internal/engine"
	"codey/internal/logging"
)

// Config holds the tunable confidence thresholds referenced throughout the
// classify pipeline. Kept as a struct field set (not constants) because the
// exact clarification/unknown boundary is explicitly documented as
// tunable.
type Config struct {
	// ModelAcceptThreshold is the minimum confidence at which a Tier A
	// (model) classification is trusted outright.
	ModelAcceptThreshold float64
	// ActThreshold: confidence at or above this value is acted on directly.
	ActThreshold float64
	// EscalateThreshold: confidence at or above this value (but below
	// ActThreshold) escalates Coding/Algorithm intents to a specialist.
	EscalateThreshold float64
	// ClarifyThreshold: confidence at or above this value (but below
	// EscalateThreshold) triggers a clarification prompt instead of an
	// unknown result.
	ClarifyThreshold float64
}

// DefaultConfig matches documented thresholds.
func DefaultConfig() Config {
	return Config{
		ModelAcceptThreshold: 0.50,
		ActThreshold:         0.85,
		EscalateThreshold:    0.70,
		ClarifyThreshold:     0.50,
	}
}

// Router classifies utterances into IntentResults.
type Router struct {
	cfg     Config
	adapter engine.Adapter
	log     *zap.SugaredLogger
}

// New builds a Router. adapter may be nil, in which case classify always
// uses the Tier B fallback.
func New(cfg Config, adapter engine.Adapter, base *zap.Logger) *Router {
	return &Router{
		cfg:     cfg,
		adapter: adapter,
		log:     logging.Named(base, logging.ComponentRouter),
	}
}

// Classify implements classify(utterance, context).
// routerEngine, when non-nil, is the always-resident engine handle to use
// for Tier A classification.
func (r *Router) Classify(ctx context.Context, utterance string, routerEngine engine.Engine) coretypes.IntentResult {
	trimmed := strings.TrimSpace(utterance)
	if trimmed == "" {
		return coretypes.IntentResult{Intent: coretypes.IntentUnknown, Confidence: 0}
	}

	if r.adapter != nil && routerEngine != nil {
		if res, ok := r.classifyTierA(ctx, trimmed, routerEngine); ok {
			return res
		}
	}

	res := classifyTierB(trimmed)
	res.FallbackUsed = true
	return res
}

// classifyTierA prompts the router engine with a fixed schema instruction
// and parses the response. It reports ok=false on any parse failure or
// sub-threshold confidence, signalling the caller to drop to Tier B.
func (r *Router) classifyTierA(ctx context.Context, utterance string, e engine.Engine) (coretypes.IntentResult, bool) {
	prompt := buildClassificationPrompt(utterance)
	raw, err := r.adapter.Generate(ctx, e, prompt, engine.GenOptions{MaxTokens: 2048})
	if err != nil {
		r.log.Debugw("tier A generation failed, falling back", "err", err)
		return coretypes.IntentResult{}, false
	}

	res, err := parseClassification(raw)
	if err != nil {
		r.log.Debugw("tier A response did not parse, falling back", "err", err)
		return coretypes.IntentResult{}, false
	}
	res.RawScore = res.Confidence
	if res.Confidence < r.cfg.ModelAcceptThreshold {
		return coretypes.IntentResult{}, false
	}
	return res, true
}

func buildClassificationPrompt(utterance string) string {
	return fmt.Sprintf(`Classify the following user request into exactly one intent from
{tool_call, simple_answer, coding_task, algorithm_task, unknown}.
Respond with one line: intent=<value> confidence=<0.0-1.0> tool=<git|shell|file|sqlite|none>

Request: %s`, utterance)
}

// parseClassification parses the line-oriented "key=value" wire format Tier
// A is prompted to emit.
func parseClassification(raw string) (coretypes.IntentResult, error) {
	fields := map[string]string{}
	for _, line := range strings.Split(raw, "\n") {
		for _, tok := range strings.Fields(line) {
			kv := strings.SplitN(tok, "=", 2)
			if len(kv) != 2 {
				continue
			}
			fields[strings.ToLower(kv[0])] = kv[1]
		}
	}

	intentStr, ok := fields["intent"]
	if !ok {
		return coretypes.IntentResult{}, fmt.Errorf("router: missing intent field")
	}
	confStr, ok := fields["confidence"]
	if !ok {
		return coretypes.IntentResult{}, fmt.Errorf("router: missing confidence field")
	}
	confidence, err := strconv.ParseFloat(confStr, 64)
	if err != nil {
		return coretypes.IntentResult{}, fmt.Errorf("router: invalid confidence %q: %w", confStr, err)
	}
	if confidence < 0 || confidence > 1 {
		return coretypes.IntentResult{}, fmt.Errorf("router: confidence %v out of range", confidence)
	}

	intent, err := parseIntentName(intentStr)
	if err != nil {
		return coretypes.IntentResult{}, err
	}

	res := coretypes.IntentResult{Intent: intent, Confidence: confidence}
	if intent == coretypes.IntentToolCall {
		toolStr := fields["tool"]
		tool, err := parseToolName(toolStr)
		if err != nil {
			return coretypes.IntentResult{}, err
		}
		res.Tool = tool
	}
	return res, nil
}

func parseIntentName(s string) (coretypes.Intent, error) {
	switch strings.ToLower(s) {
	case "tool_call":
		return coretypes.IntentToolCall, nil
	case "simple_answer":
		return coretypes.IntentSimpleAnswer, nil
	case "coding_task":
		return coretypes.IntentCodingTask, nil
	case "algorithm_task":
		return coretypes.IntentAlgorithmTask, nil
	case "unknown":
		return coretypes.IntentUnknown, nil
	default:
		return "", fmt.Errorf("router: unrecognized intent %q", s)
	}
}

func parseToolName(s string) (coretypes.ToolName, error) {
	switch strings.ToLower(s) {
	case "git":
		return coretypes.ToolGit, nil
	case "shell":
		return coretypes.ToolShell, nil
	case "file":
		return coretypes.ToolFile, nil
	case "sqlite":
		return coretypes.ToolSQLite, nil
	case "", "none":
		return "", fmt.Errorf("router: tool_call intent requires a tool")
	default:
		return "", fmt.Errorf("router: unrecognized tool %q", s)
	}
}

// --- Tier B: deterministic fallback ---
//
// A frozen, ordered table of keyword/regex rules per intent family,
// generalizing a switch-on-first-word pattern from a single free-text verb
// table into per-family rule sets with fixed confidence constants.

type fallbackRule struct {
	pattern    *regexp.Regexp
	intent     coretypes.Intent
	tool       coretypes.ToolName
	confidence float64
}

var toolVerbPattern = regexp.MustCompile(`(?i)\b(git|ls|pwd|mkdir|rm|run|execute|install|clone|commit|push|pull|status)\b`)
var simpleAnswerPattern = regexp.MustCompile(`(?i)^\s*(what|why|how|explain)\b`)
var codingVerbPattern = regexp.MustCompile(`(?i)\b(create|write|generate|implement|edit|modify|refactor|fix|add|remove)\b`)
var algorithmicPattern = regexp.MustCompile(`(?i)\b(binary search|sort|graph|tree|heap|hash|dynamic programming|complexity|parser|state machine|optimize)\b`)

var gitVerbs = regexp.MustCompile(`(?i)\b(git|clone|commit|push|pull|status)\b`)

// classifyTierB applies the frozen rule table in fixed priority order: tool
// verbs, then simple-answer prefixes, then algorithmic keywords (checked
// before generic coding verbs so "implement binary search" resolves to
// AlgorithmTask, not CodingTask), then coding verbs.
func classifyTierB(utterance string) coretypes.IntentResult {
	if toolVerbPattern.MatchString(utterance) {
		return coretypes.IntentResult{
			Intent:     coretypes.IntentToolCall,
			Confidence: 0.95,
			Tool:       inferToolFromVerb(utterance),
			Params:     inferToolParams(utterance),
		}
	}
	if simpleAnswerPattern.MatchString(utterance) {
		return coretypes.IntentResult{Intent: coretypes.IntentSimpleAnswer, Confidence: 0.85}
	}
	if algorithmicPattern.MatchString(utterance) {
		return coretypes.IntentResult{Intent: coretypes.IntentAlgorithmTask, Confidence: 0.80}
	}
	if codingVerbPattern.MatchString(utterance) {
		return coretypes.IntentResult{Intent: coretypes.IntentCodingTask, Confidence: 0.75}
	}
	return coretypes.IntentResult{Intent: coretypes.IntentUnknown, Confidence: 0.0}
}

// Decide maps a confidence score to a policy action using this Router's own
// configured thresholds, so callers don't need to keep a separate Config
// value in sync with the one the Router was built with.
func (r *Router) Decide(confidence float64) Action {
	return r.cfg.Decide(confidence)
}

// Answer uses the router engine itself to produce a short free-text answer,
// for SimpleAnswer branch ("use the router engine itself to
// produce a short (<=256 token) answer"). It bypasses the classification
// wire format entirely: the prompt is the user's question verbatim.
func (r *Router) Answer(ctx context.Context, utterance string, routerEngine engine.Engine) (string, error) {
	return r.adapter.Generate(ctx, routerEngine, utterance, engine.GenOptions{MaxTokens: 256})
}

// CandidateIntents evaluates every Tier B rule family independently
// (ignoring the priority short-circuit Classify applies) and returns every
// family that matches. Used by the Orchestrator to list the top two
// candidate intents in an Unknown/low-confidence clarification prompt,
// where a single best guess is not enough context for the user to correct.
func CandidateIntents(utterance string) []coretypes.IntentResult {
	var out []coretypes.IntentResult
	if toolVerbPattern.MatchString(utterance) {
		out = append(out, coretypes.IntentResult{Intent: coretypes.IntentToolCall, Confidence: 0.95, Tool: inferToolFromVerb(utterance)})
	}
	if simpleAnswerPattern.MatchString(utterance) {
		out = append(out, coretypes.IntentResult{Intent: coretypes.IntentSimpleAnswer, Confidence: 0.85})
	}
	if algorithmicPattern.MatchString(utterance) {
		out = append(out, coretypes.IntentResult{Intent: coretypes.IntentAlgorithmTask, Confidence: 0.80})
	}
	if codingVerbPattern.MatchString(utterance) {
		out = append(out, coretypes.IntentResult{Intent: coretypes.IntentCodingTask, Confidence: 0.75})
	}
	return out
}

// ClassifyDeterministic exposes Tier B directly, without a model or
// FallbackUsed bookkeeping, so callers that need a cheap type tag for a
// clause fragment (the Task Planner, deriving each TaskStep.type) can
// re-run the same rule table the full Classify pipeline falls back to.
func ClassifyDeterministic(utterance string) coretypes.IntentResult {
	return classifyTierB(strings.TrimSpace(utterance))
}

func inferToolFromVerb(utterance string) coretypes.ToolName {
	if gitVerbs.MatchString(utterance) {
		return coretypes.ToolGit
	}
	if strings.Contains(strings.ToLower(utterance), "sqlite") {
		return coretypes.ToolSQLite
	}
	if regexp.MustCompile(`(?i)\b(ls|mkdir|rm)\b`).MatchString(utterance) {
		return coretypes.ToolFile
	}
	return coretypes.ToolShell
}

func inferToolParams(utterance string) map[string]string {
	lower := strings.ToLower(utterance)
	params := map[string]string{}
	for _, action := range []string{"status", "commit", "push", "pull", "clone"} {
		if strings.Contains(lower, action) {
			params["action"] = action
			return params
		}
	}
	return params
}

// Action classifies confidence into a four-tier dispatch policy.
type Action int

const (
	// ActionAct means the caller should execute the intent directly.
	ActionAct Action = iota
	// ActionEscalate means the caller should escalate Coding/Algorithm
	// intents to their specialist engine before proceeding.
	ActionEscalate
	// ActionClarify means the caller should return a clarification prompt.
	ActionClarify
	// ActionUnknownResult means the caller should return an unknown result.
	ActionUnknownResult
)

// Decide maps a confidence score to the policy action's
// threshold table.
func (c Config) Decide(confidence float64) Action {
	switch {
	case confidence >= c.ActThreshold:
		return ActionAct
	case confidence >= c.EscalateThreshold:
		return ActionEscalate
	case confidence >= c.ClarifyThreshold:
		return ActionClarify
	default:
		return ActionUnknownResult
	}
}

// ShouldEscalateToAlgorithm reports whether a CodingTask utterance matches
// the algorithmic keyword set.
func ShouldEscalateToAlgorithm(utterance string) bool {
	return algorithmicPattern.MatchString(utterance)
}
