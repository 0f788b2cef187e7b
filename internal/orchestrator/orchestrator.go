// Package orchestrator implements the Orchestrator: the single entry point
// that turns one utterance into rendered text. It is a struct holding its
// collaborators as injected fields with one Process(ctx, input) entry
// point, generalized from a JIT-prompt-compiled, tool-calling LLM loop to a
// fixed intent-switch dispatch: there is no prompt compiler here, just a
// typed decision tree over the Router's classification.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"codey/internal/coretypes"
	"codey/internal/diffedit"
	"codey/internal/engine"
	"codey/internal/errs"
	"codey/internal/extract"
	"codey/internal/format"
	"codey/internal/lifecycle"
	"codey/internal/logging"
	"codey/internal/permission"
	"codey/internal/planner"
	"codey/internal/router"
	"codey/internal/tools"
)

// Deadlines bound each specialist call so a stuck generation can never hang
// the whole process indefinitely.
const (
	codingChunkDeadline    = 300 * time.Second
	algorithmDeadline      = 600 * time.Second
	classificationDeadline = 10 * time.Second
)

// Default per-call token budgets, overridden per plan step by an explicit
// maxTokens param (planner.buildFullStackPlan's fixed chunk template).
const (
	defaultCodingMaxTokens    = 2048
	defaultAlgorithmMaxTokens = 4096
)

// Orchestrator composes the Intent Router, Lifecycle Manager, Tool
// Executor, Permission Gate, and Task Planner into a single request
// pipeline.
type Orchestrator struct {
	lifecycle    *lifecycle.Manager
	router       *router.Router
	adapter      engine.Adapter
	tools        *tools.Registry
	gate         *permission.Gate
	routerEngine engine.Engine
	log          *zap.SugaredLogger
}

// New builds an Orchestrator. routerEngine is the always-resident handle
// used for classification and SimpleAnswer generation.
func New(lm *lifecycle.Manager, r *router.Router, adapter engine.Adapter, reg *tools.Registry, gate *permission.Gate, routerEngine engine.Engine, base *zap.Logger) *Orchestrator {
	return &Orchestrator{
		lifecycle:    lm,
		router:       r,
		adapter:      adapter,
		tools:        reg,
		gate:         gate,
		routerEngine: routerEngine,
		log:          logging.Named(base, logging.ComponentOrchestrator),
	}
}

// Process turns one utterance into rendered text: plan-and-drive for
// multi-clause input, or a single classify-and-dispatch pass otherwise.
func (o *Orchestrator) Process(ctx context.Context, utterance string) (string, error) {
	if planner.NeedsPlanning(utterance) {
		return o.drivePlan(ctx, utterance)
	}
	return o.processSingle(ctx, utterance)
}

// drivePlan builds a plan and runs each step in sequence: each step recurses
// through the single-step path. Progress is rendered between steps.
func (o *Orchestrator) drivePlan(ctx context.Context, utterance string) (string, error) {
	plan := planner.Plan(utterance)

	var progress strings.Builder
	fmt.Fprintf(&progress, "plan: %d step(s)\n", len(plan.Steps))

	for {
		step := planner.Step(plan)
		if step == nil {
			break
		}

		if err := planner.Update(plan, step.ID, coretypes.StepInProgress, "", ""); err != nil {
			o.log.Errorw("illegal step transition", "step", step.ID, "err", err)
			break
		}

		rendered, err := o.processStep(ctx, step)
		if err != nil {
			_ = planner.Update(plan, step.ID, coretypes.StepFailed, "", err.Error())
			fmt.Fprintf(&progress, "[failed] %s: %v\n", step.Description, err)
			continue
		}

		_ = planner.Update(plan, step.ID, coretypes.StepCompleted, rendered, "")
		fmt.Fprintf(&progress, "[done] %s\n%s\n", step.Description, rendered)
	}

	skipped := 0
	for _, s := range plan.Steps {
		if s.Status == coretypes.StepSkipped {
			skipped++
		}
	}
	if skipped > 0 {
		fmt.Fprintf(&progress, "%d step(s) skipped after failure\n", skipped)
	}
	return progress.String(), nil
}

// processSingle handles a single utterance: classify, then switch on intent.
func (o *Orchestrator) processSingle(ctx context.Context, utterance string) (string, error) {
	classifyCtx, cancel := context.WithTimeout(ctx, classificationDeadline)
	defer cancel()
	intent := o.router.Classify(classifyCtx, utterance, o.routerEngine)

	action := o.router.Decide(intent.Confidence)
	if action == router.ActionUnknownResult {
		return format.Clarification(utterance, toCandidates(router.CandidateIntents(utterance))), nil
	}
	if action == router.ActionClarify {
		return format.Clarification(utterance, toCandidates(router.CandidateIntents(utterance))), nil
	}

	// At the Escalate confidence tier, "escalate to specialist engine" means
	// the specialist for the classified intent: the Coder for CodingTask,
	// the Algorithm engine for AlgorithmTask. A CodingTask still escalates
	// further, from Coder to Algorithm, inside dispatchCoding itself when
	// the request matches the algorithmic keyword set or the Coder flags
	// NeedsAlgorithmSpecialist.
	if action == router.ActionEscalate && intent.Intent == coretypes.IntentAlgorithmTask {
		return o.dispatchAlgorithm(ctx, utterance), nil
	}
	if action == router.ActionEscalate && intent.Intent == coretypes.IntentCodingTask {
		return o.dispatchCoding(ctx, utterance)
	}

	switch intent.Intent {
	case coretypes.IntentToolCall:
		return o.dispatchToolCall(ctx, intent, utterance), nil

	case coretypes.IntentSimpleAnswer:
		answer, err := o.router.Answer(ctx, utterance, o.routerEngine)
		if err != nil {
			return "", err
		}
		return answer, nil

	case coretypes.IntentCodingTask:
		return o.dispatchCoding(ctx, utterance)

	case coretypes.IntentAlgorithmTask:
		return o.dispatchAlgorithm(ctx, utterance), nil

	default:
		return format.Clarification(utterance, toCandidates(router.CandidateIntents(utterance))), nil
	}
}

// processStep dispatches one plan step. A step whose Params pin both a tool
// and an action, or a targetPath (as planner.buildFullStackPlan's fixed
// chunk template does), is dispatched directly against that routing instead
// of being re-classified from its prose description, so each chunk lands at
// its declared file and respects its declared maxTokens budget. A step
// without that routing (a clause-splitter step naming only a tool family,
// or no tool at all) falls back to the normal classify-and-dispatch path.
func (o *Orchestrator) processStep(ctx context.Context, step *coretypes.TaskStep) (string, error) {
	if step.Type == coretypes.StepToolCall {
		if tool, ok := step.Params["tool"]; ok && step.Params["action"] != "" {
			return o.dispatchStepToolCall(ctx, tool, step.Params), nil
		}
	}

	if targetPath, ok := step.Params["targetPath"]; ok {
		return o.dispatchStepGeneration(ctx, step, targetPath)
	}

	return o.processSingle(ctx, step.Description)
}

// dispatchStepToolCall runs a plan step whose Params pin an explicit
// tool/action, bypassing intent classification entirely.
func (o *Orchestrator) dispatchStepToolCall(ctx context.Context, tool string, stepParams map[string]string) string {
	action := stepParams["action"]
	params := map[string]any{}
	for k, v := range stepParams {
		if k == "tool" || k == "action" {
			continue
		}
		if tool == "shell" && action == "mkdir" && k == "paths" {
			params[k] = strings.Split(v, ",")
			continue
		}
		params[k] = v
	}
	decision := o.decisionFor(tool, action, params)
	result := o.tools.Execute(ctx, tool, action, params, decision)
	return format.ToolResult(result)
}

// dispatchStepGeneration runs a code_gen/algorithm plan step against its
// declared targetPath and maxTokens budget instead of the values runCoding/
// runAlgorithm would otherwise infer from the clause text.
func (o *Orchestrator) dispatchStepGeneration(ctx context.Context, step *coretypes.TaskStep, targetPath string) (string, error) {
	kind := kindForPath(targetPath)
	maxTokens := defaultMaxTokensFor(step.Type)
	if raw, ok := step.Params["maxTokens"]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil {
			maxTokens = parsed
		}
	}

	if step.Type == coretypes.StepAlgorithm {
		result := o.runAlgorithmWithTarget(ctx, step.Description, targetPath, kind, maxTokens)
		if result.Success {
			if err := o.writeFiles(ctx, result.Files); err != nil {
				result.Success = false
				result.Error = err.Error()
			}
		}
		return format.AlgorithmResult(result), nil
	}

	result := o.runCodingWithTarget(ctx, step.Description, targetPath, kind, maxTokens)
	if result.Success {
		if writeErr := o.writeFiles(ctx, result.Files); writeErr != nil {
			result.Success = false
			result.Error = writeErr.Error()
		}
	}
	return format.CodeResult(result), nil
}

var extToKind = map[string]extract.Kind{
	".py":   extract.KindPython,
	".js":   extract.KindJS,
	".ts":   extract.KindTS,
	".css":  extract.KindCSS,
	".html": extract.KindHTML,
	".json": extract.KindJSON,
	".md":   extract.KindMD,
}

// kindForPath maps an explicit target path's extension to the Code
// Extractor's expected kind, the counterpart of inferKind for steps that
// already know their destination file rather than needing one inferred
// from the request text.
func kindForPath(path string) extract.Kind {
	if kind, ok := extToKind[strings.ToLower(filepath.Ext(path))]; ok {
		return kind
	}
	return extract.KindOther
}

// defaultMaxTokensFor mirrors the fixed budgets runCoding/runAlgorithm use
// when a step doesn't declare its own maxTokens.
func defaultMaxTokensFor(stepType coretypes.StepType) int {
	if stepType == coretypes.StepAlgorithm {
		return defaultAlgorithmMaxTokens
	}
	return defaultCodingMaxTokens
}

func toCandidates(results []coretypes.IntentResult) []format.Candidate {
	out := make([]format.Candidate, len(results))
	for i, r := range results {
		out[i] = format.Candidate{Intent: r.Intent, Confidence: r.Confidence}
	}
	return out
}

// dispatchToolCall routes a ToolCall intent through the Permission Gate and
// the Tool Executor.
func (o *Orchestrator) dispatchToolCall(ctx context.Context, intent coretypes.IntentResult, utterance string) string {
	action, params := resolveToolAction(intent.Tool, intent.Params, utterance)
	tool := string(intent.Tool)

	decision := o.decisionFor(tool, action, params)
	result := o.tools.Execute(ctx, tool, action, params, decision)
	return format.ToolResult(result)
}

// decisionFor consults the Permission Gate for a (tool, action) call,
// bypassing the prompt entirely for read effects.
func (o *Orchestrator) decisionFor(tool, action string, params map[string]any) coretypes.Decision {
	effect, known := o.tools.Effect(tool, action)
	if !known {
		// Unknown tool/action: let the registry surface the UnknownTool /
		// UnknownAction error; the permission decision is moot.
		return coretypes.DecisionAllowOnce
	}
	if effect == coretypes.EffectRead {
		return o.gate.RequestRead()
	}
	return o.gate.Request(coretypes.PermissionRequest{
		Category:    permission.ForEffect(tool, effect),
		Description: fmt.Sprintf("%s.%s", tool, action),
		Preview:     previewParams(params),
		Destructive: effect == coretypes.EffectDestructive,
	})
}

func previewParams(params map[string]any) string {
	var b strings.Builder
	first := true
	for k, v := range params {
		if !first {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, v)
		first = false
	}
	return b.String()
}

// defaultActions maps a bare tool name to the verb the Orchestrator assumes
// when the router's Tier B rules didn't pin down a more specific action
// (Tier B only classifies the tool family, not the verb, for most
// utterances).
var defaultActions = map[coretypes.ToolName]string{
	coretypes.ToolGit:    "status",
	coretypes.ToolShell:  "run",
	coretypes.ToolFile:   "list",
	coretypes.ToolSQLite: "schema",
}

func resolveToolAction(tool coretypes.ToolName, routerParams map[string]string, utterance string) (action string, params map[string]any) {
	action = defaultActions[tool]
	if a, ok := routerParams["action"]; ok && a != "" {
		action = a
	}

	params = map[string]any{}
	for k, v := range routerParams {
		params[k] = v
	}
	if tool == coretypes.ToolShell && action == "run" {
		params["command"] = utterance
	}
	if tool == coretypes.ToolFile {
		params["path"] = "."
	}
	return action, params
}

// dispatchCoding handles the CodingTask branch: load the Coder, run it,
// stream the resulting file to disk, and escalate to the Algorithm
// specialist when the result flags it needs one.
func (o *Orchestrator) dispatchCoding(ctx context.Context, utterance string) (string, error) {
	result := o.runCoding(ctx, utterance)
	if !result.Success {
		return format.CodeResult(result), nil
	}

	if err := o.writeFiles(ctx, result.Files); err != nil {
		result.Success = false
		result.Error = err.Error()
		return format.CodeResult(result), nil
	}

	if !result.NeedsAlgorithmSpecialist {
		return format.CodeResult(result), nil
	}

	// Escalation from Coder to Algorithm never assumes both are
	// co-resident: ensureLoaded(Algorithm) runs the Lifecycle Manager's
	// own budget enforcement, which evicts the Coder via its LRU ordering
	// if the combined footprint would exceed budget before generation
	// begins.
	return format.AlgorithmResult(o.runAlgorithm(ctx, utterance)), nil
}

// dispatchAlgorithm implements the AlgorithmTask branch at both the
// Escalate and Act confidence tiers: run the Algorithm specialist directly
// and flush its output to disk.
func (o *Orchestrator) dispatchAlgorithm(ctx context.Context, utterance string) string {
	result := o.runAlgorithm(ctx, utterance)
	if !result.Success {
		return format.AlgorithmResult(result)
	}
	if err := o.writeFiles(ctx, result.Files); err != nil {
		result.Success = false
		result.Error = err.Error()
	}
	return format.AlgorithmResult(result)
}

// writeFiles flushes every generated file through the Permission Gate and
// the Tool Executor, stopping at the first failure.
func (o *Orchestrator) writeFiles(ctx context.Context, files map[string]string) error {
	for path, content := range files {
		if err := o.writeGeneratedFile(ctx, path, content); err != nil {
			return err
		}
	}
	return nil
}

var codePromptTemplate = `Write code to satisfy this request. Respond with a single fenced code block
containing only the code, no prose before or after.

Request: %s`

// stepWriter is the per-step writer the Engine Adapter's onToken callback
// targets: it buffers streamed tokens and flushes the target file the first
// time the accumulated text closes a fenced block the extractor validates,
// rather than waiting for generation to finish. It reuses the existing
// file.write action for the flush, so the .part-suffixed atomic rename and
// Permission Gate check every other write goes through still apply.
type stepWriter struct {
	o          *Orchestrator
	ctx        context.Context
	targetPath string
	kind       extract.Kind
	buf        strings.Builder
	flushed    bool
}

func newStepWriter(o *Orchestrator, ctx context.Context, targetPath string, kind extract.Kind) *stepWriter {
	return &stepWriter{o: o, ctx: ctx, targetPath: targetPath, kind: kind}
}

func (w *stepWriter) onToken(token string) {
	w.buf.WriteString(token)
	if w.flushed {
		return
	}
	// A fenced block only closes once a second ``` has streamed in; checking
	// this first avoids re-running the extractor on every single token.
	if strings.Count(w.buf.String(), "```") < 2 {
		return
	}
	extracted := extract.Extract(w.buf.String(), w.kind)
	if extracted.Confidence < 1.0 {
		return
	}
	if err := w.o.writeGeneratedFile(w.ctx, w.targetPath, extracted.Content); err != nil {
		w.o.log.Warnw("streaming flush failed, deferring to completion write", "path", w.targetPath, "err", err)
		return
	}
	w.flushed = true
}

func (o *Orchestrator) runCoding(ctx context.Context, utterance string) coretypes.CodeResult {
	kind := inferKind(utterance)
	targetPath := inferTargetPath(utterance, kind)
	return o.runCodingWithTarget(ctx, utterance, targetPath, kind, defaultCodingMaxTokens)
}

// runCodingWithTarget runs the Coder against an explicit targetPath/kind/
// maxTokens rather than values inferred from utterance, so a plan step's
// declared routing (planner.buildFullStackPlan) is honored exactly instead
// of being re-inferred from its prose description.
func (o *Orchestrator) runCodingWithTarget(ctx context.Context, utterance, targetPath string, kind extract.Kind, maxTokens int) coretypes.CodeResult {
	e, err := o.lifecycle.EnsureLoaded(ctx, coretypes.RoleCoder)
	if err != nil {
		return coretypes.CodeResult{Error: err.Error()}
	}

	if existing, ok := o.readExistingFile(ctx, targetPath); ok {
		return o.runCodingEdit(ctx, e, utterance, targetPath, existing)
	}

	genCtx, cancel := context.WithTimeout(ctx, codingChunkDeadline)
	defer cancel()

	writer := newStepWriter(o, ctx, targetPath, kind)
	raw, err := o.adapter.Generate(genCtx, e, fmt.Sprintf(codePromptTemplate, utterance), engine.GenOptions{MaxTokens: maxTokens, OnToken: writer.onToken})
	if err != nil {
		return coretypes.CodeResult{Error: err.Error()}
	}

	extracted := extract.Extract(raw, kind)

	return coretypes.CodeResult{
		Success:                  true,
		Files:                    map[string]string{targetPath: extracted.Content},
		NeedsAlgorithmSpecialist: router.ShouldEscalateToAlgorithm(utterance),
		Metadata:                 map[string]string{"extractConfidence": fmt.Sprintf("%.2f", extracted.Confidence)},
	}
}

// readExistingFile reads targetPath through the same file.read action a
// ToolCall dispatch would use; ok is false when the file does not exist or
// cannot be read, which callers treat as "create, don't edit".
func (o *Orchestrator) readExistingFile(ctx context.Context, path string) (string, bool) {
	result := o.tools.Execute(ctx, "file", "read", map[string]any{"path": path}, o.gate.RequestRead())
	if !result.Success {
		return "", false
	}
	content, _ := result.Output["content"].(string)
	return content, true
}

// runCodingEdit handles the case where the coding target already exists on
// disk: it drives the Diff Editor's prompt/parse/validate/apply pipeline
// instead of regenerating the whole file, and renders a unified-diff preview
// of the change into the result's metadata.
func (o *Orchestrator) runCodingEdit(ctx context.Context, e engine.Engine, utterance, targetPath, existing string) coretypes.CodeResult {
	genCtx, cancel := context.WithTimeout(ctx, codingChunkDeadline)
	defer cancel()

	prompt := diffedit.BuildEditPrompt(targetPath, existing, utterance)
	raw, err := o.adapter.Generate(genCtx, e, prompt, engine.GenOptions{MaxTokens: defaultCodingMaxTokens})
	if err != nil {
		return coretypes.CodeResult{Error: err.Error()}
	}

	blocks := diffedit.ParseEditBlocks(raw)
	if len(blocks) == 0 {
		return coretypes.CodeResult{Error: fmt.Sprintf("model produced no parseable edit blocks for %s", targetPath)}
	}
	if errList := diffedit.ValidateEdits(existing, blocks); len(errList) > 0 {
		return coretypes.CodeResult{Error: errList[0].Error()}
	}

	updated := diffedit.ApplyEdits(existing, blocks)
	savings := diffedit.EstimateSavings(existing, blocks)

	return coretypes.CodeResult{
		Success: true,
		Files:   map[string]string{targetPath: updated},
		Edits:   blocks,
		Metadata: map[string]string{
			"diffPreview": format.UnifiedDiff(targetPath, targetPath, existing, updated),
			"savingsPct":  fmt.Sprintf("%.1f", savings.SavingsPct),
		},
	}
}

var timeFieldPattern = regexp.MustCompile(`(?im)^\s*Time:\s*(.+)$`)
var spaceFieldPattern = regexp.MustCompile(`(?im)^\s*Space:\s*(.+)$`)
var rationaleFieldPattern = regexp.MustCompile(`(?ims)^\s*Rationale:\s*(.+?)(?:\n\s*(?:Time|Space|Code):|\z)`)

var algorithmPromptTemplate = `Solve this algorithmic task. Respond in exactly this form:

Time: <big-O time complexity>
Space: <big-O space complexity>
Rationale: <one or two sentence justification>
Code:
` + "```" + `
<solution code, one fenced block>
` + "```" + `

Task: %s`

func (o *Orchestrator) runAlgorithm(ctx context.Context, utterance string) coretypes.AlgorithmResult {
	kind := inferKind(utterance)
	targetPath := inferTargetPath(utterance, kind)
	return o.runAlgorithmWithTarget(ctx, utterance, targetPath, kind, defaultAlgorithmMaxTokens)
}

// runAlgorithmWithTarget mirrors runCodingWithTarget for the Algorithm
// specialist: an explicit targetPath/kind/maxTokens rather than values
// inferred from utterance.
func (o *Orchestrator) runAlgorithmWithTarget(ctx context.Context, utterance, targetPath string, kind extract.Kind, maxTokens int) coretypes.AlgorithmResult {
	e, err := o.lifecycle.EnsureLoaded(ctx, coretypes.RoleAlgorithm)
	if err != nil {
		return coretypes.AlgorithmResult{CodeResult: coretypes.CodeResult{Error: err.Error()}}
	}

	genCtx, cancel := context.WithTimeout(ctx, algorithmDeadline)
	defer cancel()

	// Algorithm output interleaves prose (Time/Space/Rationale) around the
	// fenced code block, so the step writer's own fence-completion check is
	// what keeps it from flushing on a false positive before the Code:
	// section even starts.
	writer := newStepWriter(o, ctx, targetPath, kind)
	raw, err := o.adapter.Generate(genCtx, e, fmt.Sprintf(algorithmPromptTemplate, utterance), engine.GenOptions{MaxTokens: maxTokens, OnToken: writer.onToken})
	if err != nil {
		return coretypes.AlgorithmResult{CodeResult: coretypes.CodeResult{Error: err.Error()}}
	}

	extracted := extract.Extract(raw, kind)

	return coretypes.AlgorithmResult{
		CodeResult: coretypes.CodeResult{
			Success: true,
			Files:   map[string]string{targetPath: extracted.Content},
		},
		Complexity: coretypes.ComplexityAnalysis{
			Time:  firstMatchOr(timeFieldPattern, raw, "unknown"),
			Space: firstMatchOr(spaceFieldPattern, raw, "unknown"),
		},
		Rationale: firstMatchOr(rationaleFieldPattern, raw, ""),
	}
}

func firstMatchOr(pattern *regexp.Regexp, text, fallback string) string {
	if m := pattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return fallback
}

var filenamePattern = regexp.MustCompile(`\b[\w-]+\.(py|js|ts|css|html|json|md|go)\b`)

func inferKind(utterance string) extract.Kind {
	if m := filenamePattern.FindStringSubmatch(utterance); m != nil {
		switch m[1] {
		case "py":
			return extract.KindPython
		case "js":
			return extract.KindJS
		case "ts":
			return extract.KindTS
		case "css":
			return extract.KindCSS
		case "html":
			return extract.KindHTML
		case "json":
			return extract.KindJSON
		case "md":
			return extract.KindMD
		}
	}
	return extract.KindOther
}

func inferTargetPath(utterance string, kind extract.Kind) string {
	if m := filenamePattern.FindString(utterance); m != "" {
		return m
	}
	ext := string(kind)
	if kind == extract.KindOther {
		ext = "txt"
	}
	return "output." + ext
}

// writeGeneratedFile flushes generated content to disk through the file.write
// tool action (already atomic via a .part-suffixed rename), subject to the
// same Permission Gate check any other write goes through.
func (o *Orchestrator) writeGeneratedFile(ctx context.Context, path, content string) error {
	decision := o.decisionFor("file", "write", map[string]any{"path": path})
	result := o.tools.Execute(ctx, "file", "write", map[string]any{"path": path, "content": content}, decision)
	if !result.Success {
		return errs.Wrap(errs.KindValidationFailed, "writing %s: %s", filepath.Clean(path), result.Error)
	}
	return nil
}
