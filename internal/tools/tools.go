// Package tools implements the Tool Executor: the only component that
// touches the outside world (files, shell, git, sqlite). It generalizes a
// flat name-keyed registry into a two-level (tool, action) dispatch table,
// since the domain here has a handful of tools each exposing several verbs
// with independent schemas and side-effect classes, rather than one flat
// namespace of standalone tools.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"codey/internal/coretypes"
	"codey/internal/errs"
	"codey/internal/logging"
)

// Handler executes one (tool, action) verb.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Action describes one verb under a tool: its handler and declared
// side-effect class, used by the Permission Gate to decide whether to
// prompt.
type Action struct {
	Name   string
	Effect coretypes.SideEffectClass
	Run    Handler
}

// aliasTable is fixed and total for the aliases this module names. Lookups
// against it happen before dispatch; anything not listed here is split
// verbatim as "tool.action"/"tool action", and a bare tool name yields an
// empty action.
var aliasTable = map[string]string{
	"read":     "file.read",
	"write":    "file.write",
	"ls":       "file.list",
	"terminal": "shell.run",
	"bash":     "shell.run",
	"sh":       "shell.run",
	"mkdir":    "shell.mkdir",
	"delete":   "file.delete",
	"rm":       "file.delete",
}

// Registry dispatches (tool, action) calls to registered handlers.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]map[string]Action
	log     *zap.SugaredLogger
}

// New returns an empty Registry.
func New(base *zap.Logger) *Registry {
	return &Registry{
		tools: make(map[string]map[string]Action),
		log:   logging.Named(base, logging.ComponentTools),
	}
}

// Register adds one action under a tool. Panics on duplicate registration
// since the action table is built once at startup, not at request time.
func (r *Registry) Register(tool string, action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[tool]; !ok {
		r.tools[tool] = make(map[string]Action)
	}
	if _, exists := r.tools[tool][action.Name]; exists {
		panic(fmt.Sprintf("tools: duplicate registration for %s.%s", tool, action.Name))
	}
	r.tools[tool][action.Name] = action
}

// Normalize resolves an alias or a raw "tool.action"/"tool action" string
// into its canonical (tool, action) pair. It does not validate that the
// pair is registered.
func Normalize(raw string) (tool, action string) {
	trimmed := strings.TrimSpace(raw)
	if canonical, ok := aliasTable[trimmed]; ok {
		trimmed = canonical
	}
	if idx := strings.IndexAny(trimmed, ". "); idx >= 0 {
		return trimmed[:idx], trimmed[idx+1:]
	}
	return trimmed, ""
}

// Execute runs tool.action with params, honoring the caller-supplied
// permission decision. The Tool Executor never consults the Permission
// Gate itself: callers must obtain decision beforehand.
func (r *Registry) Execute(ctx context.Context, tool, action string, params map[string]any, decision coretypes.Decision) coretypes.ToolResult {
	result := coretypes.ToolResult{Tool: tool, Action: action}

	if decision == coretypes.DecisionDeny {
		result.Error = errs.Wrap(errs.KindPermissionDenied, "user denied %s.%s", tool, action).Error()
		return result
	}

	r.mu.RLock()
	actions, ok := r.tools[tool]
	if !ok {
		r.mu.RUnlock()
		result.Error = errs.Wrap(errs.KindUnknownTool, "%s", tool).Error()
		return result
	}
	act, ok := actions[action]
	r.mu.RUnlock()
	if !ok {
		result.Error = errs.Wrap(errs.KindUnknownAction, "%s.%s", tool, action).Error()
		return result
	}

	start := time.Now()
	output, err := act.Run(ctx, params)
	r.log.Debugw("executed tool action", "tool", tool, "action", action, "duration", time.Since(start), "ok", err == nil)
	result.Output = output
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

// Effect returns the declared side-effect class for tool.action, or
// ("", false) if unregistered.
func (r *Registry) Effect(tool, action string) (coretypes.SideEffectClass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions, ok := r.tools[tool]
	if !ok {
		return "", false
	}
	act, ok := actions[action]
	if !ok {
		return "", false
	}
	return act.Effect, true
}

// Actions lists every registered (tool, action) pair, sorted, for
// diagnostics and clarification prompts.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0)
	for tool, actions := range r.tools {
		for action := range actions {
			names = append(names, tool+"."+action)
		}
	}
	sort.Strings(names)
	return names
}
