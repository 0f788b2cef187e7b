// Package permission implements the Permission Gate: the human-confirmation
// policy mediating every side effect the Tool Executor performs. Its
// batching/prompt-fold shape follows a synchronous prompt callback the
// caller supplies, generalized into a category-keyed decision cache.
package permission

import (
	"sync"

	"codey/internal/coretypes"
)

// Prompter asks the human a yes/no/batch question and returns their answer.
// The CLI wires this to stdin; tests supply a canned responder.
type Prompter func(req coretypes.PermissionRequest) coretypes.Decision

// Gate mediates PermissionRequests. requireConfirmation, when false, fails
// every write instead of prompting — it never silently allows writes.
type Gate struct {
	mu                  sync.Mutex
	prompt              Prompter
	requireConfirmation bool
	batchAllowed        map[coretypes.PermissionCategory]bool
}

// New builds a Gate. prompt must not be nil.
func New(prompt Prompter, requireConfirmation bool) *Gate {
	return &Gate{
		prompt:              prompt,
		requireConfirmation: requireConfirmation,
		batchAllowed:        make(map[coretypes.PermissionCategory]bool),
	}
}

// Request evaluates one PermissionRequest and returns the Decision.
func (g *Gate) Request(req coretypes.PermissionRequest) coretypes.Decision {
	if req.Category == "" {
		return coretypes.DecisionAllowOnce
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.requireConfirmation {
		return coretypes.DecisionDeny
	}

	// Destructive operations always prompt, warn, and bypass any active
	// batch approval — even within a batch.
	if req.Destructive {
		decision := g.prompt(req)
		if decision == coretypes.DecisionAllowBatch {
			g.batchAllowed[req.Category] = true
		}
		return decision
	}

	if g.batchAllowed[req.Category] {
		return coretypes.DecisionAllowBatch
	}

	decision := g.prompt(req)
	if decision == coretypes.DecisionAllowBatch {
		g.batchAllowed[req.Category] = true
	}
	return decision
}

// RequestRead always allows without prompting: read side effects never
// prompt.
func (g *Gate) RequestRead() coretypes.Decision {
	return coretypes.DecisionAllowOnce
}

// FoldDirectoryCreations builds a single PermissionRequest covering several
// mkdir targets, so a multi-directory scaffold triggers one batch prompt
// instead of one per directory.
func FoldDirectoryCreations(paths []string) coretypes.PermissionRequest {
	description := "create directories"
	preview := ""
	for i, p := range paths {
		if i > 0 {
			preview += ", "
		}
		preview += p
	}
	return coretypes.PermissionRequest{
		Category:    coretypes.PermDirectoryCreate,
		Description: description,
		Preview:     preview,
		Destructive: false,
	}
}

// ForEffect classifies a SideEffectClass plus tool name into the
// PermissionCategory the gate should evaluate the request under.
func ForEffect(tool string, effect coretypes.SideEffectClass) coretypes.PermissionCategory {
	switch {
	case effect == coretypes.EffectRead:
		return ""
	case tool == "git" && effect == coretypes.EffectDestructive:
		return coretypes.PermGitWrite
	case tool == "git":
		return coretypes.PermGitWrite
	case tool == "shell":
		return coretypes.PermShell
	case tool == "file" && effect == coretypes.EffectDestructive:
		return coretypes.PermFileDelete
	case tool == "file":
		return coretypes.PermFileWrite
	default:
		return coretypes.PermBatch
	}
}
