// Package engine defines the Engine Adapter contract consumed by the
// Lifecycle Manager. The inference engine itself — tokenization, matmul,
// GGUF loading — is out of scope: this package only owns the interface
// boundary and a deterministic stub used by tests and by the CLI when no
// native engine is wired in.
package engine

import "context"

// LoadOptions configures one model load.
type LoadOptions struct {
	ContextSize int
	MaxTokens   int
	NThreads    int
	ExtraLayers int
}

// GenOptions configures one generation call.
type GenOptions struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
	// OnToken, if non-nil, is invoked once per decoded token as it streams
	// out of the engine. The Orchestrator wires this to a per-step writer
	// rather than a shared buffer.
	OnToken func(token string)
}

// Engine is an opaque handle to a loaded model instance. Adapters define
// their own concrete type; callers never inspect it.
type Engine interface {
	// Path returns the model file this handle was loaded from.
	Path() string
}

// Adapter is the capability the Lifecycle Manager drives. Each Load call is
// independent: no hidden global state is shared between engines.
type Adapter interface {
	Load(ctx context.Context, path string, opts LoadOptions) (Engine, error)
	Generate(ctx context.Context, e Engine, prompt string, opts GenOptions) (string, error)
	Unload(e Engine) error
}
