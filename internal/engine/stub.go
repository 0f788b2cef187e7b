package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"codey/internal/errs"
)

// stubEngine is the Engine handle returned by StubAdapter.
type stubEngine struct {
	path string
}

func (e *stubEngine) Path() string { return e.path }

// StubAdapter is a deterministic, dependency-free Adapter. It never calls
// out to a network or native library — it exists so the orchestration core
// can be exercised end to end without the real inference engine, matching
// the "delegated to an external native engine" boundary this module keeps.
//
// GenerateFunc, when set, computes the response for a prompt. When unset,
// Generate returns a canned response that echoes a truncated prompt, which
// is enough for tests that only care about plumbing, not model quality.
type StubAdapter struct {
	mu           sync.Mutex
	loaded       map[string]*stubEngine
	GenerateFunc func(prompt string, opts GenOptions) (string, error)
}

// NewStubAdapter returns a ready-to-use stub.
func NewStubAdapter() *StubAdapter {
	return &StubAdapter{loaded: make(map[string]*stubEngine)}
}

func (s *StubAdapter) Load(_ context.Context, path string, _ LoadOptions) (Engine, error) {
	if path == "" {
		return nil, errs.Wrap(errs.KindNotFound, "model path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.KindNotFound, "model file %s does not exist", path)
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := &stubEngine{path: path}
	s.loaded[path] = e
	return e, nil
}

func (s *StubAdapter) Generate(ctx context.Context, e Engine, prompt string, opts GenOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(errs.KindCancelled, "generation cancelled: %v", err)
	}

	respond := s.GenerateFunc
	if respond == nil {
		respond = defaultGenerate
	}

	out, err := respond(prompt, opts)
	if err != nil {
		return "", err
	}

	if opts.OnToken != nil {
		for _, tok := range strings.Fields(out) {
			opts.OnToken(tok + " ")
		}
	}
	return out, nil
}

func (s *StubAdapter) Unload(e Engine) error {
	se, ok := e.(*stubEngine)
	if !ok {
		return fmt.Errorf("unload: not a stub engine handle")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loaded, se.path)
	return nil
}

func defaultGenerate(prompt string, opts GenOptions) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	if len(trimmed) > 80 {
		trimmed = trimmed[:80]
	}
	return fmt.Sprintf("stub-response: %s", trimmed), nil
}
