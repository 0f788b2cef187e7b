package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codey/internal/coretypes"
)

func TestNormalizeAliases(t *testing.T) {
	tool, action := Normalize("read")
	assert.Equal(t, "file", tool)
	assert.Equal(t, "read", action)

	tool, action = Normalize("terminal")
	assert.Equal(t, "shell", tool)
	assert.Equal(t, "run", action)

	tool, action = Normalize("ls")
	assert.Equal(t, "file", tool)
	assert.Equal(t, "list", action)
}

func TestNormalizeRawToolAction(t *testing.T) {
	tool, action := Normalize("git.status")
	assert.Equal(t, "git", tool)
	assert.Equal(t, "status", action)
}

func TestExecuteUnknownTool(t *testing.T) {
	reg := New(nil)
	result := reg.Execute(context.Background(), "nope", "run", nil, coretypes.DecisionAllowOnce)
	require.False(t, result.Success)
	require.True(t, strings.Contains(result.Error, "unknown tool"))
}

func TestExecuteUnknownAction(t *testing.T) {
	reg := New(nil)
	reg.Register("git", Action{Name: "status", Effect: coretypes.EffectRead, Run: func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}})

	result := reg.Execute(context.Background(), "git", "teleport", nil, coretypes.DecisionAllowOnce)
	require.False(t, result.Success)
	require.True(t, strings.Contains(result.Error, "unknown action"))
}

func TestExecuteDeniedShortCircuits(t *testing.T) {
	called := false
	reg := New(nil)
	reg.Register("file", Action{Name: "delete", Effect: coretypes.EffectDestructive, Run: func(context.Context, map[string]any) (map[string]any, error) {
		called = true
		return map[string]any{}, nil
	}})

	result := reg.Execute(context.Background(), "file", "delete", nil, coretypes.DecisionDeny)
	require.False(t, result.Success)
	require.False(t, called)
	require.True(t, strings.Contains(result.Error, "permission denied"))
}

func TestExecuteSuccess(t *testing.T) {
	reg := New(nil)
	reg.Register("file", Action{Name: "read", Effect: coretypes.EffectRead, Run: func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"content": "hi"}, nil
	}})

	result := reg.Execute(context.Background(), "file", "read", nil, coretypes.DecisionAllowOnce)
	require.True(t, result.Success)
	assert.Equal(t, "hi", result.Output["content"])
}

func TestEffectLookup(t *testing.T) {
	reg := New(nil)
	reg.Register("shell", Action{Name: "run", Effect: coretypes.EffectWrite, Run: func(context.Context, map[string]any) (map[string]any, error) {
		return nil, nil
	}})

	effect, ok := reg.Effect("shell", "run")
	require.True(t, ok)
	assert.Equal(t, coretypes.EffectWrite, effect)

	_, ok = reg.Effect("shell", "nope")
	require.False(t, ok)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	reg := New(nil)
	reg.Register("file", Action{Name: "read", Run: func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }})

	assert.Panics(t, func() {
		reg.Register("file", Action{Name: "read", Run: func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }})
	})
}
