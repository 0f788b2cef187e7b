package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"codey/internal/coretypes"
	"codey/internal/engine"
	"codey/internal/errs"
)

func writeFakeModel(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0644))
	return path
}

func testPolicies() map[coretypes.Role]coretypes.Policy {
	return map[coretypes.Role]coretypes.Policy{
		coretypes.RoleRouter: {
			Role:             coretypes.RoleRouter,
			AlwaysResident:   true,
			MemoryEstimateMB: 200,
		},
		coretypes.RoleCoder: {
			Role:             coretypes.RoleCoder,
			MemoryEstimateMB: 400,
		},
		coretypes.RoleAlgorithm: {
			Role:             coretypes.RoleAlgorithm,
			MemoryEstimateMB: 400,
		},
	}
}

func TestEnsureLoadedLoadsThenReusesEngine(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	paths := map[coretypes.Role]string{
		coretypes.RoleRouter: writeFakeModel(t, dir, "router.gguf"),
	}
	adapter := engine.NewStubAdapter()
	m, err := New(adapter, testPolicies(), paths, 1000, nil)
	require.NoError(t, err)

	e1, err := m.EnsureLoaded(context.Background(), coretypes.RoleRouter)
	require.NoError(t, err)

	e2, err := m.EnsureLoaded(context.Background(), coretypes.RoleRouter)
	require.NoError(t, err)
	require.Same(t, e1, e2)
}

func TestEnsureLoadedUnknownRoleFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	adapter := engine.NewStubAdapter()
	m, err := New(adapter, testPolicies(), map[coretypes.Role]string{}, 1000, nil)
	require.NoError(t, err)

	_, err = m.EnsureLoaded(context.Background(), coretypes.RoleCoder)
	require.True(t, errs.Is(err, errs.KindNotFound))
}

func TestEnforceBudgetEvictsLeastRecentlyUsed(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	paths := map[coretypes.Role]string{
		coretypes.RoleRouter:    writeFakeModel(t, dir, "router.gguf"),
		coretypes.RoleCoder:     writeFakeModel(t, dir, "coder.gguf"),
		coretypes.RoleAlgorithm: writeFakeModel(t, dir, "algorithm.gguf"),
	}
	adapter := engine.NewStubAdapter()
	// budget fits router (always resident, 200MB) plus exactly one of the
	// 400MB roles at a time.
	m, err := New(adapter, testPolicies(), paths, 600, nil)
	require.NoError(t, err)

	_, err = m.EnsureLoaded(context.Background(), coretypes.RoleRouter)
	require.NoError(t, err)
	_, err = m.EnsureLoaded(context.Background(), coretypes.RoleCoder)
	require.NoError(t, err)

	usage := m.MemoryUsage()
	require.Equal(t, 600, usage.TotalMB)

	// Loading algorithm must evict coder since router is pinned.
	_, err = m.EnsureLoaded(context.Background(), coretypes.RoleAlgorithm)
	require.NoError(t, err)

	usage = m.MemoryUsage()
	require.Contains(t, usage.PerRole, coretypes.RoleRouter)
	require.Contains(t, usage.PerRole, coretypes.RoleAlgorithm)
	require.NotContains(t, usage.PerRole, coretypes.RoleCoder)
}

func TestEnforceBudgetFailsWhenRoleExceedsTotalBudget(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	paths := map[coretypes.Role]string{
		coretypes.RoleCoder: writeFakeModel(t, dir, "coder.gguf"),
	}
	adapter := engine.NewStubAdapter()
	m, err := New(adapter, testPolicies(), paths, 100, nil)
	require.NoError(t, err)

	_, err = m.EnsureLoaded(context.Background(), coretypes.RoleCoder)
	require.True(t, errs.Is(err, errs.KindResourceExhausted))
}

func TestUnloadRefusesAlwaysResidentRole(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	paths := map[coretypes.Role]string{
		coretypes.RoleRouter: writeFakeModel(t, dir, "router.gguf"),
	}
	adapter := engine.NewStubAdapter()
	m, err := New(adapter, testPolicies(), paths, 1000, nil)
	require.NoError(t, err)

	_, err = m.EnsureLoaded(context.Background(), coretypes.RoleRouter)
	require.NoError(t, err)

	err = m.Unload(coretypes.RoleRouter)
	require.True(t, errs.Is(err, errs.KindForbidden))
}

func TestUnloadUnloadedRoleIsNoOp(t *testing.T) {
	defer goleak.VerifyNone(t)

	adapter := engine.NewStubAdapter()
	m, err := New(adapter, testPolicies(), map[coretypes.Role]string{}, 1000, nil)
	require.NoError(t, err)

	require.NoError(t, m.Unload(coretypes.RoleCoder))
}

func TestConcurrentEnsureLoadedSameRoleSharesOneLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	paths := map[coretypes.Role]string{
		coretypes.RoleCoder: writeFakeModel(t, dir, "coder.gguf"),
	}
	adapter := engine.NewStubAdapter()
	var calls int32
	adapter.GenerateFunc = func(prompt string, opts engine.GenOptions) (string, error) {
		return "ok", nil
	}

	m, err := New(adapter, testPolicies(), paths, 1000, nil)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	handles := make([]engine.Engine, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			h, loadErr := m.EnsureLoaded(context.Background(), coretypes.RoleCoder)
			require.NoError(t, loadErr)
			handles[idx] = h
			atomic.AddInt32(&calls, 1)
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, handles[0], handles[i])
	}
	require.EqualValues(t, n, calls)
}

func TestShutdownUnloadsEverythingIncludingAlwaysResident(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	paths := map[coretypes.Role]string{
		coretypes.RoleRouter: writeFakeModel(t, dir, "router.gguf"),
		coretypes.RoleCoder:  writeFakeModel(t, dir, "coder.gguf"),
	}
	adapter := engine.NewStubAdapter()
	m, err := New(adapter, testPolicies(), paths, 1000, nil)
	require.NoError(t, err)

	_, err = m.EnsureLoaded(context.Background(), coretypes.RoleRouter)
	require.NoError(t, err)
	_, err = m.EnsureLoaded(context.Background(), coretypes.RoleCoder)
	require.NoError(t, err)

	require.NoError(t, m.Shutdown())
	usage := m.MemoryUsage()
	require.Zero(t, usage.TotalMB)
}
