// Package lifecycle implements the Model Lifecycle Manager: a
// budget-enforcing, LRU-evicting cache of loaded inference engines. It
// generalizes a map-of-live-instances pattern and a mutex-guarded resource
// enforcer from "shard instance" to "loaded engine keyed by Role", and turns
// a soft memory check into a hard evict-then-load budget operation.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"codey/internal/coretypes"
	"codey/internal/engine"
	"codey/internal/errs"
	"codey/internal/logging"
)

// trackedEngine pairs a loaded engine.Engine with the bookkeeping the
// eviction policy needs.
type trackedEngine struct {
	role        coretypes.Role
	handle      engine.Engine
	modelPath   string
	loadedAt    time.Time
	lastUsedAt  time.Time
	estimatedMB int
}

// MemoryUsage summarizes current load state.
type MemoryUsage struct {
	TotalMB int
	PerRole map[coretypes.Role]int
}

// Manager owns the Role -> LoadedEngine mapping and enforces budgetMB.
//
// All mutating operations serialize on mu. ensureLoaded releases mu around
// the (potentially slow) call into the Engine Adapter's Load, so a lookup
// for a different role is never blocked behind one role's model load.
// Concurrent callers requesting the same role share the result of the first
// in-flight load via singleflight, rather than issuing duplicate loads.
type Manager struct {
	mu sync.Mutex

	adapter  engine.Adapter
	policies map[coretypes.Role]coretypes.Policy
	paths    map[coretypes.Role]string
	budgetMB int

	loaded map[coretypes.Role]*trackedEngine
	lru    *lru.Cache[coretypes.Role, struct{}]

	group singleflight.Group

	log *zap.SugaredLogger
}

// New constructs a Manager. paths maps each role to the on-disk model file
// the Engine Adapter should load for it.
func New(adapter engine.Adapter, policies map[coretypes.Role]coretypes.Policy, paths map[coretypes.Role]string, budgetMB int, base *zap.Logger) (*Manager, error) {
	if adapter == nil {
		return nil, fmt.Errorf("lifecycle: adapter is required")
	}
	cache, err := lru.New[coretypes.Role, struct{}](len(policies) + 1)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: failed to build LRU index: %w", err)
	}
	return &Manager{
		adapter:  adapter,
		policies: policies,
		paths:    paths,
		budgetMB: budgetMB,
		loaded:   make(map[coretypes.Role]*trackedEngine),
		lru:      cache,
		log:      logging.Named(base, logging.ComponentLifecycle),
	}, nil
}

// EnsureLoaded returns a live engine for role, loading it under budget
// pressure if necessary.
func (m *Manager) EnsureLoaded(ctx context.Context, role coretypes.Role) (engine.Engine, error) {
	m.mu.Lock()
	if te, ok := m.loaded[role]; ok {
		te.lastUsedAt = time.Now()
		if !m.policies[role].AlwaysResident {
			m.lru.Add(role, struct{}{})
		}
		handle := te.handle
		m.mu.Unlock()
		return handle, nil
	}
	m.mu.Unlock()

	// Concurrent callers for the same role collapse onto one load.
	result, err, _ := m.group.Do(string(role), func() (any, error) {
		return m.loadRole(ctx, role)
	})
	if err != nil {
		return nil, err
	}
	return result.(engine.Engine), nil
}

func (m *Manager) loadRole(ctx context.Context, role coretypes.Role) (engine.Engine, error) {
	m.mu.Lock()
	// Re-check: another goroutine's singleflight call may have already
	// populated this role between our first check and acquiring the group.
	if te, ok := m.loaded[role]; ok {
		te.lastUsedAt = time.Now()
		handle := te.handle
		m.mu.Unlock()
		return handle, nil
	}

	policy, ok := m.policies[role]
	if !ok {
		m.mu.Unlock()
		return nil, errs.Wrap(errs.KindNotFound, "no policy registered for role %s", role)
	}
	path, ok := m.paths[role]
	if !ok || path == "" {
		m.mu.Unlock()
		return nil, errs.Wrap(errs.KindNotFound, "no model path configured for role %s", role)
	}

	if err := m.enforceBudgetLocked(policy.MemoryEstimateMB); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	// Load outside the lock: this is the slow, blocking operation the
	// lock must not be held across .
	handle, err := m.adapter.Load(ctx, path, engine.LoadOptions{
		ContextSize: policy.ContextSize,
		MaxTokens:   policy.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	m.mu.Lock()
	m.loaded[role] = &trackedEngine{
		role:        role,
		handle:      handle,
		modelPath:   path,
		loadedAt:    now,
		lastUsedAt:  now,
		estimatedMB: policy.MemoryEstimateMB,
	}
	if !policy.AlwaysResident {
		m.lru.Add(role, struct{}{})
	}
	m.mu.Unlock()

	m.log.Infow("engine loaded", "role", role, "path", path, "estimatedMB", policy.MemoryEstimateMB)
	return handle, nil
}

// enforceBudgetLocked implements the evict-then-load budget algorithm.
// Callers must hold m.mu.
func (m *Manager) enforceBudgetLocked(needMB int) error {
	if m.currentUsageLocked()+needMB <= m.budgetMB {
		return nil
	}
	if needMB > m.budgetMB {
		return errs.Wrap(errs.KindResourceExhausted, "role needs %dMB but budget is only %dMB", needMB, m.budgetMB)
	}

	for m.currentUsageLocked()+needMB > m.budgetMB {
		victim, _, ok := m.lru.GetOldest()
		if !ok {
			return errs.Wrap(errs.KindResourceExhausted, "cannot free %dMB: no evictable engines loaded", needMB)
		}
		if err := m.unloadLocked(victim, false); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) currentUsageLocked() int {
	total := 0
	for _, te := range m.loaded {
		total += te.estimatedMB
	}
	return total
}

// Unload evicts role's engine. Idempotent: unloading an already-unloaded
// role is a no-op. Forbidden on always-resident roles, which always
// returns an error rather than silently succeeding.
func (m *Manager) Unload(role coretypes.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(role, true)
}

func (m *Manager) unloadLocked(role coretypes.Role, enforceResidency bool) error {
	te, ok := m.loaded[role]
	if !ok {
		return nil
	}
	if enforceResidency && m.policies[role].AlwaysResident {
		return errs.Wrap(errs.KindForbidden, "role %s is always-resident and may not be unloaded", role)
	}
	if err := m.adapter.Unload(te.handle); err != nil {
		return err
	}
	delete(m.loaded, role)
	m.lru.Remove(role)
	m.log.Infow("engine unloaded", "role", role)
	return nil
}

// MemoryUsage reports current totals for observability and testing.
func (m *Manager) MemoryUsage() MemoryUsage {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage := MemoryUsage{PerRole: make(map[coretypes.Role]int, len(m.loaded))}
	for role, te := range m.loaded {
		usage.PerRole[role] = te.estimatedMB
		usage.TotalMB += te.estimatedMB
	}
	return usage
}

// Shutdown unloads every engine, ignoring the always-resident restriction.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for role := range m.loaded {
		if err := m.unloadLocked(role, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
