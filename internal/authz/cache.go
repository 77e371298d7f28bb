package authz

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how stale a cached decision may be.
const DefaultCacheTTL = 10 * time.Minute

// DecisionCache memoizes authorization answers in two shapes: a per
// (user, permission) boolean decision and a per-user full permission set.
// The cache is never authoritative; the engine must produce correct answers
// when every lookup misses, so implementations may drop entries at will.
type DecisionCache interface {
	GetDecision(ctx context.Context, userID int64, permission string) (allowed, ok bool)
	SetDecision(ctx context.Context, userID int64, permission string, allowed bool)
	GetPermissionSet(ctx context.Context, userID int64) ([]string, bool)
	SetPermissionSet(ctx context.Context, userID int64, permissions []string)
	// InvalidateUser drops both shapes for the user. Mutations call it
	// synchronously after commit; a failure is bounded by the TTL.
	InvalidateUser(ctx context.Context, userID int64) error
	// Purge drops everything.
	Purge(ctx context.Context) error
}

type decisionItem struct {
	allowed   bool
	expiresAt time.Time
}

type setItem struct {
	permissions []string
	expiresAt   time.Time
}

// MemoryCache is an in-process DecisionCache with a background janitor.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	decisions map[string]decisionItem
	sets      map[int64]setItem

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache creates a memory cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return NewMemoryCacheWithClock(ttl, time.Now)
}

// NewMemoryCacheWithClock creates a memory cache with an injected clock so
// TTL behaviour is testable without sleeping.
func NewMemoryCacheWithClock(ttl time.Duration, now func() time.Time) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &MemoryCache{
		ttl:       ttl,
		now:       now,
		decisions: make(map[string]decisionItem),
		sets:      make(map[int64]setItem),
		stopChan:  make(chan struct{}),
	}
	go c.janitor()
	return c
}

func decisionKey(userID int64, permission string) string {
	return strconv.FormatInt(userID, 10) + ":" + permission
}

// GetDecision returns a cached point decision if present and fresh.
func (c *MemoryCache) GetDecision(_ context.Context, userID int64, permission string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.decisions[decisionKey(userID, permission)]
	if !ok || c.now().After(item.expiresAt) {
		return false, false
	}
	return item.allowed, true
}

// SetDecision stores a point decision.
func (c *MemoryCache) SetDecision(_ context.Context, userID int64, permission string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions[decisionKey(userID, permission)] = decisionItem{allowed: allowed, expiresAt: c.now().Add(c.ttl)}
}

// GetPermissionSet returns the cached full permission set if fresh.
func (c *MemoryCache) GetPermissionSet(_ context.Context, userID int64) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.sets[userID]
	if !ok || c.now().After(item.expiresAt) {
		return nil, false
	}
	out := make([]string, len(item.permissions))
	copy(out, item.permissions)
	return out, true
}

// SetPermissionSet stores the full permission set for a user.
func (c *MemoryCache) SetPermissionSet(_ context.Context, userID int64, permissions []string) {
	stored := make([]string, len(permissions))
	copy(stored, permissions)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[userID] = setItem{permissions: stored, expiresAt: c.now().Add(c.ttl)}
}

// InvalidateUser drops every cached entry for the user, both shapes.
func (c *MemoryCache) InvalidateUser(_ context.Context, userID int64) error {
	prefix := strconv.FormatInt(userID, 10) + ":"
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sets, userID)
	for key := range c.decisions {
		if strings.HasPrefix(key, prefix) {
			delete(c.decisions, key)
		}
	}
	return nil
}

// Purge drops all cached entries.
func (c *MemoryCache) Purge(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions = make(map[string]decisionItem)
	c.sets = make(map[int64]setItem)
	return nil
}

// Stop terminates the janitor goroutine. Safe to call multiple times.
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

func (c *MemoryCache) janitor() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for key, item := range c.decisions {
				if now.After(item.expiresAt) {
					delete(c.decisions, key)
				}
			}
			for userID, item := range c.sets {
				if now.After(item.expiresAt) {
					delete(c.sets, userID)
				}
			}
			c.mu.Unlock()
		}
	}
}
