package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowbill/flowbill-api/internal/db"
)

// PlanCache keeps plan rows in memory so the billing loop does not hit the
// database once per subscription. Entries expire after the TTL and are
// invalidated explicitly whenever a plan is updated through the API.
type PlanCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*cachedPlan
	ttl     time.Duration
}

type cachedPlan struct {
	plan      db.Plan
	expiresAt time.Time
}

// DefaultTTL bounds staleness for plan reads that race an update made
// outside this process.
const DefaultTTL = 5 * time.Minute

func NewPlanCache(ttl time.Duration) *PlanCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PlanCache{
		entries: make(map[uuid.UUID]*cachedPlan),
		ttl:     ttl,
	}
}

// Get returns the cached plan if present and not expired.
func (c *PlanCache) Get(id uuid.UUID) (db.Plan, bool) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return db.Plan{}, false
	}
	return entry.plan, true
}

// Set stores a plan with a fresh TTL.
func (c *PlanCache) Set(plan db.Plan) {
	c.mu.Lock()
	c.entries[plan.ID] = &cachedPlan{
		plan:      plan,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Invalidate drops a single plan, forcing the next read through to the
// database.
func (c *PlanCache) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Purge drops every cached plan.
func (c *PlanCache) Purge() {
	c.mu.Lock()
	c.entries = make(map[uuid.UUID]*cachedPlan)
	c.mu.Unlock()
}
