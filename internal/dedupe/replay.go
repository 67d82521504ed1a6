// ABOUTME: TTL guard against replayed idempotency keys
// ABOUTME: Tracks recently seen (subject, key) pairs with size-bounded eviction

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// seenEntry stores when a pair was marked and where it sits in the eviction
// order.
type seenEntry struct {
	markedAt time.Time
	element  *list.Element
}

// Guard tracks recently seen (subject, idempotency key) pairs so a client
// retry of an already-submitted request is rejected before dispatch. Entries
// expire after the TTL; when the guard is full the oldest pair is evicted
// first. Uses a doubly-linked list for O(1) eviction.
type Guard struct {
	mu         sync.Mutex
	seen       map[string]*seenEntry
	order      *list.List // oldest pair at the front
	ttl        time.Duration
	maxEntries int
	done       chan struct{}
	closed     bool
}

// NewGuard creates a replay guard. A background goroutine sweeps expired
// pairs out once a minute.
func NewGuard(ttl time.Duration, maxEntries int) *Guard {
	g := &Guard{
		seen:       make(map[string]*seenEntry),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	go g.sweep()
	return g
}

// Seen atomically reports whether the pair was marked inside the TTL window,
// marking it when it was not. Exactly one caller per window sees false.
func (g *Guard) Seen(subject, key string) bool {
	pair := subject + "\x00" + key

	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.seen[pair]; ok && time.Since(entry.markedAt) < g.ttl {
		return true
	}

	g.mark(pair)
	return false
}

// mark records the pair, refreshing it if already present. Must be called
// with mu held.
func (g *Guard) mark(pair string) {
	now := time.Now()

	if entry, exists := g.seen[pair]; exists {
		entry.markedAt = now
		g.order.MoveToBack(entry.element)
		return
	}

	if len(g.seen) >= g.maxEntries {
		g.evictOldest()
	}

	elem := g.order.PushBack(pair)
	g.seen[pair] = &seenEntry{markedAt: now, element: elem}
}

// evictOldest removes the oldest pair. Must be called with mu held.
func (g *Guard) evictOldest() {
	front := g.order.Front()
	if front == nil {
		return
	}
	pair, _ := front.Value.(string)
	g.order.Remove(front)
	delete(g.seen, pair)
}

// sweep runs in a background goroutine, periodically removing expired pairs.
func (g *Guard) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.removeExpired()
		case <-g.done:
			return
		}
	}
}

// removeExpired drops every pair older than the TTL.
func (g *Guard) removeExpired() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for pair, entry := range g.seen {
		if now.Sub(entry.markedAt) > g.ttl {
			g.order.Remove(entry.element)
			delete(g.seen, pair)
		}
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
