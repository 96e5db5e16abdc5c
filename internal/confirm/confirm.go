// Package confirm holds pending high-impact write requests until the user
// replies with the exact matching command, or the entry expires.
//
// The store is in-process only. That is acceptable for a single active
// replica: an expired or lost confirmation simply means the user resends the
// original request and confirms again.
package confirm

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTTL is how long a pending confirmation stays valid.
const DefaultTTL = 15 * time.Minute

// Pending is one stored confirmation request.
type Pending struct {
	// Command is the exact string the user must submit, byte for byte:
	// "<keyword>: <request>".
	Command   string
	Owner     string
	Repo      string
	Keyword   string
	Request   string
	Prompt    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Outcome tags the result of a Confirm call.
type Outcome int

const (
	// NotFound means no live pending entry exists for the key.
	NotFound Outcome = iota
	// Mismatch means the submitted command did not equal the stored one;
	// the entry is kept so the user can retry.
	Mismatch
	// Confirmed means the command matched exactly; the entry has been
	// deleted and is returned exactly once.
	Confirmed
)

// Gate is the pending-confirmation store, keyed by (channel, thread).
type Gate struct {
	mu      sync.Mutex
	pending map[string]*Pending
	now     func() time.Time
}

// New creates an empty gate using the real clock.
func New() *Gate {
	return NewWithClock(time.Now)
}

// NewWithClock creates a gate with an injected clock, for tests.
func NewWithClock(now func() time.Time) *Gate {
	return &Gate{
		pending: make(map[string]*Pending),
		now:     now,
	}
}

func gateKey(channel, thread string) string {
	return channel + "\x00" + thread
}

// OpenPending stores a pending confirmation for (channel, thread),
// replacing any prior entry for the same key. The returned entry carries
// the exact command the user must submit.
func (g *Gate) OpenPending(channel, thread, owner, repo, keyword, request, prompt string, ttl time.Duration) *Pending {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := g.now()
	p := &Pending{
		Command:   fmt.Sprintf("%s: %s", keyword, request),
		Owner:     owner,
		Repo:      repo,
		Keyword:   keyword,
		Request:   request,
		Prompt:    prompt,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	g.mu.Lock()
	g.pending[gateKey(channel, thread)] = p
	g.mu.Unlock()
	return p
}

// GetPending returns the live pending entry for (channel, thread), or nil.
// An expired entry is evicted and never returned.
func (g *Gate) GetPending(channel, thread string) *Pending {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getLocked(channel, thread)
}

func (g *Gate) getLocked(channel, thread string) *Pending {
	key := gateKey(channel, thread)
	p, ok := g.pending[key]
	if !ok {
		return nil
	}
	if !g.now().Before(p.ExpiresAt) {
		delete(g.pending, key)
		return nil
	}
	return p
}

// Confirm checks a submitted command against the stored one. Only exact
// string equality confirms. On Confirmed the entry is removed; on Mismatch
// it survives so the user can retry.
func (g *Gate) Confirm(channel, thread, submitted string) (Outcome, *Pending) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.getLocked(channel, thread)
	if p == nil {
		return NotFound, nil
	}
	if submitted != p.Command {
		return Mismatch, p
	}
	delete(g.pending, gateKey(channel, thread))
	return Confirmed, p
}

// Sweep removes every entry that has expired as of now and returns how many
// were evicted. The serve loop calls this on a ticker; GetPending also
// evicts lazily, so Sweep is a bound on memory rather than correctness.
func (g *Gate) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	evicted := 0
	for key, p := range g.pending {
		if !now.Before(p.ExpiresAt) {
			delete(g.pending, key)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of stored entries, live or not yet swept.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
