// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/synth/internal/search"
	"github.com/jeranaias/synth/internal/util"
)

// =============================================================================
// TYPES
// =============================================================================

// sessionIDCounter ensures unique session IDs even when created rapidly
var sessionIDCounter uint64

// maxSlowest is how many of the slowest queries a session keeps.
const maxSlowest = 10

// Counter aggregates calls to one identity.
type Counter struct {
	Calls        int           `json:"calls"`
	Failures     int           `json:"failures"`
	TotalLatency time.Duration `json:"total_latency"`
}

// AvgLatency returns the mean latency, or 0 with no calls.
func (c Counter) AvgLatency() time.Duration {
	if c.Calls == 0 {
		return 0
	}
	return c.TotalLatency / time.Duration(c.Calls)
}

// ProviderCounter aggregates activations of one search provider.
type ProviderCounter struct {
	Activations  int           `json:"activations"`
	WithResults  int           `json:"with_results"`
	Failures     int           `json:"failures"`
	Results      int           `json:"results"`
	TotalLatency time.Duration `json:"total_latency"`
}

// QueryRecord is one slow query kept for inspection.
type QueryRecord struct {
	Timestamp time.Time     `json:"timestamp"`
	Query     string        `json:"query"`
	Identity  string        `json:"identity"`
	Tier      string        `json:"tier"`
	Latency   time.Duration `json:"latency"`
}

// Event describes one resolved request.
type Event struct {
	Query             string
	Identity          string
	HumanizerIdentity string
	Tier              string
	Latency           time.Duration
	Failed            bool
	Outcomes          []search.Outcome
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	SessionID  string                     `json:"session_id,omitempty"`
	StartTime  time.Time                  `json:"start_time"`
	Requests   int                        `json:"requests"`
	Identities map[string]Counter         `json:"identities"`
	Tiers      map[string]int             `json:"tiers"`
	Humanizer  map[string]int             `json:"humanizer"`
	Providers  map[string]ProviderCounter `json:"providers"`
	Slowest    []QueryRecord              `json:"slowest,omitempty"`
}

func newSnapshot(id string, start time.Time) *Snapshot {
	return &Snapshot{
		SessionID:  id,
		StartTime:  start,
		Identities: make(map[string]Counter),
		Tiers:      make(map[string]int),
		Humanizer:  make(map[string]int),
		Providers:  make(map[string]ProviderCounter),
	}
}

// apply adds ev to s.
func (s *Snapshot) apply(ev Event, now time.Time) {
	s.Requests++

	if ev.Identity != "" {
		c := s.Identities[ev.Identity]
		c.Calls++
		c.TotalLatency += ev.Latency
		if ev.Failed {
			c.Failures++
		}
		s.Identities[ev.Identity] = c
	}
	if ev.Tier != "" {
		s.Tiers[ev.Tier]++
	}
	if ev.HumanizerIdentity != "" {
		s.Humanizer[ev.HumanizerIdentity]++
	}

	for _, o := range ev.Outcomes {
		if o.Provider == "" {
			continue
		}
		p := s.Providers[o.Provider]
		p.Activations++
		p.TotalLatency += o.Elapsed
		p.Results += len(o.Results)
		switch o.Kind {
		case search.OutcomeResults:
			p.WithResults++
		case search.OutcomeFailed:
			p.Failures++
		}
		s.Providers[o.Provider] = p
	}
}

// addSlow keeps the slowest maxSlowest queries, slowest first.
func (s *Snapshot) addSlow(rec QueryRecord) {
	s.Slowest = append(s.Slowest, rec)
	sort.SliceStable(s.Slowest, func(i, j int) bool {
		return s.Slowest[i].Latency > s.Slowest[j].Latency
	})
	if len(s.Slowest) > maxSlowest {
		s.Slowest = s.Slowest[:maxSlowest]
	}
}

// merge adds o's counters into s. Slow queries are not merged.
func (s *Snapshot) merge(o *Snapshot) {
	s.Requests += o.Requests
	for k, v := range o.Identities {
		c := s.Identities[k]
		c.Calls += v.Calls
		c.Failures += v.Failures
		c.TotalLatency += v.TotalLatency
		s.Identities[k] = c
	}
	for k, v := range o.Tiers {
		s.Tiers[k] += v
	}
	for k, v := range o.Humanizer {
		s.Humanizer[k] += v
	}
	for k, v := range o.Providers {
		p := s.Providers[k]
		p.Activations += v.Activations
		p.WithResults += v.WithResults
		p.Failures += v.Failures
		p.Results += v.Results
		p.TotalLatency += v.TotalLatency
		s.Providers[k] = p
	}
}

// copy returns a deep copy of s.
func (s *Snapshot) copy() Snapshot {
	dst := newSnapshot(s.SessionID, s.StartTime)
	dst.merge(s)
	dst.Slowest = make([]QueryRecord, len(s.Slowest))
	copy(dst.Slowest, s.Slowest)
	return *dst
}

// =============================================================================
// TRACKER
// =============================================================================

// Tracker records usage for the current session on top of persisted totals.
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	session *Snapshot
	prior   *Snapshot // totals loaded from disk
	storage *Storage
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates a tracker. A non-empty path loads prior totals from it and
// is where Save writes. An empty path keeps everything in memory.
func New(path string, opts ...Option) (*Tracker, error) {
	t := &Tracker{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	t.session = newSnapshot(generateSessionID(t.now()), t.now())
	t.prior = newSnapshot("", t.now())

	if path != "" {
		t.storage = NewStorage(path)
		prior, err := t.storage.Load()
		if err != nil {
			return nil, err
		}
		if prior != nil {
			t.prior = prior
		}
	}
	return t, nil
}

// Record adds one request to the session.
func (t *Tracker) Record(ev Event) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.session.apply(ev, now)
	t.session.addSlow(QueryRecord{
		Timestamp: now,
		Query:     util.TruncateRunes(ev.Query, 100),
		Identity:  ev.Identity,
		Tier:      ev.Tier,
		Latency:   ev.Latency,
	})
}

// Snapshot returns a copy of the current session counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.session.copy()
}

// Totals returns persisted totals plus the current session.
func (t *Tracker) Totals() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := newSnapshot("", t.prior.StartTime)
	total.merge(t.prior)
	total.merge(t.session)
	return *total
}

// Save writes Totals to disk. It is a no-op for in-memory trackers.
func (t *Tracker) Save() error {
	if t.storage == nil {
		return nil
	}
	totals := t.Totals()
	return t.storage.Save(&totals)
}

// Reset starts a new empty session and forgets persisted totals.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.session = newSnapshot(generateSessionID(now), now)
	t.prior = newSnapshot("", now)
}

// generateSessionID generates a unique session ID.
func generateSessionID(now time.Time) string {
	counter := atomic.AddUint64(&sessionIDCounter, 1)
	return now.Format("20060102-150405") + "-" + fmt.Sprintf("%d", counter)
}
