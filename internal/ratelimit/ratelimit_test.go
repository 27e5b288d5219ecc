// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestAcquire_SlidingWindow(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))
	r.SetBudget("gemini-2.0-flash", 3)

	for i := 0; i < 3; i++ {
		require.Equal(t, Allowed, r.Acquire("gemini-2.0-flash"))
		clock.Advance(10 * time.Second)
	}
	assert.Equal(t, OverBudget, r.Acquire("gemini-2.0-flash"))

	// The first request leaves the window 60s after it was made.
	clock.Advance(31 * time.Second)
	assert.Equal(t, Allowed, r.Acquire("gemini-2.0-flash"))
	assert.Equal(t, OverBudget, r.Acquire("gemini-2.0-flash"))
}

func TestCheck_DoesNotRecord(t *testing.T) {
	r := New(WithClock(newFakeClock().Now))
	r.SetBudget("m", 1)

	for i := 0; i < 5; i++ {
		assert.Equal(t, Allowed, r.Check("m"))
	}
	assert.Equal(t, Allowed, r.Acquire("m"))
	assert.Equal(t, OverBudget, r.Check("m"))
}

func TestMarkQuotaExceeded_Cooldown(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now), WithCooldown(60*time.Second))
	r.SetBudget("m", 30)

	r.MarkQuotaExceeded("m")
	assert.Equal(t, CoolingDown, r.Acquire("m"))
	assert.Equal(t, 60*time.Second, r.CooldownRemaining("m"))

	clock.Advance(59 * time.Second)
	assert.Equal(t, CoolingDown, r.Check("m"))

	clock.Advance(time.Second)
	assert.Equal(t, Allowed, r.Acquire("m"))
	assert.Equal(t, time.Duration(0), r.CooldownRemaining("m"))
}

func TestUnknownModel_UsesDefaultBudget(t *testing.T) {
	r := New(WithClock(newFakeClock().Now), WithDefaultRPM(2))
	assert.Equal(t, Allowed, r.Acquire("other"))
	assert.Equal(t, Allowed, r.Acquire("other"))
	assert.Equal(t, OverBudget, r.Acquire("other"))
}

func TestSnapshot(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))
	r.SetBudget("b", 15)
	r.SetBudget("a", 30)
	r.Acquire("a")
	r.MarkQuotaExceeded("b")

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, Status{Model: "a", RPM: 30, InWindow: 1}, snap[0])
	assert.Equal(t, "b", snap[1].Model)
	assert.Equal(t, 1, snap[1].QuotaHits)
	assert.Equal(t, DefaultCooldown, snap[1].CooldownRemaining)
}

func TestAcquire_Concurrent(t *testing.T) {
	r := New()
	r.SetBudget("m", 50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Acquire("m") == Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "allowed", Allowed.String())
	assert.Equal(t, "cooling_down", CoolingDown.String())
	assert.Equal(t, "over_budget", OverBudget.String())
}
