// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/synth/internal/search"
)

func TestTracker_Record(t *testing.T) {
	tracker, err := New("")
	require.NoError(t, err)

	tracker.Record(Event{
		Query:             "capital of France?",
		Identity:          "fast",
		HumanizerIdentity: "Skipped",
		Tier:              "fast",
		Latency:           200 * time.Millisecond,
	})
	tracker.Record(Event{
		Query:    "FIPS 203 vs FIPS 204",
		Identity: "gemini-2.0-flash",
		Tier:     "smart",
		Latency:  2 * time.Second,
		Outcomes: []search.Outcome{
			{Provider: "Google", Kind: search.OutcomeEmpty, Elapsed: time.Second},
			{Provider: "DuckDuckGo", Kind: search.OutcomeResults, Results: make([]search.Result, 3), Elapsed: 2 * time.Second},
			{Provider: "Tavily", Kind: search.OutcomeFailed, Err: errors.New("boom")},
		},
	})
	tracker.Record(Event{Query: "x", Identity: "Error", Failed: true, Tier: "balanced", Latency: time.Second})

	snap := tracker.Snapshot()
	assert.Equal(t, 3, snap.Requests)
	assert.NotEmpty(t, snap.SessionID)

	assert.Equal(t, Counter{Calls: 1, TotalLatency: 200 * time.Millisecond}, snap.Identities["fast"])
	assert.Equal(t, 1, snap.Identities["Error"].Failures)
	assert.Equal(t, 1, snap.Tiers["smart"])
	assert.Equal(t, 1, snap.Humanizer["Skipped"])

	assert.Equal(t, ProviderCounter{Activations: 1, TotalLatency: time.Second}, snap.Providers["Google"])
	assert.Equal(t, 1, snap.Providers["DuckDuckGo"].WithResults)
	assert.Equal(t, 3, snap.Providers["DuckDuckGo"].Results)
	assert.Equal(t, 1, snap.Providers["Tavily"].Failures)

	require.Len(t, snap.Slowest, 3)
	assert.Equal(t, "FIPS 203 vs FIPS 204", snap.Slowest[0].Query)
}

func TestTracker_SlowestIsBounded(t *testing.T) {
	tracker, err := New("")
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		tracker.Record(Event{Query: strings.Repeat("q", 300), Identity: "fast", Latency: time.Duration(i) * time.Millisecond})
	}
	snap := tracker.Snapshot()
	require.Len(t, snap.Slowest, maxSlowest)
	assert.Equal(t, 24*time.Millisecond, snap.Slowest[0].Latency)
	assert.LessOrEqual(t, len([]rune(snap.Slowest[0].Query)), 103)
}

func TestCounter_AvgLatency(t *testing.T) {
	assert.Zero(t, Counter{}.AvgLatency())
	assert.Equal(t, 2*time.Second, Counter{Calls: 2, TotalLatency: 4 * time.Second}.AvgLatency())
}

func TestTracker_SnapshotIsACopy(t *testing.T) {
	tracker, err := New("")
	require.NoError(t, err)
	tracker.Record(Event{Identity: "fast"})

	snap := tracker.Snapshot()
	snap.Identities["fast"] = Counter{Calls: 99}
	assert.Equal(t, 1, tracker.Snapshot().Identities["fast"].Calls)
}

func TestTracker_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "usage.json")

	first, err := New(path)
	require.NoError(t, err)
	first.Record(Event{Identity: "fast", Tier: "fast", Latency: time.Second})
	first.Record(Event{Identity: "fast", Tier: "fast", Latency: time.Second})
	require.NoError(t, first.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := New(path)
	require.NoError(t, err)
	second.Record(Event{Identity: "fast", Tier: "fast", Latency: time.Second})

	assert.Equal(t, 1, second.Snapshot().Requests)
	totals := second.Totals()
	assert.Equal(t, 3, totals.Requests)
	assert.Equal(t, 3, totals.Identities["fast"].Calls)
	assert.Equal(t, 3*time.Second, totals.Identities["fast"].TotalLatency)
	assert.Empty(t, totals.Slowest)
}

func TestTracker_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := New(path)
	require.Error(t, err)
}

func TestTracker_InMemorySaveIsNoop(t *testing.T) {
	tracker, err := New("")
	require.NoError(t, err)
	require.NoError(t, tracker.Save())
}

func TestTracker_Reset(t *testing.T) {
	tracker, err := New("")
	require.NoError(t, err)
	id := tracker.Snapshot().SessionID
	tracker.Record(Event{Identity: "fast"})

	tracker.Reset()
	snap := tracker.Snapshot()
	assert.Zero(t, snap.Requests)
	assert.NotEqual(t, id, snap.SessionID)
}

func TestTracker_NilRecord(t *testing.T) {
	var tracker *Tracker
	assert.NotPanics(t, func() { tracker.Record(Event{Identity: "fast"}) })
}

// TestTracker_Concurrent exercises Record and Snapshot under -race.
func TestTracker_Concurrent(t *testing.T) {
	tracker, err := New("")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tracker.Record(Event{Identity: "fast", Latency: time.Millisecond})
		}()
		go func() {
			defer wg.Done()
			_ = tracker.Snapshot()
			_ = tracker.Totals()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tracker.Snapshot().Identities["fast"].Calls)
}
