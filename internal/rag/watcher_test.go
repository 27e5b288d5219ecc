// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingIngester struct {
	mu       sync.Mutex
	replaced map[string]string
	removed  []string
}

func newRecordingIngester() *recordingIngester {
	return &recordingIngester{replaced: make(map[string]string)}
}

func (r *recordingIngester) Replace(_ context.Context, text, source string, _ map[string]any) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaced[source] = text
	return 1, nil
}

func (r *recordingIngester) Remove(_ context.Context, source string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.replaced, source)
	r.removed = append(r.removed, source)
	return 1, nil
}

func (r *recordingIngester) text(source string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.replaced[source]
	return s, ok
}

func (r *recordingIngester) wasRemoved(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.removed {
		if s == source {
			return true
		}
	}
	return false
}

func TestWatcher_IngestsAndRemoves(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	ing := newRecordingIngester()
	w, err := NewWatcher(ing, dir, 50*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	notes := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(notes, []byte("first draft"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte("png"), 0600))

	require.Eventually(t, func() bool {
		s, ok := ing.text(notes)
		return ok && s == "first draft"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(notes, []byte("second draft"), 0600))
	require.Eventually(t, func() bool {
		s, _ := ing.text(notes)
		return s == "second draft"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(notes))
	require.Eventually(t, func() bool {
		return ing.wasRemoved(notes)
	}, 5*time.Second, 20*time.Millisecond)

	_, ok := ing.text(filepath.Join(dir, "image.png"))
	assert.False(t, ok)
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	ing := newRecordingIngester()
	w, err := NewWatcher(ing, dir, 30*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	path := filepath.Join(sub, "a.txt")

	// The directory watch is added asynchronously; keep rewriting until seen.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("hello"), 0600)
		_, ok := ing.text(path)
		return ok
	}, 5*time.Second, 100*time.Millisecond)
}

func TestWatcher_CloseStopsLoops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w, err := NewWatcher(newRecordingIngester(), t.TempDir(), 0, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Close())
}

func TestIngestPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("alpha"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("beta"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.go"), []byte("package c"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.md"), []byte("  "), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "x.md"), []byte("hidden"), 0600))

	ing := newRecordingIngester()
	res, err := IngestPath(context.Background(), ing, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
	assert.Empty(t, res.Skipped)

	s, ok := ing.text(filepath.Join(dir, "a.md"))
	require.True(t, ok)
	assert.Equal(t, "alpha", s)
	_, ok = ing.text(filepath.Join(dir, ".git", "x.md"))
	assert.False(t, ok)
	assert.True(t, ing.wasRemoved(filepath.Join(dir, "empty.md")))
}

func TestIngestPath_SingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.txt")
	require.NoError(t, os.WriteFile(path, []byte("only"), 0600))

	ing := newRecordingIngester()
	res, err := IngestPath(context.Background(), ing, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 1, res.Added)
}

func TestIngestible(t *testing.T) {
	assert.True(t, Ingestible("a.md"))
	assert.True(t, Ingestible("A.TXT"))
	assert.False(t, Ingestible("a.go"))
	assert.False(t, Ingestible("README"))
}
