// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/synth/internal/util"
)

// Storage persists usage totals as one JSON file.
type Storage struct {
	path string
}

// NewStorage creates a storage manager for path.
func NewStorage(path string) *Storage {
	return &Storage{path: path}
}

// Path returns the file location.
func (s *Storage) Path() string {
	return s.path
}

// Save writes the snapshot atomically.
func (s *Storage) Save(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	return util.WriteJSONFile(s.path, snap, 0600)
}

// Load reads the stored snapshot. A missing file returns nil, nil.
func (s *Storage) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := newSnapshot("", time.Time{})
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	// Older files may lack some maps.
	if snap.Identities == nil {
		snap.Identities = make(map[string]Counter)
	}
	if snap.Tiers == nil {
		snap.Tiers = make(map[string]int)
	}
	if snap.Humanizer == nil {
		snap.Humanizer = make(map[string]int)
	}
	if snap.Providers == nil {
		snap.Providers = make(map[string]ProviderCounter)
	}
	snap.Slowest = nil
	return snap, nil
}
