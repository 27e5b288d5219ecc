// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry tracks local usage of synth.
//
// It counts calls, failures and latency per answering identity (a local tier
// name, a cloud model id or "Error"), activations per search provider and
// humanizer outcomes. Nothing leaves the machine.
//
// # Usage
//
//	tracker, err := telemetry.New(cfg.Telemetry.Path)
//	tracker.Record(telemetry.Event{Identity: "balanced", Tier: "balanced", Latency: d})
//	snap := tracker.Snapshot()
//	_ = tracker.Save()
//
// # Privacy
//
// Only the first 100 runes of the slowest queries are kept, and only in
// the current session.
package telemetry
