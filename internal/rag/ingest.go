// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MaxIngestFileSize skips files larger than this.
const MaxIngestFileSize = 4 * 1024 * 1024

// Ingestible reports whether a file extension is ingested (.txt, .md).
func Ingestible(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		return true
	}
	return false
}

// shouldIgnore skips hidden and vendored directories.
func shouldIgnore(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "node_modules", "vendor", "__pycache__":
		return true
	}
	return false
}

// Ingester is the part of Index the watcher needs.
type Ingester interface {
	Replace(ctx context.Context, text, source string, metadata map[string]any) (int, error)
	Remove(ctx context.Context, source string) (int, error)
}

// IngestFile replaces the records of path with its current contents.
// An empty source uses the cleaned path.
func IngestFile(ctx context.Context, ing Ingester, path, source string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxIngestFileSize {
		return 0, fmt.Errorf("%s exceeds %d bytes", path, MaxIngestFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if source == "" {
		source = filepath.Clean(path)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return ing.Remove(ctx, source)
	}
	return ing.Replace(ctx, text, source, map[string]any{
		"path": filepath.Clean(path),
		"kind": "file",
	})
}

// IngestResult summarises an IngestPath run.
type IngestResult struct {
	Files   int
	Added   int
	Skipped []string
}

// IngestPath ingests a file, or every .txt/.md file under a directory.
// Files that fail are collected in Skipped; only walk errors abort.
func IngestPath(ctx context.Context, ing Ingester, root string) (IngestResult, error) {
	var res IngestResult

	info, err := os.Stat(root)
	if err != nil {
		return res, err
	}
	if !info.IsDir() {
		n, err := IngestFile(ctx, ing, root, "")
		if err != nil {
			return res, err
		}
		res.Files, res.Added = 1, n
		return res, nil
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && shouldIgnore(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !Ingestible(path) {
			return nil
		}
		n, err := IngestFile(ctx, ing, path, "")
		if err != nil {
			res.Skipped = append(res.Skipped, path)
			return nil
		}
		res.Files++
		res.Added += n
		return nil
	})
	return res, err
}
