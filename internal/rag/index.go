// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/synth/internal/config"
	"github.com/jeranaias/synth/internal/ollama"
	"github.com/jeranaias/synth/internal/search"
)

// Defaults for retrieval.
const (
	DefaultTopK       = 5
	DefaultMinScore   = 0.5
	DefaultCollection = "knowledge"
)

// recordNamespace scopes record UUIDs.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/jeranaias/synth/knowledge"))

// ErrEmptyText is returned when Add is given only whitespace.
var ErrEmptyText = errors.New("no text to add")

// Hit is one retrieval result. Score is normalised into [0, 1].
type Hit struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Source   string         `json:"source"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Stats describes the knowledge base.
type Stats struct {
	Collection string `json:"collection"`
	Count      int    `json:"count"`
	Dimensions int    `json:"dimensions"`
	Model      string `json:"model,omitempty"`
	Path       string `json:"path,omitempty"`
}

// Index chunks, embeds, stores and retrieves text.
type Index struct {
	store      Store
	embedder   Embedder
	collection string
	dim        int

	model      string
	chunkChars int
	topK       int
	minScore   float64
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures an Index.
type Option func(*Index)

// WithChunkChars sets the maximum chunk length in runes.
func WithChunkChars(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.chunkChars = n
		}
	}
}

// WithDefaults sets the topK and minScore used by BuildContext.
func WithDefaults(topK int, minScore float64) Option {
	return func(i *Index) {
		if topK > 0 {
			i.topK = topK
		}
		if minScore >= 0 && minScore <= 1 {
			i.minScore = minScore
		}
	}
}

// WithModelName records the embedding model name for Stats.
func WithModelName(name string) Option {
	return func(i *Index) { i.model = name }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Index) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(i *Index) {
		if now != nil {
			i.now = now
		}
	}
}

// New selects (creating if needed) the collection in store and returns an Index.
func New(ctx context.Context, store Store, embedder Embedder, collection string, dim int, opts ...Option) (*Index, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	idx := &Index{
		store:      store,
		embedder:   embedder,
		collection: collection,
		dim:        dim,
		chunkChars: DefaultChunkChars,
		topK:       DefaultTopK,
		minScore:   DefaultMinScore,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if err := store.EnsureCollection(ctx, collection, dim, Cosine); err != nil {
		return nil, err
	}
	return idx, nil
}

// Open builds an Index from configuration: a SQLite store at cfg.DBPath and
// an Ollama embedder at cfg.EmbedURL.
func Open(ctx context.Context, cfg config.RAGConfig, logger *zap.Logger) (*Index, error) {
	store, err := OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.EmbedURL,
		Timeout:      30 * time.Second,
		DefaultModel: cfg.EmbedModel,
	})
	if ok, err := client.HasModel(ctx, cfg.EmbedModel); err == nil && !ok && logger != nil {
		logger.Warn("embedding model is not pulled", zap.String("model", cfg.EmbedModel))
	}
	idx, err := New(ctx, store, NewOllamaEmbedder(client, cfg.EmbedModel), cfg.Collection, cfg.Dimensions,
		WithChunkChars(cfg.ChunkChars),
		WithDefaults(cfg.TopK, cfg.MinScore),
		WithModelName(cfg.EmbedModel),
		WithLogger(logger),
	)
	if err != nil {
		store.Close()
		return nil, err
	}
	return idx, nil
}

// Close closes the underlying store.
func (i *Index) Close() error {
	return i.store.Close()
}

// ContentHash returns the sha256 hex digest that keys a chunk.
func ContentHash(source, text string) string {
	h := sha256.Sum256([]byte(source + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// RecordID derives the stable record id from a content hash.
func RecordID(hash string) string {
	return uuid.NewSHA1(recordNamespace, []byte(hash)).String()
}

// Add chunks text and stores every chunk not already present. It returns
// the number of new records.
func (i *Index) Add(ctx context.Context, text, source string, metadata map[string]any) (int, error) {
	chunks := Chunk(text, i.chunkChars)
	if len(chunks) == 0 {
		return 0, ErrEmptyText
	}

	added := 0
	for n, chunk := range chunks {
		hash := ContentHash(source, chunk)
		id := RecordID(hash)

		exists, err := i.store.Has(ctx, id)
		if err != nil {
			return added, err
		}
		if exists {
			continue
		}

		vec, err := i.embedder.Embed(ctx, chunk)
		if err != nil {
			return added, fmt.Errorf("embed chunk %d of %s: %w", n, source, err)
		}

		meta := make(map[string]any, len(metadata)+2)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["chunk_index"] = n
		meta["total_chunks"] = len(chunks)

		inserted, err := i.store.Upsert(ctx, Record{
			ID:        id,
			Hash:      hash,
			Text:      chunk,
			Source:    source,
			Embedding: vec,
			Metadata:  meta,
			CreatedAt: i.now(),
		})
		if err != nil {
			return added, err
		}
		if inserted {
			added++
		}
	}

	i.logger.Debug("knowledge added",
		zap.String("source", source),
		zap.Int("chunks", len(chunks)),
		zap.Int("added", added))
	return added, nil
}

// AddSearchResults stores web results as "title\n\nsnippet" keyed by URL.
// Failures on individual results are logged and skipped.
func (i *Index) AddSearchResults(ctx context.Context, resp *search.Response) int {
	if resp == nil {
		return 0
	}
	added := 0
	for _, r := range resp.Results {
		text := strings.TrimSpace(r.Title + "\n\n" + r.Snippet)
		if text == "" {
			continue
		}
		n, err := i.Add(ctx, text, r.URL, map[string]any{
			"url":      r.URL,
			"provider": r.Provider,
			"query":    resp.Query,
			"kind":     "web",
		})
		if err != nil {
			i.logger.Debug("skip search result", zap.String("url", r.URL), zap.Error(err))
			continue
		}
		added += n
	}
	return added
}

// Search embeds query and returns up to topK hits scoring at least minScore.
// Cosine similarity s is normalised to (s+1)/2.
func (i *Index) Search(ctx context.Context, query string, topK int, minScore float64) ([]Hit, error) {
	if topK <= 0 {
		topK = i.topK
	}
	vec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := i.store.Query(ctx, vec, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		score := NormalizeScore(m.Similarity)
		if score < minScore {
			continue
		}
		hits = append(hits, Hit{
			ID:       m.ID,
			Text:     m.Text,
			Source:   m.Source,
			Score:    score,
			Metadata: m.Metadata,
		})
	}
	return hits, nil
}

// NormalizeScore maps cosine similarity from [-1, 1] into [0, 1].
func NormalizeScore(s float64) float64 {
	v := (s + 1) / 2
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// BuildContext retrieves hits for question with the index defaults and
// renders them as "[i] (Score: 0.87) text" blocks. When sources is non-empty
// only hits whose source contains one of them are kept.
func (i *Index) BuildContext(ctx context.Context, question string, sources ...string) (string, []Hit, error) {
	hits, err := i.Search(ctx, question, i.topK, i.minScore)
	if err != nil {
		return "", nil, err
	}
	if len(sources) > 0 {
		kept := hits[:0]
		for _, h := range hits {
			for _, s := range sources {
				if strings.Contains(h.Source, s) {
					kept = append(kept, h)
					break
				}
			}
		}
		hits = kept
	}
	return RenderHits(hits), hits, nil
}

// RenderHits formats hits for a prompt. No hits renders as "".
func RenderHits(hits []Hit) string {
	parts := make([]string, 0, len(hits))
	for n, h := range hits {
		parts = append(parts, fmt.Sprintf("[%d] (Score: %.2f) %s", n+1, h.Score, h.Text))
	}
	return strings.Join(parts, "\n\n")
}

// Stats returns the record count and collection settings.
func (i *Index) Stats(ctx context.Context) (Stats, error) {
	n, err := i.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Collection: i.collection,
		Count:      n,
		Dimensions: i.dim,
		Model:      i.model,
	}
	if p, ok := i.store.(interface{ Path() string }); ok {
		st.Path = p.Path()
	}
	return st, nil
}

// Clear removes every record from the collection.
func (i *Index) Clear(ctx context.Context) error {
	return i.store.Clear(ctx)
}

// Replace drops the records of source and adds text in their place.
func (i *Index) Replace(ctx context.Context, text, source string, metadata map[string]any) (int, error) {
	if _, err := i.store.DeleteSource(ctx, source); err != nil {
		return 0, err
	}
	return i.Add(ctx, text, source, metadata)
}

// Remove drops the records of source.
func (i *Index) Remove(ctx context.Context, source string) (int, error) {
	return i.store.DeleteSource(ctx, source)
}
