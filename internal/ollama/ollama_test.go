// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL + "/", Timeout: 5 * time.Second})
}

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestNewClientWithConfig_Defaults(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{})
	assert.Equal(t, "http://127.0.0.1:11434", c.BaseURL())
	assert.Equal(t, "qwen2.5:3b", c.config.DefaultModel)
	assert.Equal(t, 60*time.Second, c.config.Timeout)

	c = NewClientWithConfig(nil)
	assert.Equal(t, "http://127.0.0.1:11434", c.BaseURL())
}

// =============================================================================
// GENERATE TESTS
// =============================================================================

func TestGenerate_SendsNonStreamingRequest(t *testing.T) {
	var got GenerateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(GenerateResponse{
			Model:         got.Model,
			Response:      "Paris.",
			Done:          true,
			EvalCount:     20,
			EvalDuration:  int64(2 * time.Second),
			TotalDuration: int64(3 * time.Second),
		})
	})

	resp, err := c.Generate(context.Background(), &GenerateRequest{
		Model:   "qwen2.5:7b",
		Prompt:  "capital of France",
		Stream:  true,
		Options: &Options{NumPredict: 150},
	})
	require.NoError(t, err)

	assert.Equal(t, "Paris.", resp.Response)
	assert.InDelta(t, 10.0, resp.TokensPerSecond(), 0.001)
	assert.Equal(t, 3*time.Second, resp.TotalTime())
	assert.False(t, got.Stream, "stream must always be false")
	assert.Equal(t, "qwen2.5:7b", got.Model)
	require.NotNil(t, got.Options)
	assert.Equal(t, 150, got.Options.NumPredict)
}

func TestGenerate_DefaultModel(t *testing.T) {
	var got GenerateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
	})

	_, err := c.Generate(context.Background(), &GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:3b", got.Model)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantType ErrorType
	}{
		{
			name: "model not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantType: ErrTypeModelNotFound,
		},
		{
			name: "server error with body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"out of memory"}`))
			},
			wantType: ErrTypeInvalidResponse,
		},
		{
			name: "context exceeded",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"input exceeds context length"}`))
			},
			wantType: ErrTypeContextExceeded,
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{not json`))
			},
			wantType: ErrTypeInvalidResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.Generate(context.Background(), &GenerateRequest{Prompt: "x"})
			require.Error(t, err)

			var ce *ClientError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.wantType, ce.Type)
		})
	}
}

func TestGenerate_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, &GenerateRequest{Prompt: "slow"})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, "timeout", FailureKind(err))
}

func TestGenerate_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url})
	_, err := c.Generate(context.Background(), &GenerateRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
	assert.Equal(t, "unreachable", FailureKind(err))
}

// =============================================================================
// HEALTH / MODELS TESTS
// =============================================================================

func TestVersion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/version", r.URL.Path)
		_, _ = w.Write([]byte(`{"version":"0.5.7"}`))
	})

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.5.7", v)
	assert.NoError(t, c.CheckRunning(context.Background()))
}

func TestHasModel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"qwen2.5:7b","size":4683087332},{"name":"nomic-embed-text:latest"}]}`))
	})

	ok, err := c.HasModel(context.Background(), "qwen2.5:7b")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasModel(context.Background(), "nomic-embed-text")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasModel(context.Background(), "qwen2.5:14b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestModelInfo_FormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{4683087332, "4.4 GB"},
	}
	for _, tt := range tests {
		m := ModelInfo{Size: tt.size}
		assert.Equal(t, tt.want, m.FormatSize())
	}
}

// =============================================================================
// EMBEDDING TESTS
// =============================================================================

func TestEmbed(t *testing.T) {
	var got EmbeddingRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"embedding":[0.5,-0.25,1]}`))
	})

	vec, err := c.Embed(context.Background(), "nomic-embed-text", "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25, 1}, vec)
	assert.Equal(t, EmbeddingRequest{Model: "nomic-embed-text", Prompt: "hello"}, got)
}

func TestEmbed_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[]}`))
	})

	_, err := c.Embed(context.Background(), "m", "hello")
	require.Error(t, err)
}

// =============================================================================
// ERROR HELPER TESTS
// =============================================================================

func TestErrorHelpers(t *testing.T) {
	wrapped := &ClientError{Type: ErrTypeTimeout, Message: "slow", Cause: context.DeadlineExceeded}
	assert.True(t, IsTimeout(wrapped))
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
	assert.False(t, IsNotRunning(wrapped))
	assert.True(t, IsModelNotFound(ErrModelNotFound))
	assert.Equal(t, "other", FailureKind(errors.New("boom")))
	assert.Equal(t, "", FailureKind(nil))
}

func TestStartServer_RefusesRemote(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: "http://192.0.2.10:11434", Timeout: 100 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := c.StartServer(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote")
}
