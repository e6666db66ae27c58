package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/llm"
	"github.com/joseph-ayodele/docingest/internal/retry"
)

func testPolicy() retry.Policy {
	p := retry.Default()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	p.Jitter = 0
	return p
}

func TestComplete(t *testing.T) {
	t.Run("Should return message content and send json mode", func(t *testing.T) {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"document_type\":\"invoice\"}"}}]}`))
		}))
		defer srv.Close()

		c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Model: "m", Retry: testPolicy()}, nil)
		out, err := c.Complete(context.Background(), "hello", llm.Options{JSONMode: true, Agent: "document_classifier"})
		require.NoError(t, err)
		assert.Equal(t, `{"document_type":"invoice"}`, out)
		assert.Equal(t, "m", got["model"])
		assert.Contains(t, got, "response_format")
	})

	t.Run("Should retry server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
		}))
		defer srv.Close()

		c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Retry: testPolicy()}, nil)
		out, err := c.Complete(context.Background(), "p", llm.Options{})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.EqualValues(t, 3, calls.Load())
	})

	t.Run("Should not retry unauthorized", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		c := NewClient(Config{APIKey: "bad", BaseURL: srv.URL, Retry: testPolicy()}, nil)
		_, err := c.Complete(context.Background(), "p", llm.Options{})
		require.Error(t, err)
		assert.True(t, retry.IsFatal(err))
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("Should forward the job request id", func(t *testing.T) {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("X-Request-Id")
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
		}))
		defer srv.Close()

		c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Retry: testPolicy()}, nil)
		ctx := common.WithRequestID(context.Background(), "job-42")
		_, err := c.Complete(ctx, "p", llm.Options{})
		require.NoError(t, err)
		assert.Equal(t, "job-42", got)
	})

	t.Run("Should send one request id across retries", func(t *testing.T) {
		var ids []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ids = append(ids, r.Header.Get("X-Request-Id"))
			if len(ids) < 2 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
		}))
		defer srv.Close()

		c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Retry: testPolicy()}, nil)
		_, err := c.Complete(context.Background(), "p", llm.Options{})
		require.NoError(t, err)
		require.Len(t, ids, 2)
		assert.NotEmpty(t, ids[0])
		assert.Equal(t, ids[0], ids[1])
	})

	t.Run("Should treat empty choices as an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}))
		defer srv.Close()

		c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Retry: testPolicy()}, nil)
		_, err := c.Complete(context.Background(), "p", llm.Options{})
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	})
}
