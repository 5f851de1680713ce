package llm

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
)

func newTestClient(baseURL string) *GeminiClient {
	return NewGeminiClient(GeminiConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "gemini-2.5-flash",
		Timeout: 10 * time.Second,
	})
}

func completionBody(texts ...string) string {
	type part struct {
		Text string `json:"text"`
	}
	parts := make([]part, len(texts))
	for i, t := range texts {
		parts[i] = part{Text: t}
	}
	body, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": parts}},
		},
	})
	return string(body)
}

func TestCompleteSuccess(t *testing.T) {
	var gotBody geminiRequest
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(completionBody("hello ", "world\n")))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	out, err := c.Complete(context.Background(), "say hello")
	require.NoError(t, err)

	assert.Equal(t, "hello world", out, "parts concatenated and trimmed")
	assert.Equal(t, "/models/gemini-2.5-flash:generateContent", gotPath)
	require.Len(t, gotBody.Contents, 1)
	assert.Equal(t, "say hello", gotBody.Contents[0].Parts[0].Text)
	assert.Nil(t, gotBody.SystemInstruction, "no system block without a system prompt")
}

func TestCompleteWithSystemSendsInstruction(t *testing.T) {
	var gotBody geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(completionBody("ok")))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.CompleteWithSystem(context.Background(), "be terse", "question")
	require.NoError(t, err)

	require.NotNil(t, gotBody.SystemInstruction)
	assert.Equal(t, "be terse", gotBody.SystemInstruction.Parts[0].Text)
}

func TestCompleteRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionBody("recovered")))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	out, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)

	assert.Equal(t, "recovered", out)
	assert.Equal(t, int32(2), calls.Load(), "429 must be retried")
}

func TestCompleteRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(completionBody("recovered")))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	out, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
}

func TestCompleteClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"code": 400, "message": "invalid model"}}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.Complete(context.Background(), "prompt")
	require.Error(t, err)

	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "invalid model", "error body must be surfaced")
	assert.Equal(t, int32(1), calls.Load(), "4xx other than 429 must not be retried")
}

func TestCompleteErrorFieldInOKResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": 7, "message": "quota exceeded"}}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestCompleteEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no completion")
}

func TestCompleteRequiresAPIKey(t *testing.T) {
	c := NewGeminiClient(GeminiConfig{BaseURL: "http://unused.invalid"})
	_, err := c.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestCompleteRespectsCancelledRetryWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	c := newTestClient(server.URL)
	start := time.Now()
	_, err := c.Complete(ctx, "prompt")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must cut the backoff short")
}
