package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ihm-parser/internal/llm"
)

func chatServer(t *testing.T, status int, reply string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if seen != nil {
			b, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(b, seen)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
}

func newTestClient(url string, failures uint32) *Client {
	return NewClient(Config{
		APIKey:          "sk-test",
		BaseURL:         url + "/v1",
		DefaultModel:    "gpt-5",
		BreakerFailures: failures,
		BreakerCooldown: time.Minute,
	}, nil)
}

func TestCompleteReturnsContent(t *testing.T) {
	var seen map[string]any
	srv := chatServer(t, 200, `{"choices":[{"message":{"content":" {\"rows\": []} "},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":3}}`, &seen)
	defer srv.Close()

	var stages []string
	c := newTestClient(srv.URL, 0)
	WithObserver(func(stage, outcome string, _ time.Duration) { stages = append(stages, stage+":"+outcome) })(c)

	out, err := c.Complete(context.Background(), llm.Request{System: "sys", Prompt: "user", Stage: "extract.single"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows": []}`, string(out))
	assert.Equal(t, []string{"extract.single:ok"}, stages)

	assert.Equal(t, "gpt-5", seen["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, seen["response_format"])
	assert.NotContains(t, seen, "temperature")
	msgs := seen["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "sys", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["content"])
}

func TestCompleteErrors(t *testing.T) {
	tests := map[string]struct {
		status int
		reply  string
	}{
		"server error": {500, `{"error":"boom"}`},
		"bad json":     {200, `not json`},
		"no choices":   {200, `{"choices":[]}`},
		"truncated":    {200, `{"choices":[{"message":{"content":"{\"rows\":["},"finish_reason":"length"}]}`},
		"refusal":      {200, `{"choices":[{"message":{"content":"","refusal":"no"}}]}`},
		"empty":        {200, `{"choices":[{"message":{"content":"  "}}]}`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			srv := chatServer(t, tt.status, tt.reply, nil)
			defer srv.Close()
			_, err := newTestClient(srv.URL, 0).Complete(context.Background(), llm.Request{Prompt: "p"})
			assert.Error(t, err)
		})
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 2)
	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), llm.Request{Prompt: "p"})
		require.Error(t, err)
	}
	_, err := c.Complete(context.Background(), llm.Request{Prompt: "p"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 2, calls.Load())
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	srv := chatServer(t, http.StatusBadRequest, `{"error":{"message":"context_length_exceeded"}}`, nil)
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	for i := 0; i < 3; i++ {
		_, err := c.Complete(context.Background(), llm.Request{Prompt: "p"})
		var se *llm.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadRequest, se.Status)
	}
}
