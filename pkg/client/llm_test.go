package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLLMServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]interface{}{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
}

func newTestLLM(url string) *LLMClient {
	return NewLLMClient(LLMConfig{
		Endpoint:       url,
		APIKey:         "test-key",
		Model:          "test-model",
		Timeout:        2 * time.Second,
		BreakerTimeout: time.Minute,
	}, zap.NewNop())
}

func TestLLMNarrate(t *testing.T) {
	srv := newLLMServer(t, http.StatusOK, "  Dia agradável em Florianópolis.  ")
	defer srv.Close()

	text, err := newTestLLM(srv.URL).Narrate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Dia agradável em Florianópolis.", text)
}

func TestLLMNarrateEmptyCompletion(t *testing.T) {
	srv := newLLMServer(t, http.StatusOK, "   ")
	defer srv.Close()

	_, err := newTestLLM(srv.URL).Narrate(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestLLMNarrateServerError(t *testing.T) {
	srv := newLLMServer(t, http.StatusInternalServerError, "")
	defer srv.Close()

	_, err := newTestLLM(srv.URL).Narrate(context.Background(), "prompt")
	assert.Error(t, err)
}
