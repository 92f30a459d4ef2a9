package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ertembiyik/rlm-go/internal/types"
)

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	respondError(w, http.StatusBadRequest, "test error")

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected content type application/json, got %s", w.Header().Get("Content-Type"))
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp["error"] != "test error" {
		t.Errorf("Expected error message 'test error', got %s", resp["error"])
	}
}

func TestContextPayload(t *testing.T) {
	payload, err := contextPayload(json.RawMessage(`"hello"`), "fallback")
	require.NoError(t, err)
	assert.Equal(t, types.Text("hello"), payload)

	payload, err = contextPayload(json.RawMessage(`[1,2,3]`), "fallback")
	require.NoError(t, err)
	assert.Equal(t, types.Sequence{float64(1), float64(2), float64(3)}, payload)

	payload, err = contextPayload(json.RawMessage(`{"a":1}`), "fallback")
	require.NoError(t, err)
	assert.Equal(t, types.Keyed{"a": float64(1)}, payload)

	payload, err = contextPayload(nil, "fallback prompt")
	require.NoError(t, err)
	assert.Equal(t, types.Text("fallback prompt"), payload)

	_, err = contextPayload(json.RawMessage(`not json`), "fallback")
	assert.Error(t, err)
}

func TestEnvInt(t *testing.T) {
	t.Setenv("RLM_TEST_ENV_INT", "7")
	assert.Equal(t, 7, envInt("RLM_TEST_ENV_INT", 3))
	assert.Equal(t, 3, envInt("RLM_TEST_ENV_INT_UNSET", 3))

	t.Setenv("RLM_TEST_ENV_INT", "not-a-number")
	assert.Equal(t, 3, envInt("RLM_TEST_ENV_INT", 3))
}
