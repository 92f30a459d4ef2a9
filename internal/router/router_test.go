package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ertembiyik/rlm-go/internal/client"
	"github.com/ertembiyik/rlm-go/internal/types"
)

type stubAdapter struct {
	name string
	fn   func([]types.Message) string
	err  error
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Generate(ctx context.Context, messages []types.Message) (client.Completion, error) {
	if s.err != nil {
		return client.Completion{}, s.err
	}
	text := s.name
	if s.fn != nil {
		text = s.fn(messages)
	}
	return client.Completion{Text: text, Usage: client.Usage{InputTokens: 3, OutputTokens: 5}}, nil
}

func upperAll(messages []types.Message) string {
	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return strings.ToUpper(last)
}

func postJSON(t *testing.T, addr, token, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "http://"+addr+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return resp, parsed
}

func TestRouter_LLMQuery(t *testing.T) {
	root := &stubAdapter{name: "root-model", fn: upperAll}
	r := New(root, nil)

	addr, token, err := r.Start()
	require.NoError(t, err)
	defer r.Stop()

	resp, body := postJSON(t, addr, token, "/llm_query", map[string]any{"prompt": "hello"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HELLO", body["response"])
	assert.NotNil(t, body["rlm_call"])

	summary := r.UsageSummary()
	assert.Equal(t, 1, summary["root-model"].Calls)
}

func TestRouter_LLMQueryBatched(t *testing.T) {
	root := &stubAdapter{name: "root-model", fn: upperAll}
	r := New(root, nil)

	addr, token, err := r.Start()
	require.NoError(t, err)
	defer r.Stop()

	resp, body := postJSON(t, addr, token, "/llm_query_batched", map[string]any{"prompts": []string{"a", "b", "c"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	responses, ok := body["responses"].([]any)
	require.True(t, ok)
	require.Len(t, responses, 3)
	assert.Equal(t, "A", responses[0])
	assert.Equal(t, "B", responses[1])
	assert.Equal(t, "C", responses[2])

	summary := r.UsageSummary()
	assert.Equal(t, 3, summary["root-model"].Calls)
}

func TestRouter_DepthRoutesToSubModel(t *testing.T) {
	root := &stubAdapter{name: "root-model"}
	sub := &stubAdapter{name: "sub-model"}
	r := New(root, sub)

	addr, token, err := r.Start()
	require.NoError(t, err)
	defer r.Stop()

	_, body := postJSON(t, addr, token, "/llm_query", map[string]any{"prompt": "x", "depth": 1})
	assert.Equal(t, "sub-model", body["response"])

	_, body = postJSON(t, addr, token, "/llm_query", map[string]any{"prompt": "x", "depth": 0})
	assert.Equal(t, "root-model", body["response"])

	_, body = postJSON(t, addr, token, "/llm_query", map[string]any{"prompt": "x", "depth": 1, "model": "root-model"})
	assert.Equal(t, "root-model", body["response"])
}

func TestRouter_RejectsMissingOrInvalidToken(t *testing.T) {
	root := &stubAdapter{name: "root-model"}
	r := New(root, nil)
	addr, _, err := r.Start()
	require.NoError(t, err)
	defer r.Stop()

	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/llm_query", addr), bytes.NewReader([]byte(`{"prompt":"x"}`)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	req2, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/llm_query", addr), bytes.NewReader([]byte(`{"prompt":"x"}`)))
	req2.Header.Set("Authorization", "Bearer garbage")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	resp2.Body.Close()
}

func TestRouter_UnknownEndpoint(t *testing.T) {
	root := &stubAdapter{name: "root-model"}
	r := New(root, nil)
	addr, token, err := r.Start()
	require.NoError(t, err)
	defer r.Stop()

	resp, body := postJSON(t, addr, token, "/nope", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "Unknown endpoint")
}

func TestRouter_DirectDispatchIsNonHTTP(t *testing.T) {
	root := &stubAdapter{name: "root-model", fn: upperAll}
	r := New(root, nil)

	comp, err := r.Direct(context.Background(), []types.Message{{Role: types.RoleUser, Content: "ping"}})
	require.NoError(t, err)
	assert.Equal(t, "PING", comp.Text)
	assert.Equal(t, 1, r.UsageSummary()["root-model"].Calls)
}
