// Package router implements the LM router (§4.E): a loopback HTTP server
// owned by the driver for the duration of one completion, and the direct
// (non-HTTP) dispatch path the driver itself uses for top-level LM turns.
package router

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ertembiyik/rlm-go/internal/client"
	"github.com/ertembiyik/rlm-go/internal/observability"
	"github.com/ertembiyik/rlm-go/internal/types"
)

// Router owns the loopback HTTP listener that bridges sandbox hook calls
// back to LM adapters, and the usage tracker shared between the hook path
// and the driver's direct path.
type Router struct {
	root    client.Adapter
	sub     client.Adapter
	models  map[string]client.Adapter
	usage   *usageTracker
	secret  []byte

	server *http.Server
	addr   string
}

// New constructs a Router for one completion. sub may be nil if the driver
// was not configured with a sub-model.
func New(root client.Adapter, sub client.Adapter) *Router {
	models := map[string]client.Adapter{root.Name(): root}
	if sub != nil {
		models[sub.Name()] = sub
	}
	return &Router{root: root, sub: sub, models: models, usage: newUsageTracker()}
}

// Start binds a loopback listener on an OS-assigned port and begins
// serving. Returns the bound address and a bearer token sandbox children
// must present on every hook request.
func (r *Router) Start() (addr string, token string, err error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("router: generating secret: %w", err)
	}
	r.secret = secret

	tok, err := NewToken(secret, "rlm-router")
	if err != nil {
		return "", "", fmt.Errorf("router: minting token: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/llm_query", requireBearer(secret, r.handleQuery))
	mux.HandleFunc("/llm_query_batched", requireBearer(secret, r.handleQueryBatched))
	mux.HandleFunc("/", requireBearer(secret, r.handleUnknown))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", "", fmt.Errorf("router: listening: %w", err)
	}
	r.addr = ln.Addr().String()
	r.server = &http.Server{Handler: mux}

	go r.server.Serve(ln)

	return r.addr, tok, nil
}

// Stop closes the listener. Idempotent.
func (r *Router) Stop() {
	if r.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.server.Shutdown(ctx)
}

// UsageSummary returns the accumulated per-model usage.
func (r *Router) UsageSummary() types.UsageSummary {
	return r.usage.GetUsageSummary()
}

// LastUsage returns the most recently tracked single-call triple.
func (r *Router) LastUsage() types.UsageEntry {
	return r.usage.GetLastUsage()
}

// selectAdapter implements §4.E's model-selection rule: an explicit
// registered name wins; otherwise depth 1 routes to the sub-model if one
// was supplied; otherwise the root model.
func (r *Router) selectAdapter(model string, depth int) client.Adapter {
	if model != "" {
		if a, ok := r.models[model]; ok {
			return a
		}
	}
	if depth == 1 && r.sub != nil {
		return r.sub
	}
	return r.root
}

// Direct sends messages straight to the root adapter, bypassing HTTP. This
// is the path the driver itself uses for top-level LM turns (§4.F.5.b) and
// for the budget-exhaustion epilogue; the depth-exhausted fallback
// (§4.F.1) starts no router and calls the root adapter itself.
func (r *Router) Direct(ctx context.Context, messages []types.Message) (client.Completion, error) {
	comp, err := r.root.Generate(ctx, messages)
	if err != nil {
		return client.Completion{}, err
	}
	r.usage.record(r.root.Name(), types.UsageEntry{
		Calls:        1,
		InputTokens:  comp.Usage.InputTokens,
		OutputTokens: comp.Usage.OutputTokens,
	})
	return comp, nil
}

type hookRequest struct {
	Prompt  json.RawMessage `json:"prompt"`
	Prompts []json.RawMessage `json:"prompts"`
	Model   string          `json:"model"`
	Depth   int             `json:"depth"`
}

type hookResponse struct {
	Response string        `json:"response"`
	RLMCall  *types.SubLMCall `json:"rlm_call,omitempty"`
}

type batchedHookResponse struct {
	Responses []string         `json:"responses"`
	RLMCalls  []types.SubLMCall `json:"rlm_calls"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: message})
}

// promptToMessages implements §4.E's prompt-coercion rule: a bare string
// becomes one user message; a list of {role, content} objects passes
// through; anything else is JSON-stringified into one user message.
func promptToMessages(raw json.RawMessage) []types.Message {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []types.Message{{Role: types.RoleUser, Content: s}}
	}

	var msgs []types.Message
	if err := json.Unmarshal(raw, &msgs); err == nil && len(msgs) > 0 {
		return msgs
	}

	return []types.Message{{Role: types.RoleUser, Content: string(raw)}}
}

func (r *Router) dispatch(ctx context.Context, prompt json.RawMessage, model string, depth int) (string, types.SubLMCall, error) {
	start := time.Now()
	adapter := r.selectAdapter(model, depth)
	messages := promptToMessages(prompt)

	comp, err := adapter.Generate(ctx, messages)
	if err != nil {
		return "", types.SubLMCall{}, err
	}

	entry := types.UsageEntry{Calls: 1, InputTokens: comp.Usage.InputTokens, OutputTokens: comp.Usage.OutputTokens}
	r.usage.record(adapter.Name(), entry)

	var promptVal any
	json.Unmarshal(prompt, &promptVal)

	call := types.SubLMCall{
		Model:    adapter.Name(),
		Prompt:   promptVal,
		Response: comp.Text,
		Usage:    entry,
		Duration: time.Since(start).Seconds(),
	}
	return comp.Text, call, nil
}

func (r *Router) handleQuery(w http.ResponseWriter, req *http.Request) {
	var body hookRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		observability.RouterRequestsTotal.WithLabelValues("llm_query", "error").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	text, call, err := r.dispatch(req.Context(), body.Prompt, body.Model, body.Depth)
	if err != nil {
		observability.RouterRequestsTotal.WithLabelValues("llm_query", "error").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	observability.RouterRequestsTotal.WithLabelValues("llm_query", "ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hookResponse{Response: text, RLMCall: &call})
}

func (r *Router) handleQueryBatched(w http.ResponseWriter, req *http.Request) {
	var body hookRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		observability.RouterRequestsTotal.WithLabelValues("llm_query_batched", "error").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	n := len(body.Prompts)
	responses := make([]string, n)
	calls := make([]types.SubLMCall, n)

	start := time.Now()
	g, ctx := errgroup.WithContext(req.Context())
	for i, prompt := range body.Prompts {
		i, prompt := i, prompt
		g.Go(func() error {
			text, call, err := r.dispatch(ctx, prompt, body.Model, body.Depth)
			if err != nil {
				return err
			}
			responses[i] = text
			calls[i] = call
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		observability.RouterRequestsTotal.WithLabelValues("llm_query_batched", "error").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// §4.E: per-element elapsed is an approximation, overall/count.
	if n > 0 {
		per := time.Since(start).Seconds() / float64(n)
		for i := range calls {
			calls[i].Duration = per
		}
	}

	observability.RouterRequestsTotal.WithLabelValues("llm_query_batched", "ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batchedHookResponse{Responses: responses, RLMCalls: calls})
}

func (r *Router) handleUnknown(w http.ResponseWriter, req *http.Request) {
	writeError(w, http.StatusNotFound, "Unknown endpoint: "+req.URL.Path)
}
