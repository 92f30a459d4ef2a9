// Package sandbox defines the uniform session contract every execution
// backend implements (§4.B), plus the optional persistence extension used
// by backends that can survive across multiple completions.
package sandbox

import (
	"context"

	"github.com/ertembiyik/rlm-go/internal/types"
)

// Hook names injected into every execution backend's child interpreter.
const (
	HookLLMQuery        = "llm_query"
	HookLLMQueryBatched  = "llm_query_batched"
	HookFinalVar        = "FINAL_VAR"
	HookShowVars        = "SHOW_VARS"
)

// Session is the contract every sandbox backend implements: setup, load a
// context payload, execute code against persisted state, and clean up.
type Session interface {
	// Setup performs one-time initialization of backing resources.
	Setup(ctx context.Context) error
	// LoadContext makes payload visible in the REPL under the identifier
	// "context".
	LoadContext(ctx context.Context, payload types.ContextPayload) error
	// Execute runs source against the session's current state, returns the
	// result, and persists any mutations.
	Execute(ctx context.Context, source string) (types.REPLResult, error)
	// Cleanup releases all backing resources. Must be idempotent and safe
	// after partial setup.
	Cleanup() error
}

// PersistentSession is the optional extension for backends that support
// reuse across completions (§4.B).
type PersistentSession interface {
	Session

	// UpdateHandlerAddress rebinds the loopback router endpoint.
	UpdateHandlerAddress(addr string)
	// AddContext appends a new context as context_N (aliasing context_0 as
	// "context") and returns the assigned index. A negative index requests
	// the next available slot.
	AddContext(ctx context.Context, payload types.ContextPayload, index int) (int, error)
	// AddHistory snapshots a completed message history as history_N and
	// returns the assigned index. A negative index requests the next
	// available slot.
	AddHistory(ctx context.Context, messages []types.Message, index int) (int, error)
	// HistoryCount and ContextCount are observer counters.
	HistoryCount() int
	ContextCount() int
}

// BackendName identifies a registered sandbox backend implementation.
type BackendName string

const (
	BackendLocal     BackendName = "local"
	BackendContainer BackendName = "container"
)
