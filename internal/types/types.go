// Package types holds the data model shared by the parsing, sandbox,
// router and driver packages: messages, REPL results, iteration and usage
// records, and their canonical JSON form.
package types

import (
	"sort"
	"strings"
	"time"
)

// Role names the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in the LM chat history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ReservedPrefix marks identifiers that are never persisted across REPL
// executions.
const ReservedPrefix = "_"

// REPLState is the REPL's persisted variable snapshot: identifier name to
// its text serialization (or printable-string fallback). Identifiers with
// ReservedPrefix never appear here.
type REPLState map[string]string

// Names returns the non-reserved identifiers in sorted order.
func (s REPLState) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		if strings.HasPrefix(k, ReservedPrefix) {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// UsageEntry is the (call count, input tokens, output tokens) triple
// tracked per model.
type UsageEntry struct {
	Calls        int `json:"calls"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// UsageSummary maps model name to its accumulated usage.
type UsageSummary map[string]UsageEntry

// Clone returns a deep copy so callers can hand out read-only snapshots.
func (u UsageSummary) Clone() UsageSummary {
	out := make(UsageSummary, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}

// SubLMCall records one sub-LM invocation issued from inside the sandbox.
type SubLMCall struct {
	ID       string     `json:"id"`
	Model    string     `json:"model"`
	Prompt   any        `json:"prompt"`
	Response string     `json:"response"`
	Usage    UsageEntry `json:"usage"`
	Duration float64    `json:"duration_seconds"`
}

// REPLResult is produced by one sandbox execution.
type REPLResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Locals   REPLState     `json:"locals"`
	Duration time.Duration `json:"-"`
	RLMCalls []SubLMCall   `json:"rlm_calls"`

	// Kinds classifies each Locals entry as one of "string", "number",
	// "bool", "collection", or "other" by the value's type at snapshot
	// time. Only the first four are eligible for the identifier listing in
	// a rendered result (§4.A) — "other" covers every value of any other
	// type (None, class instances, and so on).
	Kinds map[string]string `json:"kinds,omitempty"`
}

// ValueKind enumerates REPLResult.Kinds values.
const (
	KindString     = "string"
	KindNumber     = "number"
	KindBool       = "bool"
	KindCollection = "collection"
	KindOther      = "other"
)

// DurationSeconds renders Duration for the canonical dict form (§6.3).
func (r REPLResult) DurationSeconds() float64 {
	return r.Duration.Seconds()
}

// CodeBlock pairs an extracted source string with its execution result.
type CodeBlock struct {
	Source string     `json:"code"`
	Result REPLResult `json:"result"`
}

// Iteration is one full turn of the driver loop.
type Iteration struct {
	Sequence    int           `json:"sequence"`
	History     []Message     `json:"history"`
	Response    string        `json:"response"`
	CodeBlocks  []CodeBlock   `json:"code_blocks"`
	FinalAnswer string        `json:"final_answer,omitempty"`
	Duration    time.Duration `json:"-"`
}

func (it Iteration) DurationSeconds() float64 {
	return it.Duration.Seconds()
}

// Metadata is emitted once per completion before iteration records begin.
type Metadata struct {
	RootModel      string         `json:"root_model"`
	MaxDepth       int            `json:"max_depth"`
	MaxIterations  int            `json:"max_iterations"`
	SandboxBackend string         `json:"sandbox_backend"`
	SandboxConfig  map[string]any `json:"sandbox_config"`
	SubModels      []string       `json:"sub_models,omitempty"`
	QueryMetadata  QueryMetadata  `json:"query_metadata"`
}

// CompletionResult is the return value of Driver.Completion (§6.4).
type CompletionResult struct {
	RootModel     string       `json:"root_model"`
	Prompt        any          `json:"prompt"`
	Response      string       `json:"response"`
	UsageSummary  UsageSummary `json:"usage_summary"`
	ExecutionTime float64      `json:"execution_time"`
}
