// Package local implements the local sandbox backend (§4.C): a stateful
// code REPL hosted in a fresh CPython child process per execution,
// persisting inter-turn variables through a JSON side file.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ertembiyik/rlm-go/internal/observability"
	"github.com/ertembiyik/rlm-go/internal/types"
)

// Config configures a Backend.
type Config struct {
	// PythonPath is the interpreter to invoke. Defaults to "python3".
	PythonPath string
	// Timeout bounds one Execute call's wall-clock time. Defaults to five
	// minutes (§4.C.2).
	Timeout time.Duration
	// MaxStdoutBytes bounds the captured child stdout. Defaults to 50 MiB
	// (§4.C.2).
	MaxStdoutBytes int64
	// ScratchRoot is the parent directory for the backend's private
	// scratch directory. Defaults to os.TempDir().
	ScratchRoot string
}

const (
	defaultTimeout        = 5 * time.Minute
	defaultMaxStdoutBytes = 50 << 20
)

func (c Config) withDefaults() Config {
	if c.PythonPath == "" {
		c.PythonPath = "python3"
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxStdoutBytes <= 0 {
		c.MaxStdoutBytes = defaultMaxStdoutBytes
	}
	return c
}

// Backend is the local sandbox session (§4.C). It implements both
// sandbox.Session and sandbox.PersistentSession.
type Backend struct {
	cfg Config

	mu           sync.Mutex
	scratchDir   string
	stateFile    string
	routerAddr   string
	routerToken  string
	depth        int
	contextCount int
	historyCount int
}

// New creates a Backend. Setup must be called before Execute.
func New(cfg Config, routerAddr, routerToken string, depth int) *Backend {
	return &Backend{
		cfg:         cfg.withDefaults(),
		routerAddr:  routerAddr,
		routerToken: routerToken,
		depth:       depth,
	}
}

// Setup creates the backend's private scratch directory and an empty
// state file.
func (b *Backend) Setup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	root := b.cfg.ScratchRoot
	if root == "" {
		root = os.TempDir()
	}
	dir, err := os.MkdirTemp(root, "rlm-local-*")
	if err != nil {
		return fmt.Errorf("local: creating scratch dir: %w", err)
	}
	b.scratchDir = dir
	b.stateFile = filepath.Join(dir, "state.json")
	if err := os.WriteFile(b.stateFile, []byte("{}"), 0o600); err != nil {
		return fmt.Errorf("local: initializing state file: %w", err)
	}
	return nil
}

// UpdateHandlerAddress rebinds the loopback router endpoint for a reused
// session. The bearer token is rebound separately via SetToken.
func (b *Backend) UpdateHandlerAddress(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routerAddr = addr
}

// SetToken updates the bearer token presented to the router. Exposed
// separately from UpdateHandlerAddress because the two rotate together but
// the PersistentSession interface carries only the address; the driver
// passes both values returned by Router.Start.
func (b *Backend) SetToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routerToken = token
}

// LoadContext binds payload to the "context" identifier (index 0).
func (b *Backend) LoadContext(ctx context.Context, payload types.ContextPayload) error {
	_, err := b.AddContext(ctx, payload, 0)
	return err
}

// AddContext writes payload to a side file and executes a stub that loads
// it into context_N (aliasing context when N==0). index < 0 requests the
// next available slot.
func (b *Backend) AddContext(ctx context.Context, payload types.ContextPayload, index int) (int, error) {
	b.mu.Lock()
	if index < 0 {
		index = b.contextCount
	}
	if index >= b.contextCount {
		b.contextCount = index + 1
	}
	dir := b.scratchDir
	b.mu.Unlock()

	data, err := payload.Marshal()
	if err != nil {
		return 0, fmt.Errorf("local: marshaling context payload: %w", err)
	}
	sidefile := filepath.Join(dir, fmt.Sprintf("context_%d.json", index))
	if err := os.WriteFile(sidefile, data, 0o600); err != nil {
		return 0, fmt.Errorf("local: writing context side file: %w", err)
	}

	name := fmt.Sprintf("context_%d", index)
	stub := fmt.Sprintf("import json\nwith open(%q) as _f:\n    %s = json.load(_f)\n", sidefile, name)
	if index == 0 {
		stub += "context = context_0\n"
	}
	if _, err := b.Execute(ctx, stub); err != nil {
		return 0, err
	}
	return index, nil
}

// AddHistory snapshots messages as history_N, analogous to AddContext.
func (b *Backend) AddHistory(ctx context.Context, messages []types.Message, index int) (int, error) {
	b.mu.Lock()
	if index < 0 {
		index = b.historyCount
	}
	if index >= b.historyCount {
		b.historyCount = index + 1
	}
	dir := b.scratchDir
	b.mu.Unlock()

	data, err := json.Marshal(messages)
	if err != nil {
		return 0, fmt.Errorf("local: marshaling history: %w", err)
	}
	sidefile := filepath.Join(dir, fmt.Sprintf("history_%d.json", index))
	if err := os.WriteFile(sidefile, data, 0o600); err != nil {
		return 0, fmt.Errorf("local: writing history side file: %w", err)
	}

	name := fmt.Sprintf("history_%d", index)
	stub := fmt.Sprintf("import json\nwith open(%q) as _f:\n    %s = json.load(_f)\n", sidefile, name)
	if _, err := b.Execute(ctx, stub); err != nil {
		return 0, err
	}
	return index, nil
}

func (b *Backend) ContextCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contextCount
}

func (b *Backend) HistoryCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.historyCount
}

// structuredRecord is the final line of the child's stdout.
type structuredRecord struct {
	Stdout   string            `json:"stdout"`
	Stderr   string            `json:"stderr"`
	Locals   map[string]string `json:"locals"`
	Kinds    map[string]string `json:"kinds"`
	RLMCalls []json.RawMessage `json:"rlm_calls"`
}

// Execute runs source in a fresh child interpreter against the session's
// current state (§4.C.2-4). Sandbox spawn, timeout, and execution failures
// are captured into the returned REPLResult rather than returned as a Go
// error, per §7's "hook failures are reified as data" principle — Execute
// only returns an error for failures to even construct the child program.
func (b *Backend) Execute(ctx context.Context, source string) (types.REPLResult, error) {
	start := time.Now()

	b.mu.Lock()
	stateFile, routerAddr, token, depth := b.stateFile, b.routerAddr, b.routerToken, b.depth
	b.mu.Unlock()

	if stateFile == "" {
		return types.REPLResult{}, fmt.Errorf("local: Setup was not called")
	}

	program, err := renderWrapper(wrapperParams{
		StateFile:  stateFile,
		RouterAddr: routerAddr,
		Token:      token,
		Depth:      depth,
		SourceB64:  base64Encode(source),
	})
	if err != nil {
		return types.REPLResult{}, fmt.Errorf("local: rendering wrapper program: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.cfg.PythonPath, "-c", program)
	stdout := newCappedBuffer(b.cfg.MaxStdoutBytes)
	var stderr []byte
	cmd.Stdout = stdout
	runErr := cmd.Run()
	if ee, ok := runErr.(*exec.ExitError); ok {
		stderr = ee.Stderr
	}

	observability.SandboxExecutionsTotal.WithLabelValues("local").Inc()

	if runCtx.Err() == context.DeadlineExceeded {
		observability.SandboxTimeoutsTotal.WithLabelValues("local").Inc()
		return types.REPLResult{
			Stderr:   fmt.Sprintf("Error: execution exceeded %s timeout", b.cfg.Timeout),
			Duration: time.Since(start),
		}, nil
	}
	if runErr != nil {
		slog.Warn("local sandbox spawn error", "error", runErr)
		return types.REPLResult{
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("Error: %v\n%s", runErr, string(stderr)),
			Duration: time.Since(start),
		}, nil
	}

	return parseStructuredRecord(stdout.String(), time.Since(start)), nil
}

// parseStructuredRecord splits raw child stdout on newlines and parses the
// last line as the structured record (§4.C.4). If parsing fails the whole
// raw stdout becomes the result's stdout and a parse-error note joins
// stderr (§7 Result-parse error).
func parseStructuredRecord(raw string, duration time.Duration) types.REPLResult {
	lastLine := lastNonEmptyLine(raw)
	if lastLine == "" || !gjson.Valid(lastLine) {
		return types.REPLResult{Stdout: raw, Stderr: "Parse error: no structured record on stdout", Duration: duration}
	}

	var record structuredRecord
	if err := json.Unmarshal([]byte(lastLine), &record); err != nil {
		return types.REPLResult{Stdout: raw, Stderr: fmt.Sprintf("Parse error: %v", err), Duration: duration}
	}

	calls := make([]types.SubLMCall, 0, len(record.RLMCalls))
	for _, raw := range record.RLMCalls {
		var call types.SubLMCall
		if err := json.Unmarshal(raw, &call); err == nil {
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			calls = append(calls, call)
		}
	}

	return types.REPLResult{
		Stdout:   record.Stdout,
		Stderr:   record.Stderr,
		Locals:   types.REPLState(record.Locals),
		Kinds:    record.Kinds,
		RLMCalls: calls,
		Duration: duration,
	}
}

// Cleanup removes the scratch directory. Idempotent and safe after partial
// setup.
func (b *Backend) Cleanup() error {
	b.mu.Lock()
	dir := b.scratchDir
	b.scratchDir = ""
	b.mu.Unlock()

	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("local: removing scratch dir: %w", err)
	}
	return nil
}
