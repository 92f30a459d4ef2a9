// Package container implements the container sandbox backend (§4.D): the
// same session contract as the local backend, but the child interpreter
// runs inside an isolated OS container sharing only a mounted scratch
// directory with the host, reached over a host-side forwarding proxy.
package container

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/tidwall/gjson"

	"github.com/ertembiyik/rlm-go/internal/observability"
	"github.com/ertembiyik/rlm-go/internal/types"
)

// hostInternalDNS is the name the child resolves to reach the host's
// forwarding proxy. Requires the container runtime to map it to the host
// gateway (Docker Desktop does this by default; Linux engines need the
// extra_hosts entry this backend adds to the container request).
const hostInternalDNS = "host.docker.internal"

// Config configures a Backend.
type Config struct {
	// Image is the container image providing a python3 interpreter.
	// Defaults to "python:3.12-slim".
	Image string
	// Timeout bounds one Execute call's wall-clock time. Defaults to five
	// minutes (§4.C.2, carried over unchanged by §4.D).
	Timeout time.Duration
	// ScratchRoot is the parent directory for the backend's private
	// scratch directory on the host. Defaults to os.TempDir().
	ScratchRoot string
}

const defaultImage = "python:3.12-slim"
const defaultTimeout = 5 * time.Minute

func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = defaultImage
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Backend is the container sandbox session (§4.D). It implements both
// sandbox.Session and sandbox.PersistentSession.
type Backend struct {
	cfg Config

	mu           sync.Mutex
	container    testcontainers.Container
	proxy        *forwardingProxy
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

// Setup creates the host scratch directory, starts the forwarding proxy,
// and launches the container with the scratch directory bind-mounted at
// /scratch.
func (b *Backend) Setup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	root := b.cfg.ScratchRoot
	if root == "" {
		root = os.TempDir()
	}
	dir, err := os.MkdirTemp(root, "rlm-container-*")
	if err != nil {
		return fmt.Errorf("container: creating scratch dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "state.json"), []byte("{}"), 0o600); err != nil {
		return fmt.Errorf("container: initializing state file: %w", err)
	}
	b.scratchDir = dir
	b.stateFile = "/scratch/state.json"

	proxy, err := newForwardingProxy(b.routerAddr)
	if err != nil {
		return fmt.Errorf("container: starting forwarding proxy: %w", err)
	}
	b.proxy = proxy

	req := testcontainers.ContainerRequest{
		Image: b.cfg.Image,
		Cmd:   []string{"sleep", "infinity"},
		HostConfigModifier: func(hc *dockercontainer.HostConfig) {
			hc.Binds = append(hc.Binds, b.scratchDir+":/scratch")
			hc.ExtraHosts = append(hc.ExtraHosts, hostInternalDNS+":host-gateway")
		},
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("container: starting container: %w", err)
	}
	b.container = c

	return nil
}

func (b *Backend) proxyRouterAddr() string {
	return fmt.Sprintf("%s:%s", hostInternalDNS, proxyPort(b.proxy.addr))
}

// UpdateHandlerAddress rebinds the forwarding proxy to a new router
// address (the persistence extension, §4.B).
func (b *Backend) UpdateHandlerAddress(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routerAddr = addr
	if b.proxy != nil {
		b.proxy.retarget(addr)
	}
}

func (b *Backend) SetToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routerToken = token
}

func (b *Backend) LoadContext(ctx context.Context, payload types.ContextPayload) error {
	_, err := b.AddContext(ctx, payload, 0)
	return err
}

func (b *Backend) AddContext(ctx context.Context, payload types.ContextPayload, index int) (int, error) {
	b.mu.Lock()
	if index < 0 {
		index = b.contextCount
	}
	if index >= b.contextCount {
		b.contextCount = index + 1
	}
	b.mu.Unlock()

	data, err := payload.Marshal()
	if err != nil {
		return 0, fmt.Errorf("container: marshaling context payload: %w", err)
	}
	if err := b.writeScratchFile(fmt.Sprintf("context_%d.json", index), data); err != nil {
		return 0, err
	}

	name := fmt.Sprintf("context_%d", index)
	stub := fmt.Sprintf("import json\nwith open('/scratch/context_%d.json') as _f:\n    %s = json.load(_f)\n", index, name)
	if index == 0 {
		stub += "context = context_0\n"
	}
	if _, err := b.Execute(ctx, stub); err != nil {
		return 0, err
	}
	return index, nil
}

func (b *Backend) AddHistory(ctx context.Context, messages []types.Message, index int) (int, error) {
	b.mu.Lock()
	if index < 0 {
		index = b.historyCount
	}
	if index >= b.historyCount {
		b.historyCount = index + 1
	}
	b.mu.Unlock()

	data, err := json.Marshal(messages)
	if err != nil {
		return 0, fmt.Errorf("container: marshaling history: %w", err)
	}
	if err := b.writeScratchFile(fmt.Sprintf("history_%d.json", index), data); err != nil {
		return 0, err
	}

	name := fmt.Sprintf("history_%d", index)
	stub := fmt.Sprintf("import json\nwith open('/scratch/history_%d.json') as _f:\n    %s = json.load(_f)\n", index, name)
	if _, err := b.Execute(ctx, stub); err != nil {
		return 0, err
	}
	return index, nil
}

func (b *Backend) writeScratchFile(name string, data []byte) error {
	b.mu.Lock()
	dir := b.scratchDir
	b.mu.Unlock()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		return fmt.Errorf("container: writing scratch file %s: %w", name, err)
	}
	return nil
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

type structuredRecord struct {
	Stdout   string            `json:"stdout"`
	Stderr   string            `json:"stderr"`
	Locals   map[string]string `json:"locals"`
	Kinds    map[string]string `json:"kinds"`
	RLMCalls []json.RawMessage `json:"rlm_calls"`
}

// Execute runs source inside the container via docker exec, against the
// shared state file. Like the local backend, runtime failures are reified
// into the returned REPLResult rather than a Go error (§7).
func (b *Backend) Execute(ctx context.Context, source string) (types.REPLResult, error) {
	start := time.Now()

	b.mu.Lock()
	c, token, depth := b.container, b.routerToken, b.depth
	b.mu.Unlock()

	if c == nil {
		return types.REPLResult{}, fmt.Errorf("container: Setup was not called")
	}

	program, err := renderWrapper(wrapperParams{
		StateFile:  b.stateFile,
		RouterAddr: b.proxyRouterAddr(),
		Token:      token,
		Depth:      depth,
		SourceB64:  base64Encode(source),
	})
	if err != nil {
		return types.REPLResult{}, fmt.Errorf("container: rendering wrapper program: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	observability.SandboxExecutionsTotal.WithLabelValues("container").Inc()

	exitCode, reader, err := c.Exec(runCtx, []string{"python3", "-c", program}, tcexec.Multiplexed())
	if runCtx.Err() == context.DeadlineExceeded {
		observability.SandboxTimeoutsTotal.WithLabelValues("container").Inc()
		return types.REPLResult{
			Stderr:   fmt.Sprintf("Error: execution exceeded %s timeout", b.cfg.Timeout),
			Duration: time.Since(start),
		}, nil
	}
	if err != nil {
		slog.Warn("container sandbox exec error", "error", err)
		return types.REPLResult{
			Stderr:   fmt.Sprintf("Error: %v", err),
			Duration: time.Since(start),
		}, nil
	}

	var buf bytes.Buffer
	if reader != nil {
		io.Copy(&buf, reader)
	}
	if exitCode != 0 && buf.Len() == 0 {
		return types.REPLResult{
			Stderr:   fmt.Sprintf("Error: container exec exited %d with no output", exitCode),
			Duration: time.Since(start),
		}, nil
	}

	return parseStructuredRecord(buf.String(), time.Since(start)), nil
}

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

// Cleanup stops the container, closes the proxy, and removes the scratch
// directory. Idempotent and safe after partial setup.
func (b *Backend) Cleanup() error {
	b.mu.Lock()
	c, proxy, dir := b.container, b.proxy, b.scratchDir
	b.container, b.proxy, b.scratchDir = nil, nil, ""
	b.mu.Unlock()

	var firstErr error
	if c != nil {
		if err := c.Terminate(context.Background()); err != nil {
			firstErr = fmt.Errorf("container: terminating container: %w", err)
		}
	}
	if proxy != nil {
		if err := proxy.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("container: closing proxy: %w", err)
		}
	}
	if dir != "" {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("container: removing scratch dir: %w", err)
		}
	}
	return firstErr
}
