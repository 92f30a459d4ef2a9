// Package driver implements the iteration driver (§4.F): the control loop
// that alternates LM turns and sandbox executions until a terminating
// marker appears or the iteration budget is exhausted.
package driver

import (
	"fmt"
	"strings"

	"github.com/ertembiyik/rlm-go/internal/client"
	"github.com/ertembiyik/rlm-go/internal/observability"
	"github.com/ertembiyik/rlm-go/internal/sandbox"
)

const (
	defaultMaxDepth      = 1
	defaultMaxIterations = 30
)

var persistenceCapableBackends = map[sandbox.BackendName]bool{
	sandbox.BackendLocal:     true,
	sandbox.BackendContainer: true,
}

// Config holds the driver's construction parameters (§4.F).
type Config struct {
	RootAdapter client.Adapter
	SubAdapter  client.Adapter

	SandboxBackend sandbox.BackendName
	SandboxConfig  map[string]any

	Depth         int
	MaxDepth      int
	MaxIterations int

	SystemPrompt string
	Persistent   bool

	LogObserver     observability.Observer
	VerboseObserver observability.Observer
}

// Option mutates a Config under construction.
type Option func(*Config)

func WithSubAdapter(a client.Adapter) Option {
	return func(c *Config) { c.SubAdapter = a }
}

func WithSandboxBackend(name sandbox.BackendName, cfg map[string]any) Option {
	return func(c *Config) {
		c.SandboxBackend = name
		c.SandboxConfig = cfg
	}
}

func WithDepth(depth int) Option {
	return func(c *Config) { c.Depth = depth }
}

func WithMaxDepth(depth int) Option {
	return func(c *Config) { c.MaxDepth = depth }
}

func WithMaxIterations(n int) Option {
	return func(c *Config) { c.MaxIterations = n }
}

func WithSystemPrompt(prompt string) Option {
	return func(c *Config) { c.SystemPrompt = prompt }
}

func WithPersistent(persistent bool) Option {
	return func(c *Config) { c.Persistent = persistent }
}

func WithLogObserver(o observability.Observer) Option {
	return func(c *Config) { c.LogObserver = o }
}

func WithVerboseObserver(o observability.Observer) Option {
	return func(c *Config) { c.VerboseObserver = o }
}

// NewConfig builds a Config for root, applying defaults and then opts.
func NewConfig(root client.Adapter, opts ...Option) Config {
	cfg := Config{
		RootAdapter:    root,
		SandboxBackend: sandbox.BackendLocal,
		MaxDepth:       defaultMaxDepth,
		MaxIterations:  defaultMaxIterations,
		SystemPrompt:   defaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c Config) validate() error {
	if c.RootAdapter == nil {
		return fmt.Errorf("driver: root model adapter is required")
	}
	if c.Persistent && !persistenceCapableBackends[c.SandboxBackend] {
		supported := make([]string, 0, len(persistenceCapableBackends))
		for name := range persistenceCapableBackends {
			supported = append(supported, string(name))
		}
		return fmt.Errorf("driver: persistent sessions require one of %s, got %q", strings.Join(supported, ", "), c.SandboxBackend)
	}
	return nil
}

// isSensitiveKey implements §4.F's sanitization rule.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if strings.Contains(lower, "api") && strings.Contains(lower, "key") {
		return true
	}
	if strings.Contains(lower, "secret") {
		return true
	}
	if strings.Contains(lower, "token") && strings.Contains(lower, "auth") {
		return true
	}
	return false
}

// sanitizeConfigBag strips sensitive keys from bag, returning a new map.
func sanitizeConfigBag(bag map[string]any) map[string]any {
	out := make(map[string]any, len(bag))
	for k, v := range bag {
		if isSensitiveKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}
