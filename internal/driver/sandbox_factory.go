package driver

import (
	"fmt"
	"time"

	"github.com/ertembiyik/rlm-go/internal/sandbox"
	"github.com/ertembiyik/rlm-go/internal/sandbox/container"
	"github.com/ertembiyik/rlm-go/internal/sandbox/local"
)

// tokenSetter is an optional capability: backends whose hook auth token
// rotates with each router restart implement it so the driver can rebind
// it on a reused persistent sandbox, alongside UpdateHandlerAddress.
type tokenSetter interface {
	SetToken(token string)
}

// newSandboxSession constructs the session named by backend, decoding the
// loosely-typed configuration bag into the backend's native Config.
func newSandboxSession(backend sandbox.BackendName, bag map[string]any, routerAddr, token string, depth int) (sandbox.Session, error) {
	switch backend {
	case sandbox.BackendLocal, "":
		cfg := local.Config{}
		if v, ok := bag["python_path"].(string); ok {
			cfg.PythonPath = v
		}
		if v, ok := bag["timeout_seconds"].(float64); ok {
			cfg.Timeout = time.Duration(v) * time.Second
		}
		if v, ok := bag["max_stdout_bytes"].(float64); ok {
			cfg.MaxStdoutBytes = int64(v)
		}
		if v, ok := bag["scratch_root"].(string); ok {
			cfg.ScratchRoot = v
		}
		return local.New(cfg, routerAddr, token, depth), nil

	case sandbox.BackendContainer:
		cfg := container.Config{}
		if v, ok := bag["image"].(string); ok {
			cfg.Image = v
		}
		if v, ok := bag["timeout_seconds"].(float64); ok {
			cfg.Timeout = time.Duration(v) * time.Second
		}
		if v, ok := bag["scratch_root"].(string); ok {
			cfg.ScratchRoot = v
		}
		return container.New(cfg, routerAddr, token, depth), nil

	default:
		return nil, fmt.Errorf("driver: unknown sandbox backend %q", backend)
	}
}
