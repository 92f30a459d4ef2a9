package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ertembiyik/rlm-go/internal/observability"
	"github.com/ertembiyik/rlm-go/internal/parsing"
	"github.com/ertembiyik/rlm-go/internal/router"
	"github.com/ertembiyik/rlm-go/internal/sandbox"
	"github.com/ertembiyik/rlm-go/internal/types"
)

// Driver is the iteration driver (§4.F): it starts a fresh router for each
// Completion call and, when configured persistent, holds one long-lived
// sandbox across successive Completion calls.
type Driver struct {
	cfg Config

	mu        sync.Mutex
	persisted sandbox.PersistentSession
}

// New validates cfg and constructs a Driver.
func New(cfg Config) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Driver{cfg: cfg}, nil
}

func payloadAsText(payload types.ContextPayload) (text string, isText bool) {
	if t, ok := payload.(types.Text); ok {
		return string(t), true
	}
	data, err := payload.Marshal()
	if err != nil {
		return "", false
	}
	return string(data), false
}

// Completion runs one end-to-end completion (§4.F's completion algorithm).
// question is the caller's root query, substituted into the per-iteration
// prompt; it may be empty when the context payload already poses the task.
func (d *Driver) Completion(ctx context.Context, payload types.ContextPayload, question string) (types.CompletionResult, error) {
	start := time.Now()

	if d.cfg.Depth >= d.cfg.MaxDepth {
		return d.fallback(ctx, payload, start)
	}

	rt := router.New(d.cfg.RootAdapter, d.cfg.SubAdapter)
	addr, token, err := rt.Start()
	if err != nil {
		return types.CompletionResult{}, fmt.Errorf("driver: starting router: %w", err)
	}
	defer rt.Stop()

	session, persistent, err := d.acquireSandbox(ctx, addr, token, payload)
	if err != nil {
		return types.CompletionResult{}, err
	}
	defer func() {
		if !d.cfg.Persistent {
			session.Cleanup()
		}
	}()

	meta := payload.Metadata()
	history := []types.Message{
		{Role: types.RoleSystem, Content: d.cfg.SystemPrompt},
		metadataMessage(meta),
	}

	d.emitMetadata(meta)

	contextCount, historyCount := 1, 0
	if persistent != nil {
		contextCount, historyCount = persistent.ContextCount(), persistent.HistoryCount()
	}

	for i := 0; i < d.cfg.MaxIterations; i++ {
		iterStart := time.Now()

		history = append(history, types.Message{Role: types.RoleUser, Content: nextStepPrompt(i, question, contextCount, historyCount)})

		comp, err := rt.Direct(ctx, history)
		if err != nil {
			return types.CompletionResult{}, fmt.Errorf("driver: LM call failed: %w", err)
		}
		response := comp.Text

		blocks, err := d.runCodeBlocks(ctx, session, response)
		if err != nil {
			return types.CompletionResult{}, err
		}

		termination, err := parsing.DetectTermination(ctx, response, session)
		if err != nil {
			return types.CompletionResult{}, err
		}

		iteration := types.Iteration{
			Sequence:   i,
			History:    append([]types.Message(nil), history...),
			Response:   response,
			CodeBlocks: blocks,
			Duration:   time.Since(iterStart),
		}
		if termination.Terminated {
			iteration.FinalAnswer = termination.Answer
		}
		d.emitIteration(iteration)

		if termination.Terminated {
			observability.RlmIterations.Observe(float64(i + 1))
			if d.cfg.Persistent && persistent != nil {
				persistent.AddHistory(ctx, history, -1)
			}
			return types.CompletionResult{
				RootModel:     d.cfg.RootAdapter.Name(),
				Prompt:        question,
				Response:      termination.Answer,
				UsageSummary:  rt.UsageSummary(),
				ExecutionTime: time.Since(start).Seconds(),
			}, nil
		}

		history = append(history, parsing.RenderIteration(response, blocks)...)
	}

	observability.RlmIterations.Observe(float64(d.cfg.MaxIterations))
	history = append(history, types.Message{Role: types.RoleUser, Content: epiloguePrompt})
	comp, err := rt.Direct(ctx, history)
	if err != nil {
		return types.CompletionResult{}, fmt.Errorf("driver: epilogue LM call failed: %w", err)
	}

	return types.CompletionResult{
		RootModel:     d.cfg.RootAdapter.Name(),
		Prompt:        question,
		Response:      comp.Text,
		UsageSummary:  rt.UsageSummary(),
		ExecutionTime: time.Since(start).Seconds(),
	}, nil
}

// fallback implements §4.F.1: depth at or beyond the budget skips the
// sandbox/router machinery entirely and makes one direct LM call.
func (d *Driver) fallback(ctx context.Context, payload types.ContextPayload, start time.Time) (types.CompletionResult, error) {
	text, _ := payloadAsText(payload)
	comp, err := d.cfg.RootAdapter.Generate(ctx, []types.Message{{Role: types.RoleUser, Content: text}})
	if err != nil {
		return types.CompletionResult{}, fmt.Errorf("driver: fallback LM call failed: %w", err)
	}
	usage := types.UsageSummary{
		d.cfg.RootAdapter.Name(): {Calls: 1, InputTokens: comp.Usage.InputTokens, OutputTokens: comp.Usage.OutputTokens},
	}
	return types.CompletionResult{
		RootModel:     d.cfg.RootAdapter.Name(),
		Prompt:        text,
		Response:      comp.Text,
		UsageSummary:  usage,
		ExecutionTime: time.Since(start).Seconds(),
	}, nil
}

// acquireSandbox implements §4.F.3: a fresh sandbox, or the held persistent
// one with its handler address and token rebound and the new payload
// appended as the next context_N.
func (d *Driver) acquireSandbox(ctx context.Context, routerAddr, token string, payload types.ContextPayload) (sandbox.Session, sandbox.PersistentSession, error) {
	d.mu.Lock()
	held := d.persisted
	d.mu.Unlock()

	if held != nil {
		held.UpdateHandlerAddress(routerAddr)
		if ts, ok := held.(tokenSetter); ok {
			ts.SetToken(token)
		}
		if _, err := held.AddContext(ctx, payload, -1); err != nil {
			return nil, nil, fmt.Errorf("driver: adding context to persistent sandbox: %w", err)
		}
		return held, held, nil
	}

	session, err := newSandboxSession(d.cfg.SandboxBackend, d.cfg.SandboxConfig, routerAddr, token, d.cfg.Depth)
	if err != nil {
		return nil, nil, err
	}
	if err := session.Setup(ctx); err != nil {
		return nil, nil, fmt.Errorf("driver: sandbox setup: %w", err)
	}
	if err := session.LoadContext(ctx, payload); err != nil {
		return nil, nil, fmt.Errorf("driver: loading context: %w", err)
	}

	var persistent sandbox.PersistentSession
	if p, ok := session.(sandbox.PersistentSession); ok {
		persistent = p
		if d.cfg.Persistent {
			d.mu.Lock()
			d.persisted = p
			d.mu.Unlock()
		}
	}

	return session, persistent, nil
}

// runCodeBlocks implements §4.F.5.c: extract and dispatch each block in
// textual order, sequentially.
func (d *Driver) runCodeBlocks(ctx context.Context, session sandbox.Session, response string) ([]types.CodeBlock, error) {
	sources := parsing.ExtractCodeBlocks(response)
	blocks := make([]types.CodeBlock, 0, len(sources))
	for _, source := range sources {
		result, err := session.Execute(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("driver: sandbox execution failed to run: %w", err)
		}
		blocks = append(blocks, types.CodeBlock{Source: source, Result: result})
	}
	return blocks, nil
}

func (d *Driver) emitMetadata(queryMeta types.QueryMetadata) {
	meta := types.Metadata{
		RootModel:      d.cfg.RootAdapter.Name(),
		MaxDepth:       d.cfg.MaxDepth,
		MaxIterations:  d.cfg.MaxIterations,
		SandboxBackend: string(d.cfg.SandboxBackend),
		SandboxConfig:  sanitizeConfigBag(d.cfg.SandboxConfig),
		QueryMetadata:  queryMeta,
	}
	if d.cfg.SubAdapter != nil {
		meta.SubModels = []string{d.cfg.SubAdapter.Name()}
	}
	if d.cfg.LogObserver != nil {
		d.cfg.LogObserver.OnMetadata(meta)
	}
	if d.cfg.VerboseObserver != nil {
		d.cfg.VerboseObserver.OnMetadata(meta)
	}
}

func (d *Driver) emitIteration(iteration types.Iteration) {
	if d.cfg.LogObserver != nil {
		d.cfg.LogObserver.OnIteration(iteration)
	}
	if d.cfg.VerboseObserver != nil {
		d.cfg.VerboseObserver.OnIteration(iteration)
	}
}
