// Package client adapts third-party LM providers to the Adapter interface
// consumed by the router and the driver (§6.1).
package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/genai"

	"github.com/ertembiyik/rlm-go/internal/observability"
	"github.com/ertembiyik/rlm-go/internal/types"
)

// Usage is the optional token accounting an Adapter may report alongside a
// completion (§6.1).
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is the result of one Adapter.Generate call.
type Completion struct {
	Text  string
	Usage Usage
}

// Adapter is any text-completion backend the router or driver can invoke
// directly (§6.1). Any failure it raises is surfaced by the router as an
// HTTP 500, and by the driver's direct path as a plain Go error.
type Adapter interface {
	Generate(ctx context.Context, messages []types.Message) (Completion, error)
	Name() string
}

// GeminiClient adapts google.golang.org/genai to Adapter.
type GeminiClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiClient constructs an Adapter backed by the Gemini API. apiKey
// falls back to GEMINI_API_KEY; modelName falls back to "gemini-2.5-flash".
func NewGeminiClient(ctx context.Context, apiKey, modelName string) (*GeminiClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("client: GEMINI_API_KEY is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("client: constructing genai client: %w", err)
	}

	return &GeminiClient{client: c, modelName: modelName}, nil
}

func (c *GeminiClient) Name() string {
	return c.modelName
}

func (c *GeminiClient) Generate(ctx context.Context, messages []types.Message) (Completion, error) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		if msg.Role == types.RoleSystem {
			systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: msg.Content}}}
			continue
		}
		role := string(msg.Role)
		if msg.Role == types.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: msg.Content}}})
	}

	config := &genai.GenerateContentConfig{}
	if systemInstruction != nil {
		config.SystemInstruction = systemInstruction
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.modelName, contents, config)
	if err != nil {
		slog.Error("gemini generate failed", "error", err, "model", c.modelName)
		return Completion{}, fmt.Errorf("client: %s: %w", c.modelName, err)
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		observability.TokenUsage.WithLabelValues(c.modelName, "input").Add(float64(usage.InputTokens))
		observability.TokenUsage.WithLabelValues(c.modelName, "output").Add(float64(usage.OutputTokens))
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return Completion{}, fmt.Errorf("client: %s: no response from model", c.modelName)
	}

	return Completion{Text: resp.Candidates[0].Content.Parts[0].Text, Usage: usage}, nil
}
