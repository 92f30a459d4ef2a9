package parsing

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ertembiyik/rlm-go/internal/types"
)

func TestExtractCodeBlocks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single block",
			text: "Here is code:\n```repl\nprint('hi')\n```",
			want: []string{"print('hi')"},
		},
		{
			name: "multiple blocks in source order",
			text: "One:\n```repl\na=1\n```\nTwo:\n```repl\nb=2\n```",
			want: []string{"a=1", "b=2"},
		},
		{
			name: "no blocks",
			text: "Just text",
			want: nil,
		},
		{
			name: "noise around fences is ignored",
			text: "blah blah ```not-repl\nx\n``` blah\n```repl\nz=3\n```",
			want: []string{"z=3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCodeBlocks(tt.text))
		})
	}
}

// fakeSession is a minimal sandbox.Session stub for marker-detection tests.
type fakeSession struct {
	stdout, stderr string
	executed       string
}

func (f *fakeSession) Setup(ctx context.Context) error { return nil }
func (f *fakeSession) LoadContext(ctx context.Context, payload types.ContextPayload) error {
	return nil
}
func (f *fakeSession) Execute(ctx context.Context, source string) (types.REPLResult, error) {
	f.executed = source
	return types.REPLResult{Stdout: f.stdout, Stderr: f.stderr}, nil
}
func (f *fakeSession) Cleanup() error { return nil }

func TestDetectTermination_FinalVarPrecedesFinal(t *testing.T) {
	text := "FINAL_VAR(x)\nFINAL(y)"
	session := &fakeSession{stdout: "42\n"}

	got, err := DetectTermination(context.Background(), text, session)
	require.NoError(t, err)
	assert.True(t, got.Terminated)
	assert.Equal(t, "42", got.Answer)
	assert.Contains(t, session.executed, "FINAL_VAR")
}

func TestDetectTermination_FinalVarFallsBackToStderr(t *testing.T) {
	session := &fakeSession{stdout: "", stderr: "available: a, b"}
	got, err := DetectTermination(context.Background(), "FINAL_VAR('none')", session)
	require.NoError(t, err)
	assert.True(t, got.Terminated)
	assert.Equal(t, "available: a, b", got.Answer)
}

func TestDetectTermination_FinalVarWithoutSandboxProducesNoAnswer(t *testing.T) {
	got, err := DetectTermination(context.Background(), "FINAL_VAR(x)", nil)
	require.NoError(t, err)
	assert.False(t, got.Terminated)
}

func TestDetectTermination_FinalTrimsAndToleratesParens(t *testing.T) {
	got, err := DetectTermination(context.Background(), "FINAL(the answer is (42))", nil)
	require.NoError(t, err)
	assert.True(t, got.Terminated)
	assert.Equal(t, "the answer is (42)", got.Answer)
}

func TestDetectTermination_NoMarker(t *testing.T) {
	got, err := DetectTermination(context.Background(), "still thinking", nil)
	require.NoError(t, err)
	assert.False(t, got.Terminated)
}

func TestFormatResult_EmptyIsNoOutput(t *testing.T) {
	assert.Equal(t, "No output", FormatResult(types.REPLResult{}))
}

func TestFormatResult_ListsOnlyAllowedKinds(t *testing.T) {
	result := types.REPLResult{
		Stdout: "hello\n",
		Locals: types.REPLState{
			"name":   "\"bob\"",
			"count":  "3",
			"helper": "<function helper at 0x0>",
		},
		Kinds: map[string]string{
			"name":   types.KindString,
			"count":  types.KindNumber,
			"helper": types.KindOther,
		},
	}
	rendered := FormatResult(result)
	assert.Contains(t, rendered, "hello")
	assert.Contains(t, rendered, "Variables: count, name")
	assert.NotContains(t, rendered, "helper")
}

func TestFormatResult_ClampsToMaxLength(t *testing.T) {
	result := types.REPLResult{Stdout: strings.Repeat("x", 50000)}
	rendered := FormatResult(result)
	assert.LessOrEqual(t, len(rendered), RenderClampChars+len("... + [30000 chars...]")+1)
	assert.Contains(t, rendered, "chars...]")
}

func TestRenderIteration(t *testing.T) {
	blocks := []types.CodeBlock{
		{Source: "print(1)", Result: types.REPLResult{Stdout: "1\n"}},
	}
	messages := RenderIteration("```repl\nprint(1)\n```", blocks)
	require.Len(t, messages, 2)
	assert.Equal(t, types.RoleAssistant, messages[0].Role)
	assert.Equal(t, types.RoleUser, messages[1].Role)
	assert.Contains(t, messages[1].Content, "print(1)")
	assert.Contains(t, messages[1].Content, "1")
}
