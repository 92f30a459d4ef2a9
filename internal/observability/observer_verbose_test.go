package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ertembiyik/rlm-go/internal/types"
)

func TestVerboseObserver_OnMetadataIncludesBackendAndModel(t *testing.T) {
	var buf bytes.Buffer
	o := NewVerboseObserver(&buf)

	o.OnMetadata(types.Metadata{RootModel: "gemini-2.5-pro", MaxDepth: 1, MaxIterations: 10, SandboxBackend: "local"})

	out := buf.String()
	if !strings.Contains(out, "gemini-2.5-pro") {
		t.Fatalf("expected root model in output, got %q", out)
	}
	if !strings.Contains(out, "local") {
		t.Fatalf("expected sandbox backend in output, got %q", out)
	}
}

func TestVerboseObserver_OnIterationRendersCodeBlocksAndFinal(t *testing.T) {
	var buf bytes.Buffer
	o := NewVerboseObserver(&buf)

	o.OnIteration(types.Iteration{
		Sequence: 1,
		Response: "running a check",
		CodeBlocks: []types.CodeBlock{
			{Source: "x = 1 + 1", Result: types.REPLResult{Stdout: "2\n"}},
		},
		FinalAnswer: "2",
	})

	out := buf.String()
	for _, want := range []string{"iteration 1", "running a check", "x = 1 + 1", "stdout: 2", "FINAL: 2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestVerboseObserver_OnIterationOmitsFinalWhenAbsent(t *testing.T) {
	var buf bytes.Buffer
	o := NewVerboseObserver(&buf)

	o.OnIteration(types.Iteration{Sequence: 1, Response: "still working"})

	if strings.Contains(buf.String(), "FINAL:") {
		t.Fatal("did not expect a FINAL line for an unfinished iteration")
	}
}
