package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ertembiyik/rlm-go/internal/types"
)

func TestJSONLObserver_OnMetadataWritesOneLine(t *testing.T) {
	var buf bytes.Buffer
	o := NewJSONLObserver(&buf)

	o.OnMetadata(types.Metadata{RootModel: "gemini-2.5-pro", MaxDepth: 1, MaxIterations: 10})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}

	var line logLine
	if err := json.Unmarshal([]byte(lines[0]), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line.Type != "metadata" {
		t.Fatalf("expected type metadata, got %q", line.Type)
	}
	if line.Metadata == nil || line.Metadata.RootModel != "gemini-2.5-pro" {
		t.Fatalf("metadata not round-tripped: %+v", line.Metadata)
	}
	if line.Timestamp == "" {
		t.Fatal("expected a non-empty timestamp")
	}
}

func TestJSONLObserver_OnIterationCarriesSequence(t *testing.T) {
	var buf bytes.Buffer
	o := NewJSONLObserver(&buf)

	o.OnIteration(types.Iteration{Sequence: 3, Response: "FINAL(42)"})

	var line logLine
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line.Sequence != 3 {
		t.Fatalf("expected sequence 3, got %d", line.Sequence)
	}
	if line.Iteration == nil || line.Iteration.Response != "FINAL(42)" {
		t.Fatalf("iteration not round-tripped: %+v", line.Iteration)
	}
}

func TestJSONLObserver_SubsequentMetadataUsesLastIterationSequence(t *testing.T) {
	var buf bytes.Buffer
	o := NewJSONLObserver(&buf)

	o.OnIteration(types.Iteration{Sequence: 5})
	o.OnMetadata(types.Metadata{RootModel: "gemini-2.5-flash"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var last logLine
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Sequence != 5 {
		t.Fatalf("expected trailing metadata line to carry sequence 5, got %d", last.Sequence)
	}
}
