package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageJSON(t *testing.T) {
	msg := Message{Role: RoleUser, Content: "hello"}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var msg2 Message
	require.NoError(t, json.Unmarshal(data, &msg2))
	assert.Equal(t, msg, msg2)
}

func TestREPLStateNamesExcludesReserved(t *testing.T) {
	state := REPLState{
		"b":       "2",
		"a":       "1",
		"_hidden": "secret",
		"_":       "also hidden",
	}
	assert.Equal(t, []string{"a", "b"}, state.Names())
}

func TestUsageSummaryCloneIsIndependent(t *testing.T) {
	original := UsageSummary{"gpt": {Calls: 1, InputTokens: 10, OutputTokens: 5}}
	clone := original.Clone()
	clone["gpt"] = UsageEntry{Calls: 99}

	assert.Equal(t, 1, original["gpt"].Calls)
	assert.Equal(t, 99, clone["gpt"].Calls)
}

func TestContextPayloadMetadata(t *testing.T) {
	text := Text("hello world")
	meta := text.Metadata()
	assert.Equal(t, "text", meta.ContextType)
	assert.Equal(t, 11, meta.TotalLength)
	assert.Equal(t, []int{11}, meta.ChunkLengths)

	seq := Sequence{"ab", "cde"}
	seqMeta := seq.Metadata()
	assert.Equal(t, "sequence", seqMeta.ContextType)
	assert.Equal(t, 5, seqMeta.TotalLength)
	assert.ElementsMatch(t, []int{2, 3}, seqMeta.ChunkLengths)

	keyed := Keyed{"x": "ab", "y": "cde"}
	keyedMeta := keyed.Metadata()
	assert.Equal(t, "keyed", keyedMeta.ContextType)
	assert.Equal(t, 5, keyedMeta.TotalLength)
}

func TestQueryMetadataTruncatedChunkLengths(t *testing.T) {
	lengths := make([]int, 150)
	for i := range lengths {
		lengths[i] = i
	}
	meta := QueryMetadata{ChunkLengths: lengths}

	truncated, elided := meta.TruncatedChunkLengths()
	assert.Len(t, truncated, 100)
	assert.Equal(t, 50, elided)

	short := QueryMetadata{ChunkLengths: []int{1, 2, 3}}
	truncated, elided = short.TruncatedChunkLengths()
	assert.Equal(t, []int{1, 2, 3}, truncated)
	assert.Equal(t, 0, elided)
}
