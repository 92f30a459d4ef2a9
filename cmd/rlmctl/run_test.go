package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ertembiyik/rlm-go/internal/types"
)

func newTestRunCmd(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().String("context", "", "")
	cmd.Flags().String("context-file", "", "")
	return cmd
}

func TestLoadContext_Inline(t *testing.T) {
	cmd := newTestRunCmd(t)
	require.NoError(t, cmd.Flags().Set("context", `{"a":1,"b":"two"}`))

	payload, err := loadContext(cmd, "fallback")
	require.NoError(t, err)
	assert.Equal(t, types.Keyed{"a": float64(1), "b": "two"}, payload)
}

func TestLoadContext_ArrayFile(t *testing.T) {
	cmd := newTestRunCmd(t)
	path := filepath.Join(t.TempDir(), "ctx.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1,2,3]`), 0644))
	require.NoError(t, cmd.Flags().Set("context-file", path))

	payload, err := loadContext(cmd, "fallback")
	require.NoError(t, err)
	assert.Equal(t, types.Sequence{float64(1), float64(2), float64(3)}, payload)
}

func TestLoadContext_NoContextFallsBackToPrompt(t *testing.T) {
	cmd := newTestRunCmd(t)
	payload, err := loadContext(cmd, "the prompt")
	require.NoError(t, err)
	assert.Equal(t, types.Text("the prompt"), payload)
}
