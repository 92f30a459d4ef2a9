package container

import (
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ertembiyik/rlm-go/internal/types"
)

func requireDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping container sandbox integration tests")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not found, skipping container sandbox integration tests")
	}
}

func TestBackend_VariablePersistence(t *testing.T) {
	requireDocker(t)

	b := New(Config{}, "127.0.0.1:0", "test-token", 0)
	require.NoError(t, b.Setup(context.Background()))
	defer b.Cleanup()

	_, err := b.Execute(context.Background(), "x = 42")
	require.NoError(t, err)

	result, err := b.Execute(context.Background(), "print(x)")
	require.NoError(t, err)
	assert.Equal(t, "42\n", result.Stdout)
}

func TestBackend_LoadContext(t *testing.T) {
	requireDocker(t)

	b := New(Config{}, "127.0.0.1:0", "test-token", 0)
	require.NoError(t, b.Setup(context.Background()))
	defer b.Cleanup()

	require.NoError(t, b.LoadContext(context.Background(), types.Text("hello world")))

	result, err := b.Execute(context.Background(), "print(context)")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", result.Stdout)
}
