package client

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeminiClient(t *testing.T) {
	os.Setenv("GEMINI_API_KEY", "")

	_, err := NewGeminiClient(context.Background(), "", "")
	require.Error(t, err, "expected error when GEMINI_API_KEY is missing")

	c, err := NewGeminiClient(context.Background(), "dummy-key", "gemini-model")
	require.NoError(t, err)
	assert.Equal(t, "gemini-model", c.Name())
}

func TestNewGeminiClientDefaultModel(t *testing.T) {
	c, err := NewGeminiClient(context.Background(), "dummy-key", "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", c.Name())
}
