package printer

import (
	"bytes"
	"testing"

	"github.com/dyluth/bazaar/pkg/registry"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStderr(t *testing.T) *bytes.Buffer {
	buf := new(bytes.Buffer)
	prev := stderr
	stderr = buf
	t.Cleanup(func() { stderr = prev })
	return buf
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		captureStderr(t)
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("single suggestion is printed plainly", func(t *testing.T) {
		buf := captureStderr(t)
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, buf.String(), "Try this fix")
		assert.NotContains(t, buf.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		buf := captureStderr(t)
		err := Error("Test Error", "Explanation", []string{"First option", "Second option"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, buf.String(), "Either:")
		assert.Contains(t, buf.String(), "1. First option")
		assert.Contains(t, buf.String(), "2. Second option")
	})
}

func TestErrorWithContext(t *testing.T) {
	buf := captureStderr(t)
	context := map[string]string{
		"Market":   "shop.factory.near",
		"Instance": "test-instance",
	}
	err := ErrorWithContext("Test Error", "Explanation", context, nil)
	require.Equal(t, "Test Error", err.Error())

	out := buf.String()
	assert.Less(t, bytes.Index([]byte(out), []byte("Instance")), bytes.Index([]byte(out), []byte("Market")),
		"context keys are sorted")
}

func TestStage(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	assert.Equal(t, "confirmed", Stage(registry.StageConfirmed))
	assert.Equal(t, "failed", Stage(registry.StageFailed))
	assert.Equal(t, "funded", Stage(registry.StageFunded))
}
