package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedded_IsWasm(t *testing.T) {
	code := Embedded()
	require.NoError(t, Check(code))

	// Callers get their own copy
	code[0] = 0xff
	assert.NoError(t, Check(Embedded()))
}

func TestLoad(t *testing.T) {
	t.Run("empty path uses embedded", func(t *testing.T) {
		code, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Hash(Embedded()), Hash(code))
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.wasm")
		want := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
		require.NoError(t, os.WriteFile(path, want, 0o644))

		code, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, want, code)
	})

	t.Run("rejects non-wasm", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.wasm")
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho"), 0o644))

		_, err := Load(path)
		require.ErrorIs(t, err, ErrNotWasm)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.wasm"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read artifact")
	})
}

func TestCheck_UnsupportedVersion(t *testing.T) {
	err := Check([]byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, ErrNotWasm)
	assert.Contains(t, err.Error(), "unsupported version 2")
}
