// Package artifact provides the marketplace binary installed into every new
// marketplace account. The default build embeds market.wasm; a config path
// overrides it.
package artifact

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

//go:embed market.wasm
var embedded []byte

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// ErrNotWasm is returned when the artifact lacks the WebAssembly header.
var ErrNotWasm = errors.New("artifact is not a WebAssembly module")

// Embedded returns a copy of the built-in marketplace artifact.
func Embedded() []byte {
	return append([]byte(nil), embedded...)
}

// Load reads the artifact at path, or returns the embedded one when path is
// empty.
func Load(path string) ([]byte, error) {
	if path == "" {
		return Embedded(), nil
	}

	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	if err := Check(code); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}

// Check verifies the WebAssembly magic number and version.
func Check(code []byte) error {
	if len(code) < 8 || !bytes.Equal(code[:4], wasmMagic) {
		return ErrNotWasm
	}
	if code[4] != 0x01 {
		return fmt.Errorf("%w: unsupported version %d", ErrNotWasm, code[4])
	}
	return nil
}

// Hash returns the hex SHA-256 of code.
func Hash(code []byte) string {
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:])
}
