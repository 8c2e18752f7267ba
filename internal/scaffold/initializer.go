// Package scaffold writes a starter bazaar.yml for 'bazaar init'.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/bazaar/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ErrAlreadyInitialized is returned when the target already holds a config.
var ErrAlreadyInitialized = fmt.Errorf("configuration already exists")

// Template returns the starter configuration.
func Template() ([]byte, error) {
	content, err := templatesFS.ReadFile("templates/bazaar.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read bazaar.yml template: %w", err)
	}
	return content, nil
}

// CheckExisting fails if dir already contains bazaar.yml.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, config.DefaultPath)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, path)
	}
	return nil
}

// Initialize writes bazaar.yml into dir and returns its path. Without force
// an existing file is left alone.
func Initialize(dir string, force bool) (string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return "", err
		}
	}

	content, err := Template()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, config.DefaultPath)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	// The written file must load cleanly
	if _, err := config.Load(path); err != nil {
		return "", fmt.Errorf("created %s is invalid: %w", path, err)
	}

	return path, nil
}
