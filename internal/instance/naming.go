// Package instance validates the names that namespace registry state in Redis.
package instance

import (
	"fmt"
	"regexp"
)

// MaxNameLength keeps instance names DNS-compatible.
const MaxNameLength = 63

// NamePattern allows lowercase alphanumerics with inner hyphens.
var NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateName checks that name can prefix Redis keys and be typed on a
// command line without quoting.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}

	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}

	return nil
}
