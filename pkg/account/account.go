// Package account defines platform account identifiers and the naming rules
// used to derive marketplace accounts under the factory account.
//
// Account IDs are dot-separated parts of lowercase alphanumerics, where each
// part may contain single '-' or '_' separators (never leading, trailing or
// doubled). A marketplace ID is always a direct sub-account of the factory:
// "{prefix}.{factory}".
package account

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	// MinLength is the shortest valid account ID.
	MinLength = 2

	// MaxLength is the longest valid account ID.
	MaxLength = 64
)

var (
	// idPattern matches a full account ID (one or more dot-separated parts)
	idPattern = regexp.MustCompile(`^(([a-z\d]+[-_])*[a-z\d]+\.)*([a-z\d]+[-_])*[a-z\d]+$`)

	// partPattern matches a single part, i.e. a sub-account prefix
	partPattern = regexp.MustCompile(`^([a-z\d]+[-_])*[a-z\d]+$`)
)

// ID is a platform account identifier. Owners and marketplaces share the
// same identifier space.
type ID string

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// Validate checks the ID against the platform naming rules.
func (id ID) Validate() error {
	s := string(id)
	if len(s) < MinLength || len(s) > MaxLength {
		return fmt.Errorf("invalid account ID %q: length must be between %d and %d, got %d", s, MinLength, MaxLength, len(s))
	}
	if !idPattern.MatchString(s) {
		return fmt.Errorf("invalid account ID %q: must be lowercase alphanumeric parts separated by '.', with single '-' or '_' inside parts", s)
	}
	return nil
}

// Parse validates s and returns it as an ID.
func Parse(s string) (ID, error) {
	id := ID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Sub derives the direct sub-account "{prefix}.{parent}".
// The result is a pure function of its inputs: the same prefix and parent
// always yield the same ID, and distinct prefixes under one parent never
// collide.
func Sub(prefix string, parent ID) (ID, error) {
	if !partPattern.MatchString(prefix) {
		return "", fmt.Errorf("invalid prefix %q: must be a single lowercase alphanumeric part ('-' or '_' allowed inside)", prefix)
	}
	if err := parent.Validate(); err != nil {
		return "", fmt.Errorf("invalid parent account: %w", err)
	}
	return Parse(prefix + "." + string(parent))
}

// IsDirectSubOf reports whether id is "{part}.{parent}" for a single part.
func (id ID) IsDirectSubOf(parent ID) bool {
	prefix, ok := strings.CutSuffix(string(id), "."+string(parent))
	return ok && partPattern.MatchString(prefix)
}

// Hash returns the hex-encoded SHA-256 of the ID. It is used to bound
// per-account storage key namespaces.
func (id ID) Hash() string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}
