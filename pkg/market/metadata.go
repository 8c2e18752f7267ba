// Package market defines the boundary contract with the marketplace artifact:
// its contract metadata and the arguments of its remote initializer.
//
// Initializer arguments are serialized with Borsh, the platform's canonical
// binary encoding. Field order in InitArgs and Metadata is part of the wire
// format and must not change.
package market

import (
	"errors"
	"fmt"

	"github.com/near/borsh-go"
)

// InitMethod is the initializer entry point exposed by the marketplace artifact.
const InitMethod = "new"

// ReferenceHashLength is the required length of Metadata.ReferenceHash.
const ReferenceHashLength = 32

// ErrInvalidMetadata is wrapped by every metadata validation failure.
var ErrInvalidMetadata = errors.New("invalid marketplace metadata")

// Metadata describes a marketplace contract. Optional fields are pointers so
// that they encode as Borsh options.
type Metadata struct {
	Spec          string  `json:"spec" yaml:"spec"`                                         // Metadata spec version, e.g. "nft-1.0.0"
	Name          string  `json:"name" yaml:"name"`                                         // Display name
	Symbol        string  `json:"symbol" yaml:"symbol"`                                     // Short ticker-like symbol
	Icon          *string `json:"icon,omitempty" yaml:"icon,omitempty"`                     // Data URL
	BaseURI       *string `json:"base_uri,omitempty" yaml:"base_uri,omitempty"`             // Decentralized storage gateway
	Reference     *string `json:"reference,omitempty" yaml:"reference,omitempty"`           // URL to a JSON file with more info
	ReferenceHash *[]byte `json:"reference_hash,omitempty" yaml:"reference_hash,omitempty"` // SHA-256 of the reference JSON
}

// Validate checks the rules the marketplace artifact enforces at initialization.
func (m *Metadata) Validate() error {
	if m.Spec == "" {
		return fmt.Errorf("%w: spec cannot be empty", ErrInvalidMetadata)
	}
	if m.Name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidMetadata)
	}
	if m.Symbol == "" {
		return fmt.Errorf("%w: symbol cannot be empty", ErrInvalidMetadata)
	}
	if (m.Reference == nil) != (m.ReferenceHash == nil) {
		return fmt.Errorf("%w: reference and reference_hash must be set together", ErrInvalidMetadata)
	}
	if m.ReferenceHash != nil && len(*m.ReferenceHash) != ReferenceHashLength {
		return fmt.Errorf("%w: reference_hash must be %d bytes, got %d", ErrInvalidMetadata, ReferenceHashLength, len(*m.ReferenceHash))
	}
	return nil
}

// InitArgs are the arguments of the artifact's remote initializer.
type InitArgs struct {
	OwnerID             string   `json:"owner_id"`
	MarketplaceMetadata Metadata `json:"marketplace_metadata"`
}

// EncodeInitArgs serializes args in the canonical binary encoding.
func EncodeInitArgs(args InitArgs) ([]byte, error) {
	data, err := borsh.Serialize(args)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize initializer args: %w", err)
	}
	return data, nil
}

// DecodeInitArgs is the inverse of EncodeInitArgs.
func DecodeInitArgs(data []byte) (*InitArgs, error) {
	var args InitArgs
	if err := borsh.Deserialize(&args, data); err != nil {
		return nil, fmt.Errorf("failed to deserialize initializer args: %w", err)
	}
	return &args, nil
}
