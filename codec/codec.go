// Package codec provides the payload encodings used when messages or
// journal snapshots leave the running process, plus the transferability
// gate every payload must pass before it crosses an actor boundary.
package codec

import (
	"fmt"
	"strings"
)

// Codec marshals values for transfer or export.
// Implementations must be safe for concurrent use.
type Codec interface {
	// ContentType returns the MIME content type produced by Marshal.
	ContentType() string

	// Marshal encodes v.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into v.
	Unmarshal(data []byte, v any) error
}

// Format names accepted by ForFormat and the journal configuration.
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// ForFormat returns the codec for a short format name ("json", "cbor").
func ForFormat(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case FormatJSON, "":
		return JSON(), nil
	case FormatCBOR:
		return CBOR()
	default:
		return nil, fmt.Errorf("unsupported codec format %q", name)
	}
}
