package imaging

import (
	"context"
	"fmt"
)

// Encoder writes a WebP rendition of src to dst at the given quality (0-100).
// dst either ends up complete or is left untouched.
type Encoder interface {
	Encode(ctx context.Context, src, dst string, quality int) error
	Name() string
}

const (
	BackendNative = "native"
	BackendCwebp  = "cwebp"
)

// NewEncoder picks the backend by name. cwebpPath is only used by the cwebp backend.
func NewEncoder(backend, cwebpPath string) (Encoder, error) {
	switch backend {
	case "", BackendNative:
		return NewNativeEncoder(), nil
	case BackendCwebp:
		return NewCwebpEncoder(cwebpPath), nil
	default:
		return nil, fmt.Errorf("unknown encoder backend %q", backend)
	}
}
