package ports

import (
	"context"
	"io"
)

// PhotoStore keeps uploaded profile photos and hands back opaque references.
type PhotoStore interface {
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Delete removes a stored photo. Deleting an unknown reference is not an error.
	Delete(ctx context.Context, ref string) error
}
