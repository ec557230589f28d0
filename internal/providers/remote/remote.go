// Package remote uploads asset originals to an external file service and
// hands back time-limited references. Implementations cover an HTTP files API
// and S3-compatible object storage with presigned URLs.
package remote

import (
	"context"
	"fmt"
	"time"

	"genimage/internal/domain"
)

// DefaultTTL is how long an uploaded file stays retrievable when the backing
// service does not report its own expiry.
const DefaultTTL = 48 * time.Hour

// Service is the contract the mirror layer depends on. Get returns
// domain.ErrNotFound when the id is unknown or the file is already gone on
// the remote side.
type Service interface {
	Upload(ctx context.Context, data []byte, mime string) (domain.RemoteRef, error)
	Get(ctx context.Context, id string) (domain.RemoteRef, error)
	Delete(ctx context.Context, id string) error
}

// Disabled is the no-mirror configuration. Uploads report failure so
// callers fall back to inline bytes; lookups find nothing.
type Disabled struct{}

var _ Service = Disabled{}

func (Disabled) Upload(ctx context.Context, data []byte, mime string) (domain.RemoteRef, error) {
	return domain.RemoteRef{}, fmt.Errorf("remote: mirroring disabled: %w", domain.ErrUploadFailed)
}

func (Disabled) Get(ctx context.Context, id string) (domain.RemoteRef, error) {
	return domain.RemoteRef{}, domain.ErrNotFound
}

func (Disabled) Delete(ctx context.Context, id string) error { return nil }
