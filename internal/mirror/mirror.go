// Package mirror keeps assets retrievable from the remote file service,
// re-uploading originals whose remote references have expired.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"genimage/internal/domain"
	"genimage/internal/index"
	"genimage/internal/infra"
	"genimage/internal/providers/remote"
	"genimage/internal/storage"
)

const (
	uploadAttempts = 3
	backoffBase    = 500 * time.Millisecond
)

// Mirror reconciles the index's remote references against the remote service.
type Mirror struct {
	idx    *index.Index
	files  *storage.FileStore
	remote remote.Service
	logger infra.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New builds a mirror over the index, the local file store, and the remote
// service.
func New(idx *index.Index, files *storage.FileStore, svc remote.Service, logger infra.Logger) *Mirror {
	return &Mirror{
		idx:    idx,
		files:  files,
		remote: svc,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// EnsureAvailable returns a live remote reference for the asset, re-uploading
// the local original when the current reference has expired or the remote
// side dropped it early. Concurrent calls for the same asset serialize on the
// per-asset lock so at most one upload runs; other assets proceed in
// parallel.
//
// Failure modes: repeated upload failure wraps domain.ErrUploadFailed and
// leaves the stale reference in place; a missing local original combined
// with a dead remote wraps domain.ErrAssetUnavailable.
func (m *Mirror) EnsureAvailable(ctx context.Context, assetID string) (domain.RemoteRef, error) {
	m.idx.Lock(assetID)
	defer m.idx.Unlock(assetID)

	entry, err := m.idx.Get(ctx, assetID)
	if err != nil {
		return domain.RemoteRef{}, err
	}

	if entry.Remote != nil && !entry.Remote.Expired(m.now()) {
		// The clock says it is live, but the remote side may have dropped it
		// early. Verify before handing the ref out.
		if _, err := m.remote.Get(ctx, entry.Remote.ID); err == nil {
			return *entry.Remote, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return domain.RemoteRef{}, err
		}
		m.logger.Warn().
			Str("asset_id", assetID).
			Str("remote_id", entry.Remote.ID).
			Msg("mirror: remote dropped a reference before its expiry")
	}

	return m.reupload(ctx, entry)
}

func (m *Mirror) reupload(ctx context.Context, entry index.Entry) (domain.RemoteRef, error) {
	assetID := entry.Asset.ID

	original, ok := entry.Lookup(domain.VariantOriginal)
	if !ok {
		return domain.RemoteRef{}, fmt.Errorf("mirror: asset %s has no original: %w", assetID, domain.ErrAssetUnavailable)
	}
	data, err := m.files.Read(ctx, original.StorageKey)
	if err != nil {
		// The local copy is gone and the remote one is expired or missing.
		// Nothing left to serve from.
		return domain.RemoteRef{}, fmt.Errorf("mirror: asset %s lost locally and remotely: %w", assetID, domain.ErrAssetUnavailable)
	}

	ref, err := m.uploadWithRetry(ctx, data, original.MIME)
	if err != nil {
		return domain.RemoteRef{}, fmt.Errorf("mirror: re-upload asset %s: %w: %v", assetID, domain.ErrUploadFailed, err)
	}

	// Keep the chain: the superseded id stays on the new ref so stale URIs
	// in flight can be traced back.
	if entry.Remote != nil {
		ref.PreviousRef = entry.Remote.ID
	}
	if err := m.idx.SetRemoteRef(ctx, assetID, ref); err != nil {
		return domain.RemoteRef{}, err
	}

	m.logger.Info().
		Str("asset_id", assetID).
		Str("remote_id", ref.ID).
		Str("previous_ref", ref.PreviousRef).
		Time("expires_at", ref.ExpiresAt).
		Msg("mirror: re-uploaded asset")
	return ref, nil
}

func (m *Mirror) uploadWithRetry(ctx context.Context, data []byte, mime string) (domain.RemoteRef, error) {
	var lastErr error
	for attempt := 0; attempt < uploadAttempts; attempt++ {
		if attempt > 0 {
			if err := m.sleep(ctx, backoffBase<<(attempt-1)); err != nil {
				return domain.RemoteRef{}, err
			}
		}
		ref, err := m.remote.Upload(ctx, data, mime)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		m.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("mirror: upload attempt failed")
	}
	return domain.RemoteRef{}, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
