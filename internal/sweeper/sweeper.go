// Package sweeper runs periodic maintenance over the asset store: clearing
// expired remote references, evicting cold assets past the local byte
// budget, and reporting remote quota pressure.
package sweeper

import (
	"context"
	"time"

	"genimage/internal/index"
	"genimage/internal/infra"
	"genimage/internal/providers/remote"
	"genimage/internal/storage"
)

// Config bounds the sweeps. Zero values disable the corresponding pass.
type Config struct {
	// LocalBudgetBytes is the target ceiling for on-disk variant storage.
	LocalBudgetBytes int64
	// RemoteQuotaBytes is the advisory quota for live remote uploads.
	RemoteQuotaBytes int64
	// AccessGrace keeps expired remote refs on assets accessed within the
	// window, preserving the previous-reference chain when the next access
	// re-uploads. Zero means DefaultAccessGrace.
	AccessGrace time.Duration
	// DryRun reports what a sweep would do without deleting anything.
	DryRun bool
}

// DefaultAccessGrace is the access window that protects expired remote refs
// on active assets from the expiry pass.
const DefaultAccessGrace = time.Hour

// Report summarizes one full sweep.
type Report struct {
	ExpiredCleared   int
	Evicted          int
	BytesFreed       int64
	SkippedInUse     int
	SkippedParents   int
	RemoteUsageBytes int64
	OverQuota        bool
	Duration         time.Duration
}

// Sweeper owns the three maintenance passes. The passes are independent: a
// failure in one is logged and the others still run.
type Sweeper struct {
	idx    *index.Index
	files  *storage.FileStore
	remote remote.Service
	cfg    Config
	logger infra.Logger
	now    func() time.Time
}

// New builds a sweeper. The remote service may be nil; expired references
// are then cleared from the index without remote-side deletes.
func New(idx *index.Index, files *storage.FileStore, svc remote.Service, cfg Config, logger infra.Logger) *Sweeper {
	return &Sweeper{idx: idx, files: files, remote: svc, cfg: cfg, logger: logger, now: time.Now}
}

// Sweep runs all three passes and returns the combined report.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	start := s.now()
	var report Report

	s.sweepExpiredRemotes(ctx, &report)
	s.sweepLocal(ctx, &report)
	s.checkRemoteQuota(ctx, &report)

	report.Duration = s.now().Sub(start)
	s.logger.Info().
		Int("expired_cleared", report.ExpiredCleared).
		Int("evicted", report.Evicted).
		Int64("bytes_freed", report.BytesFreed).
		Int64("remote_usage", report.RemoteUsageBytes).
		Bool("over_quota", report.OverQuota).
		Dur("duration", report.Duration).
		Msg("sweeper: sweep complete")
	return report
}

// sweepExpiredRemotes clears references whose expiry has passed on assets
// with no recent access. The local asset stays; a later retrieval re-uploads
// on demand. Actively used assets keep the lapsed ref so the re-upload path
// can chain it as the previous reference.
func (s *Sweeper) sweepExpiredRemotes(ctx context.Context, report *Report) {
	grace := s.cfg.AccessGrace
	if grace <= 0 {
		grace = DefaultAccessGrace
	}
	now := s.now()
	expired, err := s.idx.ListExpiredRemotes(ctx, now, now.Add(-grace))
	if err != nil {
		s.logger.Error().Err(err).Msg("sweeper: list expired remotes")
		return
	}

	for _, entry := range expired {
		if err := ctx.Err(); err != nil {
			return
		}
		if s.cfg.DryRun {
			report.ExpiredCleared++
			continue
		}
		if s.remote != nil && entry.Remote != nil {
			// Best effort: the remote side usually reaps expired files on
			// its own.
			if err := s.remote.Delete(ctx, entry.Remote.ID); err != nil {
				s.logger.Warn().Err(err).
					Str("asset_id", entry.Asset.ID).
					Str("remote_id", entry.Remote.ID).
					Msg("sweeper: remote delete failed")
			}
		}
		if err := s.idx.ClearRemoteRef(ctx, entry.Asset.ID); err != nil {
			s.logger.Error().Err(err).Str("asset_id", entry.Asset.ID).Msg("sweeper: clear remote ref")
			continue
		}
		report.ExpiredCleared++
	}
}

// sweepLocal evicts least-recently-accessed assets until disk usage is back
// under the budget. Assets that are parents of edits are kept so lineage
// chains stay resolvable, and assets locked by in-flight requests are
// skipped rather than waited on.
func (s *Sweeper) sweepLocal(ctx context.Context, report *Report) {
	if s.cfg.LocalBudgetBytes <= 0 {
		return
	}
	total, err := s.idx.TotalLocalBytes(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweeper: total local bytes")
		return
	}
	if total <= s.cfg.LocalBudgetBytes {
		return
	}
	toFree := total - s.cfg.LocalBudgetBytes

	entries, err := s.idx.ListByOldestAccess(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweeper: list by oldest access")
		return
	}

	for _, entry := range entries {
		if report.BytesFreed >= toFree {
			break
		}
		if err := ctx.Err(); err != nil {
			return
		}

		id := entry.Asset.ID
		hasChildren, err := s.idx.HasChildren(ctx, id)
		if err != nil {
			s.logger.Error().Err(err).Str("asset_id", id).Msg("sweeper: lineage check")
			continue
		}
		if hasChildren {
			report.SkippedParents++
			continue
		}
		if !s.idx.TryLock(id) {
			report.SkippedInUse++
			continue
		}

		var freed int64
		if s.cfg.DryRun {
			freed = entryBytes(entry)
		} else {
			freed = s.evict(ctx, entry)
		}
		s.idx.Unlock(id)
		if freed > 0 {
			report.Evicted++
			report.BytesFreed += freed
		}
	}
}

// evict removes the entry's files and index row, returning the bytes freed.
// The index row goes first so a crash mid-delete leaves orphan files, never
// dangling index entries.
func (s *Sweeper) evict(ctx context.Context, entry index.Entry) int64 {
	id := entry.Asset.ID
	if err := s.idx.DeleteEntry(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("asset_id", id).Msg("sweeper: delete entry")
		return 0
	}

	var freed int64
	seen := make(map[string]bool)
	for _, v := range entry.Variants {
		if seen[v.StorageKey] {
			continue
		}
		seen[v.StorageKey] = true
		if err := s.files.Remove(ctx, v.StorageKey); err != nil {
			s.logger.Warn().Err(err).Str("key", v.StorageKey).Msg("sweeper: remove file")
			continue
		}
		freed += v.Bytes
	}

	s.logger.Debug().
		Str("asset_id", id).
		Int64("bytes", freed).
		Time("last_accessed", entry.LastAccessedAt).
		Msg("sweeper: evicted asset")
	return freed
}

// entryBytes sums an entry's on-disk footprint, counting shared storage keys
// once.
func entryBytes(entry index.Entry) int64 {
	var total int64
	seen := make(map[string]bool)
	for _, v := range entry.Variants {
		if seen[v.StorageKey] {
			continue
		}
		seen[v.StorageKey] = true
		total += v.Bytes
	}
	return total
}

// checkRemoteQuota reports live remote usage against the advisory quota.
// Nothing is deleted here; the number feeds capacity decisions.
func (s *Sweeper) checkRemoteQuota(ctx context.Context, report *Report) {
	usage, err := s.idx.RemoteUsageBytes(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("sweeper: remote usage")
		return
	}
	report.RemoteUsageBytes = usage
	if s.cfg.RemoteQuotaBytes > 0 && usage > s.cfg.RemoteQuotaBytes {
		report.OverQuota = true
		s.logger.Warn().
			Int64("usage", usage).
			Int64("quota", s.cfg.RemoteQuotaBytes).
			Msg("sweeper: remote usage over quota")
	}
}
