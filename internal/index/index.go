// Package index is the persistent storage index: the single mutable mapping
// from asset id to variant paths, remote reference, lineage, and access
// times. It is owned by the variant store, the mirror, and the sweeper;
// nothing else writes to it.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"genimage/internal/domain"
)

// Entry is one indexed asset: metadata, variant ladder, optional remote ref.
type Entry struct {
	Asset          domain.Asset
	Variants       []domain.VariantRef
	Remote         *domain.RemoteRef
	LastAccessedAt time.Time
}

// Lookup returns the entry's variant of the given kind, if present.
func (e Entry) Lookup(kind domain.VariantKind) (domain.VariantRef, bool) {
	for _, v := range e.Variants {
		if v.Kind == kind {
			return v, true
		}
	}
	return domain.VariantRef{}, false
}

// Index is the SQLite-backed storage index. Asset ids are ULIDs, so lineage
// ordering (edits point strictly backward in time) is encoded in the id
// itself.
type Index struct {
	db      *sql.DB
	locks   *keyedLocks
	entropy *rand.Rand
}

// Open opens or creates the index database at dbPath.
func Open(dbPath string) (*Index, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("index: create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}

	idx := &Index{
		db:      db,
		locks:   newKeyedLocks(),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: migrate: %w", err)
	}
	return idx, nil
}

// Close releases the underlying database handle.
func (i *Index) Close() error {
	return i.db.Close()
}

// NewID mints a new sortable asset id.
func (i *Index) NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), i.entropy).String()
}

func (i *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id                 TEXT PRIMARY KEY,
		width              INTEGER NOT NULL,
		height             INTEGER NOT NULL,
		bytes              INTEGER NOT NULL,
		mime               TEXT NOT NULL,
		parent_id          TEXT,
		remote_id          TEXT,
		remote_uri         TEXT,
		remote_expires_at  TEXT,
		previous_remote_id TEXT,
		created_at         TEXT NOT NULL,
		last_accessed_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assets_parent ON assets(parent_id);
	CREATE INDEX IF NOT EXISTS idx_assets_remote_expiry ON assets(remote_expires_at);
	CREATE INDEX IF NOT EXISTS idx_assets_accessed ON assets(last_accessed_at);

	CREATE TABLE IF NOT EXISTS variants (
		asset_id    TEXT NOT NULL REFERENCES assets(id),
		kind        TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		width       INTEGER NOT NULL,
		height      INTEGER NOT NULL,
		bytes       INTEGER NOT NULL,
		mime        TEXT NOT NULL,
		degraded    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (asset_id, kind)
	);
	`
	_, err := i.db.Exec(schema)
	return err
}

// CreateEntry inserts the asset and its full variant ladder in one
// transaction. The pipeline calls this only after every variant file is on
// disk, so a crash or cancellation never leaves an index entry pointing at
// partial state.
func (i *Index) CreateEntry(ctx context.Context, e Entry) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin: %w", err)
	}
	defer tx.Rollback()

	var parent any
	if e.Asset.ParentID != "" {
		parent = e.Asset.ParentID
	}
	accessed := e.LastAccessedAt
	if accessed.IsZero() {
		accessed = e.Asset.CreatedAt
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO assets (id, width, height, bytes, mime, parent_id, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Asset.ID, e.Asset.Width, e.Asset.Height, e.Asset.Bytes, e.Asset.MIME,
		parent, formatTime(e.Asset.CreatedAt), formatTime(accessed))
	if err != nil {
		return fmt.Errorf("index: insert asset: %w", err)
	}

	for _, v := range e.Variants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO variants (asset_id, kind, storage_key, width, height, bytes, mime, degraded)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Asset.ID, string(v.Kind), v.StorageKey, v.Width, v.Height, v.Bytes, v.MIME, boolInt(v.Degraded))
		if err != nil {
			return fmt.Errorf("index: insert variant %s: %w", v.Kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	return nil
}

// Get loads one entry. Returns domain.ErrNotFound for unknown ids.
func (i *Index) Get(ctx context.Context, id string) (Entry, error) {
	row := i.db.QueryRowContext(ctx, `
		SELECT id, width, height, bytes, mime, parent_id,
		       remote_id, remote_uri, remote_expires_at, previous_remote_id,
		       created_at, last_accessed_at
		FROM assets WHERE id = ?`, id)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, fmt.Errorf("index: asset %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("index: get asset: %w", err)
	}

	rows, err := i.db.QueryContext(ctx, `
		SELECT kind, storage_key, width, height, bytes, mime, degraded
		FROM variants WHERE asset_id = ? ORDER BY width`, id)
	if err != nil {
		return Entry{}, fmt.Errorf("index: get variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.VariantRef
		var kind string
		var degraded int
		if err := rows.Scan(&kind, &v.StorageKey, &v.Width, &v.Height, &v.Bytes, &v.MIME, &degraded); err != nil {
			return Entry{}, fmt.Errorf("index: scan variant: %w", err)
		}
		v.Kind = domain.VariantKind(kind)
		v.Degraded = degraded != 0
		e.Variants = append(e.Variants, v)
	}
	return e, rows.Err()
}

// Touch records an access so LRU eviction sees fresh usage.
func (i *Index) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := i.db.ExecContext(ctx,
		`UPDATE assets SET last_accessed_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("index: touch: %w", err)
	}
	return nil
}

// SetRemoteRef records a new remote reference for the asset, superseding any
// current one. Callers must hold the asset's lock.
func (i *Index) SetRemoteRef(ctx context.Context, id string, ref domain.RemoteRef) error {
	var prev any
	if ref.PreviousRef != "" {
		prev = ref.PreviousRef
	}
	res, err := i.db.ExecContext(ctx, `
		UPDATE assets
		SET remote_id = ?, remote_uri = ?, remote_expires_at = ?, previous_remote_id = ?
		WHERE id = ?`,
		ref.ID, ref.URI, formatTime(ref.ExpiresAt), prev, id)
	if err != nil {
		return fmt.Errorf("index: set remote ref: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: asset %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ClearRemoteRef drops the remote reference record; the asset stays local.
func (i *Index) ClearRemoteRef(ctx context.Context, id string) error {
	_, err := i.db.ExecContext(ctx, `
		UPDATE assets
		SET remote_id = NULL, remote_uri = NULL, remote_expires_at = NULL
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("index: clear remote ref: %w", err)
	}
	return nil
}

// ListExpiredRemotes returns entries whose remote refs lapsed before cutoff
// and that have not been accessed since accessedBefore. Recently accessed
// assets keep their expired ref so the next re-upload can record it as the
// previous reference.
func (i *Index) ListExpiredRemotes(ctx context.Context, cutoff, accessedBefore time.Time) ([]Entry, error) {
	return i.listEntries(ctx, `
		SELECT id, width, height, bytes, mime, parent_id,
		       remote_id, remote_uri, remote_expires_at, previous_remote_id,
		       created_at, last_accessed_at
		FROM assets
		WHERE remote_id IS NOT NULL AND remote_expires_at < ?
		  AND last_accessed_at < ?`, formatTime(cutoff), formatTime(accessedBefore))
}

// ListByOldestAccess returns all entries, least recently accessed first.
func (i *Index) ListByOldestAccess(ctx context.Context) ([]Entry, error) {
	return i.listEntries(ctx, `
		SELECT id, width, height, bytes, mime, parent_id,
		       remote_id, remote_uri, remote_expires_at, previous_remote_id,
		       created_at, last_accessed_at
		FROM assets ORDER BY last_accessed_at ASC`)
}

func (i *Index) listEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// HasChildren reports whether any retained asset points at id as its parent.
// Such parents are never evicted.
func (i *Index) HasChildren(ctx context.Context, id string) (bool, error) {
	var n int
	err := i.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assets WHERE parent_id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("index: has children: %w", err)
	}
	return n > 0, nil
}

// TotalLocalBytes sums the stored bytes of all variant files. Degraded rungs
// share the original's file, so identical storage keys count once.
func (i *Index) TotalLocalBytes(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := i.db.QueryRowContext(ctx, `
		SELECT SUM(bytes) FROM (
			SELECT storage_key, MAX(bytes) AS bytes FROM variants GROUP BY storage_key
		)`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("index: total bytes: %w", err)
	}
	return total.Int64, nil
}

// CountAssets returns the number of indexed assets.
func (i *Index) CountAssets(ctx context.Context) (int64, error) {
	var n int64
	if err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count assets: %w", err)
	}
	return n, nil
}

// RemoteUsageBytes sums original sizes of assets with a live remote ref.
func (i *Index) RemoteUsageBytes(ctx context.Context, now time.Time) (int64, error) {
	var total sql.NullInt64
	err := i.db.QueryRowContext(ctx, `
		SELECT SUM(bytes) FROM assets
		WHERE remote_id IS NOT NULL AND remote_expires_at >= ?`, formatTime(now)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("index: remote usage: %w", err)
	}
	return total.Int64, nil
}

// DeleteEntry removes an asset and its variant rows. Only the sweeper calls
// this; the generation path never removes entries.
func (i *Index) DeleteEntry(ctx context.Context, id string) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM variants WHERE asset_id = ?`, id); err != nil {
		return fmt.Errorf("index: delete variants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: delete asset: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	return nil
}

// Lock acquires the per-asset lock. Creating a brand-new asset id needs no
// lock; only updates to an existing asset's remote ref take one.
func (i *Index) Lock(id string) {
	i.locks.lock(id)
}

// TryLock acquires the per-asset lock without blocking. The sweeper uses
// this to skip assets with an in-flight generation instead of waiting.
func (i *Index) TryLock(id string) bool {
	return i.locks.tryLock(id)
}

// Unlock releases the per-asset lock.
func (i *Index) Unlock(id string) {
	i.locks.unlock(id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var parent, remoteID, remoteURI, remoteExpires, prevRemote sql.NullString
	var createdAt, accessedAt string

	err := row.Scan(&e.Asset.ID, &e.Asset.Width, &e.Asset.Height, &e.Asset.Bytes, &e.Asset.MIME,
		&parent, &remoteID, &remoteURI, &remoteExpires, &prevRemote, &createdAt, &accessedAt)
	if err != nil {
		return Entry{}, err
	}

	e.Asset.ParentID = parent.String
	e.Asset.CreatedAt = parseTime(createdAt)
	e.LastAccessedAt = parseTime(accessedAt)

	if remoteID.Valid {
		e.Remote = &domain.RemoteRef{
			ID:          remoteID.String,
			URI:         remoteURI.String,
			ExpiresAt:   parseTime(remoteExpires.String),
			PreviousRef: prevRemote.String,
		}
	}
	return e, nil
}

// timeLayout is fixed-width so stored timestamps order lexicographically;
// RFC3339Nano trims trailing zeros and would break ORDER BY comparisons.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
