package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"genimage/internal/domain"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func testEntry(idx *Index, bytes int64, created time.Time) Entry {
	id := idx.NewID()
	return Entry{
		Asset: domain.Asset{
			ID: id, Width: 1024, Height: 768, Bytes: bytes,
			MIME: "image/png", CreatedAt: created,
		},
		Variants: []domain.VariantRef{
			{Kind: domain.VariantThumbnail, StorageKey: id + "/thumb.jpg", Width: 256, Height: 192, Bytes: bytes / 10, MIME: "image/jpeg"},
			{Kind: domain.VariantOriginal, StorageKey: id + "/original.png", Width: 1024, Height: 768, Bytes: bytes, MIME: "image/png"},
		},
		LastAccessedAt: created,
	}
}

func TestCreateAndGet(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	e := testEntry(idx, 1000, time.Now())
	if err := idx.CreateEntry(ctx, e); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	got, err := idx.Get(ctx, e.Asset.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Asset.ID != e.Asset.ID || got.Asset.Bytes != 1000 || got.Asset.MIME != "image/png" {
		t.Fatalf("asset mismatch: %+v", got.Asset)
	}
	if len(got.Variants) != 2 {
		t.Fatalf("variants = %d, want 2", len(got.Variants))
	}
	if got.Remote != nil {
		t.Fatal("fresh entry has a remote ref")
	}

	if _, err := idx.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get unknown: %v, want ErrNotFound", err)
	}
}

func TestRemoteRefLifecycle(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	e := testEntry(idx, 500, time.Now())
	if err := idx.CreateEntry(ctx, e); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	first := domain.RemoteRef{ID: "files/abc", URI: "https://remote/abc", ExpiresAt: time.Now().Add(48 * time.Hour)}
	if err := idx.SetRemoteRef(ctx, e.Asset.ID, first); err != nil {
		t.Fatalf("SetRemoteRef: %v", err)
	}

	got, err := idx.Get(ctx, e.Asset.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Remote == nil || got.Remote.ID != "files/abc" {
		t.Fatalf("remote = %+v", got.Remote)
	}

	// Superseding keeps the old id as the previous ref.
	second := domain.RemoteRef{ID: "files/def", URI: "https://remote/def",
		ExpiresAt: time.Now().Add(48 * time.Hour), PreviousRef: "files/abc"}
	if err := idx.SetRemoteRef(ctx, e.Asset.ID, second); err != nil {
		t.Fatalf("SetRemoteRef supersede: %v", err)
	}
	got, _ = idx.Get(ctx, e.Asset.ID)
	if got.Remote.ID != "files/def" || got.Remote.PreviousRef != "files/abc" {
		t.Fatalf("superseded remote = %+v", got.Remote)
	}

	if err := idx.ClearRemoteRef(ctx, e.Asset.ID); err != nil {
		t.Fatalf("ClearRemoteRef: %v", err)
	}
	got, _ = idx.Get(ctx, e.Asset.ID)
	if got.Remote != nil {
		t.Fatalf("remote after clear = %+v", got.Remote)
	}

	if err := idx.SetRemoteRef(ctx, "nope", first); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetRemoteRef unknown: %v", err)
	}
}

func TestListExpiredRemotes(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	now := time.Now()

	live := testEntry(idx, 100, now)
	cold := testEntry(idx, 100, now.Add(-2*time.Hour))
	active := testEntry(idx, 100, now)
	for _, e := range []Entry{live, cold, active} {
		if err := idx.CreateEntry(ctx, e); err != nil {
			t.Fatalf("CreateEntry: %v", err)
		}
	}
	idx.SetRemoteRef(ctx, live.Asset.ID, domain.RemoteRef{ID: "files/live", URI: "u", ExpiresAt: now.Add(time.Hour)})
	idx.SetRemoteRef(ctx, cold.Asset.ID, domain.RemoteRef{ID: "files/old", URI: "u", ExpiresAt: now.Add(-time.Hour)})
	idx.SetRemoteRef(ctx, active.Asset.ID, domain.RemoteRef{ID: "files/warm", URI: "u", ExpiresAt: now.Add(-time.Hour)})

	// Only the expired ref on the cold asset qualifies; the one on the
	// recently accessed asset is held back.
	got, err := idx.ListExpiredRemotes(ctx, now, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListExpiredRemotes: %v", err)
	}
	if len(got) != 1 || got[0].Asset.ID != cold.Asset.ID {
		t.Fatalf("expired list = %+v", got)
	}
}

func TestEvictionOrderAndTotals(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	base := time.Now().Add(-10 * time.Hour)

	var ids []string
	for n := 0; n < 3; n++ {
		e := testEntry(idx, 1000, base.Add(time.Duration(n)*time.Hour))
		if err := idx.CreateEntry(ctx, e); err != nil {
			t.Fatalf("CreateEntry: %v", err)
		}
		ids = append(ids, e.Asset.ID)
	}

	// Touch the oldest so it becomes the most recently used.
	if err := idx.Touch(ctx, ids[0], time.Now()); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	list, err := idx.ListByOldestAccess(ctx)
	if err != nil {
		t.Fatalf("ListByOldestAccess: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("list = %d entries", len(list))
	}
	if list[0].Asset.ID != ids[1] || list[2].Asset.ID != ids[0] {
		t.Fatalf("LRU order wrong: %s first, %s last", list[0].Asset.ID, list[2].Asset.ID)
	}

	total, err := idx.TotalLocalBytes(ctx)
	if err != nil {
		t.Fatalf("TotalLocalBytes: %v", err)
	}
	// 3 assets x (original 1000 + thumbnail 100).
	if total != 3300 {
		t.Fatalf("total = %d, want 3300", total)
	}

	if err := idx.DeleteEntry(ctx, ids[1]); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if _, err := idx.Get(ctx, ids[1]); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	total, _ = idx.TotalLocalBytes(ctx)
	if total != 2200 {
		t.Fatalf("total after delete = %d, want 2200", total)
	}
}

func TestHasChildren(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	now := time.Now()

	parent := testEntry(idx, 100, now)
	if err := idx.CreateEntry(ctx, parent); err != nil {
		t.Fatalf("CreateEntry parent: %v", err)
	}
	child := testEntry(idx, 100, now)
	child.Asset.ParentID = parent.Asset.ID
	if err := idx.CreateEntry(ctx, child); err != nil {
		t.Fatalf("CreateEntry child: %v", err)
	}

	has, err := idx.HasChildren(ctx, parent.Asset.ID)
	if err != nil || !has {
		t.Fatalf("HasChildren(parent) = %v, %v", has, err)
	}
	has, err = idx.HasChildren(ctx, child.Asset.ID)
	if err != nil || has {
		t.Fatalf("HasChildren(child) = %v, %v", has, err)
	}
}

func TestPerAssetLocks(t *testing.T) {
	idx := openTestIndex(t)

	idx.Lock("a")
	if idx.TryLock("a") {
		t.Fatal("TryLock succeeded on a held lock")
	}
	// A different id is independent.
	if !idx.TryLock("b") {
		t.Fatal("TryLock failed on an unrelated id")
	}
	idx.Unlock("b")
	idx.Unlock("a")
	if !idx.TryLock("a") {
		t.Fatal("TryLock failed after unlock")
	}
	idx.Unlock("a")
}
