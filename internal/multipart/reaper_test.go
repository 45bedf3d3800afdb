package multipart

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/openendpoint/simples3/internal/engine"
	"github.com/openendpoint/simples3/internal/metacache"
	"github.com/openendpoint/simples3/internal/metadata"
	"github.com/openendpoint/simples3/internal/metadata/boltstore"
	"github.com/openendpoint/simples3/internal/storage/flatfile"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop().Sugar()

	store, err := boltstore.Open(filepath.Join(dir, "metadata.db"))
	if err != nil {
		t.Fatalf("boltstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := metacache.Open(filepath.Join(dir, "listing-cache"))
	if err != nil {
		t.Fatalf("metacache.Open: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	backend, err := flatfile.New(filepath.Join(dir, "data"), logger)
	if err != nil {
		t.Fatalf("flatfile.New: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	return engine.New(store, backend, cache, "", logger)
}

func TestReaperAbortsOnlyStaleUploads(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateBucket(ctx, "bucket"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}

	stale := metadata.MultipartUploadMetadata{
		UploadID:  "stale-upload",
		Bucket:    "bucket",
		Key:       "stale.txt",
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	fresh := metadata.MultipartUploadMetadata{
		UploadID:  "fresh-upload",
		Bucket:    "bucket",
		Key:       "fresh.txt",
		CreatedAt: time.Now().UTC(),
	}
	if err := eng.Store.CreateMultipartUpload(ctx, stale); err != nil {
		t.Fatalf("CreateMultipartUpload(stale): %v", err)
	}
	if err := eng.Store.CreateMultipartUpload(ctx, fresh); err != nil {
		t.Fatalf("CreateMultipartUpload(fresh): %v", err)
	}

	r := NewReaper(eng, time.Hour, time.Minute, zap.NewNop().Sugar())
	r.reapOnce(ctx)

	remaining, err := eng.Store.ListMultipartUploads(ctx)
	if err != nil {
		t.Fatalf("ListMultipartUploads: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("remaining uploads = %d, want 1", len(remaining))
	}
	if remaining[0].UploadID != "fresh-upload" {
		t.Errorf("remaining upload = %s, want fresh-upload", remaining[0].UploadID)
	}
}

func TestReaperDisabledWithZeroTTLOrInterval(t *testing.T) {
	eng := newTestEngine(t)
	logger := zap.NewNop().Sugar()

	if r := NewReaper(eng, 0, time.Minute, logger); !r.disabled() {
		t.Error("expected reaper with zero TTL to be disabled")
	}
	if r := NewReaper(eng, time.Hour, 0, logger); !r.disabled() {
		t.Error("expected reaper with zero interval to be disabled")
	}
	if r := NewReaper(eng, time.Hour, time.Minute, logger); r.disabled() {
		t.Error("expected reaper with positive TTL and interval to be enabled")
	}
}

func TestReaperStartStopNoOpWhenDisabled(t *testing.T) {
	eng := newTestEngine(t)
	r := NewReaper(eng, 0, 0, zap.NewNop().Sugar())
	r.Start()
	r.Stop()
}
