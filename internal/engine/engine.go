// Package engine implements the object/bucket operation handlers (C12):
// the domain logic sitting between the HTTP router and the metadata/storage
// layers. It owns per-key ordering (via Locker) and translates store/backend
// errors into the closed s3err taxonomy; it knows nothing about HTTP.
package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openendpoint/simples3/internal/metacache"
	"github.com/openendpoint/simples3/internal/metadata"
	"github.com/openendpoint/simples3/internal/s3err"
	"github.com/openendpoint/simples3/internal/storage"
)

// Locker grants per-key mutual exclusion so two requests against the same
// (bucket, key) never interleave their metadata/backend writes, without
// serializing the whole engine behind one global lock.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sync.RWMutex)}
}

func (l *Locker) entry(key string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.RWMutex{}
		l.locks[key] = lock
	}
	return lock
}

// Lock acquires exclusive access to key and returns a function to release it.
func (l *Locker) Lock(key string) func() {
	lock := l.entry(key)
	lock.Lock()
	return lock.Unlock
}

// RLock acquires shared access to key and returns a function to release it.
func (l *Locker) RLock(key string) func() {
	lock := l.entry(key)
	lock.RLock()
	return lock.RUnlock
}

func objectLockKey(bucket, key string) string { return bucket + "/" + key }

// Engine is the domain layer wiring metadata.Store and storage.Backend
// together, independent of HTTP and the wire codec.
type Engine struct {
	Store    metadata.Store
	Backend  storage.Backend
	Cache    *metacache.Cache // optional; nil disables the listing cache
	Hostname string
	logger   *zap.SugaredLogger
	locker   *Locker
}

// New creates an Engine. cache may be nil.
func New(store metadata.Store, backend storage.Backend, cache *metacache.Cache, hostname string, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		Store:    store,
		Backend:  backend,
		Cache:    cache,
		Hostname: hostname,
		logger:   logger,
		locker:   NewLocker(),
	}
}

var bucketNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// validateBucketName enforces spec §3's naming rule.
func validateBucketName(name string) error {
	if !bucketNameRe.MatchString(name) {
		return s3err.InvalidArgument("invalid bucket name")
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "-") || strings.HasSuffix(name, ".") {
		return s3err.InvalidArgument("invalid bucket name")
	}
	return nil
}

// validateObjectKey enforces spec §3's key rule: non-empty, no NUL, no ".."
// path component. Anything that fails here is a path-safety violation and
// must surface as AccessDenied, never reach the filesystem (spec §7/§8).
func validateObjectKey(key string) error {
	if key == "" || strings.Contains(key, "\x00") {
		return s3err.ErrAccessDenied()
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return s3err.ErrAccessDenied()
		}
	}
	return nil
}

func mapNotFound(err error, onMissing *s3err.Error) error {
	if err == metadata.ErrNotFound {
		return onMissing
	}
	if err != nil {
		return s3err.Internal(err)
	}
	return nil
}

// requireBucket loads bucket metadata, translating a missing bucket into
// NoSuchBucket.
func (e *Engine) requireBucket(ctx context.Context, bucket string) (*metadata.BucketMetadata, error) {
	b, err := e.Store.GetBucket(ctx, bucket)
	if err == metadata.ErrNotFound {
		return nil, s3err.ErrNoSuchBucket()
	}
	if err != nil {
		return nil, s3err.Internal(err)
	}
	return b, nil
}

// --- Buckets ---

func (e *Engine) CreateBucket(ctx context.Context, bucket string) (*metadata.BucketMetadata, error) {
	if err := validateBucketName(bucket); err != nil {
		return nil, err
	}
	meta, err := e.Store.CreateBucket(ctx, bucket)
	if err == metadata.ErrBucketExists {
		return nil, s3err.ErrBucketAlreadyExists()
	}
	if err != nil {
		return nil, s3err.Internal(err)
	}
	if err := e.Backend.CreateBucketDir(ctx, bucket); err != nil {
		return nil, s3err.Internal(err)
	}
	return meta, nil
}

func (e *Engine) DeleteBucket(ctx context.Context, bucket string) error {
	if _, err := e.requireBucket(ctx, bucket); err != nil {
		return err
	}
	count, err := e.Store.CountObjects(ctx, bucket)
	if err != nil {
		return s3err.Internal(err)
	}
	if count > 0 {
		return s3err.ErrBucketNotEmpty()
	}
	// Deleting a bucket removes its lifecycle, policy, and CORS rows, in
	// that order, before the bucket row itself. These are separate store
	// calls, not one transaction, and their errors are ignored.
	_ = e.Store.DeleteLifecycleRules(ctx, bucket)
	_ = e.Store.DeleteBucketPolicy(ctx, bucket)
	_ = e.Store.DeleteBucketCORS(ctx, bucket)
	if err := e.Store.DeleteBucket(ctx, bucket); err != nil {
		return mapNotFound(err, s3err.ErrNoSuchBucket())
	}
	if err := e.Backend.DeleteBucketDir(ctx, bucket); err != nil {
		e.logger.Warnw("delete bucket dir failed", "bucket", bucket, "error", err)
	}
	if e.Cache != nil {
		_ = e.Cache.DeleteBucket(bucket)
	}
	return nil
}

func (e *Engine) ListBuckets(ctx context.Context) ([]metadata.BucketMetadata, error) {
	out, err := e.Store.ListBuckets(ctx)
	if err != nil {
		return nil, s3err.Internal(err)
	}
	return out, nil
}

func (e *Engine) HeadBucket(ctx context.Context, bucket string) error {
	_, err := e.requireBucket(ctx, bucket)
	return err
}

func (e *Engine) GetBucket(ctx context.Context, bucket string) (*metadata.BucketMetadata, error) {
	return e.requireBucket(ctx, bucket)
}

// --- Objects ---

func (e *Engine) PutObject(ctx context.Context, bucket, key, contentType string, public bool, body io.Reader) (string, error) {
	if err := validateObjectKey(key); err != nil {
		return "", err
	}
	if _, err := e.requireBucket(ctx, bucket); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	unlock := e.locker.Lock(objectLockKey(bucket, key))
	defer unlock()

	result, err := e.Backend.PutObject(ctx, bucket, key, body)
	if err != nil {
		return "", s3err.Internal(err)
	}
	meta := metadata.ObjectMetadata{
		Bucket:      bucket,
		Key:         key,
		Size:        result.Size,
		ETag:        result.ETag,
		ContentType: contentType,
		Public:      public,
	}
	meta.LastModified = nowUTC()
	if err := e.Store.PutObject(ctx, meta); err != nil {
		return "", mapNotFound(err, s3err.ErrNoSuchBucket())
	}
	if e.Cache != nil {
		_ = e.Cache.Put(meta)
	}
	return result.ETag, nil
}

func (e *Engine) GetObject(ctx context.Context, bucket, key string, byteRange *storage.Range) (*metadata.ObjectMetadata, io.ReadCloser, error) {
	if err := validateObjectKey(key); err != nil {
		return nil, nil, err
	}
	unlock := e.locker.RLock(objectLockKey(bucket, key))
	defer unlock()

	meta, err := e.Store.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, nil, mapNotFound(err, s3err.ErrNoSuchKey())
	}
	body, err := e.Backend.GetObject(ctx, bucket, key, byteRange)
	if err != nil {
		return nil, nil, s3err.ErrNoSuchKey()
	}
	return meta, body, nil
}

func (e *Engine) HeadObject(ctx context.Context, bucket, key string) (*metadata.ObjectMetadata, error) {
	if err := validateObjectKey(key); err != nil {
		return nil, err
	}
	meta, err := e.Store.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, mapNotFound(err, s3err.ErrNoSuchKey())
	}
	return meta, nil
}

// DeleteObject implements spec §4.12's idempotent delete: a missing key is
// success for a single-object delete.
func (e *Engine) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := validateObjectKey(key); err != nil {
		return err
	}
	unlock := e.locker.Lock(objectLockKey(bucket, key))
	defer unlock()
	return e.deleteObjectLocked(ctx, bucket, key)
}

func (e *Engine) deleteObjectLocked(ctx context.Context, bucket, key string) error {
	if err := e.Store.DeleteObject(ctx, bucket, key); err != nil && err != metadata.ErrNotFound {
		return s3err.Internal(err)
	}
	if err := e.Backend.DeleteObject(ctx, bucket, key); err != nil {
		e.logger.Warnw("delete object body failed", "bucket", bucket, "key", key, "error", err)
	}
	if e.Cache != nil {
		_ = e.Cache.Delete(bucket, key)
	}
	return nil
}

// DeleteObjects implements the batch delete (spec §4.12): per-key results,
// NoSuchKey swallowed as success (AWS parity, spec §7).
func (e *Engine) DeleteObjects(ctx context.Context, bucket string, keys []string) (deleted []string, failed map[string]string) {
	failed = map[string]string{}
	for _, key := range keys {
		if err := validateObjectKey(key); err != nil {
			failed[key] = "AccessDenied"
			continue
		}
		unlock := e.locker.Lock(objectLockKey(bucket, key))
		err := e.deleteObjectLocked(ctx, bucket, key)
		unlock()
		if err != nil {
			failed[key] = "InternalError"
			continue
		}
		deleted = append(deleted, key)
	}
	return deleted, failed
}

// ListObjectsV2 runs the metacache-accelerated scan described in spec §4.6:
// the cache is consulted first, and only a miss falls through to the
// metadata store, which then repopulates the cache.
func (e *Engine) ListObjectsV2(ctx context.Context, bucket string, opts metadata.ListOptions, publicOnly bool) (*metadata.ListResult, error) {
	if _, err := e.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	result, err := e.scanWithCache(ctx, bucket, opts)
	if err != nil {
		return nil, s3err.Internal(err)
	}

	if publicOnly {
		filtered := result.Contents[:0]
		for _, obj := range result.Contents {
			if obj.Public {
				filtered = append(filtered, obj)
			}
		}
		result.Contents = filtered
		result.KeyCount = len(filtered)
	}
	return result, nil
}

// scanWithCache consults the pebble-backed metacache before falling back to
// the bbolt store's prefix scan. The cache has no delimiter-grouping logic
// of its own, so it's only used for the common simple case (no delimiter);
// delimiter-bearing listings always go straight to the store, which already
// does the common-prefix computation.
func (e *Engine) scanWithCache(ctx context.Context, bucket string, opts metadata.ListOptions) (*metadata.ListResult, error) {
	if e.Cache == nil || opts.Delimiter != "" {
		return e.Store.ListObjects(ctx, bucket, opts)
	}

	start := opts.StartAfter
	if opts.ContinuationToken != "" {
		// The continuation token is an opaque bbolt-cursor encoding; let the
		// store decode it rather than duplicating that logic here.
		return e.Store.ListObjects(ctx, bucket, opts)
	}

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	result := &metadata.ListResult{}
	ok, err := e.Cache.Scan(bucket, start, func(m metadata.ObjectMetadata) bool {
		if start != "" && m.Key == start {
			return true
		}
		if opts.Prefix != "" && !strings.HasPrefix(m.Key, opts.Prefix) {
			return true
		}
		if result.KeyCount >= maxKeys {
			result.IsTruncated = true
			result.NextContinuationToken = base64.RawURLEncoding.EncodeToString([]byte(m.Key))
			return false
		}
		result.Contents = append(result.Contents, m)
		result.KeyCount++
		return true
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		fresh, err := e.Store.ListObjects(ctx, bucket, opts)
		if err != nil {
			return nil, err
		}
		for _, m := range fresh.Contents {
			_ = e.Cache.Put(m)
		}
		return fresh, nil
	}
	return result, nil
}

// CopyObject implements spec §4.12's CopyObject: read the source, write it
// to the destination, best-effort carry its tags.
func (e *Engine) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (*metadata.ObjectMetadata, error) {
	if err := validateObjectKey(srcKey); err != nil {
		return nil, err
	}
	if err := validateObjectKey(dstKey); err != nil {
		return nil, err
	}
	if _, err := e.requireBucket(ctx, srcBucket); err != nil {
		return nil, err
	}
	if _, err := e.requireBucket(ctx, dstBucket); err != nil {
		return nil, err
	}

	unlockSrc := e.locker.RLock(objectLockKey(srcBucket, srcKey))
	srcMeta, err := e.Store.GetObject(ctx, srcBucket, srcKey)
	if err != nil {
		unlockSrc()
		return nil, mapNotFound(err, s3err.ErrNoSuchKey())
	}
	body, err := e.Backend.GetObject(ctx, srcBucket, srcKey, nil)
	if err != nil {
		unlockSrc()
		return nil, s3err.ErrNoSuchKey()
	}

	unlockDst := e.locker.Lock(objectLockKey(dstBucket, dstKey))
	result, err := e.Backend.PutObject(ctx, dstBucket, dstKey, body)
	body.Close()
	unlockSrc()
	if err != nil {
		unlockDst()
		return nil, s3err.Internal(err)
	}

	dstMeta := metadata.ObjectMetadata{
		Bucket:       dstBucket,
		Key:          dstKey,
		Size:         result.Size,
		ETag:         result.ETag,
		ContentType:  srcMeta.ContentType,
		LastModified: nowUTC(),
	}
	err = e.Store.PutObject(ctx, dstMeta)
	unlockDst()
	if err != nil {
		return nil, mapNotFound(err, s3err.ErrNoSuchBucket())
	}
	if e.Cache != nil {
		_ = e.Cache.Put(dstMeta)
	}

	if tags, err := e.Store.GetTagging(ctx, srcBucket, srcKey); err == nil && len(tags) > 0 {
		_ = e.Store.PutTagging(ctx, dstBucket, dstKey, tags)
	}
	return &dstMeta, nil
}

// --- Tagging ---

func (e *Engine) PutTagging(ctx context.Context, bucket, key string, tags metadata.Tagging) error {
	if _, err := e.HeadObject(ctx, bucket, key); err != nil {
		return err
	}
	if err := e.Store.PutTagging(ctx, bucket, key, tags); err != nil {
		return s3err.Internal(err)
	}
	return nil
}

func (e *Engine) GetTagging(ctx context.Context, bucket, key string) (metadata.Tagging, error) {
	if _, err := e.HeadObject(ctx, bucket, key); err != nil {
		return nil, err
	}
	tags, err := e.Store.GetTagging(ctx, bucket, key)
	if err != nil {
		return nil, s3err.Internal(err)
	}
	return tags, nil
}

func (e *Engine) DeleteTagging(ctx context.Context, bucket, key string) error {
	if _, err := e.HeadObject(ctx, bucket, key); err != nil {
		return err
	}
	if err := e.Store.DeleteTagging(ctx, bucket, key); err != nil {
		return s3err.Internal(err)
	}
	return nil
}

// --- Multipart ---

func (e *Engine) CreateMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	if err := validateObjectKey(key); err != nil {
		return err
	}
	if _, err := e.requireBucket(ctx, bucket); err != nil {
		return err
	}
	u := metadata.MultipartUploadMetadata{
		UploadID:  uploadID,
		Bucket:    bucket,
		Key:       key,
		CreatedAt: nowUTC(),
	}
	if err := e.Store.CreateMultipartUpload(ctx, u); err != nil {
		return s3err.Internal(err)
	}
	return nil
}

func (e *Engine) requireUpload(ctx context.Context, uploadID string) (*metadata.MultipartUploadMetadata, error) {
	u, err := e.Store.GetMultipartUpload(ctx, uploadID)
	if err != nil {
		return nil, mapNotFound(err, s3err.ErrNoSuchUpload())
	}
	return u, nil
}

func (e *Engine) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body io.Reader) (string, error) {
	u, err := e.requireUpload(ctx, uploadID)
	if err != nil {
		return "", err
	}
	result, err := e.Backend.WritePart(ctx, bucket, uploadID, partNumber, body)
	if err != nil {
		return "", s3err.Internal(err)
	}
	u.UpsertPart(metadata.PartInfo{
		PartNumber:   partNumber,
		ETag:         result.ETag,
		Size:         result.Size,
		LastModified: nowUTC(),
	})
	if err := e.Store.PutMultipartUpload(ctx, *u); err != nil {
		return "", mapNotFound(err, s3err.ErrNoSuchUpload())
	}
	return result.ETag, nil
}

// CompletedPart is one entry of a CompleteMultipartUpload request body.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

func (e *Engine) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (*metadata.ObjectMetadata, error) {
	u, err := e.requireUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	for i := 1; i < len(parts); i++ {
		if parts[i].PartNumber <= parts[i-1].PartNumber {
			return nil, s3err.ErrInvalidPartOrder()
		}
	}

	byNumber := make(map[int]metadata.PartInfo, len(u.Parts))
	for _, p := range u.Parts {
		byNumber[p.PartNumber] = p
	}
	partNumbers := make([]int, 0, len(parts))
	for _, requested := range parts {
		if _, ok := byNumber[requested.PartNumber]; !ok {
			return nil, s3err.ErrInvalidPart()
		}
		partNumbers = append(partNumbers, requested.PartNumber)
	}

	unlock := e.locker.Lock(objectLockKey(bucket, key))
	defer unlock()

	result, err := e.Backend.AssembleParts(ctx, bucket, key, uploadID, partNumbers)
	if err != nil {
		return nil, s3err.Internal(err)
	}
	meta := metadata.ObjectMetadata{
		Bucket:       bucket,
		Key:          key,
		Size:         result.Size,
		ETag:         result.ETag,
		ContentType:  "application/octet-stream",
		LastModified: nowUTC(),
	}
	if err := e.Store.PutObject(ctx, meta); err != nil {
		return nil, mapNotFound(err, s3err.ErrNoSuchBucket())
	}
	if e.Cache != nil {
		_ = e.Cache.Put(meta)
	}
	if err := e.Store.AbortMultipartUpload(ctx, uploadID); err != nil {
		e.logger.Warnw("cleanup multipart row failed", "upload_id", uploadID, "error", err)
	}
	return &meta, nil
}

func (e *Engine) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	if _, err := e.requireUpload(ctx, uploadID); err != nil {
		return err
	}
	if err := e.Backend.AbortMultipart(ctx, bucket, uploadID); err != nil {
		e.logger.Warnw("abort multipart backend cleanup failed", "upload_id", uploadID, "error", err)
	}
	if err := e.Store.AbortMultipartUpload(ctx, uploadID); err != nil {
		return mapNotFound(err, s3err.ErrNoSuchUpload())
	}
	return nil
}

func (e *Engine) ListParts(ctx context.Context, uploadID string) (*metadata.MultipartUploadMetadata, error) {
	u, err := e.requireUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	sorted := append([]metadata.PartInfo(nil), u.Parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })
	u.Parts = sorted
	return u, nil
}

// --- Bucket-scoped config round trips ---

func (e *Engine) GetBucketLifecycle(ctx context.Context, bucket string) ([]metadata.LifecycleRule, error) {
	rules, err := e.Store.GetLifecycleRules(ctx, bucket)
	if err != nil {
		return nil, mapNotFound(err, s3err.ErrNoSuchLifecycleConfiguration())
	}
	return rules, nil
}

func (e *Engine) PutBucketLifecycle(ctx context.Context, bucket string, rules []metadata.LifecycleRule) error {
	if _, err := e.requireBucket(ctx, bucket); err != nil {
		return err
	}
	if err := e.Store.PutLifecycleRules(ctx, bucket, rules); err != nil {
		return s3err.Internal(err)
	}
	return nil
}

func (e *Engine) DeleteBucketLifecycle(ctx context.Context, bucket string) error {
	if err := e.Store.DeleteLifecycleRules(ctx, bucket); err != nil {
		return mapNotFound(err, s3err.ErrNoSuchLifecycleConfiguration())
	}
	return nil
}

func (e *Engine) GetBucketPolicy(ctx context.Context, bucket string) ([]byte, error) {
	doc, err := e.Store.GetBucketPolicy(ctx, bucket)
	if err != nil {
		return nil, mapNotFound(err, s3err.ErrNoSuchBucketPolicy())
	}
	return doc, nil
}

func (e *Engine) PutBucketPolicy(ctx context.Context, bucket string, document []byte) error {
	if _, err := e.requireBucket(ctx, bucket); err != nil {
		return err
	}
	if err := e.Store.PutBucketPolicy(ctx, bucket, document); err != nil {
		return s3err.Internal(err)
	}
	return nil
}

func (e *Engine) DeleteBucketPolicy(ctx context.Context, bucket string) error {
	if err := e.Store.DeleteBucketPolicy(ctx, bucket); err != nil {
		return mapNotFound(err, s3err.ErrNoSuchBucketPolicy())
	}
	return nil
}

func (e *Engine) GetBucketCORS(ctx context.Context, bucket string) ([]metadata.CORSRule, error) {
	rules, err := e.Store.GetBucketCORS(ctx, bucket)
	if err != nil {
		return nil, mapNotFound(err, s3err.ErrNoSuchCORSConfiguration())
	}
	return rules, nil
}

func (e *Engine) PutBucketCORS(ctx context.Context, bucket string, rules []metadata.CORSRule) error {
	if _, err := e.requireBucket(ctx, bucket); err != nil {
		return err
	}
	if err := e.Store.PutBucketCORS(ctx, bucket, rules); err != nil {
		return s3err.Internal(err)
	}
	return nil
}

func (e *Engine) DeleteBucketCORS(ctx context.Context, bucket string) error {
	if err := e.Store.DeleteBucketCORS(ctx, bucket); err != nil {
		return mapNotFound(err, s3err.ErrNoSuchCORSConfiguration())
	}
	return nil
}

func nowUTC() time.Time { return time.Now().UTC() }

// LocationURL builds the Location header CompleteMultipartUpload emits.
func (e *Engine) LocationURL(bucket, key string) string {
	return fmt.Sprintf("http://%s/%s/%s", e.Hostname, bucket, key)
}
