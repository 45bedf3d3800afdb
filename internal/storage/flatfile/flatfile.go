// Package flatfile implements storage.Backend (C7) as plain files on a
// local filesystem, laid out as <root>/buckets/<bucket>/<key> with the
// key's own "/" separators preserved as real subdirectories, and
// <root>/multipart/<uploadID>/<partNumber> for in-progress part uploads.
package flatfile

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/openendpoint/simples3/internal/storage"
)

var (
	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simples3_storage_bytes_written_total",
		Help: "Total bytes written to storage.",
	})
	bytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simples3_storage_bytes_read_total",
		Help: "Total bytes read from storage.",
	})
	diskIOErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simples3_storage_errors_total",
		Help: "Total storage I/O errors by operation.",
	}, []string{"operation"})
)

// FlatFile is a storage.Backend backed by the local filesystem.
type FlatFile struct {
	rootDir string
	logger  *zap.SugaredLogger
	// mu serializes the temp-file-plus-rename sequence so two writers
	// targeting the same key never race on the same temp path.
	mu sync.Mutex
}

// New creates a flat file storage backend rooted at rootDir.
func New(rootDir string, logger *zap.SugaredLogger) (*FlatFile, error) {
	if err := os.MkdirAll(filepath.Join(rootDir, "buckets"), 0o755); err != nil {
		return nil, fmt.Errorf("flatfile: create buckets dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(rootDir, "multipart"), 0o755); err != nil {
		return nil, fmt.Errorf("flatfile: create multipart dir: %w", err)
	}
	if logger == nil {
		l, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		logger = l.Sugar()
	}
	return &FlatFile{rootDir: rootDir, logger: logger}, nil
}

func (f *FlatFile) bucketDir(bucket string) string {
	return filepath.Join(f.rootDir, "buckets", bucket)
}

// objectPath maps an object key onto a real nested path under the bucket
// directory. The leading filepath.Clean("/"+key) step collapses any ".."
// segments before they can escape the bucket directory.
func (f *FlatFile) objectPath(bucket, key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("flatfile: empty object key")
	}
	return filepath.Join(f.bucketDir(bucket), clean), nil
}

func (f *FlatFile) uploadDir(uploadID string) string {
	return filepath.Join(f.rootDir, "multipart", uploadID)
}

func (f *FlatFile) partPath(uploadID string, partNumber int) string {
	return filepath.Join(f.uploadDir(uploadID), strconv.Itoa(partNumber))
}

func (f *FlatFile) CreateBucketDir(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(f.bucketDir(bucket), 0o755); err != nil {
		diskIOErrors.WithLabelValues("create_bucket_dir").Inc()
		return fmt.Errorf("flatfile: create bucket dir: %w", err)
	}
	return nil
}

func (f *FlatFile) DeleteBucketDir(ctx context.Context, bucket string) error {
	if err := os.RemoveAll(f.bucketDir(bucket)); err != nil {
		diskIOErrors.WithLabelValues("delete_bucket_dir").Inc()
		return fmt.Errorf("flatfile: delete bucket dir: %w", err)
	}
	return nil
}

// writeAtomic streams data to a temp file beside dest, computing its MD5
// as it goes, then renames the temp file into place.
func writeAtomic(dest string, data io.Reader) (storage.PutResult, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		diskIOErrors.WithLabelValues("mkdir_parent").Inc()
		return storage.PutResult{}, fmt.Errorf("flatfile: create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		diskIOErrors.WithLabelValues("create_temp").Inc()
		return storage.PutResult{}, fmt.Errorf("flatfile: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	hasher := md5.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), data)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		diskIOErrors.WithLabelValues("write").Inc()
		return storage.PutResult{}, fmt.Errorf("flatfile: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		diskIOErrors.WithLabelValues("close").Inc()
		return storage.PutResult{}, fmt.Errorf("flatfile: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		diskIOErrors.WithLabelValues("rename").Inc()
		return storage.PutResult{}, fmt.Errorf("flatfile: rename into place: %w", err)
	}
	bytesWritten.Add(float64(written))
	return storage.PutResult{ETag: hex.EncodeToString(hasher.Sum(nil)), Size: written}, nil
}

func (f *FlatFile) PutObject(ctx context.Context, bucket, key string, data io.Reader) (storage.PutResult, error) {
	dest, err := f.objectPath(bucket, key)
	if err != nil {
		return storage.PutResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	result, err := writeAtomic(dest, data)
	if err == nil {
		f.logger.Debugw("object written", "bucket", bucket, "key", key, "size", result.Size)
	}
	return result, err
}

func (f *FlatFile) GetObject(ctx context.Context, bucket, key string, byteRange *storage.Range) (io.ReadCloser, error) {
	path, err := f.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		diskIOErrors.WithLabelValues("open").Inc()
		return nil, err
	}
	if byteRange == nil {
		return &countingReadCloser{ReadCloser: file, reader: file}, nil
	}
	if _, err := file.Seek(byteRange.Start, io.SeekStart); err != nil {
		file.Close()
		diskIOErrors.WithLabelValues("seek").Inc()
		return nil, fmt.Errorf("flatfile: seek: %w", err)
	}
	limit := byteRange.End - byteRange.Start + 1
	return &countingReadCloser{ReadCloser: file, reader: io.LimitReader(file, limit)}, nil
}

type countingReadCloser struct {
	io.ReadCloser
	reader io.Reader
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	bytesRead.Add(float64(n))
	return n, err
}

func (f *FlatFile) DeleteObject(ctx context.Context, bucket, key string) error {
	path, err := f.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		diskIOErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("flatfile: delete: %w", err)
	}
	f.cleanupEmptyDirs(filepath.Dir(path))
	return nil
}

// cleanupEmptyDirs removes now-empty key-prefix directories up to (but not
// including) the "buckets" root.
func (f *FlatFile) cleanupEmptyDirs(dir string) {
	bucketsRoot := filepath.Join(f.rootDir, "buckets")
	for dir != bucketsRoot && len(dir) > len(bucketsRoot) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (f *FlatFile) StatObject(ctx context.Context, bucket, key string) (int64, error) {
	path, err := f.objectPath(bucket, key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *FlatFile) WritePart(ctx context.Context, bucket, uploadID string, partNumber int, data io.Reader) (storage.PutResult, error) {
	dest := f.partPath(uploadID, partNumber)
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeAtomic(dest, data)
}

// AssembleParts implements the S3 multipart ETag algorithm: the final ETag
// is hex(md5(concat(md5(part_i) for i in ascending order))) + "-" + N, not
// the plain MD5 of the assembled content.
func (f *FlatFile) AssembleParts(ctx context.Context, bucket, key, uploadID string, partNumbers []int) (storage.PutResult, error) {
	dest, err := f.objectPath(bucket, key)
	if err != nil {
		return storage.PutResult{}, err
	}
	ordered := append([]int(nil), partNumbers...)
	sort.Ints(ordered)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return storage.PutResult{}, fmt.Errorf("flatfile: create parent dir: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return storage.PutResult{}, fmt.Errorf("flatfile: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	combinedDigest := md5.New()
	var total int64
	for _, n := range ordered {
		partPath := f.partPath(uploadID, n)
		part, err := os.Open(partPath)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return storage.PutResult{}, fmt.Errorf("flatfile: open part %d: %w", n, err)
		}
		partHasher := md5.New()
		written, err := io.Copy(io.MultiWriter(tmp, partHasher), part)
		part.Close()
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return storage.PutResult{}, fmt.Errorf("flatfile: copy part %d: %w", n, err)
		}
		combinedDigest.Write(partHasher.Sum(nil))
		total += written
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return storage.PutResult{}, fmt.Errorf("flatfile: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return storage.PutResult{}, fmt.Errorf("flatfile: rename into place: %w", err)
	}
	bytesWritten.Add(float64(total))

	etag := fmt.Sprintf("%s-%d", hex.EncodeToString(combinedDigest.Sum(nil)), len(ordered))
	os.RemoveAll(f.uploadDir(uploadID))
	return storage.PutResult{ETag: etag, Size: total}, nil
}

func (f *FlatFile) AbortMultipart(ctx context.Context, bucket, uploadID string) error {
	if err := os.RemoveAll(f.uploadDir(uploadID)); err != nil {
		diskIOErrors.WithLabelValues("abort_multipart").Inc()
		return fmt.Errorf("flatfile: abort multipart: %w", err)
	}
	return nil
}

func (f *FlatFile) Close() error { return nil }
