// Package metadata defines the durable metadata store (C6): buckets, object
// metadata, tagging, credentials, multipart upload state, and bucket-scoped
// lifecycle/policy/CORS configuration, held in named trees over an embedded
// ordered KV engine.
package metadata

import (
	"context"
	"errors"
	"time"
)

// BucketMetadata is the persisted row in the "buckets" tree.
type BucketMetadata struct {
	Name                string    `json:"name"`
	CreatedAt           time.Time `json:"created_at"`
	AnonymousRead       bool      `json:"anonymous_read"`
	AnonymousListPublic bool      `json:"anonymous_list_public"`
}

// ObjectMetadata is the persisted row in the per-bucket "objects:<bucket>" tree.
// Public marks an individual object as readable by anonymous requests
// independent of the owning bucket's AnonymousRead flag (spec §3), and is
// what AnonymousListPublic filters a ListObjectsV2 scan down to.
type ObjectMetadata struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
	Public       bool      `json:"public"`
}

// Credential is the persisted row in the "credentials" tree.
type Credential struct {
	AccessKeyID     string    `json:"access_key_id"`
	SecretAccessKey string    `json:"secret_access_key"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
	Active          bool      `json:"active"`
}

// PartInfo is one part within a MultipartUploadMetadata.
type PartInfo struct {
	PartNumber   int       `json:"part_number"`
	ETag         string    `json:"etag"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// MultipartUploadMetadata is the persisted row in the "multipart" tree.
type MultipartUploadMetadata struct {
	UploadID  string     `json:"upload_id"`
	Bucket    string     `json:"bucket"`
	Key       string     `json:"key"`
	CreatedAt time.Time  `json:"created_at"`
	Parts     []PartInfo `json:"parts"`
}

// UpsertPart replaces any existing part with the same PartNumber, then
// keeps Parts sorted ascending by PartNumber (spec §5 ordering guarantee).
func (m *MultipartUploadMetadata) UpsertPart(p PartInfo) {
	for i := range m.Parts {
		if m.Parts[i].PartNumber == p.PartNumber {
			m.Parts[i] = p
			sortParts(m.Parts)
			return
		}
	}
	m.Parts = append(m.Parts, p)
	sortParts(m.Parts)
}

func sortParts(parts []PartInfo) {
	for i := 1; i < len(parts); i++ {
		for j := i; j > 0 && parts[j-1].PartNumber > parts[j].PartNumber; j-- {
			parts[j-1], parts[j] = parts[j], parts[j-1]
		}
	}
}

// LifecycleRule is the persisted rule shape, mirroring s3xml.LifecycleRule
// without importing the XML package from the storage layer.
type LifecycleRule struct {
	ID     string            `json:"id"`
	Prefix string            `json:"prefix"`
	Status string            `json:"status"`
	Days   int               `json:"days,omitempty"`
	Date   string            `json:"date,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// CORSRule mirrors s3xml.CORSRule for the same reason.
type CORSRule struct {
	ID             string   `json:"id,omitempty"`
	AllowedOrigins []string `json:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers,omitempty"`
	ExposeHeaders  []string `json:"expose_headers,omitempty"`
	MaxAgeSeconds  int      `json:"max_age_seconds,omitempty"`
}

// Tagging is the persisted row in the "tagging" tree, keyed "<bucket>/<key>".
type Tagging map[string]string

// ListOptions is the input to the ListObjectsV2 scan.
type ListOptions struct {
	Prefix            string
	Delimiter         string
	MaxKeys           int
	ContinuationToken string
	StartAfter        string
}

// ListResult is the scan output, already grouped into contents and common
// prefixes per spec §4.6.
type ListResult struct {
	Contents              []ObjectMetadata
	CommonPrefixes        []string
	IsTruncated           bool
	NextContinuationToken string
	KeyCount              int
}

// ErrNotFound is the sentinel a Store implementation returns for missing
// rows, credential lookups included. The auth layer reports any failed
// credential lookup as AccessDenied, so the error shape never reveals
// whether an access key ID exists.
var ErrNotFound = errors.New("metadata: not found")

// ErrBucketExists is returned by CreateBucket when the name is already taken.
var ErrBucketExists = errors.New("metadata: bucket already exists")

// Store is the opaque handle described in spec §9: an embedded, durable,
// ordered KV exposing named trees. This interface collapses the
// open_tree/get/insert/remove/contains/iter/drop_tree/is_empty/len
// primitives into the domain operations that actually need them, since Go
// callers benefit more from typed methods than from a raw tree handle.
type Store interface {
	// Bucket operations
	CreateBucket(ctx context.Context, bucket string) (*BucketMetadata, error)
	DeleteBucket(ctx context.Context, bucket string) error
	GetBucket(ctx context.Context, bucket string) (*BucketMetadata, error)
	ListBuckets(ctx context.Context) ([]BucketMetadata, error)
	SetBucketAnonymous(ctx context.Context, bucket string, anonymousRead, anonymousListPublic bool) error

	// Object operations
	PutObject(ctx context.Context, meta ObjectMetadata) error
	GetObject(ctx context.Context, bucket, key string) (*ObjectMetadata, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	ListObjects(ctx context.Context, bucket string, opts ListOptions) (*ListResult, error)
	CountObjects(ctx context.Context, bucket string) (int, error)

	// Tagging operations
	PutTagging(ctx context.Context, bucket, key string, tags Tagging) error
	GetTagging(ctx context.Context, bucket, key string) (Tagging, error)
	DeleteTagging(ctx context.Context, bucket, key string) error

	// Credential operations
	CreateCredential(ctx context.Context, cred Credential) error
	GetCredential(ctx context.Context, accessKeyID string) (*Credential, error)
	ListCredentials(ctx context.Context) ([]Credential, error)
	RevokeCredential(ctx context.Context, accessKeyID string) error

	// Multipart upload operations
	CreateMultipartUpload(ctx context.Context, u MultipartUploadMetadata) error
	GetMultipartUpload(ctx context.Context, uploadID string) (*MultipartUploadMetadata, error)
	PutMultipartUpload(ctx context.Context, u MultipartUploadMetadata) error
	AbortMultipartUpload(ctx context.Context, uploadID string) error
	ListMultipartUploads(ctx context.Context) ([]MultipartUploadMetadata, error)

	// Lifecycle operations
	GetLifecycleRules(ctx context.Context, bucket string) ([]LifecycleRule, error)
	PutLifecycleRules(ctx context.Context, bucket string, rules []LifecycleRule) error
	DeleteLifecycleRules(ctx context.Context, bucket string) error
	ListAllLifecycleRules(ctx context.Context) (map[string][]LifecycleRule, error)

	// Policy operations
	GetBucketPolicy(ctx context.Context, bucket string) ([]byte, error)
	PutBucketPolicy(ctx context.Context, bucket string, document []byte) error
	DeleteBucketPolicy(ctx context.Context, bucket string) error

	// CORS operations
	GetBucketCORS(ctx context.Context, bucket string) ([]CORSRule, error)
	PutBucketCORS(ctx context.Context, bucket string, rules []CORSRule) error
	DeleteBucketCORS(ctx context.Context, bucket string) error
	ListAllBucketCORS(ctx context.Context) (map[string][]CORSRule, error)

	// Ping supports the admin /ready probe (C14): a trivial write+delete
	// round trip against a throwaway key.
	Ping(ctx context.Context) error

	// Close closes the store.
	Close() error
}
