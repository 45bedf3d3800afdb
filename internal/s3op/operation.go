// Package s3op classifies an incoming (method, path, query) triple into a
// closed set of S3 operations, used by both the dispatcher and the policy
// evaluator's action mapping.
package s3op

import (
	"net/url"
	"strconv"
	"strings"
)

// Kind is the closed set of recognized S3 operations.
type Kind string

const (
	ListBuckets             Kind = "ListBuckets"
	CreateBucket            Kind = "CreateBucket"
	DeleteBucket            Kind = "DeleteBucket"
	HeadBucket              Kind = "HeadBucket"
	ListObjectsV2           Kind = "ListObjectsV2"
	DeleteObjects           Kind = "DeleteObjects"
	CreateMultipartUpload   Kind = "CreateMultipartUpload"
	UploadPart              Kind = "UploadPart"
	CompleteMultipartUpload Kind = "CompleteMultipartUpload"
	AbortMultipartUpload    Kind = "AbortMultipartUpload"
	ListParts               Kind = "ListParts"
	PutObjectTagging        Kind = "PutObjectTagging"
	GetObjectTagging        Kind = "GetObjectTagging"
	DeleteObjectTagging     Kind = "DeleteObjectTagging"
	PutObject               Kind = "PutObject"
	CopyObject              Kind = "CopyObject"
	GetObject               Kind = "GetObject"
	HeadObject              Kind = "HeadObject"
	DeleteObject            Kind = "DeleteObject"
	GetBucketLifecycle      Kind = "GetBucketLifecycle"
	PutBucketLifecycle      Kind = "PutBucketLifecycle"
	DeleteBucketLifecycle   Kind = "DeleteBucketLifecycle"
	GetBucketPolicy         Kind = "GetBucketPolicy"
	PutBucketPolicy         Kind = "PutBucketPolicy"
	DeleteBucketPolicy      Kind = "DeleteBucketPolicy"
	GetBucketCORS           Kind = "GetBucketCORS"
	PutBucketCORS           Kind = "PutBucketCORS"
	DeleteBucketCORS        Kind = "DeleteBucketCORS"
	None                    Kind = ""
)

// Operation is the tagged variant produced by Parse. Only the fields
// relevant to Kind are populated; the rest are zero values.
type Operation struct {
	Kind       Kind
	Bucket     string
	Key        string
	UploadID   string
	PartNumber int
}

// HasBucket reports whether the operation names a bucket.
func (o Operation) HasBucket() bool { return o.Bucket != "" }

// ShortName returns a short operation name suitable for metrics labels and
// policy action mapping; empty for None.
func (o Operation) ShortName() string { return string(o.Kind) }

// Parse classifies method/path/query into an Operation following the
// resolution order: path split, empty-key bucket ops, multipart
// subresources, tagging subresource, then plain object ops. Bucket
// subresources (lifecycle/policy/cors) are recognized here too so the
// dispatcher doesn't need a second pass over query keys.
func Parse(method, path string, query url.Values) Operation {
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if method == "GET" {
			return Operation{Kind: ListBuckets}
		}
		return Operation{Kind: None}
	}

	bucket, key, hasKey := splitBucketKey(path)

	if !hasKey {
		if method == "POST" && query.Has("delete") {
			return Operation{Kind: DeleteObjects, Bucket: bucket}
		}
		if query.Has("lifecycle") {
			switch method {
			case "GET":
				return Operation{Kind: GetBucketLifecycle, Bucket: bucket}
			case "PUT":
				return Operation{Kind: PutBucketLifecycle, Bucket: bucket}
			case "DELETE":
				return Operation{Kind: DeleteBucketLifecycle, Bucket: bucket}
			}
		}
		if query.Has("policy") {
			switch method {
			case "GET":
				return Operation{Kind: GetBucketPolicy, Bucket: bucket}
			case "PUT":
				return Operation{Kind: PutBucketPolicy, Bucket: bucket}
			case "DELETE":
				return Operation{Kind: DeleteBucketPolicy, Bucket: bucket}
			}
		}
		if query.Has("cors") {
			switch method {
			case "GET":
				return Operation{Kind: GetBucketCORS, Bucket: bucket}
			case "PUT":
				return Operation{Kind: PutBucketCORS, Bucket: bucket}
			case "DELETE":
				return Operation{Kind: DeleteBucketCORS, Bucket: bucket}
			}
		}
		switch method {
		case "PUT":
			return Operation{Kind: CreateBucket, Bucket: bucket}
		case "DELETE":
			return Operation{Kind: DeleteBucket, Bucket: bucket}
		case "HEAD":
			return Operation{Kind: HeadBucket, Bucket: bucket}
		case "GET":
			return Operation{Kind: ListObjectsV2, Bucket: bucket}
		}
		return Operation{Kind: None, Bucket: bucket}
	}

	if query.Has("uploads") && method == "POST" {
		return Operation{Kind: CreateMultipartUpload, Bucket: bucket, Key: key}
	}

	if uploadID := query.Get("uploadId"); uploadID != "" {
		switch method {
		case "PUT":
			pn, err := strconv.Atoi(query.Get("partNumber"))
			if err != nil {
				pn = 0
			}
			return Operation{Kind: UploadPart, Bucket: bucket, Key: key, UploadID: uploadID, PartNumber: pn}
		case "POST":
			return Operation{Kind: CompleteMultipartUpload, Bucket: bucket, Key: key, UploadID: uploadID}
		case "DELETE":
			return Operation{Kind: AbortMultipartUpload, Bucket: bucket, Key: key, UploadID: uploadID}
		case "GET":
			return Operation{Kind: ListParts, Bucket: bucket, Key: key, UploadID: uploadID}
		}
	}

	if query.Has("tagging") {
		switch method {
		case "PUT":
			return Operation{Kind: PutObjectTagging, Bucket: bucket, Key: key}
		case "GET":
			return Operation{Kind: GetObjectTagging, Bucket: bucket, Key: key}
		case "DELETE":
			return Operation{Kind: DeleteObjectTagging, Bucket: bucket, Key: key}
		}
	}

	switch method {
	case "PUT":
		return Operation{Kind: PutObject, Bucket: bucket, Key: key}
	case "GET":
		return Operation{Kind: GetObject, Bucket: bucket, Key: key}
	case "HEAD":
		return Operation{Kind: HeadObject, Bucket: bucket, Key: key}
	case "DELETE":
		return Operation{Kind: DeleteObject, Bucket: bucket, Key: key}
	}
	return Operation{Kind: None, Bucket: bucket, Key: key}
}

// splitBucketKey splits a path (with the leading slash already trimmed) at
// the first '/' into (bucket, key). hasKey is false when there is no '/' or
// the remainder is empty.
func splitBucketKey(path string) (bucket, key string, hasKey bool) {
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		return path, "", false
	}
	bucket = path[:idx]
	key = path[idx+1:]
	return bucket, key, key != ""
}

// IsReadOnly reports whether the operation kind is one of the read-only
// operations eligible for anonymous_read fallback (spec C9 step 3).
func (o Operation) IsReadOnly() bool {
	switch o.Kind {
	case ListBuckets, HeadBucket, ListObjectsV2, GetObject, HeadObject, ListParts, GetObjectTagging:
		return true
	default:
		return false
	}
}

// IsObjectOp reports whether the operation addresses a specific object (as
// opposed to a bucket-level or account-level operation).
func (o Operation) IsObjectOp() bool { return o.Key != "" }
