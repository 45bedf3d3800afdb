// Package boltstore implements metadata.Store (C6/C15a) over go.etcd.io/bbolt,
// an embedded ordered B+tree KV engine. Each logical collection the spec
// calls a "named tree" is a top-level bbolt bucket; per-bucket object
// listings live in nested buckets under "objects", so dropping a bucket's
// object tree is a single DeleteBucket call rather than a ranged delete.
package boltstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/openendpoint/simples3/internal/metadata"
)

var topLevelBuckets = []string{
	"buckets",
	"credentials",
	"multipart",
	"tagging",
	"lifecycle",
	"policies",
	"cors",
	"objects",
}

// Store is a bbolt-backed metadata.Store.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt database file at path and
// ensures every top-level tree exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range topLevelBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("buckets"))
		key := []byte("\x00ping")
		if err := b.Put(key, []byte("1")); err != nil {
			return err
		}
		return b.Delete(key)
	})
}

func putJSON(b *bbolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bbolt.Bucket, key string, v interface{}) (bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// --- Buckets ---

func (s *Store) CreateBucket(ctx context.Context, name string) (*metadata.BucketMetadata, error) {
	meta := &metadata.BucketMetadata{Name: name, CreatedAt: time.Now().UTC()}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("buckets"))
		if b.Get([]byte(name)) != nil {
			return metadata.ErrBucketExists
		}
		if err := putJSON(b, name, meta); err != nil {
			return err
		}
		_, err := tx.Bucket([]byte("objects")).CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *Store) GetBucket(ctx context.Context, name string) (*metadata.BucketMetadata, error) {
	var meta metadata.BucketMetadata
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket([]byte("buckets")), name, &meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, metadata.ErrNotFound
	}
	return &meta, nil
}

func (s *Store) DeleteBucket(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bb := tx.Bucket([]byte("buckets"))
		if bb.Get([]byte(name)) == nil {
			return metadata.ErrNotFound
		}
		if err := bb.Delete([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket([]byte("objects")).DeleteBucket([]byte(name))
	})
}

func (s *Store) ListBuckets(ctx context.Context) ([]metadata.BucketMetadata, error) {
	var out []metadata.BucketMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("buckets")).ForEach(func(k, v []byte) error {
			var m metadata.BucketMetadata
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (s *Store) SetBucketAnonymous(ctx context.Context, name string, anonymousRead, anonymousListPublic bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("buckets"))
		var m metadata.BucketMetadata
		found, err := getJSON(b, name, &m)
		if err != nil {
			return err
		}
		if !found {
			return metadata.ErrNotFound
		}
		m.AnonymousRead = anonymousRead
		m.AnonymousListPublic = anonymousListPublic
		return putJSON(b, name, &m)
	})
}

// --- Objects ---

func (s *Store) PutObject(ctx context.Context, meta metadata.ObjectMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ob := tx.Bucket([]byte("objects")).Bucket([]byte(meta.Bucket))
		if ob == nil {
			return metadata.ErrNotFound
		}
		return putJSON(ob, meta.Key, &meta)
	})
}

func (s *Store) GetObject(ctx context.Context, bucket, key string) (*metadata.ObjectMetadata, error) {
	var m metadata.ObjectMetadata
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		ob := tx.Bucket([]byte("objects")).Bucket([]byte(bucket))
		if ob == nil {
			return metadata.ErrNotFound
		}
		var err error
		found, err = getJSON(ob, key, &m)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, metadata.ErrNotFound
	}
	return &m, nil
}

func (s *Store) DeleteObject(ctx context.Context, bucket, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ob := tx.Bucket([]byte("objects")).Bucket([]byte(bucket))
		if ob == nil {
			return metadata.ErrNotFound
		}
		if ob.Get([]byte(key)) == nil {
			return metadata.ErrNotFound
		}
		if err := ob.Delete([]byte(key)); err != nil {
			return err
		}
		tagKey := bucket + "/" + key
		return tx.Bucket([]byte("tagging")).Delete([]byte(tagKey))
	})
}

func (s *Store) CountObjects(ctx context.Context, bucket string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		ob := tx.Bucket([]byte("objects")).Bucket([]byte(bucket))
		if ob == nil {
			return metadata.ErrNotFound
		}
		count = ob.Stats().KeyN
		return nil
	})
	return count, err
}

// encodeToken/decodeToken turn a raw object key into the opaque
// continuation-token strings spec §4.6 calls for, so callers never see a
// plain key reused as a cursor.
func encodeToken(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeToken(token string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("invalid continuation token")
	}
	return string(data), nil
}

// ListObjects implements the ListObjectsV2 scan: ordered key iteration from
// a start point, prefix filtering, delimiter-based common-prefix grouping,
// and max-keys-bounded pagination via an opaque continuation token.
func (s *Store) ListObjects(ctx context.Context, bucket string, opts metadata.ListOptions) (*metadata.ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	start := opts.StartAfter
	inclusive := false
	if opts.ContinuationToken != "" {
		decoded, err := decodeToken(opts.ContinuationToken)
		if err != nil {
			return nil, err
		}
		start = decoded
		inclusive = true
	}

	result := &metadata.ListResult{}
	seenPrefixes := map[string]bool{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		ob := tx.Bucket([]byte("objects")).Bucket([]byte(bucket))
		if ob == nil {
			return metadata.ErrNotFound
		}
		c := ob.Cursor()

		var k, v []byte
		if start != "" {
			// StartAfter is exclusive: Seek lands on start itself if
			// present, so step forward once in that case. A continuation
			// token names the first key not yet returned, so it resumes there.
			k, v = c.Seek([]byte(start))
			if k != nil && string(k) == start && !inclusive {
				k, v = c.Next()
			}
		} else if opts.Prefix != "" {
			k, v = c.Seek([]byte(opts.Prefix))
		} else {
			k, v = c.First()
		}

		for k != nil {
			key := string(k)
			if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
				if key > opts.Prefix {
					break
				}
				k, v = c.Next()
				continue
			}

			if opts.Delimiter != "" {
				rest := key[len(opts.Prefix):]
				if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
					cp := opts.Prefix + rest[:idx+len(opts.Delimiter)]
					if !seenPrefixes[cp] {
						if result.KeyCount >= maxKeys {
							result.IsTruncated = true
							result.NextContinuationToken = encodeToken(key)
							return nil
						}
						seenPrefixes[cp] = true
						result.CommonPrefixes = append(result.CommonPrefixes, cp)
						result.KeyCount++
					}
					// Skip every key sharing this common prefix by seeking
					// past the lexical range it occupies.
					k, v = c.Seek([]byte(nextLexicalUpperBound(cp)))
					continue
				}
			}

			if result.KeyCount >= maxKeys {
				result.IsTruncated = true
				result.NextContinuationToken = encodeToken(key)
				return nil
			}
			var m metadata.ObjectMetadata
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			result.Contents = append(result.Contents, m)
			result.KeyCount++
			k, v = c.Next()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// nextLexicalUpperBound returns the smallest string that sorts strictly
// after every string with prefix p, used to skip an entire common-prefix
// range in one Seek.
func nextLexicalUpperBound(p string) string {
	b := []byte(p)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return p + "\xff"
}

// --- Tagging ---

func taggingKey(bucket, key string) string { return bucket + "/" + key }

func (s *Store) PutTagging(ctx context.Context, bucket, key string, tags metadata.Tagging) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket([]byte("tagging")), taggingKey(bucket, key), tags)
	})
}

func (s *Store) GetTagging(ctx context.Context, bucket, key string) (metadata.Tagging, error) {
	tags := metadata.Tagging{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, err := getJSON(tx.Bucket([]byte("tagging")), taggingKey(bucket, key), &tags)
		return err
	})
	return tags, err
}

func (s *Store) DeleteTagging(ctx context.Context, bucket, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("tagging")).Delete([]byte(taggingKey(bucket, key)))
	})
}

// --- Credentials ---

func (s *Store) CreateCredential(ctx context.Context, cred metadata.Credential) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket([]byte("credentials")), cred.AccessKeyID, &cred)
	})
}

func (s *Store) GetCredential(ctx context.Context, accessKeyID string) (*metadata.Credential, error) {
	var c metadata.Credential
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket([]byte("credentials")), accessKeyID, &c)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, metadata.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListCredentials(ctx context.Context) ([]metadata.Credential, error) {
	var out []metadata.Credential
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("credentials")).ForEach(func(k, v []byte) error {
			var c metadata.Credential
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AccessKeyID < out[j].AccessKeyID })
	return out, err
}

func (s *Store) RevokeCredential(ctx context.Context, accessKeyID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("credentials"))
		var c metadata.Credential
		found, err := getJSON(b, accessKeyID, &c)
		if err != nil {
			return err
		}
		if !found {
			return metadata.ErrNotFound
		}
		c.Active = false
		return putJSON(b, accessKeyID, &c)
	})
}

// --- Multipart uploads ---

func (s *Store) CreateMultipartUpload(ctx context.Context, u metadata.MultipartUploadMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket([]byte("multipart")), u.UploadID, &u)
	})
}

func (s *Store) GetMultipartUpload(ctx context.Context, uploadID string) (*metadata.MultipartUploadMetadata, error) {
	var u metadata.MultipartUploadMetadata
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket([]byte("multipart")), uploadID, &u)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, metadata.ErrNotFound
	}
	return &u, nil
}

func (s *Store) PutMultipartUpload(ctx context.Context, u metadata.MultipartUploadMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("multipart"))
		if b.Get([]byte(u.UploadID)) == nil {
			return metadata.ErrNotFound
		}
		return putJSON(b, u.UploadID, &u)
	})
}

func (s *Store) AbortMultipartUpload(ctx context.Context, uploadID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("multipart"))
		if b.Get([]byte(uploadID)) == nil {
			return metadata.ErrNotFound
		}
		return b.Delete([]byte(uploadID))
	})
}

func (s *Store) ListMultipartUploads(ctx context.Context) ([]metadata.MultipartUploadMetadata, error) {
	var out []metadata.MultipartUploadMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("multipart")).ForEach(func(k, v []byte) error {
			var u metadata.MultipartUploadMetadata
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			out = append(out, u)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket != out[j].Bucket {
			return out[i].Bucket < out[j].Bucket
		}
		return out[i].Key < out[j].Key
	})
	return out, err
}

// --- Lifecycle ---

func (s *Store) GetLifecycleRules(ctx context.Context, bucket string) ([]metadata.LifecycleRule, error) {
	var rules []metadata.LifecycleRule
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket([]byte("lifecycle")), bucket, &rules)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, metadata.ErrNotFound
	}
	return rules, nil
}

func (s *Store) PutLifecycleRules(ctx context.Context, bucket string, rules []metadata.LifecycleRule) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket([]byte("lifecycle")), bucket, rules)
	})
}

func (s *Store) DeleteLifecycleRules(ctx context.Context, bucket string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("lifecycle"))
		if b.Get([]byte(bucket)) == nil {
			return metadata.ErrNotFound
		}
		return b.Delete([]byte(bucket))
	})
}

func (s *Store) ListAllLifecycleRules(ctx context.Context) (map[string][]metadata.LifecycleRule, error) {
	out := map[string][]metadata.LifecycleRule{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("lifecycle")).ForEach(func(k, v []byte) error {
			var rules []metadata.LifecycleRule
			if err := json.Unmarshal(v, &rules); err != nil {
				return err
			}
			out[string(k)] = rules
			return nil
		})
	})
	return out, err
}

// --- Bucket policy ---

func (s *Store) GetBucketPolicy(ctx context.Context, bucket string) ([]byte, error) {
	var doc []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte("policies")).Get([]byte(bucket))
		if v == nil {
			return metadata.ErrNotFound
		}
		doc = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) PutBucketPolicy(ctx context.Context, bucket string, document []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("policies")).Put([]byte(bucket), document)
	})
}

func (s *Store) DeleteBucketPolicy(ctx context.Context, bucket string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("policies"))
		if b.Get([]byte(bucket)) == nil {
			return metadata.ErrNotFound
		}
		return b.Delete([]byte(bucket))
	})
}

// --- Bucket CORS ---

func (s *Store) GetBucketCORS(ctx context.Context, bucket string) ([]metadata.CORSRule, error) {
	var rules []metadata.CORSRule
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket([]byte("cors")), bucket, &rules)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, metadata.ErrNotFound
	}
	return rules, nil
}

func (s *Store) PutBucketCORS(ctx context.Context, bucket string, rules []metadata.CORSRule) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket([]byte("cors")), bucket, rules)
	})
}

func (s *Store) DeleteBucketCORS(ctx context.Context, bucket string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("cors"))
		if b.Get([]byte(bucket)) == nil {
			return metadata.ErrNotFound
		}
		return b.Delete([]byte(bucket))
	})
}

func (s *Store) ListAllBucketCORS(ctx context.Context) (map[string][]metadata.CORSRule, error) {
	out := map[string][]metadata.CORSRule{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("cors")).ForEach(func(k, v []byte) error {
			var rules []metadata.CORSRule
			if err := json.Unmarshal(v, &rules); err != nil {
				return err
			}
			out[string(k)] = rules
			return nil
		})
	})
	return out, err
}
