// Package metacache implements a secondary read-through listing cache
// (C15b) over github.com/cockroachdb/pebble, an LSM-tree ordered KV. It
// sits in front of boltstore's ListObjectsV2 prefix scan: bbolt remains the
// source of truth, and a pebble miss or corrupt entry always falls back to
// a bbolt read followed by a cache repopulation. Losing the whole cache
// file is harmless — it is rebuilt lazily as buckets are listed again.
package metacache

import (
	"encoding/json"

	"github.com/cockroachdb/pebble"

	"github.com/openendpoint/simples3/internal/metadata"
)

const keySep = "\x00"

// Cache wraps a pebble database keyed "<bucket>\x00<key>" -> JSON-encoded
// metadata.ObjectMetadata, used to skip a bbolt scan when listing a bucket
// whose contents have not changed since the last list.
type Cache struct {
	db *pebble.DB
}

// Open opens (creating if absent) the pebble cache directory at path.
func Open(path string) (*Cache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func cacheKey(bucket, key string) []byte {
	return []byte(bucket + keySep + key)
}

// Put records (or refreshes) a single object's cached listing row. Callers
// invoke this after every PutObject so a subsequent List can serve the
// entry without touching bbolt.
func (c *Cache) Put(meta metadata.ObjectMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return c.db.Set(cacheKey(meta.Bucket, meta.Key), data, pebble.Sync)
}

// Delete removes a cached row, invoked after DeleteObject so stale entries
// never resurface in a listing.
func (c *Cache) Delete(bucket, key string) error {
	return c.db.Delete(cacheKey(bucket, key), pebble.Sync)
}

// DeleteBucket drops every cached row for a bucket, invoked after the
// bucket's object tree is dropped in bbolt.
func (c *Cache) DeleteBucket(bucket string) error {
	start := []byte(bucket + keySep)
	end := []byte(bucket + keySep + "\xff")
	return c.db.DeleteRange(start, end, pebble.Sync)
}

// Scan iterates every cached row for bucket in key order, starting at (and
// including) startKey, calling fn for each decoded entry until fn returns
// false or the bucket's range is exhausted. It returns ok=false if the
// cache holds nothing for this bucket, signaling the caller to fall back
// to a bbolt scan and repopulate.
func (c *Cache) Scan(bucket, startKey string, fn func(metadata.ObjectMetadata) bool) (ok bool, err error) {
	prefix := bucket + keySep
	lower := []byte(prefix + startKey)
	upper := []byte(prefix + "\xff")
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return false, err
	}
	defer iter.Close()

	any := false
	for valid := iter.First(); valid; valid = iter.Next() {
		any = true
		var m metadata.ObjectMetadata
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			// A corrupt row invalidates the cache's usefulness for this
			// scan; let the caller fall back to bbolt.
			return false, nil
		}
		if !fn(m) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return false, err
	}
	// Distinguish "cache has nothing for this bucket yet" (populate from
	// bbolt) from "cache has this bucket but it's empty" by checking
	// whether ANY row exists anywhere under the bucket prefix, not just
	// from startKey onward.
	if !any && startKey != "" {
		anyIter, err := c.db.NewIter(&pebble.IterOptions{
			LowerBound: []byte(prefix),
			UpperBound: []byte(prefix + "\xff"),
		})
		if err != nil {
			return false, err
		}
		defer anyIter.Close()
		any = anyIter.First()
	}
	return any, nil
}
