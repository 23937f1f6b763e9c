package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRecords = []byte("records")

// BoltCache keeps fetched metadata records in a BoltDB file. Identifiers are
// content addressed, so a cached record never goes stale and is never evicted.
type BoltCache struct {
	db    *bolt.DB
	inner Store
}

// NewBoltCache opens (or creates) the cache file at path in front of inner.
func NewBoltCache(path string, inner Store, options *bolt.Options) (*BoltCache, error) {
	if inner == nil {
		return nil, errors.New("metadata: cache requires a backing store")
	}
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltCache{db: db, inner: inner}, nil
}

// Open builds the IPFS store for cfg, fronted by a BoltCache when
// cfg.CachePath is set. The returned close func is never nil.
func Open(cfg IPFSConfig) (Store, func() error, error) {
	client, err := NewIPFSClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.CachePath == "" {
		return client, func() error { return nil }, nil
	}
	cache, err := NewBoltCache(cfg.CachePath, client, nil)
	if err != nil {
		return nil, nil, err
	}
	return cache, cache.Close, nil
}

// Close releases the database file.
func (c *BoltCache) Close() error {
	return c.db.Close()
}

func (c *BoltCache) Fetch(ctx context.Context, cid string) (Record, error) {
	key := NormalizeCID(cid)
	if record, ok, err := c.lookup(key); err != nil {
		return Record{}, err
	} else if ok {
		return record, nil
	}
	record, err := c.inner.Fetch(ctx, cid)
	if err != nil {
		return Record{}, err
	}
	if key != "" {
		if err := c.put(key, record); err != nil {
			return Record{}, err
		}
	}
	return record, nil
}

func (c *BoltCache) Upload(ctx context.Context, data []byte) (string, error) {
	return c.inner.Upload(ctx, data)
}

// UploadMetadata pins record through the backing store and primes the cache
// with it under the returned identifier.
func (c *BoltCache) UploadMetadata(ctx context.Context, record Record) (string, error) {
	cid, err := c.inner.UploadMetadata(ctx, record)
	if err != nil {
		return "", err
	}
	if key := NormalizeCID(cid); key != "" {
		if err := c.put(key, record); err != nil {
			return "", err
		}
	}
	return cid, nil
}

func (c *BoltCache) lookup(key string) (Record, bool, error) {
	if key == "" {
		return Record{}, false, nil
	}
	var (
		record Record
		found  bool
	)
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketRecords).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &record)
	})
	return record, found, err
}

func (c *BoltCache) put(key string, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(key), payload)
	})
}
