// PhoneticCache persists phonetic match results across process restarts, so
// a recurring non-dictionary token (misspelling, nickname) that resolved to
// a canonical name in a prior session gets a cache hit instead of
// re-running Double Metaphone and the index scan.
//
// Adapted from the teacher's internal/anonymizer/cache.go PersistentCache
// (memoryCache + bboltCache), narrowed from a string->string value cache to
// a string->PhoneticMatch cache keyed by the normalized token.
package dictionary

import (
	"encoding/json"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/clinacta/phi-deidentifier/internal/logger"
)

// PersistentCache is the cross-session phonetic-match cache interface. All
// implementations must be safe for concurrent use.
type PersistentCache interface {
	// Get returns the cached match for a normalized token, if present.
	Get(key string) (PhoneticMatch, bool)

	// Set stores key -> match, overwriting any existing entry.
	Set(key string, match PhoneticMatch)

	// Close releases any resources held by the cache.
	Close() error
}

// --- memoryCache ---------------------------------------------------------

type memoryCache struct {
	mu    sync.RWMutex
	store map[string]PhoneticMatch
}

// NewMemoryCache returns an in-memory PersistentCache, used in tests and as
// the fallback when no bbolt path is configured.
func NewMemoryCache() PersistentCache {
	return &memoryCache{store: make(map[string]PhoneticMatch)}
}

func (c *memoryCache) Get(key string) (PhoneticMatch, bool) {
	c.mu.RLock()
	v, ok := c.store[key]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(key string, match PhoneticMatch) {
	c.mu.Lock()
	c.store[key] = match
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// --- bboltCache ----------------------------------------------------------

const bboltBucket = "phonetic_cache"

type bboltCache struct {
	db  *bolt.DB
	log *logger.Logger
}

// NewBboltCache opens (or creates) the bbolt database at path and ensures
// the bucket exists.
func NewBboltCache(path string, log *logger.Logger) (PersistentCache, error) {
	if log == nil {
		log = logger.New("DICTIONARY", "info")
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt cache %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	log.Infof("cache_open", "persistent phonetic cache opened at %s", path)
	return &bboltCache{db: db, log: log}, nil
}

func (c *bboltCache) Get(key string) (PhoneticMatch, bool) {
	var match PhoneticMatch
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		c.log.Warnf("cache_get", "bbolt Get error: %v", err)
		return PhoneticMatch{}, false
	}
	if raw == nil {
		return PhoneticMatch{}, false
	}
	if err := json.Unmarshal(raw, &match); err != nil {
		c.log.Warnf("cache_get", "decode error for key %q: %v", key, err)
		return PhoneticMatch{}, false
	}
	return match, true
}

func (c *bboltCache) Set(key string, match PhoneticMatch) {
	raw, err := json.Marshal(match)
	if err != nil {
		c.log.Warnf("cache_set", "encode error for key %q: %v", key, err)
		return
	}
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(key), raw)
	}); err != nil {
		c.log.Warnf("cache_set", "bbolt Set error: %v", err)
	}
}

func (c *bboltCache) Close() error {
	return c.db.Close()
}
