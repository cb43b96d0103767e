// Package store implements the pseudonym mapping store and LLM detection
// cache: a persistent, salted-hash keyed map from original PII value to
// fake value, plus a content-addressed cache of LLM detector responses.
// Three bbolt buckets inside one file (entity mappings, LLM cache, meta)
// sit behind an in-memory S3-FIFO eviction layer — see DESIGN.md for the
// tradeoff note against a SQL-backed store.
package store

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"mcpconceal/internal/detect"
	"mcpconceal/internal/faker"
)

const (
	bucketEntityMappings = "entity_mappings"
	bucketLLMCache       = "llm_cache"
	bucketMeta           = "meta"

	metaKey = "meta"

	// schemaVersion is bumped whenever the on-disk record shapes change.
	// A mismatch against a pre-existing database is fatal: no silent
	// migration.
	schemaVersion = 1

	defaultReadCacheCapacity = 4096
	defaultLLMCacheCapacity  = 2048

	// maxCollisionAttempts bounds the faker retry loop before falling
	// back to a deterministic hash-suffixed candidate.
	maxCollisionAttempts = 8
)

// ErrSchemaMismatch is returned by Open when an existing database's
// recorded schema_version does not match this build's schemaVersion.
var ErrSchemaMismatch = fmt.Errorf("store: schema version mismatch, refusing to start (no silent migration)")

type metaRecord struct {
	Salt          []byte `json:"salt"`
	SchemaVersion int    `json:"schema_version"`
}

type mappingRecord struct {
	Fake       string `json:"fake_value"`
	CreatedAt  int64  `json:"created_at"`
	LastSeenAt int64  `json:"last_seen_at"`
}

// Store is the persistent pseudonym mapping store and LLM cache, backed by
// a single bbolt database file.
type Store struct {
	db   *bolt.DB
	salt []byte
	fake *faker.Generator

	shards [256]sync.Mutex

	readCache *s3fifoCache
	llmCache  *s3fifoCache

	sweeperStop chan struct{}
	sweeperDone chan struct{}
}

// Options configures Open.
type Options struct {
	FakerSeed         int64
	Locale            string
	ReadCacheCapacity int // 0 → defaultReadCacheCapacity
	LLMCacheCapacity  int // 0 → defaultLLMCacheCapacity
}

// Open opens (creating if absent) the bbolt database at path, verifying or
// initializing the meta row's schema version and salt.
func Open(path string, opts Options) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	var salt []byte
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketEntityMappings, bucketLLMCache, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}

		b := tx.Bucket([]byte(bucketMeta))
		raw := b.Get([]byte(metaKey))
		if raw != nil {
			var m metaRecord
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("decode meta row: %w", err)
			}
			if m.SchemaVersion != schemaVersion {
				return ErrSchemaMismatch
			}
			salt = m.Salt
			return nil
		}

		id := uuid.New()
		salt = append([]byte(nil), id[:]...)
		m := metaRecord{Salt: salt, SchemaVersion: schemaVersion}
		encoded, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put([]byte(metaKey), encoded)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if opts.ReadCacheCapacity <= 0 {
		opts.ReadCacheCapacity = defaultReadCacheCapacity
	}
	if opts.LLMCacheCapacity <= 0 {
		opts.LLMCacheCapacity = defaultLLMCacheCapacity
	}
	if opts.Locale == "" {
		opts.Locale = "en_US"
	}

	s := &Store{
		db:   db,
		salt: salt,
		fake: faker.New(opts.FakerSeed, opts.Locale),
	}
	s.readCache = newS3FIFOCache(&boltBacking{db: db, bucket: bucketEntityMappings}, opts.ReadCacheCapacity, false)
	s.llmCache = newS3FIFOCache(&boltBacking{db: db, bucket: bucketLLMCache}, opts.LLMCacheCapacity, true)
	return s, nil
}

// Close closes the underlying database, stopping the retention sweeper
// first if it is running.
func (s *Store) Close() error {
	s.StopRetentionSweeper()
	return s.db.Close()
}

// LLMCache returns the detect.Cache view of the LLM response cache bucket.
func (s *Store) LLMCache() detect.Cache {
	return (*llmCacheView)(s.llmCache)
}

// LookupOrCreate returns the stable fake value for (entityType, original),
// creating and persisting one on first sighting.
//
// Writers are serialized per hashed key via a fixed shard of mutexes, so
// two concurrent sightings of the same original cannot insert two
// different fakes.
func (s *Store) LookupOrCreate(entityType detect.EntityType, original string) (fake string, created bool, err error) {
	hashHex := s.hmacKey(entityType, original)
	cacheKey := string(entityType) + "\x00" + hashHex

	shard := &s.shards[shardIndex(cacheKey)]
	shard.Lock()
	defer shard.Unlock()

	now := time.Now().Unix()

	if raw, ok := s.readCache.Get(cacheKey); ok {
		rec, err := decodeMapping(raw)
		if err != nil {
			return "", false, err
		}
		rec.LastSeenAt = now
		s.readCache.Set(cacheKey, encodeMapping(rec))
		return rec.Fake, false, nil
	}

	// Idempotent-rewrite guard: a faker-produced value is shape-valid by
	// design, so it can itself match the same entity pattern a second pass
	// over an already-pseudonymized payload would apply. If original is
	// already some other mapping's fake value for this type, treat it as
	// already anonymized and map it to itself rather than minting a second
	// fake for it.
	alreadyFake, err := s.fakeExistsForType(entityType, original)
	if err != nil {
		return "", false, err
	}
	if alreadyFake {
		rec := mappingRecord{Fake: original, CreatedAt: now, LastSeenAt: now}
		s.readCache.Set(cacheKey, encodeMapping(rec))
		return original, false, nil
	}

	var candidate string
	for attempt := 0; attempt < maxCollisionAttempts; attempt++ {
		c := s.fake.Generate(entityType, original, attempt)
		exists, err := s.fakeExistsForType(entityType, c)
		if err != nil {
			return "", false, err
		}
		if !exists {
			candidate = c
			break
		}
	}
	if candidate == "" {
		// Bounded attempts exhausted: deterministic fallback suffix keyed
		// off the hash itself, so it is still reproducible across restarts
		// and astronomically unlikely to collide a second time.
		candidate = fmt.Sprintf("%s-%s", s.fake.Generate(entityType, original, maxCollisionAttempts), hashHex[:8])
	}

	rec := mappingRecord{Fake: candidate, CreatedAt: now, LastSeenAt: now}
	s.readCache.Set(cacheKey, encodeMapping(rec))
	return candidate, true, nil
}

// hmacKey computes HMAC-SHA256(salt, entityType || 0x00 || original) and
// hex-encodes it as the salted lookup key.
func (s *Store) hmacKey(entityType detect.EntityType, original string) string {
	mac := hmac.New(sha256.New, s.salt)
	mac.Write([]byte(entityType))
	mac.Write([]byte{0})
	mac.Write([]byte(original))
	return hex.EncodeToString(mac.Sum(nil))
}

// fakeExistsForType scans the entity_mappings bucket's keys under
// entityType's prefix for a fake value equal to candidate. Collisions are
// rare and the per-type key space is bounded by distinct PII values seen,
// so a prefix scan avoids needing a second reverse-lookup bucket.
func (s *Store) fakeExistsForType(entityType detect.EntityType, candidate string) (bool, error) {
	prefix := []byte(string(entityType) + "\x00")
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEntityMappings))
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec mappingRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.Fake == candidate {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func encodeMapping(rec mappingRecord) []byte {
	b, _ := json.Marshal(rec)
	return b
}

func decodeMapping(raw []byte) (mappingRecord, error) {
	var rec mappingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return mappingRecord{}, fmt.Errorf("store: decode mapping record: %w", err)
	}
	return rec, nil
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % 256)
}

// boltBacking is the byteBacking adapter over one bbolt bucket.
type boltBacking struct {
	db     *bolt.DB
	bucket string
}

func (b *boltBacking) get(key string) ([]byte, bool) {
	var out []byte
	_ = b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(b.bucket))
		if bk == nil {
			return nil
		}
		if v := bk.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil
}

func (b *boltBacking) set(key string, value []byte) {
	_ = b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(b.bucket))
		if bk == nil {
			return fmt.Errorf("bucket %q not found", b.bucket)
		}
		return bk.Put([]byte(key), value)
	})
}

func (b *boltBacking) delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(b.bucket))
		if bk == nil {
			return nil
		}
		return bk.Delete([]byte(key))
	})
}

// llmCacheView adapts *s3fifoCache to detect.Cache without exposing the
// rest of Store's surface to the detect package.
type llmCacheView s3fifoCache

func (v *llmCacheView) Get(key string) ([]byte, bool) { return (*s3fifoCache)(v).Get(key) }
func (v *llmCacheView) Set(key string, value []byte)  { (*s3fifoCache)(v).Set(key, value) }
