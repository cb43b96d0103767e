package store

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultSweepInterval is how often the retention sweeper wakes to check
// for expired mappings, once started.
const DefaultSweepInterval = time.Hour

// StartRetentionSweeper launches the background sweeper if retentionDays
// is positive (0 means retain forever). It runs at the given interval for
// the lifetime of the process, each run a short bounded transaction,
// never blocking LookupOrCreate. Calling it more than once, or after
// Close, is a no-op.
func (s *Store) StartRetentionSweeper(retentionDays int, interval time.Duration) {
	if retentionDays <= 0 || s.sweeperStop != nil {
		return
	}
	// A closed database rejects every transaction, so this detects Close.
	if err := s.db.View(func(*bolt.Tx) error { return nil }); err != nil {
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s.sweeperStop = make(chan struct{})
	s.sweeperDone = make(chan struct{})

	go func() {
		defer close(s.sweeperDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.sweeperStop:
				return
			case <-ticker.C:
				_, _ = s.sweepOnce(retentionDays)
			}
		}
	}()
}

// StopRetentionSweeper stops a running sweeper and waits for its current
// iteration to finish. Safe to call even if the sweeper was never
// started.
func (s *Store) StopRetentionSweeper() {
	if s.sweeperStop == nil {
		return
	}
	close(s.sweeperStop)
	<-s.sweeperDone
	s.sweeperStop = nil
}

// sweepOnce deletes every entity_mappings row whose last_seen_at is older
// than retentionDays, returning the count removed. Collection happens in
// a read-only transaction; deletion in a separate, short read-write
// transaction, so no single transaction holds the bucket lock for longer
// than one pass over a batch.
func (s *Store) sweepOnce(retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()

	var expired [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEntityMappings))
		return b.ForEach(func(k, v []byte) error {
			var rec mappingRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // skip rows this version can't parse rather than abort the sweep
			}
			if rec.LastSeenAt < cutoff {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if err != nil || len(expired) == 0 {
		return 0, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEntityMappings))
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, k := range expired {
		s.readCache.Invalidate(string(k))
	}
	return len(expired), nil
}
