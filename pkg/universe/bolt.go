package universe

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketKnownActors    = []byte("known_actors")
	bucketKnownPosts     = []byte("known_posts")
	bucketDanglingPosts  = []byte("dangling_posts")
	bucketDanglingActors = []byte("dangling_actors")

	present = []byte{1}
)

// DefaultFlushEvery is the number of pending additions a bolt set buffers
// before writing them in one transaction.
const DefaultFlushEvery = 65536

// BoltOption configures OpenBolt.
type BoltOption func(*boltConfig)

type boltConfig struct {
	flushEvery int
	noSync     bool
}

// WithFlushEvery sets the pending-write buffer size.
func WithFlushEvery(n int) BoltOption {
	return func(c *boltConfig) {
		if n > 0 {
			c.flushEvery = n
		}
	}
}

// WithNoSync disables fsync per transaction. The database is scratch
// space for one run, so this is safe outside of tests too.
func WithNoSync(noSync bool) BoltOption {
	return func(c *boltConfig) { c.noSync = noSync }
}

// OpenBolt creates a fresh universe in a bolt file at path. Any previous
// file is removed.
func OpenBolt(path string, opts ...BoltOption) (*Universe, error) {
	cfg := boltConfig{flushEvery: DefaultFlushEvery}
	for _, o := range opts {
		o(&cfg)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove old universe: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: time.Second,
		NoSync:  cfg.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open universe: %w", err)
	}
	names := [][]byte{bucketKnownActors, bucketKnownPosts, bucketDanglingPosts, bucketDanglingActors}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	sets := make([]*BoltSet, len(names))
	for i, name := range names {
		sets[i] = &BoltSet{db: db, bucket: name, flushEvery: cfg.flushEvery, pending: make(map[string]struct{})}
	}
	return &Universe{
		KnownActors:    sets[0],
		KnownPosts:     sets[1],
		DanglingPosts:  sets[2],
		DanglingActors: sets[3],
		close: func() error {
			var errs []error
			for _, s := range sets {
				errs = append(errs, s.Flush())
			}
			errs = append(errs, db.Close())
			return errors.Join(errs...)
		},
	}, nil
}

// BoltSet is a Set stored in one bolt bucket. Additions are buffered in
// memory and written in batches.
type BoltSet struct {
	db         *bbolt.DB
	bucket     []byte
	flushEvery int
	pending    map[string]struct{}
	n          int
}

func (s *BoltSet) Add(id string) (bool, error) {
	ok, err := s.Has(id)
	if err != nil || ok {
		return false, err
	}
	s.pending[id] = struct{}{}
	s.n++
	if len(s.pending) >= s.flushEvery {
		if err := s.Flush(); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *BoltSet) Has(id string) (bool, error) {
	if _, ok := s.pending[id]; ok {
		return true, nil
	}
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(s.bucket).Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

func (s *BoltSet) Len() int { return s.n }

// Flush writes pending additions.
func (s *BoltSet) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for id := range s.pending {
			if err := b.Put([]byte(id), present); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("flush %s: %w", s.bucket, err)
	}
	clear(s.pending)
	return nil
}

func (s *BoltSet) Each(fn func(id string) error) error {
	if err := s.Flush(); err != nil {
		return err
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, _ []byte) error {
			return fn(string(k))
		})
	})
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}
