package store

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"gihan9a/docpatch/internal/document"
)

var boltBucket = []byte("documents")

// BoltStore keeps documents in a single bbolt bucket. bbolt allows one
// writer at a time, so the version check inside Update cannot race.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt at %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Read(ctx context.Context, id string) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(boltBucket).Get([]byte(id)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return decodeRecord(id, data)
}

func (s *BoltStore) ConditionalWrite(ctx context.Context, id string, expected int64, doc *document.Document) error {
	if err := validateWrite(id, expected, doc); err != nil {
		return err
	}
	data, err := encodeRecord(doc)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		var current int64
		if v := b.Get([]byte(id)); v != nil {
			if current, err = recordVersion(v); err != nil {
				return fmt.Errorf("decoding %q: %w", id, err)
			}
		}
		if current != expected {
			return conflict(id, expected, current)
		}
		return b.Put([]byte(id), data)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
