package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"gihan9a/docpatch/internal/document"
)

const defaultBadgerValueLogFileSize = 64 << 20

var badgerKeyPrefix = []byte("doc/")

// BadgerStore keeps one msgpack record per document. The compare and the set
// run in the same transaction; a concurrent committer makes badger report
// ErrConflict, which is surfaced as ErrVersionConflict.
type BadgerStore struct {
	db *badger.DB
}

type badgerConfig struct {
	valueLogFileSize int64
	inMemory         bool
}

// BadgerOption customizes how Badger is opened.
type BadgerOption func(*badgerConfig) error

// WithBadgerValueLogFileSize sets max bytes per value log file.
func WithBadgerValueLogFileSize(sizeBytes int64) BadgerOption {
	return func(cfg *badgerConfig) error {
		if sizeBytes <= 0 {
			return fmt.Errorf("badger value log file size must be > 0, got %d", sizeBytes)
		}
		cfg.valueLogFileSize = sizeBytes
		return nil
	}
}

// WithBadgerInMemory keeps all data in memory; the path is ignored.
func WithBadgerInMemory() BadgerOption {
	return func(cfg *badgerConfig) error {
		cfg.inMemory = true
		return nil
	}
}

// NewBadgerStore opens or creates a Badger database at path.
func NewBadgerStore(path string, options ...BadgerOption) (*BadgerStore, error) {
	cfg := badgerConfig{valueLogFileSize: defaultBadgerValueLogFileSize}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	opts := badger.DefaultOptions(path)
	if cfg.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithValueLogFileSize(cfg.valueLogFileSize)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(id string) []byte {
	return append(append([]byte(nil), badgerKeyPrefix...), id...)
}

func (s *BadgerStore) Read(ctx context.Context, id string) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(id, data)
}

func (s *BadgerStore) ConditionalWrite(ctx context.Context, id string, expected int64, doc *document.Document) error {
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

	key := badgerKey(id)
	err = s.db.Update(func(txn *badger.Txn) error {
		var current int64
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if current, err = recordVersion(raw); err != nil {
				return fmt.Errorf("decoding %q: %w", id, err)
			}
		}
		if current != expected {
			return conflict(id, expected, current)
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %q changed during commit", ErrVersionConflict, id)
	}
	return err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
