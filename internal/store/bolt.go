package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketRecords = []byte("records") // bucket name inside bbolt

// Bolt is a bbolt-backed Store. One bucket holds every key; values are the
// raw JSON bytes exactly as they were Set.
//
// bbolt is pure Go, ACID, and a single file, which is all a store holding a
// handful of timestamps needs.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the bbolt database at path. The parent
// directory is created when missing.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("store: create dir for %s: %w", path, err)
	}

	// A second process holding the file lock makes Open fail after 1s
	// instead of hanging forever.
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get", err)
	}

	var out json.RawMessage
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketRecords).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		// val is only valid for the lifetime of the transaction.
		out = append(json.RawMessage(nil), val...)
		return nil
	})
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return out, nil
}

func (b *Bolt) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return unavailable("set", err)
	}
	if err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(key), value)
	}); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (b *Bolt) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", err)
	}
	if err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete([]byte(key))
	}); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Len returns the number of stored keys.
func (b *Bolt) Len() (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketRecords).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the underlying bbolt database.
func (b *Bolt) Close() error {
	return b.db.Close()
}
