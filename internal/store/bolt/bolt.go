// Package bolt persists stack lists in a bbolt file.
//
// Each stack index (stacks, fringes) is a bucket; each stack id is a key
// whose value is the JSON list of files in the stack.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/roach88/reduce/internal/engine"
)

// Storage is a bbolt-backed engine.StackStore.
type Storage struct {
	filename string
	db       *bbolt.DB
}

var _ engine.StackStore = (*Storage)(nil)

// Open opens or creates the stack index at filename. It waits at most
// one second for another process holding the file lock.
func Open(filename string) (*Storage, error) {
	db, err := bbolt.Open(filename, 0o644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open stack index %s: %w", filename, err)
	}
	return &Storage{filename: filename, db: db}, nil
}

func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadStacks returns every stack under index. A missing index is empty.
func (s *Storage) LoadStacks(ctx context.Context, index string) (map[string][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stacks := map[string][]string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(index))
		if b == nil {
			return nil
		}
		return b.ForEach(func(id, bs []byte) error {
			var files []string
			if err := json.Unmarshal(bs, &files); err != nil {
				return fmt.Errorf("stack %s: %w", id, err)
			}
			stacks[string(id)] = files
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load %s index: %w", index, err)
	}
	return stacks, nil
}

// SaveStacks replaces the contents of index with stacks.
func (s *Storage) SaveStacks(ctx context.Context, index string, stacks map[string][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	vals := make(map[string][]byte, len(stacks))
	for id, files := range stacks {
		if files == nil {
			files = []string{}
		}
		js, err := json.Marshal(files)
		if err != nil {
			return err
		}
		vals[id] = js
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(index)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket([]byte(index))
		if err != nil {
			return err
		}
		for id, bs := range vals {
			if err := b.Put([]byte(id), bs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s index: %w", index, err)
	}
	slog.Debug("stack index saved", "file", s.filename, "index", index, "stacks", len(vals))
	return nil
}

// Indexes lists the stack indexes present in the file.
func (s *Storage) Indexes() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}
