package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Index names under which stack keepers persist.
const (
	StackIndexStacks  = "stacks"
	StackIndexFringes = "fringes"
)

// StackStore persists stack lists. Implemented by store/bolt.
type StackStore interface {
	LoadStacks(ctx context.Context, index string) (map[string][]string, error)
	SaveStacks(ctx context.Context, index string, stacks map[string][]string) error
}

// StackKeeper maps stack ids to the files accumulated into each stack.
//
// One keeper may be shared by several reductions running at once (server
// mode), so every method serializes on an internal mutex.
type StackKeeper struct {
	index string

	mu    sync.Mutex
	lists map[string][]string
}

// NewStackKeeper creates an empty keeper persisted under index.
func NewStackKeeper(index string) *StackKeeper {
	return &StackKeeper{index: index, lists: map[string][]string{}}
}

// Index returns the name the keeper persists under.
func (k *StackKeeper) Index() string {
	return k.index
}

// Add appends files to stack id, skipping files already in the stack.
func (k *StackKeeper) Add(id string, files ...string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	list := k.lists[id]
	for _, f := range files {
		if !contains(list, f) {
			list = append(list, f)
		}
	}
	k.lists[id] = list
}

// Get returns a copy of the files in stack id, or nil.
func (k *StackKeeper) Get(id string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	list, ok := k.lists[id]
	if !ok {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// IDs returns the known stack ids in sorted order.
func (k *StackKeeper) IDs() []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	ids := make([]string, 0, len(k.lists))
	for id := range k.lists {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Persist writes every stack to s.
func (k *StackKeeper) Persist(ctx context.Context, s StackStore) error {
	k.mu.Lock()
	snapshot := make(map[string][]string, len(k.lists))
	for id, list := range k.lists {
		snapshot[id] = append([]string(nil), list...)
	}
	k.mu.Unlock()

	if err := s.SaveStacks(ctx, k.index, snapshot); err != nil {
		return fmt.Errorf("persist %s index: %w", k.index, err)
	}
	return nil
}

// Restore merges the stacks persisted in s into the keeper. A missing
// index restores nothing.
func (k *StackKeeper) Restore(ctx context.Context, s StackStore) error {
	lists, err := s.LoadStacks(ctx, k.index)
	if err != nil {
		return fmt.Errorf("restore %s index: %w", k.index, err)
	}
	for id, files := range lists {
		k.Add(id, files...)
	}
	slog.Debug("stack index restored", "index", k.index, "stacks", len(lists))
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
