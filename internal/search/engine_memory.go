package search

import (
	"context"
	"fmt"
	"sync"

	"searchsync/pkg/platform/sentinel"
)

// MemoryEngine is an in-memory Engine for unit tests and local development.
// It honors the same alias atomicity contract as a real engine (swaps happen
// under one lock) and supports failure injection for fail-closed paths.
type MemoryEngine struct {
	mu      sync.RWMutex
	indexes map[string]map[string]Document
	aliases map[string][]string

	// Failure injection, set by tests.
	upsertErr error
	copyErr   error
	swapErr   error
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		indexes: make(map[string]map[string]Document),
		aliases: make(map[string][]string),
	}
}

// FailUpserts makes every subsequent UpsertDocument return err (nil resets).
func (e *MemoryEngine) FailUpserts(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.upsertErr = err
}

// FailCopies makes every subsequent Copy return err (nil resets).
func (e *MemoryEngine) FailCopies(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.copyErr = err
}

// FailSwaps makes every subsequent SwapAlias return err (nil resets).
func (e *MemoryEngine) FailSwaps(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.swapErr = err
}

// resolve maps an alias to its physical index, or returns the name unchanged
// when it is already physical. Callers hold e.mu.
func (e *MemoryEngine) resolve(target string) (string, error) {
	if phys, ok := e.aliases[target]; ok {
		if len(phys) != 1 {
			return "", fmt.Errorf("alias %q resolves to %d indices", target, len(phys))
		}
		return phys[0], nil
	}
	if _, ok := e.indexes[target]; ok {
		return target, nil
	}
	return "", fmt.Errorf("index %q: %w", target, sentinel.ErrNotFound)
}

func (e *MemoryEngine) UpsertDocument(ctx context.Context, target, docID string, doc Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.upsertErr != nil {
		return e.upsertErr
	}
	name, err := e.resolve(target)
	if err != nil {
		return err
	}
	copied := make(Document, len(doc))
	for k, v := range doc {
		copied[k] = v
	}
	e.indexes[name][docID] = copied
	return nil
}

func (e *MemoryEngine) DeleteDocument(ctx context.Context, target, docID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	name, err := e.resolve(target)
	if err != nil {
		return err
	}
	delete(e.indexes[name], docID)
	return nil
}

func (e *MemoryEngine) CreateIndex(ctx context.Context, name string, mapping []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indexes[name]; ok {
		return fmt.Errorf("index %q: %w", name, sentinel.ErrConflict)
	}
	e.indexes[name] = make(map[string]Document)
	return nil
}

func (e *MemoryEngine) DeleteIndex(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indexes[name]; !ok {
		return fmt.Errorf("index %q: %w", name, sentinel.ErrNotFound)
	}
	delete(e.indexes, name)
	return nil
}

func (e *MemoryEngine) IndexExists(ctx context.Context, name string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.indexes[name]
	return ok, nil
}

func (e *MemoryEngine) AliasTargets(ctx context.Context, alias string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	targets := e.aliases[alias]
	out := make([]string, len(targets))
	copy(out, targets)
	return out, nil
}

func (e *MemoryEngine) SwapAlias(ctx context.Context, alias, add string, remove []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.swapErr != nil {
		return e.swapErr
	}
	if _, ok := e.indexes[add]; !ok {
		return fmt.Errorf("index %q: %w", add, sentinel.ErrNotFound)
	}
	removed := make(map[string]bool, len(remove))
	for _, name := range remove {
		removed[name] = true
	}
	var targets []string
	for _, name := range e.aliases[alias] {
		if !removed[name] {
			targets = append(targets, name)
		}
	}
	e.aliases[alias] = append(targets, add)
	return nil
}

func (e *MemoryEngine) Copy(ctx context.Context, src, dst string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.copyErr != nil {
		return 0, e.copyErr
	}
	from, ok := e.indexes[src]
	if !ok {
		return 0, fmt.Errorf("index %q: %w", src, sentinel.ErrNotFound)
	}
	to, ok := e.indexes[dst]
	if !ok {
		return 0, fmt.Errorf("index %q: %w", dst, sentinel.ErrNotFound)
	}
	for id, doc := range from {
		to[id] = doc
	}
	return len(from), nil
}

func (e *MemoryEngine) DocCount(ctx context.Context, index string) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	docs, ok := e.indexes[index]
	if !ok {
		return 0, fmt.Errorf("index %q: %w", index, sentinel.ErrNotFound)
	}
	return uint64(len(docs)), nil
}

// GetDocument returns a stored document; test helper.
func (e *MemoryEngine) GetDocument(target, docID string) (Document, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	name, err := e.resolve(target)
	if err != nil {
		return nil, false
	}
	doc, ok := e.indexes[name][docID]
	return doc, ok
}
