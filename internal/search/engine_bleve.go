package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"searchsync/pkg/platform/sentinel"
)

const aliasMarkerSuffix = ".alias"

// BleveEngine is an embedded Engine over bleve: one bleve index per physical
// generation on disk under dir, plus a bleve.IndexAlias per logical alias.
// Reader-visible alias swaps go through IndexAlias.Swap, which is atomic; the
// durable alias pointer is a marker file `<alias>.alias` replaced via rename
// so it survives restarts without ever being half-written.
type BleveEngine struct {
	dir string

	mu      sync.RWMutex
	indexes map[string]bleve.Index
	aliases map[string]bleve.IndexAlias
	targets map[string]string // alias -> physical index name
}

// OpenBleve opens every generation under dir and rebinds aliases from their
// marker files.
func OpenBleve(dir string) (*BleveEngine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create engine dir: %w", err)
	}
	e := &BleveEngine{
		dir:     dir,
		indexes: make(map[string]bleve.Index),
		aliases: make(map[string]bleve.IndexAlias),
		targets: make(map[string]string),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read engine dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			idx, err := bleve.Open(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("open index %q: %w", entry.Name(), err)
			}
			e.indexes[entry.Name()] = idx
		}
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), aliasMarkerSuffix) {
			continue
		}
		alias := strings.TrimSuffix(entry.Name(), aliasMarkerSuffix)
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read alias marker %q: %w", alias, err)
		}
		target := strings.TrimSpace(string(raw))
		idx, ok := e.indexes[target]
		if !ok {
			return nil, fmt.Errorf("alias %q points at missing index %q", alias, target)
		}
		e.aliases[alias] = bleve.NewIndexAlias(idx)
		e.targets[alias] = target
	}
	return e, nil
}

// Close closes every open generation.
func (e *BleveEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for name, idx := range e.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close index %q: %w", name, err)
		}
	}
	e.indexes = make(map[string]bleve.Index)
	return firstErr
}

// resolve returns the bleve index behind an alias or physical name.
// Callers hold at least a read lock.
func (e *BleveEngine) resolve(target string) (bleve.Index, error) {
	if name, ok := e.targets[target]; ok {
		target = name
	}
	idx, ok := e.indexes[target]
	if !ok {
		return nil, fmt.Errorf("index %q: %w", target, sentinel.ErrNotFound)
	}
	return idx, nil
}

func (e *BleveEngine) UpsertDocument(ctx context.Context, target, docID string, doc Document) error {
	e.mu.RLock()
	idx, err := e.resolve(target)
	e.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := idx.Index(docID, map[string]any(doc)); err != nil {
		return fmt.Errorf("index document %q: %w", docID, err)
	}
	return nil
}

func (e *BleveEngine) DeleteDocument(ctx context.Context, target, docID string) error {
	e.mu.RLock()
	idx, err := e.resolve(target)
	e.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := idx.Delete(docID); err != nil {
		return fmt.Errorf("delete document %q: %w", docID, err)
	}
	return nil
}

// CreateIndex builds a new generation with the supplied JSON bleve mapping.
// Empty mapping bytes fall back to bleve's default mapping. Fields the
// mapping wants to survive a reindex must be stored.
func (e *BleveEngine) CreateIndex(ctx context.Context, name string, mappingJSON []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indexes[name]; ok {
		return fmt.Errorf("index %q: %w", name, sentinel.ErrConflict)
	}
	path := filepath.Join(e.dir, name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("index %q: %w", name, sentinel.ErrConflict)
	}

	im := bleve.NewIndexMapping()
	im.StoreDynamic = true
	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, im); err != nil {
			return fmt.Errorf("parse index mapping: %w", err)
		}
	}
	idx, err := bleve.New(path, im)
	if err != nil {
		return fmt.Errorf("create index %q: %w", name, err)
	}
	e.indexes[name] = idx
	return nil
}

func (e *BleveEngine) DeleteIndex(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.indexes[name]
	if !ok {
		return fmt.Errorf("index %q: %w", name, sentinel.ErrNotFound)
	}
	for alias, target := range e.targets {
		if target == name {
			return fmt.Errorf("index %q still serves alias %q: %w", name, alias, sentinel.ErrInvalidState)
		}
	}
	if err := idx.Close(); err != nil {
		return fmt.Errorf("close index %q: %w", name, err)
	}
	delete(e.indexes, name)
	if err := os.RemoveAll(filepath.Join(e.dir, name)); err != nil {
		return fmt.Errorf("remove index %q: %w", name, err)
	}
	return nil
}

func (e *BleveEngine) IndexExists(ctx context.Context, name string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.indexes[name]
	return ok, nil
}

func (e *BleveEngine) AliasTargets(ctx context.Context, alias string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	target, ok := e.targets[alias]
	if !ok {
		return nil, nil
	}
	return []string{target}, nil
}

// SwapAlias re-points alias at add. Readers see the change atomically through
// IndexAlias.Swap; the marker file is then replaced via rename for restarts.
// remove is accepted for interface symmetry but the binding model here is
// one generation per alias, so the previous target is always detached.
func (e *BleveEngine) SwapAlias(ctx context.Context, alias, add string, remove []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next, ok := e.indexes[add]
	if !ok {
		return fmt.Errorf("index %q: %w", add, sentinel.ErrNotFound)
	}

	if existing, ok := e.aliases[alias]; ok {
		prev := e.indexes[e.targets[alias]]
		existing.Swap([]bleve.Index{next}, []bleve.Index{prev})
	} else {
		e.aliases[alias] = bleve.NewIndexAlias(next)
	}
	e.targets[alias] = add

	if err := e.writeAliasMarker(alias, add); err != nil {
		return fmt.Errorf("persist alias %q: %w", alias, err)
	}
	return nil
}

// writeAliasMarker durably records alias -> target. Temp file plus rename so
// the marker is never observed half-written.
func (e *BleveEngine) writeAliasMarker(alias, target string) error {
	marker := filepath.Join(e.dir, alias+aliasMarkerSuffix)
	tmp := marker + ".tmp"
	if err := os.WriteFile(tmp, []byte(target+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, marker)
}

const copyPageSize = 500

// Copy walks src with paginated match-all searches over stored fields and
// re-indexes each hit into dst. Fails closed on the first error.
func (e *BleveEngine) Copy(ctx context.Context, src, dst string) (int, error) {
	e.mu.RLock()
	from, err := e.resolve(src)
	if err != nil {
		e.mu.RUnlock()
		return 0, err
	}
	to, err := e.resolve(dst)
	e.mu.RUnlock()
	if err != nil {
		return 0, err
	}

	copied := 0
	for offset := 0; ; offset += copyPageSize {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), copyPageSize, offset, false)
		req.Fields = []string{"*"}
		res, err := from.SearchInContext(ctx, req)
		if err != nil {
			return copied, fmt.Errorf("scan source index: %w", err)
		}
		if len(res.Hits) == 0 {
			return copied, nil
		}
		for _, hit := range res.Hits {
			if err := ctx.Err(); err != nil {
				return copied, err
			}
			if err := to.Index(hit.ID, hit.Fields); err != nil {
				return copied, fmt.Errorf("copy document %q: %w", hit.ID, err)
			}
			copied++
		}
	}
}

func (e *BleveEngine) DocCount(ctx context.Context, index string) (uint64, error) {
	e.mu.RLock()
	idx, err := e.resolve(index)
	e.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	count, err := idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("doc count %q: %w", index, err)
	}
	return count, nil
}
