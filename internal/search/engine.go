package search

import "context"

// Document is the denormalized payload indexed for an entity. Enrichment
// happens upstream; by the time a payload reaches the queue it is already the
// exact document the engine should hold.
type Document map[string]any

// Engine is the narrow slice of a search engine this service consumes:
// document writes, index lifecycle, and the atomic alias primitives the
// migrator builds on. Implementations must make SwapAlias atomic: at no
// observable instant may the alias resolve to zero or two generations.
type Engine interface {
	// UpsertDocument writes doc under docID in the index (or alias) target.
	UpsertDocument(ctx context.Context, target, docID string, doc Document) error
	// DeleteDocument removes docID from the target. Deleting an absent
	// document is a no-op.
	DeleteDocument(ctx context.Context, target, docID string) error

	// CreateIndex creates a physical index with the supplied mapping.
	// Creating an index that already exists fails with sentinel.ErrConflict.
	CreateIndex(ctx context.Context, name string, mapping []byte) error
	// DeleteIndex removes a physical index and its documents.
	DeleteIndex(ctx context.Context, name string) error
	// IndexExists reports whether a physical index exists.
	IndexExists(ctx context.Context, name string) (bool, error)

	// AliasTargets returns the physical indices the alias resolves to
	// (empty when the alias is unbound).
	AliasTargets(ctx context.Context, alias string) ([]string, error)
	// SwapAlias atomically points alias at add while removing it from every
	// index in remove, as one action.
	SwapAlias(ctx context.Context, alias, add string, remove []string) error

	// Copy bulk-copies every document from src into dst and returns the
	// number copied. Any per-document failure fails the whole copy.
	Copy(ctx context.Context, src, dst string) (int, error)
	// DocCount returns the number of documents in an index.
	DocCount(ctx context.Context, index string) (uint64, error)
}
