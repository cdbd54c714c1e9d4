// Package chromem implements the memory backend.Backend interface on top of
// chromem-go, an embedded pure-Go vector store, for single-binary deployments
// that should not depend on an external vector database.
package chromem

import (
	"context"
	"fmt"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/beaconhq/beacon/internal/memory/backend"
	"github.com/beaconhq/beacon/pkg/models"
)

// Backend stores memory entries in an in-process chromem-go collection.
type Backend struct {
	db         *chromemgo.DB
	collection *chromemgo.Collection
}

// New opens (or creates) a persistent chromem-go database at path and the
// named collection within it. A nil embedding function means vectors are
// always supplied by callers via Index (no chromem-side re-embedding).
func New(path, collectionName string) (*Backend, error) {
	db, err := chromemgo.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("chromem: open db: %w", err)
	}
	coll, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: get or create collection: %w", err)
	}
	return &Backend{db: db, collection: coll}, nil
}

var _ backend.Backend = (*Backend)(nil)

// Index upserts memory entries as chromem-go documents carrying pre-computed
// embeddings and scope metadata.
func (b *Backend) Index(ctx context.Context, entries []*models.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]chromemgo.Document, 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		docs = append(docs, chromemgo.Document{
			ID:        e.ID,
			Content:   e.Content,
			Embedding: e.Embedding,
			Metadata: map[string]string{
				"scope":    string(e.Scope),
				"scope_id": e.ScopeID,
			},
		})
	}
	if len(docs) == 0 {
		return nil
	}
	return b.collection.AddDocuments(ctx, docs, 1)
}

// Search runs a nearest-neighbor query filtered by scope_id when provided.
func (b *Backend) Search(ctx context.Context, embedding []float32, opts *backend.SearchOptions) ([]*models.SearchResult, error) {
	limit := 10
	var where map[string]string
	threshold := float32(0)
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		threshold = opts.Threshold
		if opts.ScopeID != "" {
			where = map[string]string{"scope_id": opts.ScopeID}
		}
	}

	if n := b.collection.Count(); n < limit {
		limit = n
	}
	if limit == 0 {
		return nil, nil
	}

	hits, err := b.collection.QueryEmbedding(ctx, embedding, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	results := make([]*models.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < threshold {
			continue
		}
		results = append(results, &models.SearchResult{
			ID:      h.ID,
			Content: h.Content,
			Score:   h.Similarity,
		})
	}
	return results, nil
}

// Delete removes documents by ID.
func (b *Backend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.collection.Delete(ctx, nil, nil, ids...)
}

// Count returns the number of documents matching scope/scopeID.
// chromem-go has no native filtered count, so this walks the metadata index
// via a zero-vector query wide enough to cover the whole collection.
func (b *Backend) Count(ctx context.Context, scope models.MemoryScope, scopeID string) (int64, error) {
	where := map[string]string{"scope": string(scope)}
	if scopeID != "" {
		where["scope_id"] = scopeID
	}
	n := b.collection.Count()
	if n == 0 {
		return 0, nil
	}
	docs, err := b.collection.QueryEmbedding(ctx, make([]float32, 0), n, where, nil)
	if err != nil {
		return 0, fmt.Errorf("chromem: count: %w", err)
	}
	return int64(len(docs)), nil
}

// Compact is a no-op: chromem-go persists eagerly and has no separate vacuum step.
func (b *Backend) Compact(ctx context.Context) error {
	return nil
}

// Close flushes pending writes. chromem-go has no explicit close; persistence
// happens synchronously on each mutation.
func (b *Backend) Close() error {
	return nil
}
