// Package qdrant implements the memory backend.Backend interface on top of
// a Qdrant collection, used for semantic memory search (search_similar).
package qdrant

import (
	"context"
	"fmt"

	qdrantgo "github.com/qdrant/go-client/qdrant"

	"github.com/beaconhq/beacon/internal/memory/backend"
	"github.com/beaconhq/beacon/pkg/models"
)

// Backend stores memory entries in a Qdrant collection, one point per entry.
type Backend struct {
	client     *qdrantgo.Client
	collection string
	dimension  uint64
}

// Options configures a Qdrant-backed Backend.
type Options struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  uint64
}

// New connects to Qdrant and ensures the target collection exists.
func New(ctx context.Context, opts Options) (*Backend, error) {
	client, err := qdrantgo.NewClient(&qdrantgo.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}

	exists, err := client.CollectionExists(ctx, opts.Collection)
	if err != nil {
		return nil, fmt.Errorf("qdrant: check collection: %w", err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrantgo.CreateCollection{
			CollectionName: opts.Collection,
			VectorsConfig: qdrantgo.NewVectorsConfig(&qdrantgo.VectorParams{
				Size:     opts.Dimension,
				Distance: qdrantgo.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: create collection: %w", err)
		}
	}

	return &Backend{client: client, collection: opts.Collection, dimension: opts.Dimension}, nil
}

var _ backend.Backend = (*Backend)(nil)

// Index upserts memory entries as Qdrant points keyed by entry ID.
func (b *Backend) Index(ctx context.Context, entries []*models.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]*qdrantgo.PointStruct, 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		points = append(points, &qdrantgo.PointStruct{
			Id:      qdrantgo.NewID(e.ID),
			Vectors: qdrantgo.NewVectors(e.Embedding...),
			Payload: qdrantgo.NewValueMap(map[string]any{
				"scope":    string(e.Scope),
				"scope_id": e.ScopeID,
				"content":  e.Content,
			}),
		})
	}
	if len(points) == 0 {
		return nil
	}
	_, err := b.client.Upsert(ctx, &qdrantgo.UpsertPoints{
		CollectionName: b.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	return nil
}

// Search runs a vector similarity query and maps results back to MemoryEntry hits.
func (b *Backend) Search(ctx context.Context, embedding []float32, opts *backend.SearchOptions) ([]*models.SearchResult, error) {
	limit := uint64(10)
	if opts != nil && opts.Limit > 0 {
		limit = uint64(opts.Limit)
	}

	var filter *qdrantgo.Filter
	if opts != nil && opts.ScopeID != "" {
		filter = &qdrantgo.Filter{
			Must: []*qdrantgo.Condition{
				qdrantgo.NewMatch("scope_id", opts.ScopeID),
			},
		}
	}

	resp, err := b.client.Query(ctx, &qdrantgo.QueryPoints{
		CollectionName: b.collection,
		Query:          qdrantgo.NewQuery(embedding...),
		Filter:         filter,
		Limit:          &limit,
		WithPayload:    qdrantgo.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}

	threshold := float32(0)
	if opts != nil {
		threshold = opts.Threshold
	}

	results := make([]*models.SearchResult, 0, len(resp))
	for _, pt := range resp {
		if pt.GetScore() < threshold {
			continue
		}
		payload := pt.GetPayload()
		results = append(results, &models.SearchResult{
			ID:      pt.GetId().GetUuid(),
			Content: payload["content"].GetStringValue(),
			Score:   pt.GetScore(),
		})
	}
	return results, nil
}

// Delete removes points by ID.
func (b *Backend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrantgo.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrantgo.NewID(id)
	}
	_, err := b.client.Delete(ctx, &qdrantgo.DeletePoints{
		CollectionName: b.collection,
		Points:         qdrantgo.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete: %w", err)
	}
	return nil
}

// Count returns the number of points matching scope/scopeID via a filtered count.
func (b *Backend) Count(ctx context.Context, scope models.MemoryScope, scopeID string) (int64, error) {
	filter := &qdrantgo.Filter{
		Must: []*qdrantgo.Condition{
			qdrantgo.NewMatch("scope", string(scope)),
		},
	}
	if scopeID != "" {
		filter.Must = append(filter.Must, qdrantgo.NewMatch("scope_id", scopeID))
	}
	n, err := b.client.Count(ctx, &qdrantgo.CountPoints{
		CollectionName: b.collection,
		Filter:         filter,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count: %w", err)
	}
	return int64(n), nil
}

// Compact is a no-op: Qdrant manages its own segment optimization.
func (b *Backend) Compact(ctx context.Context) error {
	return nil
}

// Close releases the underlying gRPC connection.
func (b *Backend) Close() error {
	return b.client.Close()
}
