// Package memory содержит реализации хранилищ в памяти процесса: векторный индекс
// для режима VECTOR_BACKEND=memory, очередь задач и дедупликатор для тестов.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/embedding"
	"github.com/DRSN-tech/visual-search/pkg/e"
)

// VectorIndex — индекс с полным перебором по косинусному сходству.
// При равном score результаты упорядочены по external_id.
type VectorIndex struct {
	name string
	dim  int

	mu      sync.RWMutex
	entries map[string]*domain.IndexEntry
}

func NewVectorIndex(name string, dim int) *VectorIndex {
	return &VectorIndex{
		name:    name,
		dim:     dim,
		entries: make(map[string]*domain.IndexEntry),
	}
}

func (v *VectorIndex) EnsureCollection(context.Context) error {
	return nil
}

func (v *VectorIndex) Upsert(ctx context.Context, externalID string, vector []float32, payload domain.Payload) error {
	return v.UpsertEntries(ctx, []*domain.IndexEntry{domain.NewIndexEntry(externalID, vector, maps.Clone(payload))})
}

func (v *VectorIndex) UpsertEntries(_ context.Context, entries []*domain.IndexEntry) error {
	const op = "memory.VectorIndex.UpsertEntries"

	for _, entry := range entries {
		if len(entry.Vector) != v.dim {
			return e.Wrap(op, fmt.Errorf("%w: vector for %s has %d dimensions, collection expects %d",
				e.ErrConfiguration, entry.ExternalID, len(entry.Vector), v.dim))
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, entry := range entries {
		stored := domain.NewIndexEntry(entry.ExternalID, slices.Clone(entry.Vector), maps.Clone(entry.Payload))
		v.entries[stored.InternalID] = stored
	}

	return nil
}

func (v *VectorIndex) Search(_ context.Context, query domain.SearchQuery) ([]domain.SearchHit, error) {
	const op = "memory.VectorIndex.Search"

	if len(query.Vector) != v.dim {
		return nil, e.Wrap(op, fmt.Errorf("%w: query has %d dimensions, collection expects %d",
			e.ErrConfiguration, len(query.Vector), v.dim))
	}
	if query.TopK <= 0 {
		return nil, e.Wrap(op, e.ErrInvalidLimit)
	}

	v.mu.RLock()
	hits := make([]domain.SearchHit, 0, len(v.entries))
	for _, entry := range v.entries {
		score := embedding.Similarity(query.Vector, entry.Vector)
		if query.ScoreThreshold != nil && score < *query.ScoreThreshold {
			continue
		}
		hits = append(hits, domain.SearchHit{
			InternalID: entry.InternalID,
			ExternalID: entry.ExternalID,
			Score:      score,
			Payload:    maps.Clone(entry.Payload),
		})
	}
	v.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ExternalID < hits[j].ExternalID
	})

	if len(hits) > query.TopK {
		hits = hits[:query.TopK]
	}

	return hits, nil
}

func (v *VectorIndex) Get(_ context.Context, externalID string) (*domain.IndexEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	entry, ok := v.entries[domain.DeriveInternalID(externalID)]
	if !ok {
		return nil, e.Wrap("memory.VectorIndex.Get", fmt.Errorf("%w: %s", e.ErrEntryNotFound, externalID))
	}

	return &domain.IndexEntry{
		InternalID: entry.InternalID,
		ExternalID: entry.ExternalID,
		Vector:     slices.Clone(entry.Vector),
		Payload:    maps.Clone(entry.Payload),
	}, nil
}

// Delete удаляет записи; отсутствующие идентификаторы пропускаются.
func (v *VectorIndex) Delete(_ context.Context, externalIDs ...string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, id := range externalIDs {
		delete(v.entries, domain.DeriveInternalID(id))
	}

	return nil
}

func (v *VectorIndex) CollectionInfo(context.Context) (*domain.CollectionInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return &domain.CollectionInfo{
		Name:      v.name,
		Count:     uint64(len(v.entries)),
		Dimension: uint64(v.dim),
		Distance:  domain.DistanceCosine,
	}, nil
}
