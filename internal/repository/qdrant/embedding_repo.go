package qdrant

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// EmbeddingRepo — векторный индекс товаров в коллекции Qdrant.
// Точка адресуется UUIDv5 от external_id, поэтому запись товара всегда перезаписывает одну и ту же точку.
type EmbeddingRepo struct {
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	cfg         *cfg.QdrantCfg
	logger      logger.Logger
}

func NewEmbeddingRepo(
	points qdrant.PointsClient,
	collections qdrant.CollectionsClient,
	cfg *cfg.QdrantCfg,
	logger logger.Logger,
) *EmbeddingRepo {
	return &EmbeddingRepo{
		points:      points,
		collections: collections,
		cfg:         cfg,
		logger:      logger,
	}
}

// EnsureCollection создаёт коллекцию, если её нет. Существующая коллекция с другой
// размерностью или метрикой — ошибка конфигурации.
func (q *EmbeddingRepo) EnsureCollection(ctx context.Context) error {
	const op = "EmbeddingRepo.EnsureCollection"

	want, err := toQdrantDistance(domain.DistanceMetric(q.cfg.Distance))
	if err != nil {
		return e.Wrap(op, err)
	}

	exists, err := q.collections.CollectionExists(ctx, &qdrant.CollectionExistsRequest{
		CollectionName: q.cfg.QdrantCollectionName,
	})
	if err != nil {
		return e.Wrap(op, classify(err))
	}

	if !exists.GetResult().GetExists() {
		_, err := q.collections.Create(ctx, &qdrant.CreateCollection{
			CollectionName: q.cfg.QdrantCollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.cfg.VectorSize,
				Distance: want,
			}),
		})
		if err == nil {
			q.logger.Infof("qdrant collection %s created: size %d, distance %s",
				q.cfg.QdrantCollectionName, q.cfg.VectorSize, q.cfg.Distance)
			return nil
		}
		// коллекцию мог создать соседний экземпляр сервиса
		if status.Code(err) != codes.AlreadyExists {
			return e.Wrap(op, classify(err))
		}
	}

	info, err := q.collectionInfo(ctx)
	if err != nil {
		return e.Wrap(op, err)
	}

	if info.Dimension != q.cfg.VectorSize || info.Distance != domain.DistanceMetric(q.cfg.Distance) {
		return e.Wrap(op, fmt.Errorf("%w: collection %s has size %d and distance %s, configured %d and %s",
			e.ErrConfiguration, q.cfg.QdrantCollectionName, info.Dimension, info.Distance, q.cfg.VectorSize, q.cfg.Distance))
	}

	return nil
}

// Upsert записывает вектор товара. Повторный вызов с тем же external_id перезаписывает точку.
func (q *EmbeddingRepo) Upsert(ctx context.Context, externalID string, vector []float32, payload domain.Payload) error {
	return q.UpsertEntries(ctx, []*domain.IndexEntry{domain.NewIndexEntry(externalID, vector, clonePayload(payload))})
}

// UpsertEntries сохраняет или обновляет точки в коллекции и дожидается применения записи.
func (q *EmbeddingRepo) UpsertEntries(ctx context.Context, entries []*domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, entry := range entries {
		if uint64(len(entry.Vector)) != q.cfg.VectorSize {
			return e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: vector for %s has %d dimensions, collection expects %d",
				e.ErrConfiguration, entry.ExternalID, len(entry.Vector), q.cfg.VectorSize))
		}

		point, err := toPointStruct(entry)
		if err != nil {
			return e.Wrap(whereami.WhereAmI(), err)
		}
		points = append(points, point)
	}

	_, err := q.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), classify(err))
	}

	return nil
}

// Search возвращает ближайших соседей по убыванию score. Порядок при равном score
// определяется Qdrant.
func (q *EmbeddingRepo) Search(ctx context.Context, query domain.SearchQuery) ([]domain.SearchHit, error) {
	const op = "EmbeddingRepo.Search"

	if uint64(len(query.Vector)) != q.cfg.VectorSize {
		return nil, e.Wrap(op, fmt.Errorf("%w: query has %d dimensions, collection expects %d",
			e.ErrConfiguration, len(query.Vector), q.cfg.VectorSize))
	}
	if query.TopK <= 0 {
		return nil, e.Wrap(op, e.ErrInvalidLimit)
	}

	res, err := q.points.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Query:          qdrant.NewQuery(query.Vector...),
		Limit:          qdrant.PtrOf(uint64(query.TopK)),
		ScoreThreshold: query.ScoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, e.Wrap(op, classify(err))
	}

	hits := make([]domain.SearchHit, 0, len(res.GetResult()))
	for _, point := range res.GetResult() {
		if query.ScoreThreshold != nil && point.GetScore() < *query.ScoreThreshold {
			continue
		}
		hits = append(hits, toSearchHit(point))
	}

	// стабильная сортировка сохраняет порядок Qdrant среди равных score
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	return hits, nil
}

// Get возвращает запись индекса вместе с вектором. Отсутствующая запись — e.ErrEntryNotFound.
func (q *EmbeddingRepo) Get(ctx context.Context, externalID string) (*domain.IndexEntry, error) {
	const op = "EmbeddingRepo.Get"

	res, err := q.points.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(domain.DeriveInternalID(externalID))},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, e.Wrap(op, classify(err))
	}

	if len(res.GetResult()) == 0 {
		return nil, e.Wrap(op, fmt.Errorf("%w: %s", e.ErrEntryNotFound, externalID))
	}

	return toIndexEntry(externalID, res.GetResult()[0]), nil
}

// Delete удаляет точки по выведенным идентификаторам. Удаление отсутствующей точки не ошибка.
func (q *EmbeddingRepo) Delete(ctx context.Context, externalIDs ...string) error {
	if len(externalIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, 0, len(externalIDs))
	for _, id := range externalIDs {
		ids = append(ids, qdrant.NewIDUUID(domain.DeriveInternalID(id)))
	}

	_, err := q.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), classify(err))
	}

	return nil
}

// CollectionInfo возвращает точное число точек, размерность и метрику коллекции.
func (q *EmbeddingRepo) CollectionInfo(ctx context.Context) (*domain.CollectionInfo, error) {
	const op = "EmbeddingRepo.CollectionInfo"

	info, err := q.collectionInfo(ctx)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	count, err := q.points.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, e.Wrap(op, classify(err))
	}
	info.Count = count.GetResult().GetCount()

	return info, nil
}

func (q *EmbeddingRepo) collectionInfo(ctx context.Context) (*domain.CollectionInfo, error) {
	res, err := q.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.cfg.QdrantCollectionName,
	})
	if err != nil {
		return nil, classify(err)
	}

	params := res.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return nil, fmt.Errorf("%w: collection %s has no single unnamed vector", e.ErrConfiguration, q.cfg.QdrantCollectionName)
	}

	return &domain.CollectionInfo{
		Name:      q.cfg.QdrantCollectionName,
		Count:     res.GetResult().GetPointsCount(),
		Dimension: params.GetSize(),
		Distance:  fromQdrantDistance(params.GetDistance()),
	}, nil
}

// classify помечает временные ошибки Qdrant как e.ErrRetryableIndex.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return e.Mark(e.ErrRetryableIndex, err)
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return e.Mark(e.ErrRetryableIndex, err)
	case codes.NotFound:
		return e.Mark(e.ErrConfiguration, err)
	default:
		return err
	}
}
