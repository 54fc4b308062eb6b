package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
)

// SearchUseCase ищет товары по тексту или изображению в общем пространстве эмбеддингов.
type SearchUseCase struct {
	engine EmbeddingEngine
	index  VectorIndex
	cache  QueryEmbeddingCache
	logs   SearchLogRepository
	queue  JobQueue
	cfg    *cfg.SearchCfg
	logger logger.Logger
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewSearchUC(
	engine EmbeddingEngine,
	index VectorIndex,
	cache QueryEmbeddingCache,
	logs SearchLogRepository,
	queue JobQueue,
	cfg *cfg.SearchCfg,
	logger logger.Logger,
) *SearchUseCase {
	return &SearchUseCase{
		engine: engine,
		index:  index,
		cache:  cache,
		logs:   logs,
		queue:  queue,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SearchByText ищет товары по текстовому запросу. Эмбеддинг запроса кэшируется.
func (s *SearchUseCase) SearchByText(ctx context.Context, req *TextSearchReq) (*SearchRes, error) {
	const op = "SearchUseCase.SearchByText"

	text := strings.TrimSpace(req.Query)
	if text == "" {
		return nil, e.Wrap(op, e.ErrEmptyInput)
	}

	query, err := s.buildQuery(req.Limit, req.MinSimilarity)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	started := s.now()
	query.Vector, err = s.textVector(ctx, text)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	res, err := s.search(ctx, query, started)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	s.logSearch(domain.SearchByText, text, res)
	return res, nil
}

// SearchByImage ищет товары, похожие на изображение-образец.
func (s *SearchUseCase) SearchByImage(ctx context.Context, req *ImageSearchReq) (*SearchRes, error) {
	const op = "SearchUseCase.SearchByImage"

	if len(req.Image) == 0 {
		return nil, e.Wrap(op, e.ErrEmptyInput)
	}
	if s.cfg.MaxImageBytes > 0 && int64(len(req.Image)) > s.cfg.MaxImageBytes {
		return nil, e.Wrap(op, e.ErrFileTooLarge)
	}

	query, err := s.buildQuery(req.Limit, req.MinSimilarity)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	started := s.now()
	query.Vector, err = s.engine.EmbedImage(ctx, req.Image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	res, err := s.search(ctx, query, started)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	s.logSearch(domain.SearchByImage, req.MimeType, res)
	return res, nil
}

// SearchSimilar ищет товары, похожие на уже проиндексированный товар. Сам товар в выдачу не попадает.
func (s *SearchUseCase) SearchSimilar(ctx context.Context, req *SimilarSearchReq) (*SearchRes, error) {
	const op = "SearchUseCase.SearchSimilar"

	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return nil, e.Wrap(op, e.ErrEmptyInput)
	}

	query, err := s.buildQuery(req.Limit, req.MinSimilarity)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	started := s.now()
	entry, err := s.index.Get(ctx, externalID)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	limit := query.TopK
	query.Vector = entry.Vector
	query.TopK = limit + 1

	res, err := s.search(ctx, query, started)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	results := make([]SearchResult, 0, limit)
	for _, r := range res.Results {
		if r.ExternalID != externalID && len(results) < limit {
			results = append(results, r)
		}
	}
	res.Results = results

	s.logSearch(domain.SearchSimilar, externalID, res)
	return res, nil
}

// IndexInfo возвращает состояние коллекции и очереди индексации.
func (s *SearchUseCase) IndexInfo(ctx context.Context) (*IndexInfoRes, error) {
	const op = "SearchUseCase.IndexInfo"

	info, err := s.index.CollectionInfo(ctx)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	depth, err := s.queue.Depth(ctx)
	if err != nil {
		s.logger.Warnf("failed to read queue depth: %v", e.Wrap(op, err))
		depth = -1
	}

	return &IndexInfoRes{
		Collection: info.Name,
		Count:      info.Count,
		Dimension:  info.Dimension,
		Distance:   info.Distance,
		ModelID:    s.engine.ModelID(),
		QueueDepth: depth,
	}, nil
}

// Wait дожидается фоновой записи журналов поиска.
func (s *SearchUseCase) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("search log flush timeout during shutdown: %w", ctx.Err())
	}
}

func (s *SearchUseCase) buildQuery(limit int, minSimilarity *float32) (domain.SearchQuery, error) {
	switch {
	case limit == 0:
		limit = s.cfg.DefaultLimit
	case limit < 0 || limit > s.cfg.MaxLimit:
		return domain.SearchQuery{}, fmt.Errorf("%w: %d, allowed 1..%d", e.ErrInvalidLimit, limit, s.cfg.MaxLimit)
	}

	threshold := minSimilarity
	if threshold == nil && s.cfg.MinSimilarity > 0 {
		v := s.cfg.MinSimilarity
		threshold = &v
	}
	if threshold != nil && (*threshold < 0 || *threshold > 1) {
		return domain.SearchQuery{}, fmt.Errorf("%w: got %v", e.ErrInvalidThreshold, *threshold)
	}

	return domain.SearchQuery{TopK: limit, ScoreThreshold: threshold}, nil
}

func (s *SearchUseCase) search(ctx context.Context, query domain.SearchQuery, started time.Time) (*SearchRes, error) {
	hits, err := s.index.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, NewSearchResult(hit))
	}

	return &SearchRes{
		QueryTimeMs: s.now().Sub(started).Milliseconds(),
		Results:     results,
	}, nil
}

// textVector берёт эмбеддинг запроса из кэша, при промахе считает его и кэширует.
// Ошибки кэша только логируются.
func (s *SearchUseCase) textVector(ctx context.Context, text string) ([]float32, error) {
	modelID := s.engine.ModelID()

	vector, ok, err := s.cache.Get(ctx, modelID, text)
	if err != nil {
		s.logger.Warnf("query embedding cache read failed: %v", err)
	}
	if ok && len(vector) == s.engine.Dimension() {
		return vector, nil
	}

	vector, err = s.engine.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, modelID, text, vector); err != nil {
		s.logger.Warnf("query embedding cache write failed: %v", err)
	}

	return vector, nil
}

// logSearch пишет журнал поиска в фоне.
func (s *SearchUseCase) logSearch(queryType domain.SearchQueryType, query string, res *SearchRes) {
	entry := &domain.SearchLog{
		QueryType:    queryType,
		QueryText:    query,
		ResultsCount: len(res.Results),
		SearchTimeMs: res.QueryTimeMs,
		CreatedAt:    s.now(),
	}
	if len(res.Results) > 0 {
		entry.TopExternalID = res.Results[0].ExternalID
		entry.TopScore = res.Results[0].Score
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := s.logs.Create(bgCtx, entry); err != nil {
			s.logger.Warnf("failed to store search log: %v", err)
		}
	}()
}
