package pgdb

import (
	"context"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

type SearchLogRepo struct {
	pool *pgxpool.Pool
	conv converter.SearchLogConverter
}

func NewSearchLogRepo(pool *pgxpool.Pool, conv converter.SearchLogConverter) *SearchLogRepo {
	return &SearchLogRepo{pool: pool, conv: conv}
}

func (s *SearchLogRepo) Create(ctx context.Context, log *domain.SearchLog) error {
	model := s.conv.ToModel(log)

	query := `
		INSERT INTO search_logs (
			query_type, query_text, results_count, top_external_id, top_score, search_time_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := s.pool.Exec(ctx, query,
		model.QueryType,
		model.QueryText,
		model.ResultsCount,
		model.TopExternalID,
		model.TopScore,
		model.SearchTimeMs,
		model.CreatedAt,
	); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
