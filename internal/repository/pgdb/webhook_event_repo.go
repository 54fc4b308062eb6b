package pgdb

import (
	"context"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/tr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// WebhookEventRepo хранит аудит входящих уведомлений и состояние их обработки.
type WebhookEventRepo struct {
	pool *pgxpool.Pool
	conv converter.WebhookEventConverter
}

func NewWebhookEventRepo(pool *pgxpool.Pool, conv converter.WebhookEventConverter) *WebhookEventRepo {
	return &WebhookEventRepo{
		pool: pool,
		conv: conv,
	}
}

// Create записывает уведомление. Повторная запись того же event_id игнорируется.
func (w *WebhookEventRepo) Create(ctx context.Context, event *domain.WebhookEvent) error {
	q := tr.QuerierFromCtx(ctx, w.pool)
	model := w.conv.ToModel(event)

	query := `
		INSERT INTO webhook_events (
			event_id, event_type, external_id, task_id, status,
			attempts, last_error, payload, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`

	if _, err := q.Exec(ctx, query,
		model.EventID,
		model.EventType,
		model.ExternalID,
		model.TaskID,
		model.Status,
		model.Attempts,
		model.LastError,
		model.Payload,
		model.ReceivedAt,
	); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// UpdateStatus переводит уведомление в новое состояние. Уведомление без записи аудита
// пропускается: запись могла не сохраниться при приёме.
func (w *WebhookEventRepo) UpdateStatus(ctx context.Context, req *usecase.UpdateEventStatusReq) error {
	q := tr.QuerierFromCtx(ctx, w.pool)

	query := `
		UPDATE webhook_events
		SET status = $2,
			attempts = $3,
			last_error = $4,
			processed_at = COALESCE($5, processed_at)
		WHERE event_id = $1`

	if _, err := q.Exec(ctx, query, req.EventID, string(req.Status), req.Attempts, req.LastError, req.ProcessedAt); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
