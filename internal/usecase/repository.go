package usecase

import (
	"context"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
)

type ProductRepository interface {
	Upsert(ctx context.Context, product *domain.Product) (*domain.Product, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Product, error)
	MarkDeleted(ctx context.Context, externalID string, eventID string, at time.Time) error
	// ListIndexable возвращает не удалённые товары с изображением и id > afterID по возрастанию id.
	ListIndexable(ctx context.Context, afterID int64, limit int) ([]*domain.Product, error)
}

type WebhookEventRepository interface {
	Create(ctx context.Context, event *domain.WebhookEvent) error
	UpdateStatus(ctx context.Context, req *UpdateEventStatusReq) error
}

type SearchLogRepository interface {
	Create(ctx context.Context, log *domain.SearchLog) error
}

type OutboxRepository interface {
	Create(ctx context.Context, event *OutboxEvent) (*OutboxEvent, error)
	GetAndMarkAsProcessing(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkAsProcessed(ctx context.Context, id int64) error
	ReleaseProcessing(ctx context.Context, id int64) error
}

type ImageRepository interface {
	Get(ctx context.Context, key string, maxBytes int64) ([]byte, error)
}

// VectorIndex — векторный индекс товаров. Точка индекса адресуется идентификатором,
// выведенным из external_id, поэтому повторная запись товара перезаписывает её.
type VectorIndex interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, externalID string, vector []float32, payload domain.Payload) error
	UpsertEntries(ctx context.Context, entries []*domain.IndexEntry) error
	Search(ctx context.Context, query domain.SearchQuery) ([]domain.SearchHit, error)
	Get(ctx context.Context, externalID string) (*domain.IndexEntry, error)
	Delete(ctx context.Context, externalIDs ...string) error
	CollectionInfo(ctx context.Context) (*domain.CollectionInfo, error)
}

// JobQueue — надёжная очередь задач индексации.
type JobQueue interface {
	Enqueue(ctx context.Context, job *domain.IndexJob) error
	// EnqueueOnce ставит задачу, только если eventID не встречался за ttl. Отметка о событии
	// и задача появляются вместе: false означает повтор, и в очередь ничего не добавлено.
	EnqueueOnce(ctx context.Context, eventID string, ttl time.Duration, job *domain.IndexJob) (bool, error)
	// Claim блокируется до появления задачи или истечения таймаута ожидания; (nil, nil) — задач нет.
	Claim(ctx context.Context, consumer string) (*domain.IndexJob, error)
	Ack(ctx context.Context, job *domain.IndexJob) error
	Retry(ctx context.Context, job *domain.IndexJob, delay time.Duration) error
	Depth(ctx context.Context) (int64, error)
}

type QueryEmbeddingCache interface {
	Get(ctx context.Context, modelID string, text string) ([]float32, bool, error)
	Set(ctx context.Context, modelID string, text string, vector []float32) error
}
