package domain

import "time"

// JobOperation — действие над индексом
type JobOperation string

const (
	OperationUpsert JobOperation = "upsert"
	OperationDelete JobOperation = "delete"
	// OperationBatch переиндексирует уже известные товары по данным из PostgreSQL.
	OperationBatch JobOperation = "batch"
)

// JobStatus — состояние обработки уведомления
type JobStatus string

const (
	JobPending         JobStatus = "pending"
	JobProcessing      JobStatus = "processing"
	JobSucceeded       JobStatus = "succeeded"
	JobFailedRetry     JobStatus = "failed_retry"
	JobFailedPermanent JobStatus = "failed_permanent"
)

// IndexJob — единица работы воркера. Пока задача не забрана воркером, ей владеет очередь.
type IndexJob struct {
	ID         string
	EventID    string
	EventType  EventType
	ExternalID string
	Operation  JobOperation
	Image      ImageRef
	Product    ProductData
	Batch      []string // external_id товаров для OperationBatch
	Attempt    int
	EnqueuedAt time.Time
	// Receipt — идентификатор сообщения в очереди, нужен для Ack и Retry.
	Receipt string
}

func NewIndexJob(id string, event *ChangeEvent, op JobOperation, now time.Time) *IndexJob {
	return &IndexJob{
		ID:         id,
		EventID:    event.ID,
		EventType:  event.Type,
		ExternalID: event.Product.ExternalID,
		Operation:  op,
		Image:      event.Product.Image,
		Product:    event.Product,
		EnqueuedAt: now,
	}
}

// NewBatchJob создаёт задачу переиндексации группы товаров. Уведомления за ней нет,
// поэтому в качестве EventID используется id самой задачи.
func NewBatchJob(id string, externalIDs []string, now time.Time) *IndexJob {
	return &IndexJob{
		ID:         id,
		EventID:    id,
		Operation:  OperationBatch,
		Batch:      externalIDs,
		EnqueuedAt: now,
	}
}
