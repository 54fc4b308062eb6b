package converter

import "time"

// ProductModel представляет запись таблицы products в PostgreSQL.
type ProductModel struct {
	ID               int64          `db:"id"`
	ExternalID       string         `db:"external_id"`
	Title            string         `db:"title"`
	Description      string         `db:"description"`
	Category         string         `db:"category"`
	Price            *int64         `db:"price"`
	Currency         string         `db:"currency"`
	ImageURL         string         `db:"image_url"`
	ImageKey         string         `db:"image_key"`
	Metadata         map[string]any `db:"metadata"`
	EmbeddingID      *string        `db:"embedding_id"`
	EmbeddingVersion int            `db:"embedding_version"`
	LastEventID      string         `db:"last_event_id"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        *time.Time     `db:"updated_at"`
	DeletedAt        *time.Time     `db:"deleted_at"`
}

// WebhookEventModel представляет запись таблицы webhook_events.
type WebhookEventModel struct {
	EventID     string     `db:"event_id"`
	EventType   string     `db:"event_type"`
	ExternalID  string     `db:"external_id"`
	TaskID      string     `db:"task_id"`
	Status      string     `db:"status"`
	Attempts    int        `db:"attempts"`
	LastError   string     `db:"last_error"`
	Payload     []byte     `db:"payload"`
	ReceivedAt  time.Time  `db:"received_at"`
	ProcessedAt *time.Time `db:"processed_at"`
}

// SearchLogModel представляет запись таблицы search_logs.
type SearchLogModel struct {
	ID            int64     `db:"id"`
	QueryType     string    `db:"query_type"`
	QueryText     string    `db:"query_text"`
	ResultsCount  int       `db:"results_count"`
	TopExternalID *string   `db:"top_external_id"`
	TopScore      *float32  `db:"top_score"`
	SearchTimeMs  int64     `db:"search_time_ms"`
	CreatedAt     time.Time `db:"created_at"`
}

// OutboxEventModel представляет запись таблицы outbox_events.
type OutboxEventModel struct {
	ID          int64      `db:"id"`
	EventID     string     `db:"event_id"`
	EventType   string     `db:"event_type"`
	ExternalID  string     `db:"external_id"`
	Payload     []byte     `db:"payload"`
	Status      string     `db:"status"`
	CreatedAt   time.Time  `db:"created_at"`
	ProcessedAt *time.Time `db:"processed_at"`
}
