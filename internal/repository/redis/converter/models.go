package converter

import (
	"time"

	"github.com/shopspring/decimal"
)

// IndexJobRedisModel — задача индексации в сообщении Redis Stream
type IndexJobRedisModel struct {
	ID         string                `json:"id"`
	EventID    string                `json:"event_id"`
	EventType  string                `json:"event_type"`
	ExternalID string                `json:"external_id"`
	Operation  string                `json:"operation"`
	ImageKey   string                `json:"image_key,omitempty"`
	ImageURL   string                `json:"image_url,omitempty"`
	Product    ProductDataRedisModel `json:"product"`
	Batch      []string              `json:"batch,omitempty"`
	Attempt    int                   `json:"attempt"`
	EnqueuedAt time.Time             `json:"enqueued_at"`
}

type ProductDataRedisModel struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Category    string              `json:"category,omitempty"`
	Price       decimal.NullDecimal `json:"price"`
	Currency    string              `json:"currency,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

// EmbeddingRedisModel — закэшированный эмбеддинг текстового запроса
type EmbeddingRedisModel struct {
	ModelID string    `json:"model_id"`
	Vector  []float32 `json:"vector"`
}
