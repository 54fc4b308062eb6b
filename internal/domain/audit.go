package domain

import "time"

// WebhookEvent — запись аудита входящего уведомления
type WebhookEvent struct {
	EventID     string
	EventType   EventType
	ExternalID  string
	TaskID      string
	Status      JobStatus
	Attempts    int
	LastError   string
	Payload     []byte
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// SearchQueryType — вид поискового запроса
type SearchQueryType string

const (
	SearchByText  SearchQueryType = "text"
	SearchByImage SearchQueryType = "image"
	SearchSimilar SearchQueryType = "similar"
)

// SearchLog — запись аудита поискового запроса
type SearchLog struct {
	QueryType     SearchQueryType
	QueryText     string
	ResultsCount  int
	TopExternalID string
	TopScore      float32
	SearchTimeMs  int64
	CreatedAt     time.Time
}
