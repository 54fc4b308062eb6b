package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// WEBHOOK USECASE

// ReceiveReq — сырое уведомление каталога вместе с заголовком подписи.
type ReceiveReq struct {
	Body      []byte
	Signature string
}

// ReceiveRes — ответ на принятое уведомление.
type ReceiveRes struct {
	EventID   string
	TaskID    string
	Duplicate bool
	Message   string
}

// WebhookPayload — тело уведомления каталога.
type WebhookPayload struct {
	EventType string             `json:"event_type"`
	EventID   string             `json:"event_id"`
	Timestamp EventTimestamp     `json:"timestamp"`
	Data      WebhookProductData `json:"data"`
}

// WebhookProductData — данные товара в уведомлении.
type WebhookProductData struct {
	ProductID   ExternalID          `json:"product_id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Category    string              `json:"category"`
	Price       decimal.NullDecimal `json:"price"`
	Currency    string              `json:"currency"`
	ImageURL    string              `json:"image_url"`
	ImageKey    string              `json:"image_key"`
	Metadata    map[string]any      `json:"metadata"`
}

// ExternalID принимает product_id как строкой, так и числом.
type ExternalID string

func (id *ExternalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ExternalID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("product_id must be a string or a number: %w", err)
	}
	*id = ExternalID(n.String())
	return nil
}

// EventTimestamp принимает RFC 3339 или unix-время в секундах.
type EventTimestamp struct {
	time.Time
}

func (t *EventTimestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	sec, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	t.Time = time.Unix(0, int64(sec*float64(time.Second))).UTC()
	return nil
}

// UpdateEventStatusReq — переход уведомления в новое состояние обработки.
type UpdateEventStatusReq struct {
	EventID     string
	Status      domain.JobStatus
	Attempts    int
	LastError   string
	ProcessedAt *time.Time
}

// SEARCH USECASE

// TextSearchReq — поиск товаров по текстовому описанию.
type TextSearchReq struct {
	Query         string
	Limit         int
	MinSimilarity *float32
}

// ImageSearchReq — поиск товаров по изображению-образцу.
type ImageSearchReq struct {
	Image         []byte
	MimeType      string
	Limit         int
	MinSimilarity *float32
}

// SimilarSearchReq — поиск товаров, похожих на уже проиндексированный товар.
type SimilarSearchReq struct {
	ExternalID    string
	Limit         int
	MinSimilarity *float32
}

// SearchRes — результат поиска, отсортированный по убыванию сходства.
type SearchRes struct {
	QueryTimeMs int64
	Results     []SearchResult
}

type SearchResult struct {
	ExternalID string
	Score      float32
	Payload    domain.Payload
}

type IndexInfoRes struct {
	Collection string
	Count      uint64
	Dimension  uint64
	Distance   domain.DistanceMetric
	ModelID    string
	QueueDepth int64
}

// REINDEX USECASE

// ReindexReq — подписанная команда переиндексации.
type ReindexReq struct {
	Body      []byte
	Signature string
}

// BatchIndexPayload — тело команды индексации группы товаров.
type BatchIndexPayload struct {
	ProductIDs []ExternalID `json:"product_ids"`
}

// ReindexRes — сколько товаров и задач поставлено в очередь.
type ReindexRes struct {
	Products int
	TaskIDs  []string
}

// OUTBOX

type OutboxStatus string

const (
	Pending    OutboxStatus = "pending"
	Processing OutboxStatus = "processing"
	Processed  OutboxStatus = "processed"
)

type OutboxEventType string

// JobFailed — задача индексации завершилась постоянной ошибкой.
const JobFailed OutboxEventType = "index_job.failed"

// OutboxEvent — событие для публикации в Kafka.
type OutboxEvent struct {
	ID          int64
	EventID     string
	EventType   OutboxEventType
	ExternalID  string
	Payload     []byte
	Status      OutboxStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// FailedJobMessage — сообщение топика недоставленных задач. В Kafka уходит как
// google.protobuf.Struct с полями в snake_case.
type FailedJobMessage struct {
	JobID      string
	EventID    string
	EventType  string
	ExternalID string
	Operation  string
	ImageURL   string
	ImageKey   string
	Batch      []string
	Attempts   int
	Error      string
	FailedAt   time.Time
}

// MarshalProto кодирует сообщение в protobuf.
func (m *FailedJobMessage) MarshalProto() ([]byte, error) {
	fields := map[string]any{
		"job_id":      m.JobID,
		"event_id":    m.EventID,
		"event_type":  m.EventType,
		"external_id": m.ExternalID,
		"operation":   m.Operation,
		"attempts":    m.Attempts,
		"error":       m.Error,
		"failed_at":   m.FailedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.ImageURL != "" {
		fields["image_url"] = m.ImageURL
	}
	if m.ImageKey != "" {
		fields["image_key"] = m.ImageKey
	}
	if len(m.Batch) > 0 {
		ids := make([]any, 0, len(m.Batch))
		for _, id := range m.Batch {
			ids = append(ids, id)
		}
		fields["batch"] = ids
	}

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build failed job message %s: %w", m.JobID, err)
	}
	return proto.Marshal(msg)
}

// ParseFailedJobMessage разбирает сообщение топика недоставленных задач.
func ParseFailedJobMessage(data []byte) (*FailedJobMessage, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed job message: %w", err)
	}

	f := msg.GetFields()
	failedAt, err := time.Parse(time.RFC3339Nano, f["failed_at"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("failed to parse failed_at: %w", err)
	}

	var batch []string
	for _, v := range f["batch"].GetListValue().GetValues() {
		batch = append(batch, v.GetStringValue())
	}

	return &FailedJobMessage{
		JobID:      f["job_id"].GetStringValue(),
		EventID:    f["event_id"].GetStringValue(),
		EventType:  f["event_type"].GetStringValue(),
		ExternalID: f["external_id"].GetStringValue(),
		Operation:  f["operation"].GetStringValue(),
		ImageURL:   f["image_url"].GetStringValue(),
		ImageKey:   f["image_key"].GetStringValue(),
		Batch:      batch,
		Attempts:   int(f["attempts"].GetNumberValue()),
		Error:      f["error"].GetStringValue(),
		FailedAt:   failedAt,
	}, nil
}

// INFRASTRUCTURE

type WriteRawMessageReq struct {
	Key     string
	Payload []byte
}

// MAPPERS

func NewReceiveRes(eventID, taskID string, duplicate bool) *ReceiveRes {
	msg := "Webhook received and queued for processing"
	if duplicate {
		msg = "Webhook already received"
	}
	return &ReceiveRes{
		EventID:   eventID,
		TaskID:    taskID,
		Duplicate: duplicate,
		Message:   msg,
	}
}

func NewUpdateEventStatusReq(job *domain.IndexJob, status domain.JobStatus, cause error, processedAt *time.Time) *UpdateEventStatusReq {
	req := &UpdateEventStatusReq{
		EventID:     job.EventID,
		Status:      status,
		Attempts:    job.Attempt + 1,
		ProcessedAt: processedAt,
	}
	if cause != nil {
		req.LastError = cause.Error()
	}
	return req
}

func NewFailedJobMessage(job *domain.IndexJob, cause error, failedAt time.Time) *FailedJobMessage {
	return &FailedJobMessage{
		JobID:      job.ID,
		EventID:    job.EventID,
		EventType:  job.EventType.WireName(),
		ExternalID: job.ExternalID,
		Operation:  string(job.Operation),
		ImageURL:   job.Image.URL,
		ImageKey:   job.Image.Key,
		Batch:      job.Batch,
		Attempts:   job.Attempt + 1,
		Error:      cause.Error(),
		FailedAt:   failedAt.UTC(),
	}
}

func NewOutboxEvent(eventID string, externalID string, payload []byte, createdAt time.Time) *OutboxEvent {
	return &OutboxEvent{
		EventID:    eventID,
		EventType:  JobFailed,
		ExternalID: externalID,
		Payload:    payload,
		Status:     Pending,
		CreatedAt:  createdAt,
	}
}

func NewWriteRawMessageReq(key string, payload []byte) *WriteRawMessageReq {
	return &WriteRawMessageReq{
		Key:     key,
		Payload: payload,
	}
}

func NewSearchResult(hit domain.SearchHit) SearchResult {
	return SearchResult{
		ExternalID: hit.ExternalID,
		Score:      hit.Score,
		Payload:    hit.Payload,
	}
}
