package domain

import "github.com/google/uuid"

// DistanceMetric — метрика сравнения векторов в индексе. Поддерживаются только метрики сходства:
// больший score означает более близкий вектор.
type DistanceMetric string

const (
	DistanceCosine DistanceMetric = "cosine"
	DistanceDot    DistanceMetric = "dot"
)

// IndexEntry — запись векторного индекса. На один external_id приходится ровно одна запись.
type IndexEntry struct {
	InternalID string
	ExternalID string
	Vector     []float32
	Payload    Payload
}

func NewIndexEntry(externalID string, vector []float32, payload Payload) *IndexEntry {
	if payload == nil {
		payload = Payload{}
	}
	payload[PayloadExternalID] = externalID

	return &IndexEntry{
		InternalID: DeriveInternalID(externalID),
		ExternalID: externalID,
		Vector:     vector,
		Payload:    payload,
	}
}

// DeriveInternalID детерминированно выводит идентификатор точки индекса из внешнего id (UUIDv5).
// Повторная индексация товара перезаписывает ту же точку.
func DeriveInternalID(externalID string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(externalID)).String()
}

// SearchQuery — запрос ближайших соседей
type SearchQuery struct {
	Vector []float32
	TopK   int
	// ScoreThreshold отсекает результаты с меньшим score, nil — без порога.
	ScoreThreshold *float32
}

// SearchHit — результат поиска, упорядочены по убыванию Score
type SearchHit struct {
	InternalID string
	ExternalID string
	Score      float32
	Payload    Payload
}

// CollectionInfo описывает состояние коллекции индекса
type CollectionInfo struct {
	Name      string
	Count     uint64
	Dimension uint64
	Distance  DistanceMetric
}
