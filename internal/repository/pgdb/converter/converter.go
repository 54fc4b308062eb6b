package converter

import (
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/usecase"
)

// ProductConverter преобразует сущности Product между domain и моделью PostgreSQL.
type ProductConverter interface {
	ToModel(entity *domain.Product) *ProductModel
	ToEntity(model *ProductModel) *domain.Product
}

// WebhookEventConverter преобразует запись аудита уведомления.
type WebhookEventConverter interface {
	ToModel(entity *domain.WebhookEvent) *WebhookEventModel
}

// SearchLogConverter преобразует запись аудита поиска.
type SearchLogConverter interface {
	ToModel(entity *domain.SearchLog) *SearchLogModel
}

// OutboxEventConverter преобразует сущности OutboxEvent между usecase и моделью PostgreSQL.
type OutboxEventConverter interface {
	ToModel(entity *usecase.OutboxEvent) *OutboxEventModel
	ToEntity(model *OutboxEventModel) *usecase.OutboxEvent
	ToArrEntity(models []*OutboxEventModel) []*usecase.OutboxEvent
}

type ProductConverterImpl struct{}

func NewProductConverter() *ProductConverterImpl { return &ProductConverterImpl{} }

func (ProductConverterImpl) ToModel(entity *domain.Product) *ProductModel {
	if entity == nil {
		return nil
	}

	return &ProductModel{
		ID:               entity.ID,
		ExternalID:       entity.ExternalID,
		Title:            entity.Title,
		Description:      entity.Description,
		Category:         entity.Category,
		Price:            entity.Price,
		Currency:         entity.Currency,
		ImageURL:         entity.ImageURL,
		ImageKey:         entity.ImageKey,
		Metadata:         entity.Metadata,
		EmbeddingID:      nullableString(entity.EmbeddingID),
		EmbeddingVersion: entity.EmbeddingVersion,
		LastEventID:      entity.LastEventID,
		CreatedAt:        entity.CreatedAt,
		UpdatedAt:        entity.UpdatedAt,
		DeletedAt:        entity.DeletedAt,
	}
}

func (ProductConverterImpl) ToEntity(model *ProductModel) *domain.Product {
	if model == nil {
		return nil
	}

	p := &domain.Product{
		ID:               model.ID,
		ExternalID:       model.ExternalID,
		Title:            model.Title,
		Description:      model.Description,
		Category:         model.Category,
		Price:            model.Price,
		Currency:         model.Currency,
		ImageURL:         model.ImageURL,
		ImageKey:         model.ImageKey,
		Metadata:         model.Metadata,
		EmbeddingVersion: model.EmbeddingVersion,
		LastEventID:      model.LastEventID,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
		DeletedAt:        model.DeletedAt,
	}
	if model.EmbeddingID != nil {
		p.EmbeddingID = *model.EmbeddingID
	}

	return p
}

type WebhookEventConverterImpl struct{}

func NewWebhookEventConverter() *WebhookEventConverterImpl { return &WebhookEventConverterImpl{} }

func (WebhookEventConverterImpl) ToModel(entity *domain.WebhookEvent) *WebhookEventModel {
	if entity == nil {
		return nil
	}

	return &WebhookEventModel{
		EventID:     entity.EventID,
		EventType:   entity.EventType.WireName(),
		ExternalID:  entity.ExternalID,
		TaskID:      entity.TaskID,
		Status:      string(entity.Status),
		Attempts:    entity.Attempts,
		LastError:   entity.LastError,
		Payload:     entity.Payload,
		ReceivedAt:  entity.ReceivedAt,
		ProcessedAt: entity.ProcessedAt,
	}
}

type SearchLogConverterImpl struct{}

func NewSearchLogConverter() *SearchLogConverterImpl { return &SearchLogConverterImpl{} }

func (SearchLogConverterImpl) ToModel(entity *domain.SearchLog) *SearchLogModel {
	if entity == nil {
		return nil
	}

	m := &SearchLogModel{
		QueryType:     string(entity.QueryType),
		QueryText:     entity.QueryText,
		ResultsCount:  entity.ResultsCount,
		TopExternalID: nullableString(entity.TopExternalID),
		SearchTimeMs:  entity.SearchTimeMs,
		CreatedAt:     entity.CreatedAt,
	}
	// у пустой выдачи нет лучшего результата
	if entity.ResultsCount > 0 {
		score := entity.TopScore
		m.TopScore = &score
	}

	return m
}

type OutboxEventConverterImpl struct{}

func NewOutboxEventConverter() *OutboxEventConverterImpl { return &OutboxEventConverterImpl{} }

func (OutboxEventConverterImpl) ToModel(entity *usecase.OutboxEvent) *OutboxEventModel {
	if entity == nil {
		return nil
	}

	return &OutboxEventModel{
		ID:          entity.ID,
		EventID:     entity.EventID,
		EventType:   string(entity.EventType),
		ExternalID:  entity.ExternalID,
		Payload:     entity.Payload,
		Status:      string(entity.Status),
		CreatedAt:   entity.CreatedAt,
		ProcessedAt: entity.ProcessedAt,
	}
}

func (OutboxEventConverterImpl) ToEntity(model *OutboxEventModel) *usecase.OutboxEvent {
	if model == nil {
		return nil
	}

	return &usecase.OutboxEvent{
		ID:          model.ID,
		EventID:     model.EventID,
		EventType:   usecase.OutboxEventType(model.EventType),
		ExternalID:  model.ExternalID,
		Payload:     model.Payload,
		Status:      usecase.OutboxStatus(model.Status),
		CreatedAt:   model.CreatedAt,
		ProcessedAt: model.ProcessedAt,
	}
}

func (c OutboxEventConverterImpl) ToArrEntity(models []*OutboxEventModel) []*usecase.OutboxEvent {
	if models == nil {
		return nil
	}

	out := make([]*usecase.OutboxEvent, 0, len(models))
	for _, m := range models {
		out = append(out, c.ToEntity(m))
	}
	return out
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
