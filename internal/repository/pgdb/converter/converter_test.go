package converter

import (
	"testing"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===== Product =====

func TestProductConverter_RoundTrip(t *testing.T) {
	price := int64(59999)
	deletedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	product := &domain.Product{
		ID:               7,
		ExternalID:       "sku-1",
		Title:            "Кроссовки",
		Category:         "shoes",
		Price:            &price,
		Currency:         "KGS",
		ImageKey:         "products/sku-1.jpg",
		Metadata:         map[string]any{"color": "red"},
		EmbeddingID:      domain.DeriveInternalID("sku-1"),
		EmbeddingVersion: 3,
		LastEventID:      "evt-1",
		CreatedAt:        deletedAt.Add(-time.Hour),
		DeletedAt:        &deletedAt,
	}

	c := NewProductConverter()
	model := c.ToModel(product)
	require.NotNil(t, model.EmbeddingID)
	assert.Equal(t, product.EmbeddingID, *model.EmbeddingID)
	assert.Equal(t, product, c.ToEntity(model))
}

func TestProductConverter_EmptyEmbeddingIsNull(t *testing.T) {
	c := NewProductConverter()

	model := c.ToModel(&domain.Product{ExternalID: "sku-2"})
	assert.Nil(t, model.EmbeddingID)
	assert.Empty(t, c.ToEntity(model).EmbeddingID)

	assert.Nil(t, c.ToModel(nil))
	assert.Nil(t, c.ToEntity(nil))
}

// ===== Audit =====

func TestWebhookEventConverter_UsesWireName(t *testing.T) {
	model := NewWebhookEventConverter().ToModel(&domain.WebhookEvent{
		EventID:   "evt-1",
		EventType: domain.EventImageUpdated,
		Status:    domain.JobPending,
	})

	assert.Equal(t, "product.image.updated", model.EventType)
	assert.Equal(t, "pending", model.Status)
}

func TestSearchLogConverter_TopScore(t *testing.T) {
	tests := []struct {
		name      string
		log       *domain.SearchLog
		wantScore *float32
		wantTopID *string
	}{
		{
			name: "empty result has no top score",
			log:  &domain.SearchLog{QueryType: domain.SearchByText, QueryText: "red shoes"},
		},
		{
			name:      "top hit recorded",
			log:       &domain.SearchLog{QueryType: domain.SearchByImage, ResultsCount: 2, TopExternalID: "sku-1", TopScore: 0.91},
			wantScore: ptr(float32(0.91)),
			wantTopID: ptr("sku-1"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := NewSearchLogConverter().ToModel(tt.log)
			assert.Equal(t, tt.wantScore, model.TopScore)
			assert.Equal(t, tt.wantTopID, model.TopExternalID)
			assert.Equal(t, string(tt.log.QueryType), model.QueryType)
		})
	}
}

// ===== Outbox =====

func TestOutboxEventConverter_Arr(t *testing.T) {
	c := NewOutboxEventConverter()
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	event := usecase.NewOutboxEvent("evt-1", "sku-1", []byte(`{"external_id":"sku-1"}`), createdAt)
	model := c.ToModel(event)
	assert.Equal(t, "pending", model.Status)
	assert.Equal(t, "index_job.failed", model.EventType)

	out := c.ToArrEntity([]*OutboxEventModel{model, model})
	require.Len(t, out, 2)
	assert.Equal(t, event, out[0])
	assert.Nil(t, c.ToArrEntity(nil))
}

func ptr[T any](v T) *T { return &v }
