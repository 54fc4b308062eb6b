package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/repository/memory"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/DRSN-tech/visual-search/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "webhook-secret"

type webhookFixture struct {
	uc     *WebhookUseCase
	queue  *memory.JobQueue
	events *fakeEventRepo
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		queue:  memory.NewJobQueue(20 * time.Millisecond),
		events: &fakeEventRepo{},
	}
	f.uc = NewWebhookUC(&cfg.WebhookCfg{Secret: testSecret, Timeout: time.Second, DedupTTL: time.Hour}, f.queue, f.events, logger.NewNop())
	return f
}

func (f *webhookFixture) depth(t *testing.T) int64 {
	t.Helper()
	d, err := f.queue.Depth(context.Background())
	require.NoError(t, err)
	return d
}

func eventBody(t *testing.T, eventType, eventID string, data map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event_type": eventType,
		"event_id":   eventID,
		"timestamp":  "2026-10-01T12:00:00Z",
		"data":       data,
	})
	require.NoError(t, err)
	return body
}

func signed(body []byte) *ReceiveReq {
	return &ReceiveReq{Body: body, Signature: signature.Sign(body, []byte(testSecret))}
}

// ========================== signature ==========================

func TestReceive_InvalidSignatureHasNoSideEffects(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "product.created", "evt1", map[string]any{"product_id": "42", "image_url": "https://cdn/42.jpg"})

	for _, sig := range []string{"", "sha256=deadbeef", signature.Sign(body, []byte("other-secret"))} {
		_, err := f.uc.Receive(context.Background(), &ReceiveReq{Body: body, Signature: sig})
		assert.ErrorIs(t, err, e.ErrInvalidSignature)
	}

	assert.Equal(t, int64(0), f.depth(t))
	assert.Empty(t, f.events.created)

	// отклонённая доставка не занимает event_id
	_, err := f.uc.Receive(context.Background(), signed(body))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.depth(t))
}

func TestReceive_TamperedBody(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "product.created", "evt1", map[string]any{"product_id": "42", "image_url": "https://cdn/42.jpg"})
	req := signed(body)
	req.Body = []byte(string(body[:len(body)-2]) + " }")

	_, err := f.uc.Receive(context.Background(), req)
	assert.ErrorIs(t, err, e.ErrInvalidSignature)
}

// ========================== validation ==========================

func TestReceive_Validation(t *testing.T) {
	withImage := map[string]any{"product_id": "42", "image_url": "https://cdn/42.jpg"}

	tests := []struct {
		name string
		body []byte
		want error
	}{
		{name: "not json", body: []byte("{not json"), want: e.ErrMalformedBody},
		{name: "wrong data type", body: []byte(`{"event_type":"product.created","event_id":"x","data":"oops"}`), want: e.ErrMalformedBody},
		{name: "bad timestamp", body: []byte(`{"event_type":"product.created","event_id":"x","timestamp":"yesterday","data":{"product_id":"1"}}`), want: e.ErrMalformedBody},
		{name: "unknown event type", body: eventBody(t, "product.archived", "evt1", withImage), want: e.ErrUnknownEventType},
		{name: "missing event type", body: eventBody(t, "", "evt1", withImage), want: e.ErrMissingFields},
		{name: "missing event id", body: eventBody(t, "product.created", "", withImage), want: e.ErrMissingFields},
		{name: "missing product id", body: eventBody(t, "product.created", "evt1", map[string]any{"image_url": "u"}), want: e.ErrMissingFields},
		{name: "created without image", body: eventBody(t, "product.created", "evt1", map[string]any{"product_id": "42"}), want: e.ErrNoImageReference},
		{name: "image updated without image", body: eventBody(t, "product.image.updated", "evt1", map[string]any{"product_id": "42"}), want: e.ErrNoImageReference},
		{name: "negative price", body: eventBody(t, "product.created", "evt1", map[string]any{"product_id": "42", "image_key": "k", "price": -1}), want: e.ErrInvalidPrice},
		{name: "price precision", body: eventBody(t, "product.created", "evt1", map[string]any{"product_id": "42", "image_key": "k", "price": "1.005"}), want: e.ErrPricePrecision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(t)

			_, err := f.uc.Receive(context.Background(), signed(tt.body))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int64(0), f.depth(t))
		})
	}
}

// ========================== routing ==========================

func TestReceive_RoutesEvents(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		data      map[string]any
		wantOp    domain.JobOperation
		wantType  domain.EventType
		wantImage domain.ImageRef
		wantTitle string
	}{
		{
			name: "created", eventType: "product.created",
			data:   map[string]any{"product_id": "42", "title": "Red dress", "image_key": "catalog/42.jpg", "image_url": "https://cdn/42.jpg"},
			wantOp: domain.OperationUpsert, wantType: domain.EventCreated,
			wantImage: domain.ImageRef{Key: "catalog/42.jpg", URL: "https://cdn/42.jpg"}, wantTitle: "Red dress",
		},
		{
			name: "updated without image", eventType: "updated",
			data:   map[string]any{"product_id": 42, "title": "Blue dress"},
			wantOp: domain.OperationUpsert, wantType: domain.EventUpdated, wantTitle: "Blue dress",
		},
		{
			name: "image updated keeps only the image", eventType: "product.image.updated",
			data:   map[string]any{"product_id": "42", "title": "ignored", "image_url": "https://cdn/42-v2.jpg"},
			wantOp: domain.OperationUpsert, wantType: domain.EventImageUpdated,
			wantImage: domain.ImageRef{URL: "https://cdn/42-v2.jpg"},
		},
		{
			name: "deleted", eventType: "product.deleted",
			data:   map[string]any{"product_id": "42", "image_url": "https://cdn/42.jpg"},
			wantOp: domain.OperationDelete, wantType: domain.EventDeleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(t)

			res, err := f.uc.Receive(context.Background(), signed(eventBody(t, tt.eventType, "evt-"+tt.name, tt.data)))
			require.NoError(t, err)
			assert.False(t, res.Duplicate)
			assert.NotEmpty(t, res.TaskID)

			job, err := f.queue.Claim(context.Background(), "test")
			require.NoError(t, err)
			require.NotNil(t, job)

			assert.Equal(t, res.TaskID, job.ID)
			assert.Equal(t, "evt-"+tt.name, job.EventID)
			assert.Equal(t, "42", job.ExternalID)
			assert.Equal(t, tt.wantOp, job.Operation)
			assert.Equal(t, tt.wantType, job.EventType)
			assert.Equal(t, tt.wantImage, job.Image)
			assert.Equal(t, tt.wantTitle, job.Product.Title)
		})
	}
}

// ========================== idempotency ==========================

func TestReceive_DuplicateEventEnqueuedOnce(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "product.created", "evt1", map[string]any{"product_id": "42", "image_url": "https://cdn/42.jpg"})

	first, err := f.uc.Receive(context.Background(), signed(body))
	require.NoError(t, err)
	second, err := f.uc.Receive(context.Background(), signed(body))
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, "evt1", second.EventID)
	assert.Equal(t, int64(1), f.depth(t))
	assert.Len(t, f.events.created, 1)
}

func TestReceive_EnqueueFailureKeepsEventAcceptable(t *testing.T) {
	f := newWebhookFixture(t)
	f.uc.queue = failingQueue{JobQueue: f.queue}
	body := eventBody(t, "product.created", "evt1", map[string]any{"product_id": "42", "image_url": "https://cdn/42.jpg"})

	_, err := f.uc.Receive(context.Background(), signed(body))
	require.Error(t, err)
	assert.Empty(t, f.events.created)

	// повторная доставка того же события принимается
	f.uc.queue = f.queue
	res, err := f.uc.Receive(context.Background(), signed(body))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(1), f.depth(t))
}

func TestReceive_AuditFailureDoesNotFail(t *testing.T) {
	f := newWebhookFixture(t)
	f.events.createErr = errors.New("db down")
	body := eventBody(t, "product.deleted", "evt1", map[string]any{"product_id": "42"})

	res, err := f.uc.Receive(context.Background(), signed(body))
	require.NoError(t, err)
	assert.NotEmpty(t, res.TaskID)
	assert.Equal(t, int64(1), f.depth(t))
}

func TestReceive_AuditRecord(t *testing.T) {
	f := newWebhookFixture(t)
	body := eventBody(t, "product.created", "evt1", map[string]any{"product_id": "42", "image_key": "k"})

	res, err := f.uc.Receive(context.Background(), signed(body))
	require.NoError(t, err)

	require.Len(t, f.events.created, 1)
	rec := f.events.created[0]
	assert.Equal(t, "evt1", rec.EventID)
	assert.Equal(t, domain.EventCreated, rec.EventType)
	assert.Equal(t, "42", rec.ExternalID)
	assert.Equal(t, res.TaskID, rec.TaskID)
	assert.Equal(t, domain.JobPending, rec.Status)
	assert.Equal(t, body, rec.Payload)
}

// ========================== payload ==========================

func TestExternalID_Unmarshal(t *testing.T) {
	var data WebhookProductData
	require.NoError(t, json.Unmarshal([]byte(`{"product_id": 1234567890123}`), &data))
	assert.Equal(t, ExternalID("1234567890123"), data.ProductID)

	require.NoError(t, json.Unmarshal([]byte(`{"product_id": " sku-9 "}`), &data))
	assert.Equal(t, ExternalID("sku-9"), data.ProductID)

	assert.Error(t, json.Unmarshal([]byte(`{"product_id": {"id": 1}}`), &data))
}

func TestEventTimestamp_Unmarshal(t *testing.T) {
	var p WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(`{"timestamp": 1790000000}`), &p))
	assert.Equal(t, int64(1790000000), p.Timestamp.Unix())

	require.NoError(t, json.Unmarshal([]byte(`{"timestamp": "2026-10-01T12:00:00+06:00"}`), &p))
	assert.Equal(t, time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC), p.Timestamp.UTC())
}

func TestPriceToCents(t *testing.T) {
	var data WebhookProductData
	require.NoError(t, json.Unmarshal([]byte(`{"price": "599.99"}`), &data))
	cents, err := priceToCents(data.Price)
	require.NoError(t, err)
	assert.Equal(t, int64(59999), *cents)

	require.NoError(t, json.Unmarshal([]byte(`{"price": 10.500}`), &data))
	cents, err = priceToCents(data.Price)
	require.NoError(t, err)
	assert.Equal(t, int64(1050), *cents)

	data = WebhookProductData{}
	cents, err = priceToCents(data.Price)
	require.NoError(t, err)
	assert.Nil(t, cents)

	require.NoError(t, json.Unmarshal([]byte(`{"price": 2000000000}`), &data))
	_, err = priceToCents(data.Price)
	assert.ErrorIs(t, err, e.ErrInvalidPrice)
}
