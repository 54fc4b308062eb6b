package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/repository/memory"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type indexingFixture struct {
	uc       *IndexingUseCase
	index    *memory.VectorIndex
	products *fakeProductRepo
	events   *fakeEventRepo
	outbox   *fakeOutboxRepo
	tx       *fakeTransactor
	engine   *fakeEngine
	fetcher  *MockImageFetcher
}

func newIndexingFixture(t *testing.T) *indexingFixture {
	t.Helper()
	f := &indexingFixture{
		index:    memory.NewVectorIndex("products", testDim),
		products: newFakeProductRepo(),
		events:   &fakeEventRepo{},
		outbox:   &fakeOutboxRepo{},
		tx:       &fakeTransactor{},
		engine:   &fakeEngine{},
		fetcher:  new(MockImageFetcher),
	}
	f.uc = NewIndexingUC(f.products, f.events, f.outbox, f.tx, f.index, f.engine, f.fetcher, logger.NewNop())
	f.uc.now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func upsertJob(eventType domain.EventType, externalID string, image domain.ImageRef, product domain.ProductData) *domain.IndexJob {
	product.ExternalID = externalID
	return &domain.IndexJob{
		ID:         "task-" + string(eventType),
		EventID:    "evt-" + string(eventType),
		EventType:  eventType,
		ExternalID: externalID,
		Operation:  domain.OperationUpsert,
		Image:      image,
		Product:    product,
	}
}

func deleteJob(externalID string) *domain.IndexJob {
	return &domain.IndexJob{
		ID:         "task-delete",
		EventID:    "evt-delete",
		EventType:  domain.EventDeleted,
		ExternalID: externalID,
		Operation:  domain.OperationDelete,
	}
}

// ========================== upsert ==========================

func TestProcess_CreatedIndexesProduct(t *testing.T) {
	f := newIndexingFixture(t)
	ref := domain.ImageRef{Key: "catalog/42.jpg"}
	f.fetcher.On("Fetch", mock.Anything, ref).Return([]byte{2}, nil).Once()

	job := upsertJob(domain.EventCreated, "42", ref, domain.ProductData{
		Title:    "Red dress",
		Category: "dresses",
		Price:    decimal.NewNullDecimal(decimal.RequireFromString("599.99")),
		Currency: "KGS",
		Image:    ref,
	})
	require.NoError(t, f.uc.Process(context.Background(), job))

	entry, err := f.index.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 0}, entry.Vector)
	assert.Equal(t, "Red dress", entry.Payload[domain.PayloadTitle])
	assert.Equal(t, "catalog/42.jpg", entry.Payload[domain.PayloadImageKey])
	assert.Equal(t, 599.99, entry.Payload[domain.PayloadPrice])
	assert.Equal(t, "evt-created", entry.Payload[domain.PayloadEventID])
	assert.Equal(t, "test/clip", entry.Payload[domain.PayloadModelID])

	row, err := f.products.GetByExternalID(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, int64(59999), *row.Price)
	assert.Equal(t, domain.DeriveInternalID("42"), row.EmbeddingID)
	assert.Equal(t, "evt-created", row.LastEventID)
	f.fetcher.AssertExpectations(t)
}

func TestProcess_ReprocessingKeepsOneEntry(t *testing.T) {
	f := newIndexingFixture(t)
	ref := domain.ImageRef{URL: "https://cdn/42.jpg"}
	f.fetcher.On("Fetch", mock.Anything, ref).Return([]byte{1}, nil)

	job := upsertJob(domain.EventCreated, "42", ref, domain.ProductData{Image: ref})
	for i := 0; i < 3; i++ {
		require.NoError(t, f.uc.Process(context.Background(), job))
	}

	info, err := f.index.CollectionInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Count)
}

func TestProcess_UpdatedWithoutImageReusesVector(t *testing.T) {
	f := newIndexingFixture(t)
	require.NoError(t, f.index.Upsert(context.Background(), "42", []float32{0, 1, 0, 0}, domain.Payload{"title": "old"}))
	_, err := f.products.Upsert(context.Background(), &domain.Product{ExternalID: "42", Title: "old", Category: "dresses", ImageURL: "https://cdn/42.jpg"})
	require.NoError(t, err)

	job := upsertJob(domain.EventUpdated, "42", domain.ImageRef{}, domain.ProductData{Title: "new"})
	require.NoError(t, f.uc.Process(context.Background(), job))

	entry, err := f.index.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, entry.Vector)
	assert.Equal(t, "new", entry.Payload[domain.PayloadTitle])
	assert.Equal(t, "dresses", entry.Payload[domain.PayloadCategory])
	assert.Equal(t, "https://cdn/42.jpg", entry.Payload[domain.PayloadImageURL])
	f.fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestProcess_UpdatedWithoutImageFallsBackToStoredImage(t *testing.T) {
	f := newIndexingFixture(t)
	_, err := f.products.Upsert(context.Background(), &domain.Product{ExternalID: "42", ImageKey: "catalog/42.jpg"})
	require.NoError(t, err)
	f.fetcher.On("Fetch", mock.Anything, domain.ImageRef{Key: "catalog/42.jpg"}).Return([]byte{3}, nil).Once()

	job := upsertJob(domain.EventUpdated, "42", domain.ImageRef{}, domain.ProductData{Title: "t"})
	require.NoError(t, f.uc.Process(context.Background(), job))

	entry, err := f.index.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 1}, entry.Vector)
	f.fetcher.AssertExpectations(t)
}

func TestProcess_UpdatedWithoutAnyImageIsPermanent(t *testing.T) {
	f := newIndexingFixture(t)

	err := f.uc.Process(context.Background(), upsertJob(domain.EventUpdated, "42", domain.ImageRef{}, domain.ProductData{}))
	assert.ErrorIs(t, err, e.ErrPermanentJob)
	assert.True(t, e.IsPermanent(err))
}

func TestProcess_ImageUpdatedUsesStoredMetadata(t *testing.T) {
	f := newIndexingFixture(t)
	price := int64(1000)
	_, err := f.products.Upsert(context.Background(), &domain.Product{ExternalID: "42", Title: "Red dress", Price: &price, ImageKey: "old.jpg"})
	require.NoError(t, err)

	ref := domain.ImageRef{URL: "https://cdn/42-v2.jpg"}
	f.fetcher.On("Fetch", mock.Anything, ref).Return([]byte{0}, nil).Once()

	job := upsertJob(domain.EventImageUpdated, "42", ref, domain.ProductData{Image: ref})
	require.NoError(t, f.uc.Process(context.Background(), job))

	entry, err := f.index.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Red dress", entry.Payload[domain.PayloadTitle])
	assert.Equal(t, 10.0, entry.Payload[domain.PayloadPrice])
	assert.Equal(t, "https://cdn/42-v2.jpg", entry.Payload[domain.PayloadImageURL])
	assert.NotContains(t, entry.Payload, domain.PayloadImageKey)

	row, err := f.products.GetByExternalID(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), *row.Price)
	assert.Equal(t, "https://cdn/42-v2.jpg", row.ImageURL)
}

func TestProcess_FetchErrorsPropagate(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "stale", err: e.ErrStaleReference, permanent: true},
		{name: "transient", err: e.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIndexingFixture(t)
			ref := domain.ImageRef{URL: "https://cdn/gone.jpg"}
			f.fetcher.On("Fetch", mock.Anything, ref).Return(nil, tt.err)

			err := f.uc.Process(context.Background(), upsertJob(domain.EventCreated, "42", ref, domain.ProductData{}))
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.permanent, e.IsPermanent(err))

			_, err = f.index.Get(context.Background(), "42")
			assert.ErrorIs(t, err, e.ErrEntryNotFound)
		})
	}
}

// ========================== delete ==========================

func TestProcess_DeleteRemovesEntryAndTombstones(t *testing.T) {
	f := newIndexingFixture(t)
	ctx := context.Background()
	require.NoError(t, f.index.Upsert(ctx, "42", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, f.index.Upsert(ctx, "43", []float32{0, 1, 0, 0}, nil))

	require.NoError(t, f.uc.Process(ctx, deleteJob("42")))
	// повторное удаление безопасно
	require.NoError(t, f.uc.Process(ctx, deleteJob("42")))

	_, err := f.index.Get(ctx, "42")
	assert.ErrorIs(t, err, e.ErrEntryNotFound)
	_, err = f.index.Get(ctx, "43")
	assert.NoError(t, err)

	row, err := f.products.GetByExternalID(ctx, "42")
	require.NoError(t, err)
	assert.True(t, row.IsDeleted())
}

func TestProcess_UpdateAfterDeleteIsStale(t *testing.T) {
	f := newIndexingFixture(t)
	ctx := context.Background()
	require.NoError(t, f.uc.Process(ctx, deleteJob("42")))

	ref := domain.ImageRef{URL: "https://cdn/42.jpg"}
	for _, eventType := range []domain.EventType{domain.EventUpdated, domain.EventImageUpdated} {
		err := f.uc.Process(ctx, upsertJob(eventType, "42", ref, domain.ProductData{}))
		assert.ErrorIs(t, err, e.ErrStaleReference, eventType)
	}
	f.fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)

	// created восстанавливает товар
	f.fetcher.On("Fetch", mock.Anything, ref).Return([]byte{1}, nil).Once()
	require.NoError(t, f.uc.Process(ctx, upsertJob(domain.EventCreated, "42", ref, domain.ProductData{})))

	row, err := f.products.GetByExternalID(ctx, "42")
	require.NoError(t, err)
	assert.False(t, row.IsDeleted())
}

func TestProcess_UnknownOperation(t *testing.T) {
	f := newIndexingFixture(t)

	err := f.uc.Process(context.Background(), &domain.IndexJob{ExternalID: "1", Operation: "reindex"})
	assert.ErrorIs(t, err, e.ErrPermanentJob)
}

// ========================== batch ==========================

func TestProcess_BatchIndexesStoredProducts(t *testing.T) {
	f := newIndexingFixture(t)
	ctx := context.Background()
	deletedAt := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	f.products.rows = map[string]*domain.Product{
		"1": {ID: 1, ExternalID: "1", Title: "Mug", ImageKey: "k1", LastEventID: "evt-1"},
		"2": {ID: 2, ExternalID: "2", ImageURL: "https://cdn/2.jpg", LastEventID: "evt-2"},
		"3": {ID: 3, ExternalID: "3", ImageKey: "k3", DeletedAt: &deletedAt},
		"4": {ID: 4, ExternalID: "4"},
		"5": {ID: 5, ExternalID: "5", ImageKey: "k5"},
	}
	f.fetcher.On("Fetch", mock.Anything, domain.ImageRef{Key: "k1"}).Return([]byte{1}, nil).Once()
	f.fetcher.On("Fetch", mock.Anything, domain.ImageRef{URL: "https://cdn/2.jpg"}).Return([]byte{3}, nil).Once()
	// пустое изображение движок отвергает как битое
	f.fetcher.On("Fetch", mock.Anything, domain.ImageRef{Key: "k5"}).Return([]byte{}, nil).Once()

	job := domain.NewBatchJob("batch-1", []string{"1", "2", "3", "4", "5", "missing"}, time.Now())
	require.NoError(t, f.uc.Process(ctx, job))
	f.fetcher.AssertExpectations(t)
	assert.Equal(t, 1, f.engine.batchCalls)

	entry, err := f.index.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, entry.Vector)
	assert.Equal(t, "Mug", entry.Payload[domain.PayloadTitle])
	assert.Equal(t, "evt-1", entry.Payload[domain.PayloadEventID])

	entry, err = f.index.Get(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 1}, entry.Vector)

	for _, id := range []string{"3", "4", "5", "missing"} {
		_, err := f.index.Get(ctx, id)
		assert.ErrorIs(t, err, e.ErrEntryNotFound, id)
	}

	row, err := f.products.GetByExternalID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", row.LastEventID)
	assert.Equal(t, domain.DeriveInternalID("1"), row.EmbeddingID)

	row, err = f.products.GetByExternalID(ctx, "3")
	require.NoError(t, err)
	assert.True(t, row.IsDeleted())
}

func TestProcess_BatchRetriesOnlyTransientFailures(t *testing.T) {
	f := newIndexingFixture(t)
	ctx := context.Background()

	f.products.rows = map[string]*domain.Product{
		"1": {ID: 1, ExternalID: "1", ImageKey: "k1"},
		"2": {ID: 2, ExternalID: "2", ImageKey: "k2"},
		"3": {ID: 3, ExternalID: "3", ImageKey: "k3"},
	}
	f.fetcher.On("Fetch", mock.Anything, domain.ImageRef{Key: "k1"}).Return([]byte{1}, nil)
	f.fetcher.On("Fetch", mock.Anything, domain.ImageRef{Key: "k2"}).Return(nil, e.ErrTransient)
	f.fetcher.On("Fetch", mock.Anything, domain.ImageRef{Key: "k3"}).Return(nil, e.ErrInvalidImage)

	job := domain.NewBatchJob("batch-2", []string{"1", "2", "3"}, time.Now())
	err := f.uc.Process(ctx, job)
	require.Error(t, err)
	assert.True(t, e.IsRetryable(err))
	assert.False(t, e.IsPermanent(err))
	assert.Equal(t, []string{"2"}, job.Batch)

	_, err = f.index.Get(ctx, "1")
	assert.NoError(t, err)
}

func TestProcess_BatchLoadErrorPropagates(t *testing.T) {
	f := newIndexingFixture(t)
	f.products.err = e.ErrTransient

	err := f.uc.Process(context.Background(), domain.NewBatchJob("batch-3", []string{"1"}, time.Now()))
	assert.ErrorIs(t, err, e.ErrTransient)
}

// ========================== status ==========================

func TestFailPermanently_WritesStatusAndOutbox(t *testing.T) {
	f := newIndexingFixture(t)
	job := upsertJob(domain.EventCreated, "42", domain.ImageRef{URL: "https://cdn/42.jpg"}, domain.ProductData{})
	job.Attempt = 2

	require.NoError(t, f.uc.FailPermanently(context.Background(), job, e.ErrInvalidImage))

	assert.Equal(t, 1, f.tx.calls)
	assert.Equal(t, domain.JobFailedPermanent, f.events.lastStatus())
	assert.Equal(t, 3, f.events.statuses[0].Attempts)
	assert.Equal(t, e.ErrInvalidImage.Error(), f.events.statuses[0].LastError)
	assert.NotNil(t, f.events.statuses[0].ProcessedAt)

	require.Len(t, f.outbox.events, 1)
	ev := f.outbox.events[0]
	assert.Equal(t, job.ID, ev.EventID)
	assert.Equal(t, "42", ev.ExternalID)
	assert.Equal(t, JobFailed, ev.EventType)

	msg, err := ParseFailedJobMessage(ev.Payload)
	require.NoError(t, err)
	assert.Equal(t, job.ID, msg.JobID)
	assert.Equal(t, "product.created", msg.EventType)
	assert.Equal(t, "upsert", msg.Operation)
	assert.Equal(t, 3, msg.Attempts)
	assert.Equal(t, "https://cdn/42.jpg", msg.ImageURL)
	assert.Empty(t, msg.ImageKey)
	assert.Equal(t, e.ErrInvalidImage.Error(), msg.Error)
	assert.False(t, msg.FailedAt.IsZero())

	var raw structpb.Struct
	require.NoError(t, proto.Unmarshal(ev.Payload, &raw))
	assert.Equal(t, "42", raw.GetFields()["external_id"].GetStringValue())
}

func TestFailPermanently_BatchCarriesProducts(t *testing.T) {
	f := newIndexingFixture(t)
	job := domain.NewBatchJob("batch-9", []string{"7", "8"}, time.Now())

	require.NoError(t, f.uc.FailPermanently(context.Background(), job, e.ErrTransient))

	require.Len(t, f.outbox.events, 1)
	msg, err := ParseFailedJobMessage(f.outbox.events[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "batch", msg.Operation)
	assert.Empty(t, msg.EventType)
	assert.Equal(t, []string{"7", "8"}, msg.Batch)
}

func TestFailPermanently_OutboxFailureFailsTransaction(t *testing.T) {
	f := newIndexingFixture(t)
	f.outbox.err = errors.New("insert failed")

	err := f.uc.FailPermanently(context.Background(), deleteJob("42"), e.ErrStaleReference)
	assert.Error(t, err)
	assert.Error(t, f.tx.lastErr)
}

func TestStatusHooks(t *testing.T) {
	f := newIndexingFixture(t)
	job := deleteJob("42")
	ctx := context.Background()

	f.uc.MarkProcessing(ctx, job)
	assert.Equal(t, domain.JobProcessing, f.events.lastStatus())

	f.uc.MarkRetry(ctx, job, e.ErrTransient)
	assert.Equal(t, domain.JobFailedRetry, f.events.lastStatus())
	assert.Equal(t, e.ErrTransient.Error(), f.events.statuses[1].LastError)

	f.uc.MarkSucceeded(ctx, job)
	assert.Equal(t, domain.JobSucceeded, f.events.lastStatus())

	// ошибка аудита не паникует и не всплывает
	f.events.updateErr = errors.New("db down")
	f.uc.MarkSucceeded(ctx, job)
}
