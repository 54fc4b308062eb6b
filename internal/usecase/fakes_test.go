package usecase

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/stretchr/testify/mock"
)

const testDim = 4

// MockImageFetcher is a mock implementation of ImageFetcher for testing
type MockImageFetcher struct {
	mock.Mock
}

func (m *MockImageFetcher) Fetch(ctx context.Context, ref domain.ImageRef) ([]byte, error) {
	args := m.Called(ctx, ref)
	if b, ok := args.Get(0).([]byte); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeEngine кодирует "изображение" по первому байту, текст — по первой букве.
type fakeEngine struct {
	mu         sync.Mutex
	textCalls  int
	batchCalls int
	err        error
}

func (f *fakeEngine) EmbedImage(_ context.Context, data []byte) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(data) == 0 {
		return nil, e.ErrInvalidImage
	}
	v := make([]float32, testDim)
	v[int(data[0])%testDim] = 1
	return v, nil
}

func (f *fakeEngine) EmbedImagesBatch(ctx context.Context, images [][]byte, _ int) []domain.EmbedResult {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	results := make([]domain.EmbedResult, len(images))
	for i, data := range images {
		results[i].Vector, results[i].Err = f.EmbedImage(ctx, data)
	}
	return results
}

func (f *fakeEngine) EmbedText(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.textCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	v := make([]float32, testDim)
	v[int(text[0])%testDim] = 1
	return v, nil
}

func (f *fakeEngine) ModelID() string { return "test/clip" }
func (f *fakeEngine) Dimension() int  { return testDim }

type fakeProductRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Product
	err  error
}

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{rows: make(map[string]*domain.Product)}
}

func (f *fakeProductRepo) Upsert(_ context.Context, p *domain.Product) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	row := *p
	row.DeletedAt = nil
	f.rows[p.ExternalID] = &row
	return &row, nil
}

func (f *fakeProductRepo) GetByExternalID(_ context.Context, externalID string) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	row, ok := f.rows[externalID]
	if !ok {
		return nil, e.ErrProductNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeProductRepo) MarkDeleted(_ context.Context, externalID string, eventID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[externalID]
	if !ok {
		row = &domain.Product{ExternalID: externalID}
		f.rows[externalID] = row
	}
	row.DeletedAt = &at
	row.LastEventID = eventID
	return nil
}

func (f *fakeProductRepo) ListIndexable(_ context.Context, afterID int64, limit int) ([]*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*domain.Product
	for _, row := range f.rows {
		if row.ID > afterID && !row.IsDeleted() && !row.ImageRef().IsEmpty() {
			cp := *row
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeEventRepo struct {
	mu        sync.Mutex
	created   []*domain.WebhookEvent
	statuses  []*UpdateEventStatusReq
	createErr error
	updateErr error
}

func (f *fakeEventRepo) Create(_ context.Context, event *domain.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, event)
	return nil
}

func (f *fakeEventRepo) UpdateStatus(ctx context.Context, req *UpdateEventStatusReq) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.statuses = append(f.statuses, req)
	return nil
}

func (f *fakeEventRepo) lastStatus() domain.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1].Status
}

type fakeOutboxRepo struct {
	mu     sync.Mutex
	events []*OutboxEvent
	err    error
}

func (f *fakeOutboxRepo) Create(_ context.Context, event *OutboxEvent) (*OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeOutboxRepo) GetAndMarkAsProcessing(context.Context, int) ([]*OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutboxRepo) MarkAsProcessed(context.Context, int64) error   { return nil }
func (f *fakeOutboxRepo) ReleaseProcessing(context.Context, int64) error { return nil }

// fakeTransactor выполняет fn без транзакции, но запоминает вызовы и ошибки.
type fakeTransactor struct {
	calls   int
	lastErr error
}

func (f *fakeTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	f.lastErr = fn(ctx)
	return f.lastErr
}

type fakeCache struct {
	mu     sync.Mutex
	values map[string][]float32
	err    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string][]float32)}
}

func (f *fakeCache) Get(_ context.Context, modelID, text string) ([]float32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.values[modelID+"|"+text]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, modelID, text string, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.values[modelID+"|"+text] = vector
	return nil
}

type fakeSearchLogs struct {
	mu   sync.Mutex
	logs []*domain.SearchLog
}

func (f *fakeSearchLogs) Create(_ context.Context, log *domain.SearchLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return nil
}

// failingQueue отказывает в постановке задач.
type failingQueue struct {
	JobQueue
}

func (failingQueue) Enqueue(context.Context, *domain.IndexJob) error {
	return fmt.Errorf("redis: %w", errors.New("connection refused"))
}

func (failingQueue) EnqueueOnce(context.Context, string, time.Duration, *domain.IndexJob) (bool, error) {
	return false, fmt.Errorf("redis: %w", errors.New("connection refused"))
}
