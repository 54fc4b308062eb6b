package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// fetchConcurrency ограничивает число одновременных загрузок изображений батча.
const fetchConcurrency = 8

// IndexingUseCase выполняет задачи индексации: загрузка изображения, эмбеддинг,
// запись в векторный индекс и в таблицу товаров.
type IndexingUseCase struct {
	products ProductRepository
	events   WebhookEventRepository
	outbox   OutboxRepository
	tx       Transactor
	index    VectorIndex
	engine   EmbeddingEngine
	fetcher  ImageFetcher
	logger   logger.Logger
	now      func() time.Time
}

func NewIndexingUC(
	products ProductRepository,
	events WebhookEventRepository,
	outbox OutboxRepository,
	tx Transactor,
	index VectorIndex,
	engine EmbeddingEngine,
	fetcher ImageFetcher,
	logger logger.Logger,
) *IndexingUseCase {
	return &IndexingUseCase{
		products: products,
		events:   events,
		outbox:   outbox,
		tx:       tx,
		index:    index,
		engine:   engine,
		fetcher:  fetcher,
		logger:   logger,
		now:      time.Now,
	}
}

// Process выполняет задачу. Повторный запуск той же задачи даёт тот же результат.
func (u *IndexingUseCase) Process(ctx context.Context, job *domain.IndexJob) error {
	const op = "IndexingUseCase.Process"

	var err error
	switch job.Operation {
	case domain.OperationUpsert:
		err = u.upsert(ctx, job)
	case domain.OperationDelete:
		err = u.delete(ctx, job)
	case domain.OperationBatch:
		err = u.batch(ctx, job)
	default:
		err = fmt.Errorf("%w: unknown operation %q", e.ErrPermanentJob, job.Operation)
	}
	if err != nil {
		return e.Wrap(op, err)
	}

	return nil
}

func (u *IndexingUseCase) upsert(ctx context.Context, job *domain.IndexJob) error {
	existing, err := u.products.GetByExternalID(ctx, job.ExternalID)
	if err != nil && !errors.Is(err, e.ErrProductNotFound) {
		return err
	}

	// удаление, обработанное раньше обновления, побеждает; товар восстанавливает только created
	if existing != nil && existing.IsDeleted() && job.EventType != domain.EventCreated {
		return fmt.Errorf("%w: product %s was deleted by event %s", e.ErrStaleReference, job.ExternalID, existing.LastEventID)
	}

	data := mergeProductData(existing, job)

	vector, err := u.vectorFor(ctx, job, &data, existing)
	if err != nil {
		return err
	}

	payload := domain.NewPayload(&data, job.EventID, u.engine.ModelID(), u.now())
	if err := u.index.Upsert(ctx, job.ExternalID, vector, payload); err != nil {
		return err
	}

	row, err := toProductRow(&data, job.EventID)
	if err != nil {
		return err
	}
	if _, err := u.products.Upsert(ctx, row); err != nil {
		return err
	}

	u.logger.Debugf("product %s indexed by event %s", job.ExternalID, job.EventID)
	return nil
}

// vectorFor возвращает эмбеддинг для записи. Обновление без изображения переиспользует
// сохранённый вектор; если его нет, изображение берётся из записи товара.
func (u *IndexingUseCase) vectorFor(ctx context.Context, job *domain.IndexJob, data *domain.ProductData, existing *domain.Product) ([]float32, error) {
	ref := job.Image

	if ref.IsEmpty() {
		entry, err := u.index.Get(ctx, job.ExternalID)
		switch {
		case err == nil:
			return entry.Vector, nil
		case !errors.Is(err, e.ErrEntryNotFound):
			return nil, err
		}

		if existing != nil {
			ref = existing.ImageRef()
		}
		if ref.IsEmpty() {
			return nil, fmt.Errorf("%w: product %s has no image to index", e.ErrPermanentJob, job.ExternalID)
		}
		data.Image = ref
	}

	image, err := u.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	return u.engine.EmbedImage(ctx, image)
}

func (u *IndexingUseCase) delete(ctx context.Context, job *domain.IndexJob) error {
	if err := u.index.Delete(ctx, job.ExternalID); err != nil {
		return err
	}

	if err := u.products.MarkDeleted(ctx, job.ExternalID, job.EventID, u.now()); err != nil {
		return err
	}

	u.logger.Debugf("product %s removed from index by event %s", job.ExternalID, job.EventID)
	return nil
}

// batch переиндексирует группу товаров по данным из PostgreSQL. Удалённые, отсутствующие
// и товары без изображения пропускаются. Постоянная ошибка товара только логируется.
// При временных ошибках в задаче остаются только упавшие товары, и она уходит на повтор.
func (u *IndexingUseCase) batch(ctx context.Context, job *domain.IndexJob) error {
	products, err := u.loadIndexable(ctx, job.Batch)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		u.logger.Debugf("batch %s has nothing to index", job.ID)
		return nil
	}

	images := make([][]byte, len(products))
	fetchErrs := make([]error, len(products))

	g := errgroup.Group{}
	g.SetLimit(fetchConcurrency)
	for i, p := range products {
		g.Go(func() error {
			images[i], fetchErrs[i] = u.fetcher.Fetch(ctx, p.ImageRef())
			return nil
		})
	}
	_ = g.Wait()

	var (
		fetched = make([]*domain.Product, 0, len(products))
		toEmbed = make([][]byte, 0, len(products))
		failed  = make(map[string]error)
	)
	for i, p := range products {
		if fetchErrs[i] != nil {
			failed[p.ExternalID] = fetchErrs[i]
			continue
		}
		fetched = append(fetched, p)
		toEmbed = append(toEmbed, images[i])
	}

	results := u.engine.EmbedImagesBatch(ctx, toEmbed, 0)
	now := u.now()

	entries := make([]*domain.IndexEntry, 0, len(fetched))
	rows := make([]*domain.Product, 0, len(fetched))
	for i, p := range fetched {
		if results[i].Err != nil {
			failed[p.ExternalID] = results[i].Err
			continue
		}

		data := productDataFromRow(p)
		row, err := toProductRow(&data, p.LastEventID)
		if err != nil {
			failed[p.ExternalID] = err
			continue
		}

		payload := domain.NewPayload(&data, p.LastEventID, u.engine.ModelID(), now)
		entries = append(entries, domain.NewIndexEntry(p.ExternalID, results[i].Vector, payload))
		rows = append(rows, row)
	}

	if len(entries) > 0 {
		if err := u.index.UpsertEntries(ctx, entries); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if _, err := u.products.Upsert(ctx, row); err != nil {
			return err
		}
	}

	u.logger.Infof("batch %s: %d of %d products indexed, %d failed", job.ID, len(rows), len(job.Batch), len(failed))

	var retry []string
	for _, id := range job.Batch {
		cause, ok := failed[id]
		if !ok {
			continue
		}
		if e.IsPermanent(cause) {
			u.logger.Warnf("batch %s: product %s skipped: %v", job.ID, id, cause)
			continue
		}
		retry = append(retry, id)
	}
	if len(retry) > 0 {
		job.Batch = retry
		return fmt.Errorf("%w: %d products of batch %s failed: %v", e.ErrTransient, len(retry), job.ID, failed[retry[0]])
	}

	return nil
}

func (u *IndexingUseCase) loadIndexable(ctx context.Context, externalIDs []string) ([]*domain.Product, error) {
	products := make([]*domain.Product, 0, len(externalIDs))
	for _, id := range externalIDs {
		p, err := u.products.GetByExternalID(ctx, id)
		switch {
		case errors.Is(err, e.ErrProductNotFound):
			continue
		case err != nil:
			return nil, err
		}
		if p.IsDeleted() || p.ImageRef().IsEmpty() {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// MarkProcessing, MarkSucceeded и MarkRetry обновляют аудит уведомления.
// Ошибка аудита не влияет на судьбу задачи.

func (u *IndexingUseCase) MarkProcessing(ctx context.Context, job *domain.IndexJob) {
	u.updateStatus(ctx, NewUpdateEventStatusReq(job, domain.JobProcessing, nil, nil))
}

func (u *IndexingUseCase) MarkSucceeded(ctx context.Context, job *domain.IndexJob) {
	now := u.now()
	u.updateStatus(ctx, NewUpdateEventStatusReq(job, domain.JobSucceeded, nil, &now))
}

func (u *IndexingUseCase) MarkRetry(ctx context.Context, job *domain.IndexJob, cause error) {
	u.updateStatus(ctx, NewUpdateEventStatusReq(job, domain.JobFailedRetry, cause, nil))
}

func (u *IndexingUseCase) updateStatus(ctx context.Context, req *UpdateEventStatusReq) {
	if err := u.events.UpdateStatus(ctx, req); err != nil {
		u.logger.Warnf("failed to update status of event %s to %s: %v", req.EventID, req.Status, err)
	}
}

// FailPermanently фиксирует окончательный отказ: статус аудита и событие outbox
// для топика недоставленных задач пишутся в одной транзакции.
func (u *IndexingUseCase) FailPermanently(ctx context.Context, job *domain.IndexJob, cause error) error {
	const op = "IndexingUseCase.FailPermanently"

	now := u.now()
	payload, err := NewFailedJobMessage(job, cause, now).MarshalProto()
	if err != nil {
		return e.Wrap(op, err)
	}

	err = u.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := u.events.UpdateStatus(ctx, NewUpdateEventStatusReq(job, domain.JobFailedPermanent, cause, &now)); err != nil {
			return err
		}
		_, err := u.outbox.Create(ctx, NewOutboxEvent(job.ID, job.ExternalID, payload, now))
		return err
	})
	if err != nil {
		return e.Wrap(op, err)
	}

	return nil
}

// mergeProductData собирает данные товара для индексации. Для image_updated метаданные
// берутся из сохранённой записи, для updated пустые поля события дополняются ею.
func mergeProductData(existing *domain.Product, job *domain.IndexJob) domain.ProductData {
	data := job.Product
	data.ExternalID = job.ExternalID
	data.Image = job.Image

	if existing == nil || existing.IsDeleted() {
		return data
	}

	if job.EventType == domain.EventImageUpdated {
		data = productDataFromRow(existing)
		data.Image = job.Image
		return data
	}

	if job.EventType == domain.EventUpdated {
		stored := productDataFromRow(existing)
		if data.Title == "" {
			data.Title = stored.Title
		}
		if data.Description == "" {
			data.Description = stored.Description
		}
		if data.Category == "" {
			data.Category = stored.Category
		}
		if data.Currency == "" {
			data.Currency = stored.Currency
		}
		if !data.Price.Valid {
			data.Price = stored.Price
		}
		if data.Metadata == nil {
			data.Metadata = stored.Metadata
		}
		if data.Image.IsEmpty() {
			data.Image = stored.Image
		}
	}

	return data
}

func productDataFromRow(p *domain.Product) domain.ProductData {
	data := domain.ProductData{
		ExternalID:  p.ExternalID,
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		Currency:    p.Currency,
		Image:       p.ImageRef(),
		Metadata:    p.Metadata,
	}
	if p.Price != nil {
		data.Price = decimal.NewNullDecimal(decimal.New(*p.Price, -2))
	}
	return data
}

func toProductRow(data *domain.ProductData, eventID string) (*domain.Product, error) {
	price, err := priceToCents(data.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrPermanentJob, err)
	}

	return &domain.Product{
		ExternalID:  data.ExternalID,
		Title:       data.Title,
		Description: data.Description,
		Category:    data.Category,
		Price:       price,
		Currency:    data.Currency,
		ImageURL:    data.Image.URL,
		ImageKey:    data.Image.Key,
		Metadata:    data.Metadata,
		EmbeddingID: domain.DeriveInternalID(data.ExternalID),
		LastEventID: eventID,
	}, nil
}
