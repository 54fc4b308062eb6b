package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/DRSN-tech/visual-search/pkg/signature"
	"github.com/google/uuid"
)

const (
	// maxBatchProducts ограничивает размер одной команды IndexBatch.
	maxBatchProducts = 1000
	listPageSize     = 500
)

// ReindexUseCase ставит в очередь переиндексацию уже сохранённых товаров. Команды подписываются
// тем же секретом, что и уведомления каталога. Товары нарезаются на задачи по batchSize штук.
type ReindexUseCase struct {
	secret    []byte
	batchSize int
	products  ProductRepository
	queue     JobQueue
	logger    logger.Logger
	now       func() time.Time
	newID     func() string
}

func NewReindexUC(
	cfg *cfg.WebhookCfg,
	batchSize int,
	products ProductRepository,
	queue JobQueue,
	logger logger.Logger,
) *ReindexUseCase {
	return &ReindexUseCase{
		secret:    []byte(cfg.Secret),
		batchSize: max(batchSize, 1),
		products:  products,
		queue:     queue,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ReindexAll ставит в очередь все не удалённые товары с изображением.
func (r *ReindexUseCase) ReindexAll(ctx context.Context, req *ReindexReq) (*ReindexRes, error) {
	const op = "ReindexUseCase.ReindexAll"

	if !signature.Verify(req.Body, req.Signature, r.secret) {
		r.logger.Warnf("reindex rejected: invalid signature")
		return nil, e.Wrap(op, e.ErrInvalidSignature)
	}

	res := &ReindexRes{}
	var afterID int64
	for {
		page, err := r.products.ListIndexable(ctx, afterID, listPageSize)
		if err != nil {
			return nil, e.Wrap(op, err)
		}
		if len(page) == 0 {
			break
		}

		ids := make([]string, 0, len(page))
		for _, p := range page {
			ids = append(ids, p.ExternalID)
		}
		if err := r.enqueue(ctx, ids, res); err != nil {
			return nil, e.Wrap(op, err)
		}

		afterID = page[len(page)-1].ID
		if len(page) < listPageSize {
			break
		}
	}

	r.logger.Infof("reindex queued: %d products in %d tasks", res.Products, len(res.TaskIDs))
	return res, nil
}

// IndexBatch ставит в очередь переиндексацию перечисленных товаров.
func (r *ReindexUseCase) IndexBatch(ctx context.Context, req *ReindexReq) (*ReindexRes, error) {
	const op = "ReindexUseCase.IndexBatch"

	if !signature.Verify(req.Body, req.Signature, r.secret) {
		r.logger.Warnf("batch index rejected: invalid signature")
		return nil, e.Wrap(op, e.ErrInvalidSignature)
	}

	ids, err := parseBatch(req.Body)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	res := &ReindexRes{}
	if err := r.enqueue(ctx, ids, res); err != nil {
		return nil, e.Wrap(op, err)
	}

	r.logger.Infof("batch index queued: %d products in %d tasks", res.Products, len(res.TaskIDs))
	return res, nil
}

// enqueue нарезает ids на задачи. Уже поставленные задачи не откатываются: повтор команды безопасен.
func (r *ReindexUseCase) enqueue(ctx context.Context, ids []string, res *ReindexRes) error {
	now := r.now()
	for start := 0; start < len(ids); start += r.batchSize {
		chunk := ids[start:min(start+r.batchSize, len(ids))]

		job := domain.NewBatchJob(r.newID(), chunk, now)
		if err := r.queue.Enqueue(ctx, job); err != nil {
			return err
		}

		res.Products += len(chunk)
		res.TaskIDs = append(res.TaskIDs, job.ID)
	}
	return nil
}

// parseBatch разбирает список товаров, убирая пустые значения и повторы.
func parseBatch(body []byte) ([]string, error) {
	var payload BatchIndexPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrMalformedBody, err)
	}

	seen := make(map[string]struct{}, len(payload.ProductIDs))
	ids := make([]string, 0, len(payload.ProductIDs))
	for _, raw := range payload.ProductIDs {
		id := strings.TrimSpace(string(raw))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	switch {
	case len(ids) == 0:
		return nil, fmt.Errorf("%w: product_ids", e.ErrEmptyInput)
	case len(ids) > maxBatchProducts:
		return nil, fmt.Errorf("%w: %d product_ids, allowed at most %d", e.ErrInvalidLimit, len(ids), maxBatchProducts)
	}
	return ids, nil
}
