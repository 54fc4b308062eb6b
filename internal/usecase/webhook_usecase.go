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

// WebhookUseCase принимает уведомления каталога: проверяет подпись, валидирует событие,
// отсекает повторы и ставит задачу индексации в очередь. Сама индексация выполняется воркерами.
type WebhookUseCase struct {
	secret   []byte
	timeout  time.Duration
	dedupTTL time.Duration
	queue    JobQueue
	events   WebhookEventRepository
	logger   logger.Logger
	now      func() time.Time
	newID    func() string
}

func NewWebhookUC(
	cfg *cfg.WebhookCfg,
	queue JobQueue,
	events WebhookEventRepository,
	logger logger.Logger,
) *WebhookUseCase {
	return &WebhookUseCase{
		secret:   []byte(cfg.Secret),
		timeout:  cfg.Timeout,
		dedupTTL: cfg.DedupTTL,
		queue:    queue,
		events:   events,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Receive проводит уведомление от проверки подписи до постановки в очередь.
// Неверная подпись отклоняется до разбора тела и без побочных эффектов.
func (w *WebhookUseCase) Receive(ctx context.Context, req *ReceiveReq) (*ReceiveRes, error) {
	const op = "WebhookUseCase.Receive"

	if !signature.Verify(req.Body, req.Signature, w.secret) {
		w.logger.Warnf("webhook rejected: invalid signature, body size %d", len(req.Body))
		return nil, e.Wrap(op, e.ErrInvalidSignature)
	}

	receivedAt := w.now()
	event, err := parseEvent(req.Body, receivedAt)
	if err != nil {
		w.logger.Warnf("webhook rejected: %v", err)
		return nil, e.Wrap(op, err)
	}

	job, err := routeJob(w.newID(), event, receivedAt)
	if err != nil {
		w.logger.Warnf("webhook %s rejected: %v", event.ID, err)
		return nil, e.Wrap(op, err)
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	// ошибка постановки не оставляет отметки о событии, повторная доставка будет принята
	fresh, err := w.queue.EnqueueOnce(ctx, event.ID, w.dedupTTL, job)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	if !fresh {
		w.logger.Infof("webhook %s already received, skipping", event.ID)
		return NewReceiveRes(event.ID, "", true), nil
	}

	// Аудит вторичен: задача уже в очереди
	if err := w.events.Create(ctx, newWebhookEvent(event, job, req.Body, receivedAt)); err != nil {
		w.logger.Warnf("failed to store webhook audit record %s: %v", event.ID, e.Wrap(op, err))
	}

	w.logger.Infof("webhook %s (%s) queued as task %s for product %s", event.ID, event.Type.WireName(), job.ID, job.ExternalID)
	return NewReceiveRes(event.ID, job.ID, false), nil
}

// parseEvent разбирает и валидирует тело уведомления.
func parseEvent(body []byte, receivedAt time.Time) (*domain.ChangeEvent, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrMalformedBody, err)
	}

	var missing []string
	if strings.TrimSpace(payload.EventType) == "" {
		missing = append(missing, "event_type")
	}
	if strings.TrimSpace(payload.EventID) == "" {
		missing = append(missing, "event_id")
	}
	if payload.Data.ProductID == "" {
		missing = append(missing, "data.product_id")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", e.ErrMissingFields, strings.Join(missing, ", "))
	}

	eventType, ok := domain.ParseEventType(payload.EventType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", e.ErrUnknownEventType, payload.EventType)
	}

	if _, err := priceToCents(payload.Data.Price); err != nil {
		return nil, err
	}

	ts := payload.Timestamp.Time
	if ts.IsZero() {
		ts = receivedAt
	}

	data := payload.Data
	return &domain.ChangeEvent{
		ID:        strings.TrimSpace(payload.EventID),
		Type:      eventType,
		Timestamp: ts,
		Product: domain.ProductData{
			ExternalID:  string(data.ProductID),
			Title:       strings.TrimSpace(data.Title),
			Description: data.Description,
			Category:    strings.TrimSpace(data.Category),
			Price:       data.Price,
			Currency:    strings.ToUpper(strings.TrimSpace(data.Currency)),
			Image: domain.ImageRef{
				Key: strings.TrimSpace(data.ImageKey),
				URL: strings.TrimSpace(data.ImageURL),
			},
			Metadata: data.Metadata,
		},
	}, nil
}

// routeJob сопоставляет событию задачу индексации.
func routeJob(id string, event *domain.ChangeEvent, now time.Time) (*domain.IndexJob, error) {
	switch event.Type {
	case domain.EventCreated, domain.EventImageUpdated:
		if event.Product.Image.IsEmpty() {
			return nil, e.ErrNoImageReference
		}
		job := domain.NewIndexJob(id, event, domain.OperationUpsert, now)
		if event.Type == domain.EventImageUpdated {
			// метаданные товара берутся из сохранённой записи, из события берётся только изображение
			job.Product = domain.ProductData{ExternalID: event.Product.ExternalID, Image: event.Product.Image}
		}
		return job, nil
	case domain.EventUpdated:
		return domain.NewIndexJob(id, event, domain.OperationUpsert, now), nil
	case domain.EventDeleted:
		job := domain.NewIndexJob(id, event, domain.OperationDelete, now)
		job.Image = domain.ImageRef{}
		return job, nil
	default:
		return nil, fmt.Errorf("%w: %q", e.ErrUnknownEventType, event.Type)
	}
}

func newWebhookEvent(event *domain.ChangeEvent, job *domain.IndexJob, body []byte, receivedAt time.Time) *domain.WebhookEvent {
	return &domain.WebhookEvent{
		EventID:    event.ID,
		EventType:  event.Type,
		ExternalID: event.Product.ExternalID,
		TaskID:     job.ID,
		Status:     domain.JobPending,
		Payload:    body,
		ReceivedAt: receivedAt,
	}
}
