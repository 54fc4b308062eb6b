package http

import (
	"net/http"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
)

const SignatureHeader = "X-Webhook-Signature"

type WebhookHandler struct {
	webhookUsecase usecase.WebhookUC
	cfg            *cfg.WebhookCfg
	logger         logger.Logger
}

func NewWebhookHandler(webhookUsecase usecase.WebhookUC, cfg *cfg.WebhookCfg, logger logger.Logger) *WebhookHandler {
	return &WebhookHandler{webhookUsecase: webhookUsecase, cfg: cfg, logger: logger}
}

type webhookResponse struct {
	Success   bool   `json:"success"`
	EventID   string `json:"event_id"`
	TaskID    string `json:"task_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
	Message   string `json:"message"`
}

// receive принимает уведомление каталога. Подпись проверяется по сырому телу,
// поэтому тело читается целиком до разбора.
func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With("request_id", middleware.GetReqID(r.Context()))

	body, err := readBody(w, r, h.cfg.MaxBodyBytes)
	if err != nil {
		log.Warnf("webhook body rejected: %v", err)
		WriteError(w, err)
		return
	}

	res, err := h.webhookUsecase.Receive(r.Context(), &usecase.ReceiveReq{
		Body:      body,
		Signature: r.Header.Get(SignatureHeader),
	})
	if err != nil {
		code, _ := ToHTTPResponse(err)
		if code >= http.StatusInternalServerError {
			log.Errorf(err, "webhook processing failed")
		} else {
			log.Warnf("%d: %v", code, err)
		}
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, webhookResponse{
		Success:   true,
		EventID:   res.EventID,
		TaskID:    res.TaskID,
		Duplicate: res.Duplicate,
		Message:   res.Message,
	})
}
