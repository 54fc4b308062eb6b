package http

import (
	"context"
	"net/http"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// IndexHandler принимает подписанные команды переиндексации.
type IndexHandler struct {
	reindexUsecase usecase.ReindexUC
	cfg            *cfg.WebhookCfg
	logger         logger.Logger
}

func NewIndexHandler(reindexUsecase usecase.ReindexUC, cfg *cfg.WebhookCfg, logger logger.Logger) *IndexHandler {
	return &IndexHandler{reindexUsecase: reindexUsecase, cfg: cfg, logger: logger}
}

type reindexResponse struct {
	Success  bool     `json:"success"`
	Products int      `json:"products"`
	TaskIDs  []string `json:"task_ids"`
}

func (h *IndexHandler) reindexAll(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.reindexUsecase.ReindexAll)
}

func (h *IndexHandler) indexBatch(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.reindexUsecase.IndexBatch)
}

type reindexFunc func(ctx context.Context, req *usecase.ReindexReq) (*usecase.ReindexRes, error)

func (h *IndexHandler) handle(w http.ResponseWriter, r *http.Request, run reindexFunc) {
	log := h.logger.With("request_id", middleware.GetReqID(r.Context()))

	body, err := readBody(w, r, h.cfg.MaxBodyBytes)
	if err != nil {
		log.Warnf("%s %s: %v", r.Method, r.URL.Path, err)
		WriteError(w, err)
		return
	}

	res, err := run(r.Context(), &usecase.ReindexReq{
		Body:      body,
		Signature: r.Header.Get(SignatureHeader),
	})
	if err != nil {
		code, _ := ToHTTPResponse(err)
		if code >= http.StatusInternalServerError {
			log.Errorf(err, "%s %s failed", r.Method, r.URL.Path)
		} else {
			log.Warnf("%s %s: %d: %v", r.Method, r.URL.Path, code, err)
		}
		WriteError(w, err)
		return
	}

	taskIDs := res.TaskIDs
	if taskIDs == nil {
		taskIDs = []string{}
	}
	WriteSuccess(w, http.StatusAccepted, reindexResponse{
		Success:  true,
		Products: res.Products,
		TaskIDs:  taskIDs,
	})
}
