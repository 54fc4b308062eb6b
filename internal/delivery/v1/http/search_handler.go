package http

import (
	"encoding/json"
	"net/http"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxTextRequestSize = 64 << 10
	maxFormMemory      = 8 << 20
)

type SearchHandler struct {
	searchUsecase usecase.SearchUC
	cfg           *cfg.SearchCfg
	logger        logger.Logger
}

func NewSearchHandler(searchUsecase usecase.SearchUC, cfg *cfg.SearchCfg, logger logger.Logger) *SearchHandler {
	return &SearchHandler{searchUsecase: searchUsecase, cfg: cfg, logger: logger}
}

type textSearchRequest struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	MinSimilarity *float32 `json:"min_similarity"`
}

type searchResultResponse struct {
	ExternalID string         `json:"external_id"`
	Score      float32        `json:"score"`
	Payload    domain.Payload `json:"payload"`
}

type searchResponse struct {
	QueryTimeMs  int64                  `json:"query_time_ms"`
	ResultsCount int                    `json:"results_count"`
	Results      []searchResultResponse `json:"results"`
}

type indexInfoResponse struct {
	Collection string `json:"collection"`
	Count      uint64 `json:"count"`
	Dimension  uint64 `json:"dimension"`
	Distance   string `json:"distance"`
	ModelID    string `json:"model_id"`
	QueueDepth int64  `json:"queue_depth"`
}

func (h *SearchHandler) searchByText(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxTextRequestSize)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req textSearchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.fail(w, r, e.Mark(e.ErrMalformedBody, err))
		return
	}

	res, err := h.searchUsecase.SearchByText(r.Context(), &usecase.TextSearchReq{
		Query:         req.Query,
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toSearchResponse(res))
}

func (h *SearchHandler) searchByImage(w http.ResponseWriter, r *http.Request) {
	// запас на служебные части формы
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxImageBytes+maxTextRequestSize)

	if err := ensureMultipartForm(r, maxFormMemory); err != nil {
		h.fail(w, r, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["image"]
	if len(files) == 0 {
		h.fail(w, r, e.Wrap("image", e.ErrEmptyInput))
		return
	}

	data, mimeType, err := readFile(files[0], h.cfg.MaxImageBytes)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	limit, err := parseLimit(r.FormValue("limit"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	minSimilarity, err := parseMinSimilarity(r.FormValue("min_similarity"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.searchUsecase.SearchByImage(r.Context(), &usecase.ImageSearchReq{
		Image:         data,
		MimeType:      mimeType,
		Limit:         limit,
		MinSimilarity: minSimilarity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toSearchResponse(res))
}

func (h *SearchHandler) searchSimilar(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	minSimilarity, err := parseMinSimilarity(r.URL.Query().Get("min_similarity"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.searchUsecase.SearchSimilar(r.Context(), &usecase.SimilarSearchReq{
		ExternalID:    chi.URLParam(r, "product_id"),
		Limit:         limit,
		MinSimilarity: minSimilarity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toSearchResponse(res))
}

func (h *SearchHandler) indexInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.searchUsecase.IndexInfo(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, indexInfoResponse{
		Collection: info.Collection,
		Count:      info.Count,
		Dimension:  info.Dimension,
		Distance:   string(info.Distance),
		ModelID:    info.ModelID,
		QueueDepth: info.QueueDepth,
	})
}

func (h *SearchHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, _ := ToHTTPResponse(err)
	log := h.logger.With("request_id", middleware.GetReqID(r.Context()))
	if code >= http.StatusInternalServerError {
		log.Errorf(err, "%s %s failed", r.Method, r.URL.Path)
	} else {
		log.Warnf("%s %s: %d: %v", r.Method, r.URL.Path, code, err)
	}
	WriteError(w, err)
}

func toSearchResponse(res *usecase.SearchRes) searchResponse {
	results := make([]searchResultResponse, 0, len(res.Results))
	for _, r := range res.Results {
		results = append(results, searchResultResponse{
			ExternalID: r.ExternalID,
			Score:      r.Score,
			Payload:    r.Payload,
		})
	}

	return searchResponse{
		QueryTimeMs:  res.QueryTimeMs,
		ResultsCount: len(results),
		Results:      results,
	}
}
