package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/jimlawless/whereami"
)

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewErrorResponse(code int, message string) *ErrorResponse {
	return &ErrorResponse{
		Code:    code,
		Message: message,
	}
}

// статусы проверяются по порядку, первое совпадение побеждает
var httpErrors = []struct {
	err  error
	code int
}{
	{e.ErrInvalidSignature, http.StatusUnauthorized},

	{e.ErrBodyTooLarge, http.StatusRequestEntityTooLarge},
	{e.ErrFileTooLarge, http.StatusRequestEntityTooLarge},

	{e.ErrMalformedBody, http.StatusBadRequest},
	{e.ErrExpectedMultipart, http.StatusBadRequest},
	{e.ErrEmptyInput, http.StatusBadRequest},
	{e.ErrInvalidLimit, http.StatusBadRequest},
	{e.ErrInvalidThreshold, http.StatusBadRequest},
	{e.ErrInvalidImage, http.StatusBadRequest},
	{e.ErrStatusBadRequest, http.StatusBadRequest},

	{e.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType},

	{e.ErrUnknownEventType, http.StatusUnprocessableEntity},
	{e.ErrMissingFields, http.StatusUnprocessableEntity},
	{e.ErrNoImageReference, http.StatusUnprocessableEntity},
	{e.ErrInvalidPrice, http.StatusUnprocessableEntity},
	{e.ErrPricePrecision, http.StatusUnprocessableEntity},

	{e.ErrProductNotFound, http.StatusNotFound},
	{e.ErrEntryNotFound, http.StatusNotFound},

	{e.ErrTransient, http.StatusServiceUnavailable},
	{e.ErrRetryableIndex, http.StatusServiceUnavailable},
	{e.ErrResourceExhausted, http.StatusServiceUnavailable},
	{e.ErrEngineClosed, http.StatusServiceUnavailable},
}

// ToHTTPResponse сопоставляет ошибке код ответа и текст сторожевой ошибки.
// Подробности остаются в логах.
func ToHTTPResponse(err error) (int, string) {
	for _, he := range httpErrors {
		if errors.Is(err, he.err) {
			return he.code, he.err.Error()
		}
	}
	return http.StatusInternalServerError, e.ErrInternalServerError.Error()
}

func WriteError(w http.ResponseWriter, err error) {
	code, msg := ToHTTPResponse(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(code, msg))
}

func WriteSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// readBody читает тело не длиннее limit байт.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, e.Wrap(whereami.WhereAmI(), e.ErrBodyTooLarge)
		}
		return nil, e.Wrap(whereami.WhereAmI(), e.Mark(e.ErrMalformedBody, err))
	}
	return body, nil
}

func ensureMultipartForm(r *http.Request, maxMemory int64) error {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return e.Wrap(whereami.WhereAmI(), e.ErrExpectedMultipart)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return e.Wrap(whereami.WhereAmI(), e.ErrFileTooLarge)
		}
		return e.Wrap(whereami.WhereAmI(), e.Mark(e.ErrMalformedBody, err))
	}
	return nil
}

func readFile(fh *multipart.FileHeader, maxSize int64) ([]byte, string, error) {
	if maxSize > 0 && fh.Size > maxSize {
		return nil, "", e.Wrap(fh.Filename, e.ErrFileTooLarge)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, "", e.ErrInternalServerError
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, "", e.ErrInternalServerError
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, "", e.Wrap(fh.Filename, e.ErrFileTooLarge)
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data[:min(len(data), 512)])
	}
	return data, mimeType, nil
}

// parseLimit разбирает необязательное значение limit; 0 означает значение по умолчанию.
func parseLimit(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, e.Wrap("limit "+s, e.ErrInvalidLimit)
	}
	return n, nil
}

func parseMinSimilarity(s string) (*float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return nil, e.Wrap("min_similarity "+s, e.ErrInvalidThreshold)
	}
	v := float32(f)
	return &v, nil
}
