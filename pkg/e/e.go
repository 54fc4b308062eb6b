package e

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// Внутренние ошибки с транзакциями
	ErrTransactionNotFound = fmt.Errorf("transaction not found")

	// 401 Unauthorized
	ErrInvalidSignature = fmt.Errorf("invalid webhook signature")

	// 400 Bad Request
	ErrStatusBadRequest     = fmt.Errorf("bad request")
	ErrMalformedBody        = fmt.Errorf("malformed request body")
	ErrExpectedMultipart    = fmt.Errorf("expected multipart/form-data")
	ErrEmptyInput           = fmt.Errorf("empty input")
	ErrInvalidLimit         = fmt.Errorf("invalid limit")
	ErrInvalidThreshold     = fmt.Errorf("min_similarity must be within [0, 1]")
	ErrUnsupportedMediaType = fmt.Errorf("unsupported media type")

	// 413 Request Entity Too Large
	ErrFileTooLarge = fmt.Errorf("file too large")
	ErrBodyTooLarge = fmt.Errorf("request body too large")

	// 422 Unprocessable Entity
	ErrUnknownEventType = fmt.Errorf("unknown event type")
	ErrMissingFields    = fmt.Errorf("missing required fields")
	ErrNoImageReference = fmt.Errorf("image_url or image_key is required")
	ErrInvalidPrice     = fmt.Errorf("invalid price")
	ErrPricePrecision   = fmt.Errorf("price must have at most 2 decimal places")

	// 404 Not Found
	ErrProductNotFound = fmt.Errorf("product not found")
	ErrEntryNotFound   = fmt.Errorf("index entry not found")

	// Временные ошибки инфраструктуры, задача повторяется
	ErrTransient         = fmt.Errorf("transient infrastructure error")
	ErrRetryableIndex    = fmt.Errorf("vector index temporarily unavailable")
	ErrResourceExhausted = fmt.Errorf("inference resources exhausted")

	// Постоянные ошибки задачи, повтор не поможет
	ErrPermanentJob      = fmt.Errorf("permanent job error")
	ErrInvalidImage      = fmt.Errorf("invalid image")
	ErrStaleReference    = fmt.Errorf("stale reference")
	ErrInferenceRejected = fmt.Errorf("inference request rejected")

	// Ошибки конфигурации, фатальны при старте
	ErrConfiguration        = fmt.Errorf("configuration error")
	ErrModelLoad            = fmt.Errorf("model load failed")
	ErrIncorrectEnvVariable = fmt.Errorf("incorrect environment variable")
	ErrEngineClosed         = fmt.Errorf("embedding engine is closed")

	// Внутренние ошибки с векторами
	ErrEmptyVectors        = fmt.Errorf("empty vectors")
	ErrDimensionMismatch   = fmt.Errorf("vector dimension mismatch")
	ErrInvalidEmbedding    = fmt.Errorf("invalid embedding")
	ErrInternalServerError = fmt.Errorf("internal server error")
)

var (
	transientErrs = []error{ErrTransient, ErrRetryableIndex, ErrResourceExhausted, context.DeadlineExceeded}
	permanentErrs = []error{ErrPermanentJob, ErrInvalidImage, ErrStaleReference, ErrInferenceRejected}
)

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}

// Mark оборачивает err так, что errors.Is срабатывает и для kind, и для исходной ошибки.
func Mark(kind error, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// IsRetryable сообщает, что ошибка временная и операцию имеет смысл повторить.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range transientErrs {
		if errors.Is(err, target) {
			return true
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsPermanent сообщает, что повтор операции не изменит результат.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range permanentErrs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
