package e

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		permanent bool
	}{
		{name: "nil", err: nil},
		{name: "plain", err: errors.New("boom")},
		{name: "transient wrapped", err: Wrap("op", ErrTransient), retryable: true},
		{name: "index unavailable", err: Wrap("a", Wrap("b", ErrRetryableIndex)), retryable: true},
		{name: "resource exhausted", err: ErrResourceExhausted, retryable: true},
		{name: "deadline", err: Wrap("op", context.DeadlineExceeded), retryable: true},
		{name: "net timeout", err: fmt.Errorf("dial: %w", timeoutErr{}), retryable: true},
		{name: "invalid image", err: Wrap("op", ErrInvalidImage), permanent: true},
		{name: "stale reference", err: ErrStaleReference, permanent: true},
		{name: "inference rejected", err: Mark(ErrInferenceRejected, errors.New("400")), permanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
		})
	}
}

func TestMark(t *testing.T) {
	cause := errors.New("connection refused")
	err := Mark(ErrTransient, cause)

	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Mark(ErrTransient, nil))
}
