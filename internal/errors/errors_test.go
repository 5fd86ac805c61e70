package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(ErrNotFound, "exercise not found")
	assert.Equal(t, "[NOT_FOUND] exercise not found", err.Error())

	wrapped := Wrap(ErrDatabase, "insert failed", stderrors.New("disk full"))
	assert.Equal(t, "[DATABASE_ERROR] insert failed: disk full", wrapped.Error())
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(ErrTransport, "push failed", cause)

	assert.ErrorIs(t, err, cause)
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"direct match", New(ErrValidation, "bad"), ErrValidation, true},
		{"different code", New(ErrValidation, "bad"), ErrNotFound, false},
		{"wrapped by fmt", fmt.Errorf("update: %w", New(ErrNotFound, "missing")), ErrNotFound, true},
		{"nested app errors", Wrap(ErrSyncFailed, "pass", New(ErrTransport, "503")), ErrTransport, true},
		{"plain error", stderrors.New("boom"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Is(tt.err, tt.code))
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrQueueConflict, CodeOf(fmt.Errorf("x: %w", New(ErrQueueConflict, "queued"))))
	assert.Equal(t, ErrInternal, CodeOf(stderrors.New("plain")))
	assert.Equal(t, ErrConfig, CodeOf(Newf(ErrConfig, "bad %s", "key")))
}
