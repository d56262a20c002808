package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"family-shopping/backend/internal/database"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"app error", Validation("list is empty"), KindValidation},
		{"wrapped app error", fmt.Errorf("finish: %w", NotFound("gone")), KindNotFound},
		{"store not found", fmt.Errorf("get: %w", database.ErrNotFound), KindNotFound},
		{"store unavailable", fmt.Errorf("get: %w", database.ErrUnavailable), KindStoreUnavailable},
		{"deadline", context.DeadlineExceeded, KindStoreUnavailable},
		{"contention", database.ErrTxAborted, KindStoreUnavailable},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	original := Validation("list is empty")
	err := Wrap(fmt.Errorf("tx: %w", original), "failed to finish shopping")

	var appErr *Error
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, KindValidation, appErr.Kind)
	assert.Equal(t, "list is empty", appErr.Error())

	wrapped := Wrap(database.ErrUnavailable, "failed to load list")
	assert.Equal(t, KindStoreUnavailable, KindOf(wrapped))
	assert.Equal(t, "failed to load list", wrapped.Error())
	assert.True(t, errors.Is(wrapped, database.ErrUnavailable))

	assert.NoError(t, Wrap(nil, "unused"))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindValidation))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindUnauthenticated))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(KindStoreUnavailable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindUnknown))
}
