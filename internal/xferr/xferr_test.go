package xferr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	err := New(KindConflict, "total_parts mismatch: got %d want %d", 5, 3)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, Is(err, KindConflict))
	assert.False(t, Is(err, KindNotFound))

	// Wrapped errors still expose their kind.
	wrapped := fmt.Errorf("complete failed: %w", err)
	assert.Equal(t, KindConflict, KindOf(wrapped))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := Wrap(KindStoreUnavailable, cause, "create multipart upload")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "create multipart upload")
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidInput, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindPermissionDenied, http.StatusForbidden},
		{KindConflict, http.StatusConflict},
		{KindIncompletePrecondition, http.StatusPreconditionFailed},
		{KindStoreUnavailable, http.StatusBadGateway},
		{KindTransferFailed, http.StatusBadGateway},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.kind.HTTPStatus(), tc.kind.String())
	}
}

func TestCodeRoundTrip(t *testing.T) {
	t.Parallel()

	kinds := []Kind{
		KindInvalidInput, KindNotFound, KindPermissionDenied, KindConflict,
		KindIncompletePrecondition, KindStoreUnavailable, KindTransferFailed,
	}
	for _, k := range kinds {
		assert.Equal(t, k, FromCode(k.String()))
	}
	assert.Equal(t, KindUnknown, FromCode("SomethingElse"))
}
