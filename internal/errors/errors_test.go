package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/victornm/livequiz/internal/errors"
)

func TestConvert(t *testing.T) {
	tests := map[string]struct {
		err        error
		wantCode   errors.Code
		wantStatus int
	}{
		"coded error should keep its code": {
			err:        errors.New(errors.CodeNotFound, errors.WithMessagef("quiz not found: %s", "q1")),
			wantCode:   errors.CodeNotFound,
			wantStatus: http.StatusNotFound,
		},

		"wrapped coded error should be unwrapped": {
			err:        fmt.Errorf("resolve: %w", errors.New(errors.CodeFailedPrecondition)),
			wantCode:   errors.CodeFailedPrecondition,
			wantStatus: http.StatusUnprocessableEntity,
		},

		"plain error should become internal": {
			err:        stderrors.New("boom"),
			wantCode:   errors.CodeInternal,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			e := errors.Convert(tt.err)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantStatus, e.HTTPStatusCode())
			assert.True(t, errors.IsCode(e, tt.wantCode))
		})
	}
}

func TestError_Cause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := errors.New(errors.CodeUnavailable, errors.WithCause(cause), errors.WithMessagef("catalog down"))

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "catalog down")
	assert.Contains(t, err.Error(), "connection refused")

	s, ok := status.FromError(err)
	assert.True(t, ok)
	assert.Equal(t, codes.Unavailable, s.Code())
	assert.Equal(t, "catalog down", s.Message())
}
