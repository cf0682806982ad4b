package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/victornm/quizd/internal/errors"
)

func TestConvert(t *testing.T) {
	tests := map[string]struct {
		err      error
		wantCode errors.Code
		wantHTTP int
	}{
		"an *Error should keep its code": {
			err:      errors.NotFoundf("attempt not found"),
			wantCode: errors.CodeNotFound,
			wantHTTP: http.StatusNotFound,
		},

		"a wrapped *Error should keep its code": {
			err:      fmt.Errorf("submit: %w", errors.FailedPreconditionf("attempt is completed")),
			wantCode: errors.CodeFailedPrecondition,
			wantHTTP: http.StatusUnprocessableEntity,
		},

		"a validation error should become invalid argument": {
			err: validator.New().Struct(struct {
				QuizID int64 `validate:"required"`
			}{}),
			wantCode: errors.CodeInvalidArgument,
			wantHTTP: http.StatusBadRequest,
		},

		"a grpc status error should keep its code": {
			err:      status.Error(codes.PermissionDenied, "admin only"),
			wantCode: errors.CodePermissionDenied,
			wantHTTP: http.StatusForbidden,
		},

		"any other error should become internal": {
			err:      stderrors.New("connection reset"),
			wantCode: errors.CodeInternal,
			wantHTTP: http.StatusInternalServerError,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			e := errors.Convert(tt.err)
			require.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantHTTP, e.HTTPStatusCode())
			assert.Equal(t, codes.Code(tt.wantCode), e.GRPCStatus().Code())
		})
	}
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("start: %w", errors.NotFoundf("quiz %d is not assigned", 7))

	assert.True(t, stderrors.Is(err, errors.New(errors.CodeNotFound)))
	assert.False(t, stderrors.Is(err, errors.New(errors.CodeInternal)))
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("unique violation")
	err := errors.New(errors.CodeAlreadyExists, errors.WithCause(cause), errors.WithMessagef("attempt %s already completed", "a1"))

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "attempt a1 already completed", err.Message)
	assert.Contains(t, err.Error(), "unique violation")
}
