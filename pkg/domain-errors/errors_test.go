package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeLookup(t *testing.T) {
	t.Run("wrapped domain error keeps its code", func(t *testing.T) {
		base := New(CodeConflict, "contract already signed for this link")
		err := fmt.Errorf("complete: %w", base)

		assert.True(t, HasCode(err, CodeConflict))
		assert.Equal(t, CodeConflict, CodeOf(err))
	})

	t.Run("plain errors report internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
		assert.False(t, Is(errors.New("boom"), CodeNotFound))
	})

	t.Run("wrap exposes cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(cause, CodeInternal, "failed to load link")

		require.ErrorIs(t, err, cause)
		assert.Equal(t, "failed to load link: connection refused", err.Error())
	})
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:      http.StatusBadRequest,
		CodeNotFound:        http.StatusNotFound,
		CodeExpired:         http.StatusGone,
		CodeAlreadyUsed:     http.StatusGone,
		CodeInvalidCode:     http.StatusUnauthorized,
		CodeUnauthorized:    http.StatusUnauthorized,
		CodeConflict:        http.StatusConflict,
		CodeTooManyRequests: http.StatusTooManyRequests,
		CodeInternal:        http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, code.HTTPStatus(), "code %s", code)
	}
}
