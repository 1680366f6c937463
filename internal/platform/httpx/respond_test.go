package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		title  string
	}{
		{ErrNotFound, http.StatusNotFound, "Not Found"},
		{fmt.Errorf("%w: sku", ErrValidation), http.StatusBadRequest, "Validation Failed"},
		{ErrConflict, http.StatusConflict, "Conflict"},
		{ErrUnavailable, http.StatusServiceUnavailable, "Service Unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "Internal Error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)

		assert.Equal(t, tc.status, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
		assert.Equal(t, tc.title, problem.Title)
		assert.Equal(t, tc.status, problem.Status)
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("dial tcp 10.0.0.1:5432: refused"))

	assert.NotContains(t, rec.Body.String(), "10.0.0.1")
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		SKU string `json:"sku"`
	}

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sku":"VAX-01"}`))
		var p payload
		require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &p))
		assert.Equal(t, "VAX-01", p.SKU)
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sku":"A","extra":1}`))
		var p payload
		err := DecodeJSON(httptest.NewRecorder(), req, &p)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("trailing data", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sku":"A"}{"sku":"B"}`))
		var p payload
		err := DecodeJSON(httptest.NewRecorder(), req, &p)
		assert.ErrorIs(t, err, ErrValidation)
	})
}
