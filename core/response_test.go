package core_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paywallkit/core"
)

func render(t *testing.T, resp core.Response) (*httptest.ResponseRecorder, core.JSONResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	core.Render(rec, req, resp)

	var body core.JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestJSON(t *testing.T) {
	t.Parallel()

	rec, body := render(t, core.JSON(map[string]string{"status": "ok"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Nil(t, body.Error)
	assert.Equal(t, map[string]any{"status": "ok"}, body.Data)
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	t.Run("http error maps to its status", func(t *testing.T) {
		t.Parallel()
		rec, body := render(t, core.JSONError(core.ErrPaymentRequired))

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		require.NotNil(t, body.Error)
		assert.Equal(t, "payment_required", body.Error.Code)
	})

	t.Run("arbitrary errors stay opaque", func(t *testing.T) {
		t.Parallel()
		rec, body := render(t, core.JSONError(errors.New("pq: connection reset")))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		require.NotNil(t, body.Error)
		assert.Equal(t, "internal_error", body.Error.Code)
		assert.NotContains(t, body.Error.Message, "pq:")
	})
}
