package resp

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/pkg/errs"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) JSONResponse {
	t.Helper()
	var body JSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRespondSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	RespondSuccess(w, httptest.NewRequest(http.MethodGet, "/health", nil), map[string]string{"status": "ok"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := decode(t, w)
	assert.Equal(t, 0, body.Code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body.Data))
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"custom error", errs.NewError(errs.ErrUnauthorized), http.StatusUnauthorized, errs.ErrUnauthorized},
		{"wrapped custom error", errors.Join(errors.New("ctx"), errs.NewError(errs.ErrTopicFull)), http.StatusConflict, errs.ErrTopicFull},
		{"plain error", errors.New("secret detail"), http.StatusInternalServerError, errs.ErrUnknown},
		{"nil", nil, http.StatusInternalServerError, errs.ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondError(w, httptest.NewRequest(http.MethodPost, "/api", nil), tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotContains(t, body.Message, "secret detail")
			assert.Empty(t, body.Data)
		})
	}
}
