package req

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/pkg/errs"
)

func TestBindJSON(t *testing.T) {
	type input struct {
		Topic string `json:"topic"`
	}

	tests := []struct {
		name        string
		contentType string
		body        string
		wantCode    int
	}{
		{"valid", "application/json; charset=utf-8", `{"topic":"room:1"}`, 0},
		{"wrong content type", "text/plain", `{"topic":"room:1"}`, errs.ErrUnsupportedMediaType},
		{"syntax error", "application/json", `{"topic":`, errs.ErrInvalidJSONFormat},
		{"unknown field", "application/json", `{"topic":"x","admin":true}`, errs.ErrInvalidJSONFormat},
		{"trailing data", "application/json", `{"topic":"x"} {"topic":"y"}`, errs.ErrExtraContentInBody},
		{"too large", "application/json", `{"topic":"` + strings.Repeat("a", int(MaxJSONBodySize)) + `"}`, errs.ErrInvalidJSONFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", tt.contentType)

			var dst input
			customErr := BindJSON(r, &dst)
			if tt.wantCode == 0 {
				require.Nil(t, customErr)
				assert.Equal(t, "room:1", dst.Topic)
				return
			}
			require.NotNil(t, customErr)
			assert.Equal(t, tt.wantCode, customErr.Code)
		})
	}
}
