/*
Package req provides helper functions for HTTP request parsing and data binding.
*/
package req

import (
	"encoding/json"
	"net/http"
	"strings"

	"chatsync/internal/pkg/errs"
)

// MaxJSONBodySize bounds request bodies accepted by BindJSON.
const MaxJSONBodySize int64 = 16 << 10

// BindJSON decodes the JSON request body into dst. Unknown fields, trailing
// data and bodies over MaxJSONBodySize are rejected.
func BindJSON(r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	body := http.MaxBytesReader(nil, r.Body, MaxJSONBodySize)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return nil
}
