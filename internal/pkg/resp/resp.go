/*
Package resp provides helper functions for constructing and sending standardized HTTP JSON responses.

Every response is a JSONResponse envelope: code 0 with data on success, or the errs code and
its user message on failure.
*/
package resp

import (
	"encoding/json"
	"errors"
	"net/http"

	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

// JSONResponse defines the standardized JSON response structure returned by the relay.
type JSONResponse struct {
	// Code is the business status code (0 for success, others for specific errors, see errs package).
	Code int `json:"code"`

	// Message is the client-friendly status description or error message.
	Message string `json:"message"`

	// Data is the optional response payload.
	Data json.RawMessage `json:"data,omitempty"`
}

// RespondJSON sets the JSON headers and writes payload with httpStatus.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	response, err := json.Marshal(payload)
	if err != nil {
		logx.Error(err, "Error encoding JSON response", "http_status", httpStatus, "path", r.URL.Path)
		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(httpStatus)
	if _, err := w.Write(response); err != nil {
		logx.Debug("Failed to write response body", "error", err.Error())
	}
}

// RespondSuccess sends a successful HTTP response (HTTP 200 OK).
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	res := JSONResponse{Code: 0, Message: "success"}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}
		res.Data = raw
	}

	RespondJSON(w, r, http.StatusOK, res)
}

// RespondError sends the envelope for err. Errors that are not a CustomError
// are reported as ErrUnknown without exposing their text.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) || customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown, err)
	}

	res := JSONResponse{
		Code:    customErr.Code,
		Message: customErr.Message,
	}
	RespondJSON(w, r, customErr.Status, res)
}
