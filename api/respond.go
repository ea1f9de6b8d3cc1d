package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/catalog"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps a ledger error to its status and stable code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := credits.CodeOf(err)
	status := statusOf(err, code)
	if errors.Is(err, catalog.ErrInvalid) || errors.Is(err, credits.ErrInvalidSignature) {
		code = credits.CodeInvalidInput
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: string(code), Message: err.Error()}})
}

func statusOf(err error, code credits.Code) int {
	switch {
	case errors.Is(err, credits.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrInvalid):
		return http.StatusBadRequest
	}

	switch code {
	case credits.CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case credits.CodeAccountNotFound:
		return http.StatusNotFound
	case credits.CodeInvalidInput:
		return http.StatusBadRequest
	case credits.CodeDuplicateTransaction, credits.CodeAccountExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. Unknown fields are rejected.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return credits.ValidationError{Field: "body", Message: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return nil
}
