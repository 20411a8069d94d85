package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"lv-cfd/internal/apperr"
)

type ErrorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func ReadJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps the error taxonomy onto HTTP statuses. Rate-limit rejections
// carry a Retry-After header so clients know when to come back.
func WriteError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: "internal error", Code: "internal_error"}
	status := http.StatusInternalServerError

	var e *apperr.Error
	if errors.As(err, &e) {
		resp.Code = e.Code
		switch e.Kind {
		case apperr.KindValidation:
			status = http.StatusBadRequest
			resp.Error = e.Message
		case apperr.KindAuthorization:
			status = http.StatusForbidden
			resp.Error = e.Message
		case apperr.KindRateLimited:
			status = http.StatusTooManyRequests
			resp.Error = e.Message
			secs := int(e.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			resp.RetryAfterSeconds = secs
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		case apperr.KindNotFound:
			status = http.StatusNotFound
			resp.Error = e.Message
		case apperr.KindUnavailable:
			status = http.StatusServiceUnavailable
			resp.Error = e.Message
		}
	}
	WriteJSON(w, status, resp)
}
