package server

import (
	"encoding/json"
	"net/http"

	"github.com/meridian-search/meridian/pkg/errors"
	"github.com/meridian-search/meridian/pkg/logger"
)

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.FromContext(r.Context()).Error("response encode failed", "error", err)
	}
}

// writeError renders the error envelope every client of this API expects:
// {"message": ..., "status": ...}.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= 500 {
		logger.FromContext(r.Context()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		logger.FromContext(r.Context()).Debug("request rejected",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	s.writeJSON(w, r, status, map[string]any{
		"message": message,
		"status":  status,
	})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Newf(errors.ErrValidation, 400, "invalid request JSON: %v", err)
	}
	return nil
}
