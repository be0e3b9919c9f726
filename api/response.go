package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/fabfab/contract-assistant/contracts"
	"github.com/fabfab/contract-assistant/engine"
)

type envelope struct {
	Status     bool   `json:"status"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
	StatusCode int    `json:"status_code"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", "err", err)
	}
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, ok bool, message string, data any) {
	s.writeJSON(w, status, envelope{Status: ok, Message: message, Data: data, StatusCode: status})
}

func (s *Server) writeSuccess(w http.ResponseWriter, status int, data any) {
	s.writeEnvelope(w, status, true, successMessage, data)
}

// writeError reports err to the client without exposing internal causes.
// The full error is logged here and nowhere else.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message, data := describeError(err)

	logger := s.logger.With("request_id", middleware.GetReqID(r.Context()), "status", status, "err", err)
	if sub := Subject(r.Context()); sub != "" {
		logger = logger.With("subject", sub)
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed")
	} else {
		logger.Warn("request rejected")
	}
	s.writeEnvelope(w, status, false, message, data)
}

func describeError(err error) (int, string, any) {
	var (
		reqErr   *requestError
		reported *engine.Error
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, "Validation Error", reqErr.fields
	case errors.As(err, &reported):
		details := reported.Details
		if details == nil {
			details = map[string]any{}
		}
		return reported.Status(), reported.ClientMessage(), details
	case errors.Is(err, contracts.ErrInvalidDocument):
		return http.StatusBadRequest, "Validation Error", map[string][]string{"contract_pdf": {"must be a base64 PDF or UTF-8 text document"}}
	case errors.Is(err, contracts.ErrNotFound):
		return http.StatusNotFound, "Contract not found.", map[string]any{}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "The request timed out.", map[string]any{}
	default:
		return http.StatusInternalServerError, engine.DefaultErrorMessage, map[string]any{}
	}
}
