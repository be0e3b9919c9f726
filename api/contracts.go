package api

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fabfab/contract-assistant/contracts"
)

type uploadRequest struct {
	Filename    string `json:"filename"`
	ContractPDF string `json:"contract_pdf"`
}

type recordResponse struct {
	contracts.Record
	Content string `json:"content,omitempty"`
}

func (s *Server) storeUnavailable(w http.ResponseWriter) bool {
	if s.contracts != nil {
		return false
	}
	s.writeEnvelope(w, http.StatusServiceUnavailable, false, "Contract storage is not configured.", map[string]any{})
	return true
}

func (s *Server) handleContractUpload(w http.ResponseWriter, r *http.Request) {
	if s.storeUnavailable(w) {
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateBody(s.schemas.upload, body); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req uploadRequest
	if err := decodeJSON(bytes.NewReader(body), &req); err != nil {
		s.writeError(w, r, fieldError(nonFieldErrors, err.Error()))
		return
	}

	rec, err := s.contracts.Upload(r.Context(), req.Filename, req.ContractPDF)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, http.StatusCreated, rec)
}

func (s *Server) handleContractList(w http.ResponseWriter, r *http.Request) {
	if s.storeUnavailable(w) {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > contracts.MaxListLimit {
			s.writeError(w, r, fieldError("limit", "must be an integer between 1 and "+strconv.Itoa(contracts.MaxListLimit)))
			return
		}
		limit = n
	}

	records, err := s.contracts.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []contracts.Record{}
	}
	s.writeSuccess(w, http.StatusOK, records)
}

func (s *Server) handleContractGet(w http.ResponseWriter, r *http.Request) {
	if s.storeUnavailable(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, fieldError("id", "must be a UUID"))
		return
	}

	rec, err := s.contracts.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := recordResponse{Record: rec}
	if r.URL.Query().Get("include") == "content" {
		data, err := s.contracts.Content(r.Context(), rec)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Content = base64.StdEncoding.EncodeToString(data)
	}
	s.writeSuccess(w, http.StatusOK, resp)
}
