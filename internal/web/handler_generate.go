package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vbonduro/travelbingo/internal/generation"
	"github.com/vbonduro/travelbingo/internal/service"
)

const maxGenerateBody = 64 * 1024

func (s *Server) decodeGenerateRequest(w http.ResponseWriter, r *http.Request) (service.GenerateRequest, bool) {
	var req generation.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerateBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, generation.Response{Error: "invalid JSON body"})
		return service.GenerateRequest{}, false
	}
	return service.GenerateRequest{
		CityID:        req.CityID,
		ItemID:        req.ItemID,
		ItemText:      req.ItemText,
		Description:   req.Description,
		ClientID:      req.ClientID,
		ForceNewImage: req.ForceNewImage,
	}, true
}

// writeGenerateError reports request problems with a 4xx/5xx status and
// upstream generation failures as a well-formed {success:false} reply.
func (s *Server) writeGenerateError(w http.ResponseWriter, err error, req service.GenerateRequest) {
	status := http.StatusOK
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrGeneratorUnavailable):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Warn("generation failed", "city_id", req.CityID, "item_id", req.ItemID, "error", err)
	}
	writeJSON(w, status, generation.Response{Success: false, Error: err.Error()})
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGenerateRequest(w, r)
	if !ok {
		return
	}

	url, err := s.service.GenerateImage(r.Context(), req)
	if err != nil {
		s.writeGenerateError(w, err, req)
		return
	}
	writeJSON(w, http.StatusOK, generation.Response{Success: true, ImageURL: url})
}

func (s *Server) handleGenerateDescription(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGenerateRequest(w, r)
	if !ok {
		return
	}

	text, err := s.service.GenerateDescription(r.Context(), req)
	if err != nil {
		s.writeGenerateError(w, err, req)
		return
	}
	writeJSON(w, http.StatusOK, generation.Response{Success: true, Description: text})
}
