package web

import (
	"net/http"

	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/engine"
)

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ExperimentID == "" {
		s.writeError(w, r, &domain.ValidationError{Field: "experiment_id", Reason: "experiment_id is required"})
		return
	}

	res, err := s.engine.ResolveVariant(r.Context(), req.ExperimentID, req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ExperimentID == "" {
		s.writeError(w, r, &domain.ValidationError{Field: "experiment_id", Reason: "experiment_id is required"})
		return
	}
	if req.VariantID == "" {
		s.writeError(w, r, &domain.ValidationError{Field: "variant_id", Reason: "variant_id is required"})
		return
	}

	err := s.engine.ReportOutcome(r.Context(), engine.OutcomeReport{
		ExperimentID: req.ExperimentID,
		VariantID:    req.VariantID,
		UserID:       req.UserID,
		EventType:    domain.EventType(req.EventType),
		Payload:      req.Payload,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEraseUser(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.EraseForUser(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
