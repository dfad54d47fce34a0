package web

import (
	"net/http"
	"strconv"

	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/experiment"
	"github.com/emiliopalmerini/abassign/internal/ports"
)

// experimentID accepts either an ID or a name in the {id} path segment.
func (s *Server) experimentID(r *http.Request) (string, error) {
	exp, err := s.engine.Experiments().Find(r.Context(), r.PathValue("id"))
	if err != nil {
		return "", err
	}
	return exp.ID, nil
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	var status *domain.ExperimentStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := domain.ParseExperimentStatus(raw)
		if err != nil {
			s.writeError(w, r, &domain.ValidationError{Field: "status", Reason: err.Error()})
			return
		}
		status = &parsed
	}

	exps, err := s.engine.Experiments().List(r.Context(), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]experimentJSON, 0, len(exps))
	for _, exp := range exps {
		out = append(out, toExperimentJSON(exp))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	in := experiment.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Strategy:    req.Strategy,
	}
	for _, v := range req.Variants {
		in.Variants = append(in.Variants, experiment.VariantInput(v))
	}

	exp, err := s.engine.Experiments().Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExperimentJSON(exp))
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := s.engine.Experiments().Find(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExperimentJSON(exp))
}

func (s *Server) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	id, err := s.experimentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Experiments().Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateExperiment(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id string) (*domain.Experiment, error) {
		return s.engine.Experiments().Activate(r.Context(), id)
	})
}

func (s *Server) handleCompleteExperiment(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id string) (*domain.Experiment, error) {
		return s.engine.Experiments().Complete(r.Context(), id)
	})
}

func (s *Server) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.transition(w, r, func(id string) (*domain.Experiment, error) {
		return s.engine.Experiments().Stop(r.Context(), id, req.Reason)
	})
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, apply func(id string) (*domain.Experiment, error)) {
	id, err := s.experimentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	exp, err := apply(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExperimentJSON(exp))
}

func (s *Server) handleAddVariant(w http.ResponseWriter, r *http.Request) {
	var req variantRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.experimentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	v, err := s.engine.Experiments().AddVariant(r.Context(), id, experiment.VariantInput(req))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVariantJSON(v))
}

func (s *Server) handleUpdateVariant(w http.ResponseWriter, r *http.Request) {
	var req updateVariantRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.experimentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	v, err := s.engine.Experiments().UpdateVariant(r.Context(), id, r.PathValue("variant"), experiment.VariantUpdate(req))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVariantJSON(v))
}

func (s *Server) handleRemoveVariant(w http.ResponseWriter, r *http.Request) {
	id, err := s.experimentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Experiments().RemoveVariant(r.Context(), id, r.PathValue("variant")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExperimentStats(w http.ResponseWriter, r *http.Request) {
	id, err := s.experimentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.engine.Stats(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsJSON(stats))
}

func (s *Server) handleExperimentEvents(w http.ResponseWriter, r *http.Request) {
	var filter ports.EventFilter
	q := r.URL.Query()
	if raw := q.Get("type"); raw != "" {
		t := domain.EventType(raw)
		filter.Type = &t
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, &domain.ValidationError{Field: "limit", Reason: "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	id, err := s.experimentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evts, err := s.engine.ListEvents(r.Context(), id, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]eventJSON, 0, len(evts))
	for _, e := range evts {
		out = append(out, toEventJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, err := s.experimentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.engine.Audit(r.Context(), id, r.PathValue("user"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditJSON(report))
}
