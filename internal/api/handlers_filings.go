package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/proxyvote/internal/report"
	"github.com/dgallion1/proxyvote/internal/store"
)

// loadFiling reads a filing from the store. Without a store the in-memory
// result of a finished job is served instead.
func (s *Server) loadFiling(ctx context.Context, id string) (report.Report, error) {
	if st := s.orchestrator.Store(); st != nil {
		return report.Load(ctx, st, id)
	}
	job := s.orchestrator.JobForFiling(id)
	if job == nil {
		return report.Report{}, store.ErrNotFound
	}
	snap := job.Snapshot()
	res := job.Result()
	if !snap.Status.Done() || res == nil {
		return report.Report{}, store.ErrNotFound
	}
	return report.FromResult(id, snap.Filename, res), nil
}

func (s *Server) filingOr404(w http.ResponseWriter, r *http.Request) (report.Report, bool) {
	id := chi.URLParam(r, "filingID")
	rep, err := s.loadFiling(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonError(w, "filing not found", http.StatusNotFound)
		return rep, false
	case err != nil:
		s.log.Error("load filing failed", "filing_id", id, "error", err)
		jsonError(w, "failed to load filing: "+err.Error(), http.StatusInternalServerError)
		return rep, false
	}
	return rep, true
}

func (s *Server) handleGetFiling(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.filingOr404(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"filing":       rep.Filing,
		"fund_matches": rep.Matches,
		"unmatched":    rep.Unmatched(),
	})
}

func (s *Server) handleListSections(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.filingOr404(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"sections": rep.Sections})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.filingOr404(w, r)
	if !ok {
		return
	}
	page, err := rep.HTML()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// handleDeleteFiling deletes a stored filing with its matches and sections.
func (s *Server) handleDeleteFiling(w http.ResponseWriter, r *http.Request) {
	st := s.orchestrator.Store()
	if st == nil {
		jsonError(w, "no store configured", http.StatusNotImplemented)
		return
	}
	id := chi.URLParam(r, "filingID")
	err := st.DeleteFiling(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonError(w, "filing not found", http.StatusNotFound)
		return
	case err != nil:
		s.log.Error("delete filing failed", "filing_id", id, "error", err)
		jsonError(w, "failed to delete filing: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("filing deleted", "filing_id", id)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"filing_id": id, "deleted": true})
}
