package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/akontos/syntonia/internal/pattern"
	"github.com/akontos/syntonia/internal/schedule"
	"github.com/akontos/syntonia/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Registered patterns
	mux.HandleFunc("GET /api/patterns", s.listPatterns)
	mux.HandleFunc("GET /api/patterns/active", s.listActive)
	mux.HandleFunc("GET /api/patterns/{id}", s.getPattern)
	mux.HandleFunc("POST /api/patterns/{id}/execute", s.executePattern)
	mux.HandleFunc("POST /api/patterns/{id}/validate", s.validatePattern)
	mux.HandleFunc("POST /api/patterns/{id}/cancel", s.cancelPattern)
	mux.HandleFunc("GET /api/patterns/{id}/events", s.getPatternEvents)
	mux.HandleFunc("GET /api/patterns/{id}/recovery", s.getRecoveryHistory)

	// Runs
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)

	// Scheduled executions
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", s.getSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// System
	mux.HandleFunc("GET /api/statistics", s.getStatistics)
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listPatterns(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	capability := r.URL.Query().Get("capability")

	var out []pattern.Metadata
	switch {
	case category != "":
		out = s.registry.FindByCategory(pattern.Category(category))
	case capability != "":
		out = s.registry.FindByCapability(capability)
	default:
		out = s.registry.List()
	}
	jsonResponse(w, out)
}

func (s *Server) getPattern(w http.ResponseWriter, r *http.Request) {
	p, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		jsonError(w, "pattern not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, p.Metadata())
}

func (s *Server) listActive(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.exec.ActiveStates())
}

func (s *Server) executePattern(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var pc pattern.Context
	if err := json.NewDecoder(r.Body).Decode(&pc); err != nil {
		jsonError(w, "invalid execution context: "+err.Error(), http.StatusBadRequest)
		return
	}
	if pc.Resources == nil {
		jsonError(w, "execution context needs a resource pool", http.StatusBadRequest)
		return
	}

	result, err := s.exec.ExecutePattern(r.Context(), id, &pc)
	if err != nil {
		var pe *pattern.Error
		status := http.StatusInternalServerError
		if errors.As(err, &pe) {
			switch pe.Kind {
			case pattern.KindValidation, pattern.KindConfiguration:
				status = http.StatusUnprocessableEntity
			case pattern.KindPatternNotFound:
				status = http.StatusNotFound
			}
		}
		jsonError(w, err.Error(), status)
		return
	}
	jsonResponse(w, result)
}

func (s *Server) validatePattern(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var pc pattern.Context
	if err := json.NewDecoder(r.Body).Decode(&pc); err != nil {
		jsonError(w, "invalid execution context: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.exec.ValidateConfiguration(id, &pc)
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	jsonResponse(w, res)
}

func (s *Server) cancelPattern(w http.ResponseWriter, r *http.Request) {
	if err := s.exec.CancelPattern(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "cancelled"})
}

func (s *Server) getPatternEvents(w http.ResponseWriter, r *http.Request) {
	if s.mon == nil {
		jsonResponse(w, []any{})
		return
	}
	jsonResponse(w, s.mon.Events(r.PathValue("id"), queryLimit(r, 100)))
}

func (s *Server) getRecoveryHistory(w http.ResponseWriter, r *http.Request) {
	if s.rec == nil {
		jsonResponse(w, []any{})
		return
	}
	jsonResponse(w, s.rec.History(r.PathValue("id")))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListPatternRuns(queryLimit(r, 50))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetPatternRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListScheduledExecutions()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PatternID string `json:"pattern_id"`
		Name      string `json:"name"`
		Schedule  string `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.PatternID == "" || body.Schedule == "" {
		jsonError(w, "pattern_id and schedule are required", http.StatusBadRequest)
		return
	}
	if _, ok := s.registry.Get(body.PatternID); !ok {
		jsonError(w, "pattern not registered: "+body.PatternID, http.StatusUnprocessableEntity)
		return
	}

	normalized, err := schedule.NormalizeSchedule(body.Schedule)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	next := schedule.CalculateNextRun(normalized)
	if next == nil {
		jsonError(w, "schedule has no future run", http.StatusBadRequest)
		return
	}

	name := body.Name
	if name == "" {
		name = body.PatternID
	}

	se := &store.ScheduledExecution{
		ID:        uuid.NewString(),
		PatternID: body.PatternID,
		Name:      name,
		Schedule:  normalized,
		Status:    "active",
		NextRunAt: next,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveScheduledExecution(se); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, se)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	se, err := s.store.GetScheduledExecution(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if se == nil {
		jsonError(w, "scheduled execution not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, se)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScheduledExecution(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getStatistics(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"executor": s.exec.Statistics(),
	}
	if s.mon != nil {
		out["monitor"] = s.mon.Statistics()
	}
	if s.validator != nil {
		out["validation"] = s.validator.Statistics()
	}
	if s.rec != nil {
		out["recovery"] = s.rec.Statistics()
	}
	jsonResponse(w, out)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	schedules, _ := s.store.ListScheduledExecutions()
	activeSchedules := 0
	for _, se := range schedules {
		if se.Status == "active" {
			activeSchedules++
		}
	}

	jsonResponse(w, map[string]any{
		"version":          s.version,
		"uptime":           formatUptime(time.Since(s.startedAt)),
		"patterns":         len(s.registry.List()),
		"active":           len(s.exec.ActiveStates()),
		"active_schedules": activeSchedules,
	})
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
