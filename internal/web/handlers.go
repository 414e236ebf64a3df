package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ArgonautCreations/depotforge/internal/core"
	"github.com/ArgonautCreations/depotforge/internal/logging"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// rosterUploadResponse echoes the parsed roster so the operator can see
// exactly what was accepted before planning anything.
type rosterUploadResponse struct {
	ID      string           `json:"id"`
	Rows    int              `json:"rows"`
	Records []core.Record    `json:"records"`
	Groups  []core.GroupSpec `json:"groups"`
}

// validationFailure is the structured 422 body for a rejected roster row.
type validationFailure struct {
	Error  string   `json:"error"`
	Row    int      `json:"row"`
	Field  string   `json:"field"`
	Value  string   `json:"value"`
	Reason string   `json:"reason"`
	Code   string   `json:"code"`
	Data   []string `json:"rowData,omitempty"`
}

// handleUploadRoster accepts the CSV either as a multipart "roster" part
// or as the raw request body.
func (s *Server) handleUploadRoster(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Provision.MaxRosterSize)

	data, err := readRosterBody(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	roster, err := s.service.LoadRoster(data)
	if err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			logging.FromContext(r.Context()).Warn("roster rejected",
				"row", verr.Row, "field", verr.Field, "reason", verr.Reason)
			respondJSON(w, http.StatusUnprocessableEntity, validationFailure{
				Error:  verr.Error(),
				Row:    verr.Row,
				Field:  verr.Field,
				Value:  verr.Value,
				Reason: verr.Reason,
				Code:   "CSV003",
				Data:   verr.RowData,
			})
			return
		}
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	respondJSON(w, http.StatusCreated, rosterUploadResponse{
		ID:      roster.ID,
		Rows:    len(roster.Records),
		Records: roster.Records,
		Groups:  roster.Groups,
	})
}

func readRosterBody(r *http.Request) ([]byte, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		file, _, err := r.FormFile("roster")
		if err != nil {
			return nil, fmt.Errorf("no file provided: %w", err)
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

func (s *Server) handleGetRoster(w http.ResponseWriter, r *http.Request) {
	roster, err := s.service.GetRoster(chi.URLParam(r, "rosterID"))
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, roster)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusBadGateway)
		return
	}
	respondJSON(w, http.StatusOK, templates)
}

// planRequest selects a loaded roster and a template depot.
type planRequest struct {
	RosterID string `json:"rosterId"`
	Template string `json:"template"`
}

func decodePlanRequest(r *http.Request) (planRequest, error) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	if req.RosterID == "" || req.Template == "" {
		return req, errors.New("rosterId and template are required")
	}
	return req, nil
}

func (s *Server) handlePreviewPlan(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlanRequest(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	plan, err := s.service.PreviewPlan(r.Context(), req.RosterID, req.Template)
	if err != nil {
		s.respondError(w, r, err, planErrorStatus(err))
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlanRequest(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	info, err := s.service.StartRun(r.Context(), req.RosterID, req.Template)
	if err != nil {
		if errors.Is(err, core.ErrRunInFlight) {
			s.respondError(w, r, err, http.StatusConflict)
			return
		}
		s.respondError(w, r, err, planErrorStatus(err))
		return
	}
	respondJSON(w, http.StatusAccepted, info)
}

// planErrorStatus distinguishes operator mistakes from backend trouble.
func planErrorStatus(err error) int {
	switch {
	case strings.Contains(err.Error(), "not found"):
		return http.StatusNotFound
	case core.IsAuthError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// runView combines identity and live progress for listing.
type runView struct {
	core.RunInfo
	Progress core.RunProgress `json:"progress"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	infos := s.service.ListRuns()
	views := make([]runView, 0, len(infos))
	for _, info := range infos {
		progress, err := s.service.RunProgress(info.ID)
		if err != nil {
			continue
		}
		views = append(views, runView{RunInfo: info, Progress: progress})
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	info, err := s.service.RunDetails(runID)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	progress, err := s.service.RunProgress(runID)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, runView{RunInfo: info, Progress: progress})
}

// handleRunEvents streams progress snapshots as server-sent events until
// the run reaches a terminal state.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	events, err := s.service.SubscribeProgress(runID)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	for {
		select {
		case progress, ok := <-events:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleConfirmPopulate(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.service.ConfirmPopulate(runID); err != nil {
		status := http.StatusConflict
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		s.respondError(w, r, err, status)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "populate confirmed"})
}

// undoResponse returns the reversal commands recorded so far and where
// they are persisted.
type undoResponse struct {
	RunID    string   `json:"runId"`
	File     string   `json:"file"`
	Commands []string `json:"commands"`
}

func (s *Server) handleRunUndo(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	info, err := s.service.RunDetails(runID)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	commands, err := s.service.UndoCommands(runID)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, undoResponse{
		RunID:    runID,
		File:     info.UndoFile,
		Commands: commands,
	})
}

var errHistoryDisabled = errors.New("run history is not configured; set DATABASE_URL to enable it")

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, r, errHistoryDisabled, http.StatusNotImplemented)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleHistoryRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, r, errHistoryDisabled, http.StatusNotImplemented)
		return
	}

	record, stages, err := s.history.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		s.respondError(w, r, err, status)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"run":    record,
		"stages": stages,
	})
}
