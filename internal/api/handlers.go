package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Gautam2086/SignalTrace/internal/audit"
	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/model"
)

// multipartOverhead is the allowance for form boundaries and headers on
// top of the file size limit.
const multipartOverhead = 1 << 20

// uploadField is the multipart field carrying the log file.
const uploadField = "file"

// analyzeResponse is returned by POST /api/analyze.
type analyzeResponse struct {
	RunID        string                  `json:"run_id"`
	CreatedAt    time.Time               `json:"created_at"`
	Filename     string                  `json:"filename"`
	NumLines     int                     `json:"num_lines"`
	NumIncidents int                     `json:"num_incidents"`
	Incidents    []model.IncidentSummary `json:"incidents"`
}

// validation is the explanation outcome block of an incident.
type validation struct {
	UsedLLM bool     `json:"used_llm"`
	Errors  []string `json:"errors"`
}

// incidentResponse is the full incident plus its validation block.
type incidentResponse struct {
	*model.Incident
	Validation validation `json:"validation"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	data, filename, err := s.readUpload(w, r)
	if err != nil {
		s.audit.LogAction(r.Context(), audit.SurfaceHTTP, audit.ActionAnalyze, "", "", 0, time.Since(start), err)
		s.writeError(w, r, err)
		return
	}

	detail, err := s.svc.Analyze(r.Context(), filename, data)
	if err != nil {
		s.audit.LogAction(r.Context(), audit.SurfaceHTTP, audit.ActionAnalyze, "", "", 0, time.Since(start), err)
		s.writeError(w, r, err)
		return
	}
	s.audit.LogAction(r.Context(), audit.SurfaceHTTP, audit.ActionAnalyze, detail.ID, "", detail.NumIncidents, time.Since(start), nil)

	incidents := detail.Incidents
	if incidents == nil {
		incidents = []model.IncidentSummary{}
	}
	s.writeJSON(w, http.StatusOK, analyzeResponse{
		RunID:        detail.ID,
		CreatedAt:    detail.CreatedAt,
		Filename:     detail.Filename,
		NumLines:     detail.NumLines,
		NumIncidents: detail.NumIncidents,
		Incidents:    incidents,
	})
}

// readUpload extracts the uploaded file, enforcing the size limit.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, "", s.tooLarge()
		case errors.Is(err, http.ErrMissingFile):
			return nil, "", apperrors.NewUploadError("No file uploaded").
				WithSuggestion(fmt.Sprintf("Send the log as multipart/form-data in the '%s' field", uploadField))
		default:
			return nil, "", apperrors.NewUploadError("Request is not a valid multipart upload").WithCause(err)
		}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		return nil, "", apperrors.NewUploadError("Failed to read uploaded file").WithCause(err)
	}
	if int64(len(data)) > s.maxUpload {
		return nil, "", s.tooLarge()
	}

	filename := filepath.Base(header.Filename)
	if filename == "." || filename == string(filepath.Separator) {
		filename = "upload.log"
	}
	return data, filename, nil
}

func (s *Server) tooLarge() error {
	return apperrors.NewUploadError(fmt.Sprintf("File exceeds the %d byte upload limit", s.maxUpload)).
		WithSuggestion("Split the log into smaller files or raise SIGNALTRACE_MAX_UPLOAD_BYTES")
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	runs, err := s.svc.ListRuns(r.Context(), limit)
	s.audit.LogAction(r.Context(), audit.SurfaceHTTP, audit.ActionListRuns, "", "", len(runs), time.Since(start), err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	runID := mux.Vars(r)["run_id"]

	detail, err := s.svc.GetRun(r.Context(), runID)
	count := 0
	if detail != nil {
		count = len(detail.Incidents)
	}
	s.audit.LogAction(r.Context(), audit.SurfaceHTTP, audit.ActionGetRun, runID, "", count, time.Since(start), err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	runID := mux.Vars(r)["run_id"]

	err := s.svc.DeleteRun(r.Context(), runID)
	s.audit.LogAction(r.Context(), audit.SurfaceHTTP, audit.ActionDeleteRun, runID, "", 0, time.Since(start), err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	runID, incidentID := vars["run_id"], vars["incident_id"]

	inc, err := s.svc.GetIncident(r.Context(), runID, incidentID)
	s.audit.LogAction(r.Context(), audit.SurfaceHTTP, audit.ActionGetIncident, runID, incidentID, 0, time.Since(start), err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	errs := inc.ValidationErrors
	if errs == nil {
		errs = []string{}
	}
	s.writeJSON(w, http.StatusOK, incidentResponse{
		Incident:   inc,
		Validation: validation{UsedLLM: inc.UsedLLM, Errors: errs},
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = 100
	}

	var entries []audit.Entry
	query := r.URL.Query()
	if traceID := query.Get("trace_id"); traceID != "" {
		entries = s.audit.GetEntriesByTraceID(traceID)
		if len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
	} else if runID := query.Get("run_id"); runID != "" {
		entries = s.audit.GetEntriesByRun(runID, limit)
	} else {
		entries = s.audit.GetRecentEntries(limit)
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": s.audit.IsEnabled(),
		"stats":   s.audit.GetStats(),
		"entries": entries,
	})
}

// parseLimit reads ?limit=N. Zero means "use the default".
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperrors.NewInvalidInput("limit must be a positive integer")
	}
	return n, nil
}
