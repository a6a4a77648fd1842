package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dailymatch/internal/match"
	"github.com/kalambet/dailymatch/internal/pipeline"
	"github.com/kalambet/dailymatch/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// Runner triggers a matching run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (match.Result, error)
}

type Deps struct {
	Store  *storage.Store
	Runner Runner
	// Token guards /v1 when non-empty.
	Token string
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
}

// NewHandler returns the read and trigger API used by the reading UI and
// the operator dashboard.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/cohorts", handleListCohorts(deps))
		r.Get("/cohorts/{cohortID}/matches/{date}", handleGetMatches(deps))
		r.Get("/cohorts/{cohortID}/results/{date}", handleGetResult(deps))
		r.Post("/cohorts/{cohortID}/runs", handleTriggerRun(deps))
		r.Get("/runs", handleListRuns(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListCohorts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activeOnly := r.URL.Query().Get("active") == "true"
		cohorts, err := deps.Store.ListCohorts(r.Context(), activeOnly)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing cohorts: %v", err)
			return
		}
		if cohorts == nil {
			cohorts = []match.Cohort{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"cohorts": cohorts})
	}
}

type matchesResponse struct {
	CohortID string        `json:"cohort_id"`
	Date     string        `json:"date"`
	Viewer   string        `json:"viewer"`
	Matches  []match.Match `json:"matches"`
}

func handleGetMatches(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cohortID := chi.URLParam(r, "cohortID")
		date, ok := parseDateParam(w, r)
		if !ok {
			return
		}
		viewer := r.URL.Query().Get("viewer")
		if viewer == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "viewer is required")
			return
		}

		matches, err := deps.Store.ReadResult(r.Context(), cohortID, date, viewer)
		switch {
		case errors.Is(err, storage.ErrNotComputed):
			httpError(w, http.StatusNotFound, "not_computed", "no matches computed for %s on %s", cohortID, date)
			return
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "%s has no matches on %s", viewer, date)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "reading matches: %v", err)
			return
		}
		if matches == nil {
			matches = []match.Match{}
		}
		writeJSON(w, http.StatusOK, matchesResponse{
			CohortID: cohortID,
			Date:     date.String(),
			Viewer:   viewer,
			Matches:  matches,
		})
	}
}

func handleGetResult(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cohortID := chi.URLParam(r, "cohortID")
		date, ok := parseDateParam(w, r)
		if !ok {
			return
		}
		res, err := deps.Store.Result(r.Context(), cohortID, date)
		if errors.Is(err, storage.ErrNotComputed) {
			httpError(w, http.StatusNotFound, "not_computed", "no matches computed for %s on %s", cohortID, date)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading result: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type runRequest struct {
	Date  string `json:"date"`
	Force bool   `json:"force"`
}

// RunSummary is the response to a successful trigger.
type RunSummary struct {
	ResultKey    string `json:"result_key"`
	RunID        string `json:"run_id"`
	Degraded     bool   `json:"degraded"`
	Clusters     int    `json:"clusters"`
	Participants int    `json:"participants"`
	Repairs      int    `json:"repairs"`
	Shortfalls   int    `json:"shortfalls"`
}

// Summarize condenses a result for trigger responses.
func Summarize(res match.Result) RunSummary {
	return RunSummary{
		ResultKey:    res.Key.String(),
		RunID:        res.RunID,
		Degraded:     res.Degraded,
		Clusters:     len(res.Clusters),
		Participants: len(res.Members),
		Repairs:      len(res.Report.Repairs),
		Shortfalls:   len(res.Report.Shortfalls),
	}
}

func handleTriggerRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Runner == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "matching runs are not available in this server")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var body runRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req := pipeline.Request{CohortID: chi.URLParam(r, "cohortID"), Force: body.Force}
		if body.Date != "" {
			d, err := civil.ParseDate(body.Date)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid date %q", body.Date)
				return
			}
			req.Date = d
		}

		res, err := deps.Runner.Run(r.Context(), req)
		if err != nil {
			status, errType := runErrorStatus(err)
			if status >= http.StatusInternalServerError {
				slog.Error("triggered run failed", "component", "api", "cohort", req.CohortID, "error", err)
			}
			httpError(w, status, errType, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, Summarize(res))
	}
}

// runErrorStatus maps a run failure onto an HTTP status and error type.
func runErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, match.ErrAlreadyComputed):
		return http.StatusConflict, "already_computed"
	case errors.Is(err, match.ErrLockHeld):
		return http.StatusConflict, "lock_held"
	case errors.Is(err, match.ErrInsufficientParticipants),
		errors.Is(err, match.ErrUnsatisfiableClusterSizes),
		errors.Is(err, match.ErrUnassignableParticipants):
		return http.StatusUnprocessableEntity, "matching_error"
	case errors.Is(err, match.ErrOracleUnavailable), errors.Is(err, match.ErrDirectoryReadFailure):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "api_error"
	}
	return http.StatusInternalServerError, "api_error"
}

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunsLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", s)
				return
			}
			limit = min(n, maxRunsLimit)
		}
		runs, err := deps.Store.RecentRuns(r.Context(), r.URL.Query().Get("cohort"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.Run{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	}
}

func parseDateParam(w http.ResponseWriter, r *http.Request) (civil.Date, bool) {
	raw := chi.URLParam(r, "date")
	d, err := civil.ParseDate(raw)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid date %q", raw)
		return civil.Date{}, false
	}
	return d, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
