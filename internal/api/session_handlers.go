package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/arxivist/fetchsession/internal/builder"
	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/history"
	"github.com/arxivist/fetchsession/internal/observer"
	"github.com/arxivist/fetchsession/internal/orchestrator"
	"github.com/arxivist/fetchsession/internal/session"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	historyTimeout      = 3 * time.Second
)

// startRequest is the JSON form of the configuration dialog submission.
// Pointer fields distinguish "absent" from zero so stored preferences fill
// the gaps.
type startRequest struct {
	Provider   *string  `json:"provider"`
	Mode       *string  `json:"mode"`
	Categories []string `json:"categories"`
	MaxPapers  *int     `json:"max_papers"`

	AllTime      *bool  `json:"all_time"`
	DaysBack     *int   `json:"days_back"`
	UseDateRange *bool  `json:"use_date_range"`
	DateFrom     string `json:"date_from"`
	DateTo       string `json:"date_to"`

	IDs []string `json:"ids"`

	MinRelevance          *int  `json:"min_relevance"`
	DeepAnalysis          *bool `json:"deep_analysis"`
	DeepAnalysisThreshold *int  `json:"deep_analysis_threshold"`

	ConcurrencyMode *string `json:"concurrency_mode"`
	MaxConcurrent   *int    `json:"max_concurrent"`

	ResponseLanguage *string `json:"response_language"`
}

// toForm overlays the request onto the stored-preference defaults, so an
// omitted field keeps the last-used value.
func (req startRequest) toForm(def builder.Form) builder.Form {
	form := def
	if req.Provider != nil {
		form.Provider = *req.Provider
	}
	if req.Mode != nil {
		form.Mode = *req.Mode
	}
	if req.Categories != nil {
		form.Categories = req.Categories
	}
	if req.MaxPapers != nil {
		form.MaxPapers = *req.MaxPapers
	}
	if req.AllTime != nil {
		form.AllTime = *req.AllTime
	}
	if req.DaysBack != nil {
		form.DaysBack = *req.DaysBack
		form.AllTime = false
	}
	if req.UseDateRange != nil {
		form.UseDateRange = *req.UseDateRange
	}
	if req.DateFrom != "" {
		form.DateFrom = req.DateFrom
	}
	if req.DateTo != "" {
		form.DateTo = req.DateTo
	}
	if req.IDs != nil {
		form.IDs = req.IDs
	}
	if req.MinRelevance != nil {
		form.MinRelevance = *req.MinRelevance
	}
	if req.DeepAnalysis != nil {
		form.DeepAnalysis = *req.DeepAnalysis
	}
	if req.DeepAnalysisThreshold != nil {
		form.DeepAnalysisThreshold = *req.DeepAnalysisThreshold
	}
	if req.ConcurrencyMode != nil {
		form.ConcurrencyMode = *req.ConcurrencyMode
	}
	if req.MaxConcurrent != nil {
		form.MaxConcurrent = *req.MaxConcurrent
	}
	if req.ResponseLanguage != nil {
		form.ResponseLanguage = *req.ResponseLanguage
	}
	return form
}

func (s *Server) startFetch(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	form := req.toForm(s.builder.DefaultForm())
	opts, failures := s.builder.Build(form)
	if len(failures) > 0 {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": failures})
		return
	}
	if err := s.orch.Start(r.Context(), opts); err != nil {
		if errors.Is(err, session.ErrSessionRunning) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		// Session state already carries the retryable error; the client
		// observes it through /v1/fetch/status.
		s.logger.Error("start fetch failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (s *Server) cancelFetch(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Cancel(r.Context()); err != nil {
		if errors.Is(err, orchestrator.ErrNoSession) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Warn("cancel fetch failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) retryFetch(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Retry(r.Context()); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrNoSession):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, orchestrator.ErrNotRetryable):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("retry fetch failed", zap.Error(err))
			s.writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (s *Server) dismissFetch(w http.ResponseWriter, r *http.Request) {
	snap := s.sessions.Snapshot()
	if s.recorder != nil && snap.ErrorActive {
		s.recorder.RecordError(r.Context(), snap)
	}
	s.orch.Dismiss()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
}

func (s *Server) fetchStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.sessions.Snapshot()
	now := s.clock.Now()
	payload := statusResponse{
		Running:        snap.Running,
		Completing:     snap.Completing,
		ConnectionLost: s.conn != nil && snap.Running && !s.conn.Connected(),
	}
	if snap.Running || snap.Completing || snap.ErrorActive {
		view := observer.ProjectSession(snap, now)
		payload.Session = toSessionDTO(view, snap)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// fetchEta recomputes the estimate from live values on every request;
// nothing is stored.
func (s *Server) fetchEta(w http.ResponseWriter, _ *http.Request) {
	snap := s.sessions.Snapshot()
	payload := etaResponse{Defined: false}
	if rem := observer.EstimateRemaining(snap, s.clock.Now()); rem != nil {
		secs := rem.Seconds()
		payload.Defined = true
		payload.RemainingSeconds = &secs
	}
	s.writeJSON(w, http.StatusOK, payload)
}

type etaResponse struct {
	Defined          bool     `json:"defined"`
	RemainingSeconds *float64 `json:"remaining_seconds,omitempty"`
}

func (s *Server) fetchOptions(w http.ResponseWriter, _ *http.Request) {
	form := s.builder.DefaultForm()
	s.writeJSON(w, http.StatusOK, toFormDTO(form))
}

type statusResponse struct {
	Running        bool        `json:"running"`
	Completing     bool        `json:"completing"`
	ConnectionLost bool        `json:"connection_lost"`
	Session        *sessionDTO `json:"session,omitempty"`
}

type sessionDTO struct {
	Phase            string           `json:"phase"`
	Progress         float64          `json:"progress"`
	Step             string           `json:"step,omitempty"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	ElapsedSeconds   float64          `json:"elapsed_seconds"`
	RemainingSeconds *float64         `json:"remaining_seconds,omitempty"`
	Counters         fetch.Counters   `json:"counters"`
	Pool             *fetch.PoolStats `json:"pool,omitempty"`
	Errors           []string         `json:"errors,omitempty"`
	Error            *fetch.ErrorInfo `json:"error,omitempty"`
	CanRetry         bool             `json:"can_retry"`
}

func toSessionDTO(view observer.SessionView, snap session.Snapshot) *sessionDTO {
	dto := &sessionDTO{
		Phase:          string(view.Phase),
		Progress:       view.Progress,
		Step:           view.Step,
		StartedAt:      snap.StartTime,
		ElapsedSeconds: view.Elapsed.Seconds(),
		Counters:       view.Counters,
		Pool:           view.Pool,
		Errors:         view.Errors,
		Error:          view.ErrorInfo,
		CanRetry:       view.CanRetry,
	}
	if view.Remaining != nil {
		secs := view.Remaining.Seconds()
		dto.RemainingSeconds = &secs
	}
	return dto
}

type formDTO struct {
	Provider   string   `json:"provider"`
	Mode       string   `json:"mode"`
	Categories []string `json:"categories"`
	MaxPapers  int      `json:"max_papers"`

	AllTime      bool   `json:"all_time"`
	DaysBack     int    `json:"days_back"`
	UseDateRange bool   `json:"use_date_range"`
	DateFrom     string `json:"date_from,omitempty"`
	DateTo       string `json:"date_to,omitempty"`

	IDs []string `json:"ids,omitempty"`

	MinRelevance          int  `json:"min_relevance"`
	DeepAnalysis          bool `json:"deep_analysis"`
	DeepAnalysisThreshold int  `json:"deep_analysis_threshold"`

	ConcurrencyMode string `json:"concurrency_mode"`
	MaxConcurrent   int    `json:"max_concurrent"`

	ResponseLanguage string `json:"response_language"`
}

func toFormDTO(form builder.Form) formDTO {
	return formDTO{
		Provider:              form.Provider,
		Mode:                  form.Mode,
		Categories:            form.Categories,
		MaxPapers:             form.MaxPapers,
		AllTime:               form.AllTime,
		DaysBack:              form.DaysBack,
		UseDateRange:          form.UseDateRange,
		DateFrom:              form.DateFrom,
		DateTo:                form.DateTo,
		IDs:                   form.IDs,
		MinRelevance:          form.MinRelevance,
		DeepAnalysis:          form.DeepAnalysis,
		DeepAnalysisThreshold: form.DeepAnalysisThreshold,
		ConcurrencyMode:       form.ConcurrencyMode,
		MaxConcurrent:         form.MaxConcurrent,
		ResponseLanguage:      form.ResponseLanguage,
	}
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

func toHistoryDTOs(in []history.Record) []historyDTO {
	out := make([]historyDTO, 0, len(in))
	for _, rec := range in {
		out = append(out, historyDTO{
			ID:         rec.ID.String(),
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
			Outcome:    string(rec.Outcome),
			Options:    rec.Options,
			Counters:   rec.Counters,
			ErrorKind:  rec.ErrorKind,
			ErrorMsg:   rec.ErrorMsg,
		})
	}
	return out
}

type historyDTO struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcome    string         `json:"outcome"`
	Options    string         `json:"options,omitempty"`
	Counters   fetch.Counters `json:"counters"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	ErrorMsg   string         `json:"error_message,omitempty"`
}
