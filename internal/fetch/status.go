package fetch

import (
	"errors"
	"fmt"
)

// Phase is the backend-reported coarse stage of a session.
type Phase string

// Session phases in lifecycle order.
const (
	PhaseIdle      Phase = "idle"
	PhaseFetching  Phase = "fetching"
	PhaseFiltering Phase = "filtering"
	PhaseAnalyzing Phase = "analyzing"
	PhaseCompleted Phase = "completed"
	PhaseError     Phase = "error"
)

// Terminal reports whether no further status changes are expected after p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// ErrorKind classifies session errors for retry and display decisions.
type ErrorKind string

// Error kinds. Config errors never leave the builder; warning does not end
// the session.
const (
	ErrKindConfig       ErrorKind = "config"
	ErrKindSystem       ErrorKind = "system"
	ErrKindNetwork      ErrorKind = "network"
	ErrKindLLMRateLimit ErrorKind = "llm_rate_limit"
	ErrKindLLMAuth      ErrorKind = "llm_auth"
	ErrKindCancelled    ErrorKind = "cancelled"
	ErrKindWarning      ErrorKind = "warning"
)

// ErrorInfo describes a session-ending error as classified by the backend.
type ErrorInfo struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// Counters accumulates per-session paper tallies. Each field is
// non-decreasing within one session.
type Counters struct {
	Found      int `json:"found"`
	Analyzed   int `json:"analyzed"`
	Saved      int `json:"saved"`
	Filtered   int `json:"filtered"`
	Duplicates int `json:"duplicates"`
	CacheHits  int `json:"cache_hits"`
}

// PoolStats carries worker-pool telemetry; present only for concurrent
// sessions.
type PoolStats struct {
	QueueSize      int `json:"queue_size"`
	ActiveTasks    int `json:"active_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	FailedTasks    int `json:"failed_tasks"`
}

// Status is one full progress snapshot emitted by the backend. Payloads are
// snapshots, not deltas; the latest one is authoritative. Seq is assigned by
// the emitter and strictly increases, so a transport that reorders or
// redelivers can be corrected by the listener.
type Status struct {
	Seq      uint64     `json:"seq"`
	Phase    Phase      `json:"phase"`
	Progress float64    `json:"progress"`
	Step     string     `json:"step"`
	Counters Counters   `json:"counters"`
	Pool     *PoolStats `json:"pool,omitempty"`
	Errors   []string   `json:"errors,omitempty"`
	Error    *ErrorInfo `json:"error,omitempty"`
}

// Validate performs coarse validation on Status payloads.
func (s Status) Validate() error {
	switch s.Phase {
	case PhaseIdle, PhaseFetching, PhaseFiltering, PhaseAnalyzing, PhaseCompleted, PhaseError:
	default:
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if s.Progress < 0 || s.Progress > 1 {
		return fmt.Errorf("progress %v out of range", s.Progress)
	}
	if s.Phase == PhaseError && s.Error == nil {
		return errors.New("error phase requires error info")
	}
	return nil
}
