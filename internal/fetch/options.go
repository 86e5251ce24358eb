// Package fetch defines the domain types shared by the session orchestrator:
// the options a fetch session is started with, the status snapshots the
// backend reports while it runs, and the interfaces the components talk
// through.
package fetch

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Provider selects the analysis engine used for relevance scoring.
type Provider string

// Supported analysis providers.
const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Mode selects how papers are discovered.
type Mode string

// Supported fetch modes.
const (
	ModeByCategory Mode = "by_category"
	ModeByID       Mode = "by_id"
)

// ConcurrencyMode selects how the backend schedules analysis work.
type ConcurrencyMode string

// Supported concurrency modes.
const (
	Sequential ConcurrencyMode = "sequential"
	Concurrent ConcurrencyMode = "concurrent"
)

// Language selects the language analysis summaries are written in.
type Language string

// Supported response languages.
const (
	LangEnglish Language = "en"
	LangGerman  Language = "de"
)

// MaxConcurrentLimit caps the backend worker pool size.
const MaxConcurrentLimit = 5

// arXiv identifiers: 4-digit year/month, 4-5 digit number, optional version.
var idPattern = regexp.MustCompile(`^\d{4}\.\d{4,5}(v\d+)?$`)

// ValidID reports whether s is a well-formed arXiv paper identifier.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// Options captures everything a fetch session is started with. It is built
// once by the configuration builder, validated before submission, and never
// mutated afterwards.
type Options struct {
	Provider Provider `json:"provider" validate:"required,oneof=openai anthropic"`
	Mode     Mode     `json:"mode" validate:"required,oneof=by_category by_id"`

	// By-category discovery. DaysBack nil means all time; an explicit
	// DateFrom/DateTo pair is the alternative window form.
	Categories []string   `json:"categories,omitempty"`
	MaxPapers  int        `json:"max_papers,omitempty"`
	DaysBack   *int       `json:"days_back,omitempty"`
	DateFrom   *time.Time `json:"date_from,omitempty"`
	DateTo     *time.Time `json:"date_to,omitempty"`

	// By-ID discovery: ordered, each entry must satisfy ValidID.
	IDs []string `json:"ids,omitempty"`

	MinRelevance          int  `json:"min_relevance" validate:"min=0,max=100"`
	DeepAnalysis          bool `json:"deep_analysis"`
	DeepAnalysisThreshold int  `json:"deep_analysis_threshold" validate:"min=0,max=100"`

	ConcurrencyMode ConcurrencyMode `json:"concurrency_mode" validate:"required,oneof=sequential concurrent"`
	MaxConcurrent   int             `json:"max_concurrent" validate:"min=0,max=5"`

	ResponseLanguage Language `json:"response_language" validate:"required,oneof=en de"`
}

// Workers returns the effective analysis pool size for the options.
func (o Options) Workers() int {
	if o.ConcurrencyMode != Concurrent {
		return 1
	}
	if o.MaxConcurrent < 1 {
		return 1
	}
	if o.MaxConcurrent > MaxConcurrentLimit {
		return MaxConcurrentLimit
	}
	return o.MaxConcurrent
}

// Window resolves the discovery time window for by-category mode. The zero
// times mean unbounded on that side.
func (o Options) Window(now time.Time) (from, to time.Time) {
	if o.DateFrom != nil || o.DateTo != nil {
		if o.DateFrom != nil {
			from = *o.DateFrom
		}
		if o.DateTo != nil {
			to = *o.DateTo
		}
		return from, to
	}
	if o.DaysBack != nil {
		return now.AddDate(0, 0, -*o.DaysBack), now
	}
	return time.Time{}, time.Time{}
}

// CredentialChecker answers whether an analysis credential is configured for
// a provider. The builder consults it before letting deep analysis through.
type CredentialChecker interface {
	HasCredential(p Provider) bool
}

// ErrNoCredential is returned when deep analysis is requested without a
// configured credential for the selected provider.
var ErrNoCredential = errors.New("no analysis credential configured for provider")

// InvalidIDsError lists every malformed identifier in a by-ID submission.
// All offenders are reported together rather than one at a time.
type InvalidIDsError struct {
	IDs []string
}

func (e *InvalidIDsError) Error() string {
	return fmt.Sprintf("invalid paper ids: %v", e.IDs)
}

// CheckIDs validates a by-ID sequence and collects every malformed entry.
func CheckIDs(ids []string) error {
	if len(ids) == 0 {
		return errors.New("at least one paper id required")
	}
	var bad []string
	for _, id := range ids {
		if !ValidID(id) {
			bad = append(bad, id)
		}
	}
	if len(bad) > 0 {
		return &InvalidIDsError{IDs: bad}
	}
	return nil
}
