// Package builder turns raw dialog form state into validated fetch options.
// On success every user-visible field is written back to the preference
// store so the next session reopens with the same choices; nothing is
// written on failure.
package builder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/prefs"
)

// Hard-coded defaults used when the preference store has no (or a
// malformed) entry.
const (
	DefaultProvider        = string(fetch.ProviderOpenAI)
	DefaultMode            = string(fetch.ModeByCategory)
	DefaultMaxPapers       = 10
	DefaultDaysBack        = 7
	DefaultMinRelevance    = 50
	DefaultDeepThreshold   = 70
	DefaultConcurrency     = string(fetch.Sequential)
	DefaultMaxConcurrent   = 3
	DefaultLanguage        = string(fetch.LangEnglish)
	dateLayout             = "2006-01-02"
	defaultCategoriesValue = "cs.AI"
)

// Form is the raw per-field state of the configuration dialog.
type Form struct {
	Provider   string
	Mode       string
	Categories []string
	MaxPapers  int

	// Window selection for by-category mode: AllTime means no lower bound,
	// otherwise DaysBack applies unless an explicit date range is given.
	AllTime      bool
	DaysBack     int
	UseDateRange bool
	DateFrom     string
	DateTo       string

	IDs []string

	MinRelevance          int
	DeepAnalysis          bool
	DeepAnalysisThreshold int

	ConcurrencyMode string
	MaxConcurrent   int

	ResponseLanguage string
}

// Failure is one human-readable validation failure.
type Failure struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Reason)
}

// Builder validates forms against the credential capability check and
// persists accepted choices.
type Builder struct {
	store    prefs.Store
	creds    fetch.CredentialChecker
	validate *validator.Validate
	logger   *zap.Logger
}

// New constructs a Builder.
func New(store prefs.Store, creds fetch.CredentialChecker, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		store:    store,
		creds:    creds,
		validate: validator.New(),
		logger:   logger,
	}
}

// DefaultForm loads the last-used choices from the preference store,
// falling back to hard-coded defaults for anything missing or malformed.
func (b *Builder) DefaultForm() Form {
	daysBack := prefs.OptionalInt(b.store, prefs.KeyDaysBack, intPtr(DefaultDaysBack))
	form := Form{
		Provider:              prefs.String(b.store, prefs.KeyProvider, DefaultProvider),
		Mode:                  prefs.String(b.store, prefs.KeyMode, DefaultMode),
		Categories:            prefs.StringList(b.store, prefs.KeyCategories, []string{defaultCategoriesValue}),
		MaxPapers:             prefs.Int(b.store, prefs.KeyMaxPapers, DefaultMaxPapers),
		MinRelevance:          prefs.Int(b.store, prefs.KeyMinRelevance, DefaultMinRelevance),
		DeepAnalysis:          prefs.Bool(b.store, prefs.KeyDeepAnalysis, false),
		DeepAnalysisThreshold: prefs.Int(b.store, prefs.KeyDeepAnalysisThreshold, DefaultDeepThreshold),
		ConcurrencyMode:       prefs.String(b.store, prefs.KeyConcurrencyMode, DefaultConcurrency),
		MaxConcurrent:         prefs.Int(b.store, prefs.KeyMaxConcurrent, DefaultMaxConcurrent),
		ResponseLanguage:      prefs.String(b.store, prefs.KeyResponseLanguage, DefaultLanguage),
	}
	if daysBack == nil {
		form.AllTime = true
		form.DaysBack = DefaultDaysBack
	} else {
		form.DaysBack = *daysBack
	}
	return form
}

// Build validates the form and returns either options ready for submission
// or the full list of failures. Order: mode-specific required fields, then
// the ID pattern check with every offender collected, then the
// deep-analysis credential check, then structural range checks.
func (b *Builder) Build(form Form) (fetch.Options, []Failure) {
	var failures []Failure

	opts := fetch.Options{
		Provider:              fetch.Provider(form.Provider),
		Mode:                  fetch.Mode(form.Mode),
		MinRelevance:          form.MinRelevance,
		DeepAnalysis:          form.DeepAnalysis,
		DeepAnalysisThreshold: form.DeepAnalysisThreshold,
		ConcurrencyMode:       fetch.ConcurrencyMode(form.ConcurrencyMode),
		MaxConcurrent:         form.MaxConcurrent,
		ResponseLanguage:      fetch.Language(form.ResponseLanguage),
	}

	switch opts.Mode {
	case fetch.ModeByCategory:
		failures = append(failures, b.buildCategoryFields(form, &opts)...)
	case fetch.ModeByID:
		opts.IDs = trimmed(form.IDs)
		if err := fetch.CheckIDs(opts.IDs); err != nil {
			failures = append(failures, Failure{Field: "ids", Reason: err.Error()})
		}
	default:
		failures = append(failures, Failure{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", form.Mode)})
	}

	if opts.DeepAnalysis && b.creds != nil && !b.creds.HasCredential(opts.Provider) {
		failures = append(failures, Failure{
			Field:  "provider",
			Reason: fmt.Sprintf("deep analysis requires a %s credential: %v", opts.Provider, fetch.ErrNoCredential),
		})
	}

	if err := b.validate.Struct(opts); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				failures = append(failures, Failure{
					Field:  strings.ToLower(fe.Field()),
					Reason: fmt.Sprintf("failed %q constraint", fe.Tag()),
				})
			}
		} else {
			failures = append(failures, Failure{Field: "options", Reason: err.Error()})
		}
	}

	if len(failures) > 0 {
		return fetch.Options{}, failures
	}

	b.persist(form)
	return opts, nil
}

func (b *Builder) buildCategoryFields(form Form, opts *fetch.Options) []Failure {
	var failures []Failure

	opts.Categories = trimmed(form.Categories)
	if len(opts.Categories) == 0 {
		failures = append(failures, Failure{Field: "categories", Reason: "at least one category required"})
	}
	opts.MaxPapers = form.MaxPapers
	if opts.MaxPapers <= 0 {
		failures = append(failures, Failure{Field: "max_papers", Reason: "must be a positive integer"})
	}

	switch {
	case form.UseDateRange:
		from, fromErr := parseDate(form.DateFrom)
		to, toErr := parseDate(form.DateTo)
		if fromErr != nil || toErr != nil {
			failures = append(failures, Failure{Field: "date_range", Reason: "dates must be YYYY-MM-DD"})
			break
		}
		if to.Before(from) {
			failures = append(failures, Failure{Field: "date_range", Reason: "end date precedes start date"})
			break
		}
		opts.DateFrom = &from
		opts.DateTo = &to
	case form.AllTime:
		opts.DaysBack = nil
	default:
		if form.DaysBack < 0 {
			failures = append(failures, Failure{Field: "days_back", Reason: "must be zero or positive"})
			break
		}
		days := form.DaysBack
		opts.DaysBack = &days
	}
	return failures
}

// persist writes every field back to the store; nothing is written unless
// validation succeeded.
func (b *Builder) persist(form Form) {
	b.store.Set(prefs.KeyProvider, form.Provider)
	b.store.Set(prefs.KeyMode, form.Mode)
	b.store.Set(prefs.KeyCategories, prefs.FormatStringList(form.Categories))
	b.store.Set(prefs.KeyMaxPapers, prefs.FormatInt(form.MaxPapers))
	if form.AllTime {
		b.store.Set(prefs.KeyDaysBack, prefs.Null)
	} else {
		b.store.Set(prefs.KeyDaysBack, prefs.FormatInt(form.DaysBack))
	}
	b.store.Set(prefs.KeyMinRelevance, prefs.FormatInt(form.MinRelevance))
	b.store.Set(prefs.KeyDeepAnalysis, prefs.FormatBool(form.DeepAnalysis))
	b.store.Set(prefs.KeyDeepAnalysisThreshold, prefs.FormatInt(form.DeepAnalysisThreshold))
	b.store.Set(prefs.KeyConcurrencyMode, form.ConcurrencyMode)
	b.store.Set(prefs.KeyMaxConcurrent, prefs.FormatInt(form.MaxConcurrent))
	b.store.Set(prefs.KeyResponseLanguage, form.ResponseLanguage)

	if err := b.store.Save(); err != nil {
		// Preferences are a convenience; losing a write must not block the
		// session from starting.
		b.logger.Warn("persist preferences failed", zap.Error(err))
	}
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

func trimmed(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func intPtr(v int) *int {
	return &v
}
