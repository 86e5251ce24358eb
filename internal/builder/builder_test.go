package builder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/prefs"
)

type stubCreds struct {
	have map[fetch.Provider]bool
}

func (c stubCreds) HasCredential(p fetch.Provider) bool {
	return c.have[p]
}

func validForm() Form {
	return Form{
		Provider:              string(fetch.ProviderOpenAI),
		Mode:                  string(fetch.ModeByCategory),
		Categories:            []string{"cs.AI", "cs.LG"},
		MaxPapers:             10,
		DaysBack:              7,
		MinRelevance:          50,
		DeepAnalysisThreshold: 70,
		ConcurrencyMode:       string(fetch.Sequential),
		MaxConcurrent:         3,
		ResponseLanguage:      string(fetch.LangEnglish),
	}
}

func TestBuildValidByCategory(t *testing.T) {
	t.Parallel()

	store := prefs.NewMemoryStore()
	b := New(store, stubCreds{}, nil)

	opts, failures := b.Build(validForm())
	require.Empty(t, failures)
	require.Equal(t, fetch.ModeByCategory, opts.Mode)
	require.Equal(t, []string{"cs.AI", "cs.LG"}, opts.Categories)
	require.NotNil(t, opts.DaysBack)
	require.Equal(t, 7, *opts.DaysBack)
	require.Nil(t, opts.DateFrom)
}

func TestBuildPersistsOnSuccess(t *testing.T) {
	t.Parallel()

	store := prefs.NewMemoryStore()
	b := New(store, stubCreds{}, nil)

	form := validForm()
	form.MaxPapers = 42
	_, failures := b.Build(form)
	require.Empty(t, failures)

	raw, ok := store.Get(prefs.KeyMaxPapers)
	require.True(t, ok)
	require.Equal(t, "42", raw)

	// The reloaded default form reflects the persisted choices.
	require.Equal(t, 42, b.DefaultForm().MaxPapers)
}

// No field may be written back when validation fails.
func TestBuildSkipsPersistOnFailure(t *testing.T) {
	t.Parallel()

	store := prefs.NewMemoryStore()
	b := New(store, stubCreds{}, nil)

	form := validForm()
	form.Categories = nil
	_, failures := b.Build(form)
	require.NotEmpty(t, failures)

	_, ok := store.Get(prefs.KeyMaxPapers)
	require.False(t, ok)
}

// All malformed IDs are reported together in one failure, not one each.
func TestBuildByIDCollectsAllBadIDs(t *testing.T) {
	t.Parallel()

	b := New(prefs.NewMemoryStore(), stubCreds{}, nil)

	form := validForm()
	form.Mode = string(fetch.ModeByID)
	form.IDs = []string{"241.12345", "2401.123456789", "abc.12345"}

	_, failures := b.Build(form)
	require.Len(t, failures, 1)
	require.Equal(t, "ids", failures[0].Field)
	for _, bad := range form.IDs {
		require.Contains(t, failures[0].Reason, bad)
	}
}

func TestBuildByIDValid(t *testing.T) {
	t.Parallel()

	b := New(prefs.NewMemoryStore(), stubCreds{}, nil)

	form := validForm()
	form.Mode = string(fetch.ModeByID)
	form.IDs = []string{"2401.12345", " 2401.1234 ", "2401.12345v2"}

	opts, failures := b.Build(form)
	require.Empty(t, failures)
	require.Equal(t, []string{"2401.12345", "2401.1234", "2401.12345v2"}, opts.IDs)
}

func TestBuildDeepAnalysisNeedsCredential(t *testing.T) {
	t.Parallel()

	b := New(prefs.NewMemoryStore(), stubCreds{have: map[fetch.Provider]bool{fetch.ProviderAnthropic: true}}, nil)

	form := validForm()
	form.DeepAnalysis = true
	_, failures := b.Build(form)
	require.Len(t, failures, 1)
	require.Equal(t, "provider", failures[0].Field)

	form.Provider = string(fetch.ProviderAnthropic)
	_, failures = b.Build(form)
	require.Empty(t, failures)
}

func TestBuildDateRange(t *testing.T) {
	t.Parallel()

	b := New(prefs.NewMemoryStore(), stubCreds{}, nil)

	form := validForm()
	form.UseDateRange = true
	form.DateFrom = "2025-01-01"
	form.DateTo = "2025-02-01"

	opts, failures := b.Build(form)
	require.Empty(t, failures)
	require.NotNil(t, opts.DateFrom)
	require.NotNil(t, opts.DateTo)
	require.Nil(t, opts.DaysBack)

	form.DateTo = "2024-12-01"
	_, failures = b.Build(form)
	require.Len(t, failures, 1)
	require.Contains(t, failures[0].Reason, "precedes")
}

func TestBuildAllTime(t *testing.T) {
	t.Parallel()

	store := prefs.NewMemoryStore()
	b := New(store, stubCreds{}, nil)

	form := validForm()
	form.AllTime = true
	opts, failures := b.Build(form)
	require.Empty(t, failures)
	require.Nil(t, opts.DaysBack)

	raw, ok := store.Get(prefs.KeyDaysBack)
	require.True(t, ok)
	require.Equal(t, prefs.Null, raw)
	require.True(t, b.DefaultForm().AllTime)
}

func TestBuildRangeFailures(t *testing.T) {
	t.Parallel()

	b := New(prefs.NewMemoryStore(), stubCreds{}, nil)

	form := validForm()
	form.MinRelevance = 150
	_, failures := b.Build(form)
	require.NotEmpty(t, failures)

	found := false
	for _, f := range failures {
		if strings.Contains(f.Field, "minrelevance") {
			found = true
		}
	}
	require.True(t, found, "expected a minrelevance range failure, got %v", failures)
}

func TestDefaultFormFallsBackOnGarbage(t *testing.T) {
	t.Parallel()

	store := prefs.NewMemoryStore()
	store.Set(prefs.KeyMaxPapers, "many")
	store.Set(prefs.KeyDeepAnalysis, "affirmative")
	b := New(store, stubCreds{}, nil)

	form := b.DefaultForm()
	require.Equal(t, DefaultMaxPapers, form.MaxPapers)
	require.False(t, form.DeepAnalysis)
}
