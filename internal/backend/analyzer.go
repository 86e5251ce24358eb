package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/arxivist/fetchsession/internal/fetch"
)

// Backend error sentinels used for classification. Real transport errors
// wrap these; the taxonomy travels to the UI verbatim.
var (
	ErrNetwork      = errors.New("network failure")
	ErrLLMRateLimit = errors.New("llm rate limited")
	ErrLLMAuth      = errors.New("llm authentication failed")
)

// Classify maps a run error onto the error taxonomy. Kind and retryability
// are what observers display and what gates the retry action.
func Classify(err error) fetch.ErrorInfo {
	switch {
	case errors.Is(err, context.Canceled):
		return fetch.ErrorInfo{Kind: fetch.ErrKindCancelled, Message: "fetch cancelled by user", Retryable: false}
	case errors.Is(err, ErrLLMRateLimit):
		return fetch.ErrorInfo{Kind: fetch.ErrKindLLMRateLimit, Message: err.Error(), Retryable: true}
	case errors.Is(err, ErrLLMAuth):
		return fetch.ErrorInfo{Kind: fetch.ErrKindLLMAuth, Message: err.Error(), Retryable: false}
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return fetch.ErrorInfo{Kind: fetch.ErrKindNetwork, Message: err.Error(), Retryable: true}
	default:
		return fetch.ErrorInfo{Kind: fetch.ErrKindSystem, Message: err.Error(), Retryable: true}
	}
}

// KeywordAnalyzer scores papers by keyword overlap with the session's
// categories. It stands in for the LLM-backed analyzer behind the same
// interface; deep analysis requires a credential and refuses without one.
type KeywordAnalyzer struct {
	creds fetch.CredentialChecker
}

// NewKeywordAnalyzer constructs a KeywordAnalyzer.
func NewKeywordAnalyzer(creds fetch.CredentialChecker) *KeywordAnalyzer {
	return &KeywordAnalyzer{creds: creds}
}

// Score is the cheap prefilter pass: category overlap plus a length prior.
func (a *KeywordAnalyzer) Score(p Paper, opts fetch.Options) int {
	score := 40
	for _, cat := range p.Categories {
		for _, want := range opts.Categories {
			if strings.EqualFold(cat, want) {
				score += 20
			}
		}
	}
	// Abstracts below a paragraph rarely carry enough signal to score.
	if len(p.Summary) > 400 {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Analyze runs the full pass. The relevance estimate reuses Score; deep
// analysis adds a summary and demands a provider credential.
func (a *KeywordAnalyzer) Analyze(ctx context.Context, p Paper, opts fetch.Options) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	res := Analysis{Relevance: a.Score(p, opts)}
	if opts.DeepAnalysis && res.Relevance >= opts.DeepAnalysisThreshold {
		if a.creds == nil || !a.creds.HasCredential(opts.Provider) {
			return Analysis{}, fmt.Errorf("deep analysis of %s: %w", p.ID, ErrLLMAuth)
		}
		res.Deep = true
		res.Summary = truncate(p.Summary, 280)
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
