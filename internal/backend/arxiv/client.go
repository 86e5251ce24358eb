// Package arxiv discovers papers through the arXiv Atom query API. It is
// the production Source implementation behind the fetch worker.
package arxiv

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/arxivist/fetchsession/internal/backend"
)

// DefaultBaseURL is the public arXiv query endpoint.
const DefaultBaseURL = "https://export.arxiv.org/api/query"

// Config controls client behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// CacheTTL bounds how long a query response is reused. Zero disables
	// caching.
	CacheTTL time.Duration
}

// Client queries the arXiv API and implements backend.Source. Responses are
// cached per query URL; a cache hit skips the network entirely and is
// reported through SourceResult.CacheHits.
type Client struct {
	cfg       Config
	collector *colly.Collector
	cache     *gocache.Cache
	logger    *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []colly.CollectorOption{}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.AllowURLRevisit = true
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(&http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	var cache *gocache.Cache
	if cfg.CacheTTL > 0 {
		cache = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return &Client{
		cfg:       cfg,
		collector: c,
		cache:     cache,
		logger:    logger,
	}
}

// ByCategory discovers the most recently submitted papers in the given
// categories inside the [from, to] window. Zero times leave that side of
// the window open.
func (c *Client) ByCategory(ctx context.Context, categories []string, from, to time.Time, max int) (backend.SourceResult, error) {
	if len(categories) == 0 {
		return backend.SourceResult{}, errors.New("at least one category required")
	}
	terms := make([]string, 0, len(categories))
	for _, cat := range categories {
		terms = append(terms, "cat:"+cat)
	}
	query := strings.Join(terms, " OR ")
	if !from.IsZero() || !to.IsZero() {
		query = fmt.Sprintf("(%s) AND submittedDate:[%s TO %s]",
			query, windowBound(from, "000001010000"), windowBound(to, "999912312359"))
	}

	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", "0")
	params.Set("max_results", fmt.Sprint(max))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")
	return c.query(ctx, params)
}

// ByID resolves an explicit list of paper identifiers.
func (c *Client) ByID(ctx context.Context, ids []string) (backend.SourceResult, error) {
	if len(ids) == 0 {
		return backend.SourceResult{}, errors.New("at least one paper id required")
	}
	params := url.Values{}
	params.Set("id_list", strings.Join(ids, ","))
	params.Set("max_results", fmt.Sprint(len(ids)))
	return c.query(ctx, params)
}

func windowBound(t time.Time, open string) string {
	if t.IsZero() {
		return open
	}
	return t.UTC().Format("200601021504")
}

func (c *Client) query(ctx context.Context, params url.Values) (backend.SourceResult, error) {
	queryURL := c.cfg.BaseURL + "?" + params.Encode()

	if c.cache != nil {
		if cached, ok := c.cache.Get(queryURL); ok {
			papers := cached.([]backend.Paper)
			return backend.SourceResult{
				Papers:    append([]backend.Paper(nil), papers...),
				CacheHits: 1,
			}, nil
		}
	}

	body, err := c.fetch(ctx, queryURL)
	if err != nil {
		return backend.SourceResult{}, fmt.Errorf("query arxiv: %w", err)
	}
	papers, err := parseFeed(body)
	if err != nil {
		return backend.SourceResult{}, fmt.Errorf("parse arxiv feed: %w", err)
	}
	if c.cache != nil {
		c.cache.Set(queryURL, papers, gocache.DefaultExpiration)
	}
	return backend.SourceResult{Papers: papers}, nil
}

// fetch retrieves one URL through a cloned collector. Transport failures
// and non-2xx responses surface as network errors so the run classifies
// them as retryable.
func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	collector := c.collector.Clone()

	type result struct {
		body []byte
		err  error
	}
	resultCh := make(chan result, 1)
	var once sync.Once
	send := func(res result) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			send(result{err: fmt.Errorf("%w: arxiv returned status %d", backend.ErrNetwork, r.StatusCode)})
			return
		}
		send(result{body: append([]byte{}, r.Body...)})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown transport error")
		}
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		c.logger.Warn("arxiv request failed",
			zap.String("url", rawURL),
			zap.Int("status", status),
			zap.Error(err),
		)
		send(result{err: fmt.Errorf("%w: %s", backend.ErrNetwork, err)})
	})

	if err := collector.Visit(rawURL); err != nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrNetwork, err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case res := <-resultCh:
		return res.body, res.err
	default:
		return nil, errors.New("arxiv fetch produced no result")
	}
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Published  string         `xml:"published"`
	Categories []atomCategory `xml:"category"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

func parseFeed(body []byte) ([]backend.Paper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, err
	}
	papers := make([]backend.Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		p := backend.Paper{
			ID:      entryID(e.ID),
			Title:   strings.TrimSpace(e.Title),
			Summary: strings.TrimSpace(e.Summary),
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			p.Published = t
		}
		for _, cat := range e.Categories {
			if cat.Term != "" {
				p.Categories = append(p.Categories, cat.Term)
			}
		}
		papers = append(papers, p)
	}
	return papers, nil
}

// entryID reduces an Atom entry id like http://arxiv.org/abs/2401.12345v2
// to the bare identifier 2401.12345.
func entryID(raw string) string {
	id := raw
	if i := strings.LastIndex(id, "/abs/"); i >= 0 {
		id = id[i+len("/abs/"):]
	}
	if i := strings.LastIndex(id, "v"); i > 0 && allDigits(id[i+1:]) {
		id = id[:i]
	}
	return id
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
