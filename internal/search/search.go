// Package search implements the quota-gated web search and page-browse
// component: one outbound search call per invocation, gated by a persisted
// monthly/daily budget, followed by parallel fetch-and-extract of the top
// results through the readability pipeline in fetch.go.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Result is one shaped search result, optionally enriched with extracted
// page content.
type Result struct {
	Title          string   `json:"title"`
	URL            string   `json:"url"`
	Description    string   `json:"description,omitempty"`
	ExtraSnippets  []string `json:"extra_snippets,omitempty"`
	PageAge        string   `json:"page_age,omitempty"`
	Age            string   `json:"age,omitempty"`
	Content        string   `json:"content,omitempty"`
}

// Response is the shaped output of SearchAndBrowse.
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// rateLimitConfig bounds the outbound search call rate independently of the
// persisted quota: the quota protects the monthly budget, the limiter
// protects the API from bursts.
type rateLimitConfig struct {
	requestsPerSecond float64
	burstSize         int
	maxRetries        int
	baseDelay         time.Duration
	maxDelay          time.Duration
	jitterPercent     float64
}

func defaultRateLimitConfig() rateLimitConfig {
	return rateLimitConfig{
		requestsPerSecond: 1,
		burstSize:         2,
		maxRetries:        1,
		baseDelay:         500 * time.Millisecond,
		maxDelay:          8 * time.Second,
		jitterPercent:     0.3,
	}
}

type tokenBucket struct {
	capacity   int
	tokens     int
	refillAt   time.Time
	refillRate time.Duration
	mu         sync.Mutex
}

func newTokenBucket(capacity int, refillRate time.Duration) *tokenBucket {
	return &tokenBucket{capacity: capacity, tokens: capacity, refillAt: time.Now(), refillRate: refillRate}
}

func (tb *tokenBucket) takeToken() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	if now.After(tb.refillAt) {
		elapsed := now.Sub(tb.refillAt)
		add := int(elapsed / tb.refillRate)
		if add > 0 {
			if tb.tokens+add > tb.capacity {
				tb.tokens = tb.capacity
			} else {
				tb.tokens += add
			}
			tb.refillAt = tb.refillAt.Add(time.Duration(add) * tb.refillRate)
		}
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *tokenBucket) wait(ctx context.Context) error {
	for {
		if tb.takeToken() {
			return nil
		}
		tb.mu.Lock()
		wait := time.Until(tb.refillAt)
		tb.mu.Unlock()
		if wait <= 0 {
			wait = tb.refillRate
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Client performs quota-gated search-and-browse calls.
type Client struct {
	http    *http.Client
	baseURL string
	token   string

	quota   *QuotaGate
	limiter *tokenBucket
	rlCfg   rateLimitConfig

	fetcher         *PageFetcher
	defaultK        int
	defaultMaxChars int
}

// NewClient wires the HTTP search client, quota gate, and page fetcher
// together from config values.
func NewClient(baseURL, apiToken string, quota *QuotaGate, defaultK, defaultMaxChars int) *Client {
	rl := defaultRateLimitConfig()
	if defaultK <= 0 {
		defaultK = 3
	}
	if defaultMaxChars <= 0 {
		defaultMaxChars = 25000
	}
	return &Client{
		http:            &http.Client{Timeout: 12 * time.Second},
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		token:           apiToken,
		quota:           quota,
		limiter:         newTokenBucket(rl.burstSize, time.Duration(float64(time.Second)/rl.requestsPerSecond)),
		rlCfg:           rl,
		fetcher:         NewPageFetcher(10 * time.Second),
		defaultK:        defaultK,
		defaultMaxChars: defaultMaxChars,
	}
}

// SearchAndBrowse runs the full quota-check -> search -> reorder ->
// parallel-fetch pipeline. It never returns a Go error for expected failure
// modes (quota exhaustion, HTTP failure, fetch failure); those surface as
// the string in the second return value, per the never-raise contract.
func (c *Client) SearchAndBrowse(ctx context.Context, query string, k, maxChars int) (*Response, string) {
	if k <= 0 {
		k = c.defaultK
	}
	if maxChars <= 0 {
		maxChars = c.defaultMaxChars
	}

	now := time.Now()
	if err := c.quota.CheckAndReserve(now); err != nil {
		return nil, err.Error()
	}

	raw, err := c.searchWithRetry(ctx, query)
	if err != nil {
		return nil, fmt.Sprintf("search request failed: %v", err)
	}

	if err := c.quota.Commit(now); err != nil {
		return nil, fmt.Sprintf("quota commit failed: %v", err)
	}

	results := reorderWikipediaFirst(raw)

	top := results
	if len(top) > k {
		top = top[:k]
	}
	c.attachContent(ctx, top, maxChars)

	return &Response{Query: query, Results: results}, ""
}

func (c *Client) searchWithRetry(ctx context.Context, query string) ([]Result, error) {
	var lastErr error
	for attempt := 0; attempt < c.rlCfg.maxRetries; attempt++ {
		if err := c.limiter.wait(ctx); err != nil {
			return nil, err
		}
		results, err := c.doSearch(ctx, query)
		if err == nil {
			return results, nil
		}
		lastErr = err

		delay := c.rlCfg.baseDelay * (1 << attempt)
		if delay > c.rlCfg.maxDelay {
			delay = c.rlCfg.maxDelay
		}
		jitter := time.Duration(float64(delay) * c.rlCfg.jitterPercent * (0.5 + jitterSeed()))
		delay += jitter

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("search failed after %d retries: %w", c.rlCfg.maxRetries, lastErr)
}

func jitterSeed() float64 {
	return float64(time.Now().UnixNano()%1000) / 1000.0
}

// doSearch issues exactly one HTTP GET; a non-200 response is an error and
// must not consume quota (handled by the caller).
func (c *Client) doSearch(ctx context.Context, query string) ([]Result, error) {
	v := url.Values{}
	v.Set("q", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/res/v1/web/search?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search api http %d", resp.StatusCode)
	}

	var body struct {
		Web struct {
			Results []struct {
				Title         string   `json:"title"`
				URL           string   `json:"url"`
				Description   string   `json:"description"`
				ExtraSnippets []string `json:"extra_snippets"`
				PageAge       string   `json:"page_age"`
				Age           string   `json:"age"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		out = append(out, Result{
			Title:         r.Title,
			URL:           r.URL,
			Description:   r.Description,
			ExtraSnippets: r.ExtraSnippets,
			PageAge:       r.PageAge,
			Age:           r.Age,
		})
	}
	return out, nil
}

// reorderWikipediaFirst stable-sorts results so wikipedia.org hosts lead,
// preserving relative order within each group.
func reorderWikipediaFirst(results []Result) []Result {
	out := make([]Result, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		return isWikipedia(out[i].URL) && !isWikipedia(out[j].URL)
	})
	return out
}

func isWikipedia(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Hostname()), "wikipedia.org")
}

// attachContent fetches and extracts each of results in parallel, attaching
// Content unless extraction failed (content is simply omitted on error).
func (c *Client) attachContent(ctx context.Context, results []Result, maxChars int) {
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			page, err := c.fetcher.Fetch(fetchCtx, results[i].URL)
			if err != nil {
				return
			}
			content := page.Content
			if len(content) > maxChars {
				content = content[:maxChars]
			}
			results[i].Content = content
		}(i)
	}
	wg.Wait()
}
