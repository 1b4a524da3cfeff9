// Package engine is the request layer in front of the external AI analysis
// engine. It issues the request/response operations, consults the result
// cache before touching the network, and collapses concurrently in-flight
// identical requests onto one call.
package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/reviewdeck/internal/cache"
	"github.com/reviewdeck/internal/retry"
	"github.com/reviewdeck/pkg/models"
)

const (
	// DefaultAnalysisTTL covers analyze and suggestion results.
	DefaultAnalysisTTL = 5 * time.Minute
	// DefaultStatsTTL covers aggregated statistics.
	DefaultStatsTTL = 1 * time.Minute
)

// Client talks to the AI engine. Failed calls are never cached; successful
// ones populate the result cache under a key derived from the request inputs.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config

	cache       *cache.ResultCache
	analysisTTL time.Duration
	statsTTL    time.Duration

	flight singleflight.Group
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration      // default 30s
	Cache       *cache.ResultCache // nil disables caching
	AnalysisTTL time.Duration      // default 5m
	StatsTTL    time.Duration      // default 1m
	Retry       *retry.Config      // default retry.RequestConfig
	Limiter     *rate.Limiter      // default 5 req/s
}

// NewClient creates an engine client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	analysisTTL := opts.AnalysisTTL
	if analysisTTL == 0 {
		analysisTTL = DefaultAnalysisTTL
	}
	statsTTL := opts.StatsTTL
	if statsTTL == 0 {
		statsTTL = DefaultStatsTTL
	}
	retryCfg := retry.RequestConfig()
	if opts.Retry != nil {
		retryCfg = *opts.Retry
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(200*time.Millisecond), 5) // 5 requests per second
	}

	return &Client{
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		token:       opts.Token,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     limiter,
		retryCfg:    retryCfg,
		cache:       opts.Cache,
		analysisTTL: analysisTTL,
		statsTTL:    statsTTL,
	}
}

// envelope is the engine's uniform response shape.
type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// do performs one JSON request against the engine and decodes the envelope
// data into out. Retries transport-level failures within the retry budget.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("engine: marshal request: %w", err)
		}
		payload = b
	}

	attempt := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("engine: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("engine: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("engine: read response: %w", err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("engine: %s %s returned %d", method, path, resp.StatusCode)
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("engine: parse response: %w", err)
		}
		if !env.Success {
			errMsg := env.Error
			if errMsg == "" {
				errMsg = fmt.Sprintf("engine returned status %d", resp.StatusCode)
			}
			return &APIError{Operation: method + " " + path, Message: errMsg}
		}
		if out != nil && env.Data != nil {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return fmt.Errorf("engine: decode response data: %w", err)
			}
		}
		return nil
	}

	// Only transport-level failures are retried; application errors from the
	// engine are terminal and short-circuit the budget.
	var terminalErr error
	result := retry.Do(ctx, c.retryCfg, func() error {
		err := attempt()
		if err == nil {
			return nil
		}
		if retry.IsRetryableError(err) {
			return err
		}
		terminalErr = err
		return nil
	})
	if terminalErr != nil {
		return terminalErr
	}
	if result.Success {
		return nil
	}
	return result.LastError
}

// APIError is a terminal application-level failure from the engine.
type APIError struct {
	Operation string
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine: %s: %s", e.Operation, e.Message)
}

// contentHash fingerprints file content for cache keys so identical requests
// hit the same entry without storing the content itself.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// cached runs fn under the cache and the single-flight group. Concurrent
// identical requests share one network call; successes populate the cache.
func (c *Client) cached(key string, ttl time.Duration, fn func() (any, error)) (any, error) {
	if c.cache == nil {
		return fn()
	}

	if val, ok := c.cache.Get(key); ok {
		return val, nil
	}

	val, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check: another flight may have populated the cache while this
		// caller waited on the group lock.
		if val, ok := c.cache.Get(key); ok {
			return val, nil
		}
		val, err := fn()
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, val, ttl)
		return val, nil
	})
	return val, err
}

// Analyze submits one file for analysis and returns the engine's findings.
func (c *Client) Analyze(ctx context.Context, code, path string, opts models.AnalyzeOptions) (models.AnalyzeResult, error) {
	key := cache.Key("analyze", path, contentHash(code), opts)

	val, err := c.cached(key, c.analysisTTL, func() (any, error) {
		var out models.AnalyzeResult
		body := map[string]any{
			"code":    code,
			"path":    path,
			"options": opts,
		}
		if err := c.do(ctx, http.MethodPost, "/api/v1/analyze", body, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return models.AnalyzeResult{}, err
	}
	return val.(models.AnalyzeResult), nil
}

// BatchItem is the per-file outcome of a batch analysis.
type BatchItem struct {
	Path   string                `json:"path"`
	Result *models.AnalyzeResult `json:"result,omitempty"`
	Err    string                `json:"error,omitempty"`
}

// BatchAnalyze fans out one Analyze per file and collects every outcome.
// One file's failure never aborts the others.
func (c *Client) BatchAnalyze(ctx context.Context, files []models.FileInput, opts models.AnalyzeOptions) []BatchItem {
	items := make([]BatchItem, len(files))

	var wg sync.WaitGroup
	for i, file := range files {
		wg.Add(1)
		go func(i int, file models.FileInput) {
			defer wg.Done()
			result, err := c.Analyze(ctx, file.Content, file.Path, opts)
			items[i].Path = file.Path
			if err != nil {
				items[i].Err = err.Error()
				log.Warn().Str("path", file.Path).Err(err).Msg("Batch analyze entry failed")
				return
			}
			items[i].Result = &result
		}(i, file)
	}
	wg.Wait()

	return items
}

// GetSuggestions lists suggestions for a path, filtered.
func (c *Client) GetSuggestions(ctx context.Context, path string, filters models.SuggestionFilters) ([]models.Suggestion, error) {
	key := cache.Key("get_suggestions", path, filters)

	val, err := c.cached(key, c.analysisTTL, func() (any, error) {
		var out []models.Suggestion
		body := map[string]any{
			"path":    path,
			"filters": filters,
		}
		if err := c.do(ctx, http.MethodPost, "/api/v1/suggestions/query", body, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]models.Suggestion), nil
}

// SubmitFeedback reports a user verdict on one suggestion. Never cached.
func (c *Client) SubmitFeedback(ctx context.Context, suggestionID, feedback, comment string) error {
	body := map[string]string{
		"suggestion_id": suggestionID,
		"feedback":      feedback,
		"comment":       comment,
	}
	return c.do(ctx, http.MethodPost, "/api/v1/feedback", body, nil)
}

// GetHistory pages through past analyses. History moves with every analysis,
// so it is always fetched fresh.
func (c *Client) GetHistory(ctx context.Context, opts models.HistoryOptions) ([]models.HistoryEntry, error) {
	var out []models.HistoryEntry
	if err := c.do(ctx, http.MethodPost, "/api/v1/history/query", opts, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStats returns aggregated statistics for a period.
func (c *Client) GetStats(ctx context.Context, period string) (models.StatsReport, error) {
	key := cache.Key("get_stats", period)

	val, err := c.cached(key, c.statsTTL, func() (any, error) {
		var out models.StatsReport
		if err := c.do(ctx, http.MethodGet, "/api/v1/stats?period="+period, nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return models.StatsReport{}, err
	}
	return val.(models.StatsReport), nil
}

// ClearCache drops every cached result.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Clear()
	}
}
