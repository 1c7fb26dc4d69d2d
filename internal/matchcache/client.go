package matchcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/tmsearch/internal/tmsearch"
)

const maxAttempts = 4

var _ tmsearch.MatchCache = (*Client)(nil)

// Client talks to the match cache REST service.
type Client struct {
	baseURL string
	http    *http.Client
	sleep   func(context.Context, time.Duration) error
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		sleep: sleepCtx,
	}
}

// statusError is a non-2xx reply from the service.
type statusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s failed status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Message)
}

// DoJSON sends one request with the bearer token and returns the body.
func (c *Client) DoJSON(ctx context.Context, method, path, token string, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	blob, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return blob, resp.StatusCode, &statusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(blob),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return blob, resp.StatusCode, nil
}

func (c *Client) doWithRetry(ctx context.Context, method, path, token string, payload []byte) ([]byte, int, error) {
	var lastErr error
	statusCode := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		blob, code, err := c.DoJSON(ctx, method, path, token, payload)
		statusCode = code
		if err == nil {
			return blob, code, nil
		}
		lastErr = err

		var se *statusError
		isStatus := errors.As(err, &se)
		if code == http.StatusUnauthorized || (isStatus && strings.Contains(strings.ToLower(se.Message), "unauthorized")) {
			return blob, code, tmsearch.NewUnauthorizedError("Unauthorized. Token might be invalid or expired.", err)
		}
		if ctx.Err() != nil {
			return blob, code, tmsearch.NewTimeoutError("match cache request", ctx.Err())
		}
		retryable := code == http.StatusTooManyRequests || code >= 500 || !isStatus
		if !retryable {
			return blob, code, err
		}
		if attempt == maxAttempts {
			break
		}
		wait := backoffDelay(attempt)
		if isStatus && se.RetryAfter > 0 {
			wait = se.RetryAfter
		}
		log.Printf("match-cache retry method=%s path=%s attempt=%d status=%d wait=%s", method, path, attempt, code, wait)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, code, tmsearch.NewTimeoutError("match cache request", err)
		}
	}
	return nil, statusCode, tmsearch.NewUnavailableError("match cache unavailable", lastErr)
}

// GetMatch returns every cached record for term keyed by source. An
// unknown term yields an empty map.
func (c *Client) GetMatch(ctx context.Context, token, term string) (map[string]tmsearch.RawRecord, error) {
	term = normalizeTerm(term)
	if term == "" {
		return nil, tmsearch.NewValidationError("term is required")
	}
	blob, code, err := c.doWithRetry(ctx, http.MethodGet, "/match/"+url.PathEscape(term), token, nil)
	if code == http.StatusNotFound {
		return map[string]tmsearch.RawRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]tmsearch.RawRecord{}
	if len(bytes.TrimSpace(blob)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, fmt.Errorf("decode match for %q: %w", term, err)
	}
	return out, nil
}

// GetMatchBySource returns the cached record for term and source. The
// bool is false when nothing is stored.
func (c *Client) GetMatchBySource(ctx context.Context, token, term string, source tmsearch.Source) (tmsearch.RawRecord, bool, error) {
	term = normalizeTerm(term)
	if term == "" || source == "" {
		return tmsearch.RawRecord{}, false, tmsearch.NewValidationError("term and source are required")
	}
	path := "/match/" + url.PathEscape(term) + "/" + url.PathEscape(string(source))
	blob, code, err := c.doWithRetry(ctx, http.MethodGet, path, token, nil)
	if code == http.StatusNotFound {
		return tmsearch.RawRecord{}, false, nil
	}
	if err != nil {
		return tmsearch.RawRecord{}, false, err
	}
	var rec tmsearch.RawRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return tmsearch.RawRecord{}, false, fmt.Errorf("decode match for %q/%s: %w", term, source, err)
	}
	return rec, true, nil
}

// StoreMatch writes rec and returns the stored item. The record keeps its
// term as entered; a record carrying only searchterm is stored under it.
func (c *Client) StoreMatch(ctx context.Context, token string, rec tmsearch.RawRecord) (tmsearch.RawRecord, error) {
	term := rec.TermValue()
	if term == "" || rec.Source == "" {
		return tmsearch.RawRecord{}, tmsearch.NewValidationError("term and source are required")
	}
	rec.Term = term
	payload, err := json.Marshal(rec)
	if err != nil {
		return tmsearch.RawRecord{}, err
	}
	blob, _, err := c.doWithRetry(ctx, http.MethodPost, "/match", token, payload)
	if err != nil {
		return tmsearch.RawRecord{}, err
	}
	var stored tmsearch.RawRecord
	if err := json.Unmarshal(blob, &stored); err != nil {
		return tmsearch.RawRecord{}, fmt.Errorf("decode stored match: %w", err)
	}
	return stored, nil
}

// Status reports reachability. Transport and auth failures come back as a
// disconnected status rather than an error.
func (c *Client) Status(ctx context.Context, token string) (tmsearch.CacheStatus, error) {
	if c.baseURL == "" {
		return tmsearch.CacheStatus{Message: "Match cache URL not configured."}, nil
	}
	blob, _, err := c.doWithRetry(ctx, http.MethodGet, "/status", token, nil)
	if err != nil {
		return tmsearch.CacheStatus{Message: "Backend API connection error: " + err.Error()}, nil
	}
	var st tmsearch.CacheStatus
	if err := json.Unmarshal(blob, &st); err != nil {
		return tmsearch.CacheStatus{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

func normalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

func errorMessage(blob []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(blob, &payload) == nil {
		if payload.Error.Message != "" {
			return payload.Error.Message
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(blob))
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func backoffDelay(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 1 * time.Second
	case 2:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
