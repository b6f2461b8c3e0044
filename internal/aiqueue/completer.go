package aiqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/collabforge/colabhub/pkg/logger"
)

// HTTPCompleter implements AICompleter against an HTTP-exposed completion
// endpoint (the upstream large-language-model provider, treated as opaque
// per spec.md §1). It wraps every call in an exponential backoff retry
// (spec.md §4.6 "retry backoff for the completer itself") and a circuit
// breaker so a provider outage fails fast instead of piling up blocked
// workers.
type HTTPCompleter struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker

	initialBackoff time.Duration
	maxRetries     int
}

// NewHTTPCompleter constructs a completer. initialBackoff is the
// completer's own retry starting delay (spec.md's `completerRetryDelayMs`,
// default 1s); this is distinct from the outer queue's `retryDelayMs`.
func NewHTTPCompleter(endpoint, apiKey string, initialBackoff time.Duration, maxRetries int) *HTTPCompleter {
	st := gobreaker.Settings{
		Name:        "ai-completer",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("aiqueue: completer circuit %s: %s -> %s", name, from, to)
		},
	}

	return &HTTPCompleter{
		endpoint:       endpoint,
		apiKey:         apiKey,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		breaker:        gobreaker.NewCircuitBreaker(st),
		initialBackoff: initialBackoff,
		maxRetries:     maxRetries,
	}
}

type completionRequest struct {
	SelectedText string `json:"selectedText"`
	Prompt       string `json:"prompt"`
}

type completionResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Complete implements AICompleter. Internal retries are transparent to the
// caller; only the final outcome (and how many attempts it took) is
// reported back, matching spec.md's `{success, result?, error?, retryCount}`
// contract.
func (c *HTTPCompleter) Complete(ctx context.Context, req AIRequest) (CompleterResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bounded := backoff.WithMaxRetries(bo, uint64(c.maxRetries))
	withCtx := backoff.WithContext(bounded, ctx)

	attempt := 0
	var result string
	operation := func() error {
		attempt++
		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.call(ctx, req)
		})
		if err != nil {
			return err
		}
		result = out.(string)
		return nil
	}

	err := backoff.Retry(operation, withCtx)
	if err != nil {
		return CompleterResult{Success: false, Error: err.Error(), RetryCount: attempt - 1}, nil
	}
	return CompleterResult{Success: true, Result: result, RetryCount: attempt - 1}, nil
}

func (c *HTTPCompleter) call(ctx context.Context, req AIRequest) (string, error) {
	body, err := json.Marshal(completionRequest{SelectedText: req.SelectedText, Prompt: req.Prompt})
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("aiqueue: marshal completer request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("aiqueue: build completer request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("aiqueue: completer request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("aiqueue: read completer response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return "", backoff.Permanent(fmt.Errorf("aiqueue: invalid API key"))
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("aiqueue: completer transient error, status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", backoff.Permanent(fmt.Errorf("aiqueue: completer error, status %d", resp.StatusCode))
	}

	var out completionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("aiqueue: decode completer response: %w", err))
	}
	if out.Error != "" {
		return "", backoff.Permanent(fmt.Errorf("aiqueue: %s", out.Error))
	}
	if out.Result == "" {
		return "", backoff.Permanent(fmt.Errorf("no content"))
	}

	return out.Result, nil
}
