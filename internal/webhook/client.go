// Package webhook notifies callers of asynchronous renders once a run has
// finished. Deliveries are signed so receivers can check they came from us.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/kirkproxy/internal/domain"
)

const (
	HeaderSignature = "X-Kirkproxy-Signature"
	HeaderTimestamp = "X-Kirkproxy-Timestamp"
	HeaderEvent     = "X-Kirkproxy-Event"
	HeaderRunID     = "X-Kirkproxy-Run-Id"

	EventRenderCompleted = "render.completed"
	EventRenderFailed    = "render.failed"

	signaturePrefix = "sha256="
)

// RenderEvent is the body posted when an asynchronous render finishes.
type RenderEvent struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	Size        int       `json:"size"`
	FailureKind string    `json:"failure_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	OutputBytes int       `json:"output_bytes,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Event names the delivery after the run's terminal status.
func (e RenderEvent) Event() string {
	if e.Status == domain.RunStatusSucceeded {
		return EventRenderCompleted
	}
	return EventRenderFailed
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Notifier posts RenderEvents to caller supplied URLs.
type Notifier struct {
	httpClient *http.Client
	secret     []byte
	attempts   int
	backoff    backoff
	now        func() time.Time
}

func NewNotifier(cfg Config) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	first := cfg.InitialBackoff
	if first <= 0 {
		first = time.Second
	}

	return &Notifier{
		httpClient: &http.Client{Timeout: timeout},
		secret:     []byte(cfg.SigningSecret),
		attempts:   max(1, cfg.MaxAttempts),
		backoff:    backoff{first: first, ceiling: max(first, cfg.MaxBackoff)},
		now:        time.Now,
	}
}

// backoff doubles the wait after every failed attempt, up to ceiling.
type backoff struct {
	first   time.Duration
	ceiling time.Duration
}

func (b backoff) after(attempt int) time.Duration {
	wait := b.first
	for i := 1; i < attempt && wait < b.ceiling; i++ {
		wait *= 2
	}
	return min(wait, b.ceiling)
}

// StatusError is a delivery the receiver answered with a non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook receiver answered %d", e.StatusCode)
}

// retryable reports whether another attempt could succeed. Client errors
// other than timeouts and throttling will not change on retry.
func (e *StatusError) retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// Notify delivers ev to endpoint. Transport errors and retryable statuses are
// retried with exponential backoff. An empty endpoint is a no-op.
func (n *Notifier) Notify(ctx context.Context, endpoint string, ev RenderEvent) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Event(), err)
	}
	timestamp := strconv.FormatInt(n.now().UTC().Unix(), 10)

	var lastErr error
	for attempt := 1; attempt <= n.attempts; attempt++ {
		lastErr = n.deliver(ctx, endpoint, timestamp, ev, body)
		if lastErr == nil {
			return nil
		}
		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.retryable() {
			break
		}
		if attempt == n.attempts {
			break
		}

		timer := time.NewTimer(n.backoff.after(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("deliver %s for run %s: %w", ev.Event(), ev.RunID, lastErr)
}

func (n *Notifier) deliver(ctx context.Context, endpoint, timestamp string, ev RenderEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, ev.Event())
	req.Header.Set(HeaderRunID, ev.RunID)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, sign(n.secret, timestamp, body))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Sign computes the signature header value over "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	return sign([]byte(secret), timestamp, body)
}

func sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the body and timestamp.
func Verify(secret, timestamp, signature string, body []byte) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
