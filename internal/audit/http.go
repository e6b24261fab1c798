package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/withObsrvr/carpool-ledger/internal/metrics"
)

// HTTPEmitter sends audit events to an HTTP endpoint.
type HTTPEmitter struct {
	endpoint     string
	client       *http.Client
	chainTracker *ChainTracker
	backup       *FileBackup
	retries      int
	delay        time.Duration
}

// NewHTTPEmitter creates a new HTTP emitter.
func NewHTTPEmitter(cfg Config) (*HTTPEmitter, error) {
	chainTracker, err := NewChainTracker(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &HTTPEmitter{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		chainTracker: chainTracker,
		backup:       backup,
		retries:      3,
		delay:        time.Second,
	}, nil
}

// Emit chains evt, keeps a local copy and posts it. The chain head only
// advances once the endpoint accepted the event.
func (e *HTTPEmitter) Emit(ctx context.Context, evt *Event) error {
	evt.Timestamp = time.Now().UTC()
	e.chainTracker.Link(evt)

	logger.Info("emitting audit event",
		"chain", evt.Commit.ChainKey(),
		"sequence", evt.Chain.Sequence,
		"event_hash", evt.Chain.EventHash,
	)

	if _, err := e.backup.Save(evt); err != nil {
		logger.Warn("audit backup failed", "error", err)
	}

	if err := e.postWithRetry(ctx, evt); err != nil {
		return fmt.Errorf("audit emit failed: %w", err)
	}

	if err := e.chainTracker.Advance(evt); err != nil {
		logger.Warn("failed to update chain head", "chain", evt.Commit.ChainKey(), "error", err)
	}
	return nil
}

// postWithRetry sends the event with exponential backoff.
func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := e.delay

	for attempt := 1; attempt <= e.retries; attempt++ {
		err := e.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < e.retries {
			if m := metrics.Get(); m != nil {
				m.IncRetryAttempts(metrics.Labels{Network: evt.Commit.Network, Operation: "audit_emit"})
			}
			logger.Warn("audit post failed, retrying",
				"attempt", attempt,
				"retries", e.retries,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", e.retries, lastErr)
}

// post sends a single POST request.
func (e *HTTPEmitter) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		logger.Debug("audit event posted", "endpoint", e.endpoint, "status", resp.StatusCode)
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// Close releases resources.
func (e *HTTPEmitter) Close() error {
	return nil
}
