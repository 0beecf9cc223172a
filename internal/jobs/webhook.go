package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/garnizeh/placement/internal/models"
)

// WebhookHandler delivers workflow events to url as JSON. With an empty url
// events are logged and dropped. Non-2xx responses fail the job so it is
// retried with backoff.
func WebhookHandler(client *http.Client, url string, logger *slog.Logger) Handler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, j *models.BackgroundJob) error {
		var e models.Event
		if err := json.Unmarshal(j.Payload, &e); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if url == "" {
			logger.Debug("event dropped, no webhook configured", slog.String("event", e.Type), slog.String("application_id", e.ApplicationID))
			return nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(j.Payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Type", e.Type)
		req.Header.Set("X-Event-ID", e.ID)

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("deliver %s: %w", e.Type, err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("deliver %s: webhook returned %d", e.Type, resp.StatusCode)
		}
		logger.Debug("event delivered", slog.String("event", e.Type), slog.String("id", e.ID))
		return nil
	}
}
