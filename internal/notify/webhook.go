package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// WebhookCalendarSyncer posts each change to an external calendar bridge.
// Any non-2xx response counts as a failed sync.
type WebhookCalendarSyncer struct {
	url    string
	client *http.Client
}

func NewWebhookCalendarSyncer(url string, timeout time.Duration) *WebhookCalendarSyncer {
	return &WebhookCalendarSyncer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *WebhookCalendarSyncer) SyncAppointmentChange(ctx context.Context, change scheduling.AppointmentChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change %s: %w", change.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build calendar sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", change.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calendar sync: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("calendar sync: unexpected status %d", resp.StatusCode)
	}
	return nil
}
