package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// DefaultStreamMaxLen caps the change stream. Trimming is approximate.
const DefaultStreamMaxLen = 10000

// StreamPublisher appends committed appointment changes to a Redis stream
// for the notification workers to fan out.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: DefaultStreamMaxLen}
}

func (p *StreamPublisher) NotifyAppointmentChange(ctx context.Context, change scheduling.AppointmentChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change %s: %w", change.ID, err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"change_id": change.ID,
			"kind":      string(change.Kind),
			"clinic_id": strconv.FormatInt(change.ClinicID, 10),
			"payload":   string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish change %s to %s: %w", change.ID, p.stream, err)
	}
	return nil
}
