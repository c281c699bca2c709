/*
Package notify delivers applicant and operator notifications.

PURPOSE:
  Deposit operations raise events (application approved, deposit received,
  refunded, forfeited). Delivery is a side effect of a committed unit of
  work, never part of it: a failed send is logged and swallowed.

IMPLEMENTATIONS:
  - LogNotifier:   Writes events to the structured log
  - RedisNotifier: Pushes JSON events onto a Redis list consumed by the
                   mailer worker
  - Multi:         Fans out to several notifiers

SEE ALSO:
  - deposit/service.go: Calls BestEffort after commit
*/
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/warp/tenancy-engine/lettings"
	"go.uber.org/zap"
)

// DefaultQueue is the Redis list events are pushed onto.
const DefaultQueue = "tenancy_notifications"

// DeliveryTimeout bounds a single best-effort delivery.
const DeliveryTimeout = 2 * time.Second

type EventType string

const (
	EventApplicationApproved EventType = "application.approved"
	EventDepositReceived     EventType = "deposit.received"
	EventDepositRefunded     EventType = "deposit.refunded"
	EventDepositForfeited    EventType = "deposit.forfeited"
)

// Event is one notification. Recipient is the applicant email when known.
type Event struct {
	Type          EventType              `json:"type"`
	AgencyID      lettings.AgencyID      `json:"agency_id"`
	ApplicationID lettings.ApplicationID `json:"application_id,omitempty"`
	DepositID     lettings.DepositID     `json:"deposit_id,omitempty"`
	Recipient     string                 `json:"recipient,omitempty"`
	Data          map[string]string      `json:"data,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	n.logger.Info("notification",
		zap.String("type", string(e.Type)),
		zap.String("agency_id", string(e.AgencyID)),
		zap.String("application_id", string(e.ApplicationID)),
		zap.String("deposit_id", string(e.DepositID)),
		zap.String("recipient", e.Recipient),
		zap.Any("data", e.Data),
	)
	return nil
}

// =============================================================================
// REDIS NOTIFIER
// =============================================================================

// RedisNotifier appends events to a Redis list. The mailer worker pops them.
type RedisNotifier struct {
	client redis.Cmdable
	queue  string
}

func NewRedisNotifier(client redis.Cmdable, queue string) *RedisNotifier {
	if queue == "" {
		queue = DefaultQueue
	}
	return &RedisNotifier{client: client, queue: queue}
}

func (n *RedisNotifier) Notify(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.client.RPush(ctx, n.queue, string(data)).Err(); err != nil {
		return fmt.Errorf("push notification to %s: %w", n.queue, err)
	}
	return nil
}

// =============================================================================
// FAN-OUT / BEST EFFORT
// =============================================================================

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BestEffort delivers e and logs any failure instead of returning it. The
// caller's cancellation does not abort delivery; DeliveryTimeout does.
func BestEffort(ctx context.Context, logger *zap.Logger, n Notifier, e Event) {
	if n == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DeliveryTimeout)
	defer cancel()

	if err := n.Notify(ctx, e); err != nil && logger != nil {
		logger.Warn("notification failed",
			zap.String("type", string(e.Type)),
			zap.String("agency_id", string(e.AgencyID)),
			zap.Error(err),
		)
	}
}
