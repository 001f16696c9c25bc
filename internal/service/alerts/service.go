package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
	client "github.com/mamadbah2/bloodbank/pkg/clients/alerts"
)

// DefaultCooldown is how long an identical stock alert is suppressed.
const DefaultCooldown = 30 * time.Minute

// LogNotifier writes notifications to the log. It is used when no webhook
// is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wires a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notification at warn level.
func (n *LogNotifier) Notify(_ context.Context, note models.Notification) error {
	n.logger.Warn(note.Message,
		zap.String("kind", string(note.Kind)),
		zap.String("blood_type", note.BloodType.String()),
		zap.String("health", string(note.Health)),
		zap.String("request_id", note.RequestID),
		zap.Int("count", note.Count))
	return nil
}

// WebhookNotifier forwards notifications to the alert webhook.
type WebhookNotifier struct {
	client   client.Client
	cooldown *Cooldown
	logger   *zap.Logger
}

// NewWebhookNotifier wires a webhook notifier.
func NewWebhookNotifier(c client.Client, cooldown *Cooldown, logger *zap.Logger) *WebhookNotifier {
	svc := &WebhookNotifier{
		client:   c,
		cooldown: cooldown,
		logger:   logger,
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.cooldown == nil {
		svc.cooldown = NewCooldown(0)
	}
	return svc
}

// Notify posts the notification. Repeated stock alerts inside the cooldown
// window are dropped.
func (s *WebhookNotifier) Notify(ctx context.Context, note models.Notification) error {
	if note.Kind == models.NotifyStockAlert {
		key := fmt.Sprintf("%s/%s", note.BloodType, note.Health)
		if !s.cooldown.Allow(key, note.RaisedAt) {
			s.logger.Debug("stock alert suppressed", zap.String("key", key))
			return nil
		}
	}

	if err := s.client.Post(ctx, ToMessage(note)); err != nil {
		return fmt.Errorf("deliver %s notification: %w", note.Kind, err)
	}
	s.logger.Info("notification delivered", zap.String("kind", string(note.Kind)))
	return nil
}

// ToMessage converts a notification into the webhook payload.
func ToMessage(note models.Notification) client.Message {
	msg := client.Message{
		Kind:      string(note.Kind),
		Text:      note.Message,
		BloodType: note.BloodType.String(),
		Health:    string(note.Health),
		RequestID: note.RequestID,
		RaisedAt:  note.RaisedAt,
	}
	if len(note.ByType) > 0 {
		msg.Counts = make(map[string]int, len(note.ByType))
		for bt, n := range note.ByType {
			msg.Counts[bt.String()] = n
		}
	}
	if note.Previous != "" {
		msg.Labels = map[string]string{"previous": string(note.Previous)}
	}
	return msg
}

// Notifier is implemented by every notifier in this package.
type Notifier interface {
	Notify(ctx context.Context, note models.Notification) error
}

// Multi fans a notification out to several notifiers and joins their errors.
type Multi []Notifier

// Notify calls every notifier even when an earlier one fails.
func (m Multi) Notify(ctx context.Context, note models.Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
