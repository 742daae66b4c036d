package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/bloodbank-api/internal/email"
	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
	"github.com/jwalitptl/bloodbank-api/pkg/logger"
	"github.com/jwalitptl/bloodbank-api/pkg/messaging"
	"github.com/jwalitptl/bloodbank-api/pkg/metrics"
)

const (
	channelEmail = "email"
	channelInApp = "in_app"

	// InAppTopic is the broker channel in-app notices are published on.
	InAppTopic = "notifications"
)

// Service renders a notice once and fans it out to every configured
// channel. Each attempt is persisted with its outcome.
type Service struct {
	repo     repository.NotificationRepository
	emailSvc email.Service
	broker   messaging.Broker
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService accepts a nil email service or broker; that channel is then
// skipped.
func NewService(
	repo repository.NotificationRepository,
	emailSvc email.Service,
	broker messaging.Broker,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:     repo,
		emailSvc: emailSvc,
		broker:   broker,
		logger:   log.Named("notification"),
		metrics:  m,
		now:      time.Now,
	}
}

func (s *Service) Notify(ctx context.Context, recipient string, kind model.NotificationKind, vars map[string]string) error {
	if recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	subject, content, err := Render(kind, vars)
	if err != nil {
		return err
	}

	var errs []error
	if s.emailSvc != nil {
		errs = append(errs, s.deliver(ctx, channelEmail, recipient, kind, subject, content, func() error {
			return s.emailSvc.SendCustom(ctx, recipient, subject, content)
		}))
	}
	if s.broker != nil {
		errs = append(errs, s.deliver(ctx, channelInApp, recipient, kind, subject, content, func() error {
			return s.broker.Publish(ctx, InAppTopic, &model.NotificationEvent{
				ID:        uuid.New(),
				Kind:      kind,
				Recipient: recipient,
				Subject:   subject,
				Content:   content,
				CreatedAt: s.now().UTC(),
			})
		}))
	}
	return errors.Join(errs...)
}

func (s *Service) deliver(
	ctx context.Context,
	channel, recipient string,
	kind model.NotificationKind,
	subject, content string,
	send func() error,
) error {
	n := &model.Notification{
		ID:        uuid.New(),
		Channel:   channel,
		Kind:      kind,
		Recipient: recipient,
		Subject:   subject,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}

	sendErr := send()
	if sendErr != nil {
		n.Status = model.NotificationStatusFailed
		n.LastError = sendErr.Error()
	} else {
		sentAt := s.now().UTC()
		n.Status = model.NotificationStatusSent
		n.SentAt = &sentAt
	}
	if s.metrics != nil {
		s.metrics.Notifications.WithLabelValues(channel, string(kind), string(n.Status)).Inc()
	}

	if err := s.repo.CreateNotification(ctx, n); err != nil {
		s.logger.Error(err, "Failed to persist notification", "notification_id", n.ID.String())
	}
	if sendErr != nil {
		return fmt.Errorf("%s delivery failed: %w", channel, sendErr)
	}
	return nil
}
