package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ultima-training/ultima-api/internal/models"
	"github.com/ultima-training/ultima-api/pkg/config"
	"github.com/ultima-training/ultima-api/pkg/mailer"
)

type outboxRepository interface {
	ClaimPending(ctx context.Context, limit, maxAttempts int) ([]models.Notification, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, attempts, maxAttempts int, cause string) error
}

type sender interface {
	Send(msg mailer.Message) error
}

// NotificationService drains the outbox and delivers emails. Rows are
// claimed with SKIP LOCKED so several instances can run side by side.
type NotificationService struct {
	repo   outboxRepository
	mailer sender
	cfg    config.NotificationsConfig
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotificationService constructs the dispatcher.
func NewNotificationService(repo outboxRepository, m sender, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &NotificationService{repo: repo, mailer: m, cfg: cfg, logger: logger}
}

// Start launches the polling loop. No-op when disabled by configuration.
func (s *NotificationService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("notification dispatcher disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.DispatchOnce(ctx); err != nil {
					s.logger.Error("outbox dispatch failed", zap.Error(err))
				}
			}
		}
	}()
	s.logger.Info("notification dispatcher started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Int("batch_size", s.cfg.BatchSize))
}

// Stop halts the polling loop and waits for the current batch.
func (s *NotificationService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// DispatchOnce claims one batch of pending rows and attempts delivery.
// It returns the number of successfully sent notifications.
func (s *NotificationService) DispatchOnce(ctx context.Context) (int, error) {
	claimed, err := s.repo.ClaimPending(ctx, s.cfg.BatchSize, s.cfg.MaxAttempts)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, notif := range claimed {
		if err := s.mailer.Send(mailer.Message{
			To:      notif.RecipientEmail,
			Subject: notif.Subject,
			HTML:    notif.Body,
		}); err != nil {
			s.logger.Warn("notification delivery failed",
				zap.String("notification_id", notif.ID),
				zap.String("kind", string(notif.Kind)),
				zap.Int("attempts", notif.Attempts),
				zap.Error(err))
			if markErr := s.repo.MarkFailed(ctx, notif.ID, notif.Attempts, s.cfg.MaxAttempts, err.Error()); markErr != nil {
				s.logger.Error("failed to record delivery failure",
					zap.String("notification_id", notif.ID), zap.Error(markErr))
			}
			continue
		}
		if err := s.repo.MarkSent(ctx, notif.ID, time.Now().UTC()); err != nil {
			s.logger.Error("failed to mark notification sent",
				zap.String("notification_id", notif.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}
