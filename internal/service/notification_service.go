package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/ess-portal-api/internal/models"
	"github.com/noah-isme/ess-portal-api/pkg/config"
	"github.com/noah-isme/ess-portal-api/pkg/jobs"
)

// NotificationService fans disposition events out to external consumers via a
// Redis channel. Events are enqueued onto an in-process worker queue so the
// approval engine never blocks on delivery; message templates and transport
// beyond the channel are owned by the consumers.
type NotificationService struct {
	queue   *jobs.Queue
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewNotificationService constructs the dispatcher.
func NewNotificationService(client *redis.Client, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		client:  client,
		channel: cfg.Channel,
		logger:  logger,
	}
	svc.queue = jobs.NewQueue("dispositions", svc.publish, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return svc
}

// Start begins delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// NotifyDisposition implements DispositionNotifier. Failures to enqueue are
// logged and dropped; the decision that produced the event already committed.
func (s *NotificationService) NotifyDisposition(_ context.Context, event models.DispositionEvent) {
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    "disposition_reached",
		Payload: event,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue disposition event",
			zap.String("request_id", event.RequestID),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) publish(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.DispositionEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal disposition event: %w", err)
	}
	if s.client == nil {
		s.logger.Info("disposition reached",
			zap.String("request_id", event.RequestID),
			zap.String("final_status", string(event.FinalStatus)),
		)
		return nil
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish disposition event: %w", err)
	}
	return nil
}
