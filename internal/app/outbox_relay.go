package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/transfa/remittance-service/internal/logger"
	"github.com/transfa/remittance-service/internal/store"
	"github.com/transfa/remittance-service/pkg/rabbitmq"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1500 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
)

// OutboxRelay forwards audit events from the outbox table to the broker. It
// runs outside the request path; a broker outage only delays delivery.
type OutboxRelay struct {
	repo                store.OutboxRepository
	publisher           rabbitmq.Publisher
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	log                 *logrus.Entry
}

func NewOutboxRelay(repo store.OutboxRepository, publisher rabbitmq.Publisher, batchSize int, pollInterval time.Duration) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &OutboxRelay{
		repo:                repo,
		publisher:           publisher,
		batchSize:           batchSize,
		pollInterval:        pollInterval,
		staleProcessingTime: defaultStaleProcessing,
		log:                 logger.Component("outbox_relay"),
	}
}

// Run polls until ctx is cancelled.
func (d *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.FlushOnce(ctx); err != nil {
				d.log.WithError(err).Warn("outbox flush failed")
			}
		}
	}
}

// FlushOnce claims one batch and publishes it. It returns how many messages
// were published.
func (d *OutboxRelay) FlushOnce(ctx context.Context) (int, error) {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, message := range messages {
		log := d.log.WithFields(logrus.Fields{
			"outbox_id":   message.ID,
			"routing_key": message.RoutingKey,
			"attempt":     message.Attempts,
		})
		if err := d.publisher.Publish(ctx, message.Exchange, message.RoutingKey, json.RawMessage(message.Payload)); err != nil {
			retryAfter := retryDelaySeconds(message.Attempts)
			log.WithError(err).WithField("retry_after_seconds", retryAfter).Warn("outbox publish failed")
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				log.WithError(markErr).Error("failed to reschedule outbox message")
			}
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			log.WithError(err).Error("failed to mark outbox message as published")
			continue
		}
		published++
	}
	return published, nil
}

// retryDelaySeconds backs off exponentially from 2s, capped at 300s.
func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 9)
	if delay > 300 {
		return 300
	}
	return delay
}
