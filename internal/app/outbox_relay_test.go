package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/remittance-service/internal/domain"
)

type publishedMessage struct {
	exchange   string
	routingKey string
	body       []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	fail     error
	messages []publishedMessage
}

func (p *fakePublisher) Publish(_ context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	p.messages = append(p.messages, publishedMessage{exchange: exchange, routingKey: routingKey, body: raw})
	return nil
}

func (p *fakePublisher) Close() {}

func TestOutboxRelayPublishesAuditEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tx := env.createUnderReview(t)

	publisher := &fakePublisher{}
	relay := NewOutboxRelay(env.repo, publisher, 10, 0)

	n, err := relay.FlushOnce(ctx)
	require.NoError(t, err)
	// rate update, creation, receipt upload
	assert.Equal(t, 3, n)
	assert.Zero(t, env.repo.PendingOutboxCount())

	keys := make([]string, 0, len(publisher.messages))
	for _, m := range publisher.messages {
		assert.Equal(t, "remittance.audit", m.exchange)
		keys = append(keys, m.routingKey)
	}
	assert.Equal(t, []string{"audit.rate.updated", "audit.transaction.created", "audit.receipt.uploaded"}, keys)

	var event domain.AuditEvent
	require.NoError(t, json.Unmarshal(publisher.messages[2].body, &event))
	assert.Equal(t, domain.AuditReceiptUploaded, event.Action)
	require.NotNil(t, event.TransactionID)
	assert.Equal(t, tx.ID, *event.TransactionID)
	assert.Equal(t, domain.StatusPending, event.PreviousStatus)
	assert.Equal(t, domain.StatusUnderReview, event.NewStatus)

	n, err = relay.FlushOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelayReschedulesOnPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	publisher := &fakePublisher{fail: errors.New("broker unavailable")}
	relay := NewOutboxRelay(env.repo, publisher, 10, 0)

	n, err := relay.FlushOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, env.repo.PendingOutboxCount())

	status, lastErr, ok := env.repo.OutboxStatus(1)
	require.True(t, ok)
	assert.Equal(t, "pending", status)
	assert.Equal(t, "broker unavailable", lastErr)

	// The row waits out its backoff before it is claimed again.
	publisher.fail = nil
	n, err = relay.FlushOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, publisher.messages)
}

func TestOutboxRelayStopsWithContext(t *testing.T) {
	env := newTestEnv(t)
	relay := NewOutboxRelay(env.repo, &fakePublisher{}, 10, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
}

func TestRetryDelaySeconds(t *testing.T) {
	assert.Equal(t, 1, retryDelaySeconds(0))
	assert.Equal(t, 2, retryDelaySeconds(1))
	assert.Equal(t, 16, retryDelaySeconds(4))
	assert.Equal(t, 256, retryDelaySeconds(8))
	assert.Equal(t, 300, retryDelaySeconds(9))
	assert.Equal(t, 300, retryDelaySeconds(40))
}
