package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

type webhookRecorder struct {
	mu    sync.Mutex
	urls  []string
	types []events.EventType
	err   error
}

func (w *webhookRecorder) post(_ context.Context, url string, event events.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.urls = append(w.urls, url)
	w.types = append(w.types, event.Type)
	return w.err
}

func (w *webhookRecorder) seen() []events.EventType {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]events.EventType(nil), w.types...)
}

func TestNotificationServicePostsSubscribedEvents(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(nil)
	rec := &webhookRecorder{}
	svc := NewNotificationService(dispatcher, nil, config.NotificationConfig{WebhookURL: "http://hooks.local/helpdesk"}, rec.post)
	svc.RegisterHandlers()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventTicketCreated, "t1", nil)))
	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventTicketUpdated, "t1", nil)))
	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventMessageCreated, "t1", nil)))

	require.Eventually(t, func() bool { return len(rec.seen()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []events.EventType{events.EventTicketCreated, events.EventMessageCreated}, rec.seen())
	assert.Equal(t, "http://hooks.local/helpdesk", rec.urls[0])
}

func TestNotificationServiceWithoutWebhookQueuesNothing(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(nil)
	rec := &webhookRecorder{}
	svc := NewNotificationService(dispatcher, nil, config.NotificationConfig{}, rec.post)
	svc.RegisterHandlers()

	require.NoError(t, dispatcher.Publish(context.Background(), events.New(events.EventTicketCreated, "t1", nil)))
	assert.Zero(t, len(svc.queue))
}

func TestNotificationServiceLogsFailedDelivery(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rec := &webhookRecorder{err: errors.New("503")}
	svc := NewNotificationService(nil, zap.New(core), config.NotificationConfig{WebhookURL: "http://hooks.local"}, rec.post)

	svc.deliver(context.Background(), events.New(events.EventTicketDeleted, "t9", nil))

	entries := logs.FilterMessage("webhook notification failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "t9", entries[0].ContextMap()["ticket_id"])
}
