package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

const (
	notificationBuffer  = 256
	notificationTimeout = 5 * time.Second
)

// WebhookPoster delivers one notification body to url.
type WebhookPoster func(ctx context.Context, url string, event events.Event) error

// NotificationService forwards ticket activity to an external webhook. Events
// are queued by the dispatcher and posted from Run, so a slow endpoint never
// holds up ticket resolution.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
	post       WebhookPoster
	queue      chan events.Event
}

// NewNotificationService creates the service. A nil poster uses fiber's HTTP
// client.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig, post WebhookPoster) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if post == nil {
		post = postJSON
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		post:       post,
		queue:      make(chan events.Event, notificationBuffer),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.enqueue)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.enqueue)
	n.dispatcher.Subscribe(events.EventTicketDeleted, n.enqueue)
	n.dispatcher.Subscribe(events.EventMessageCreated, n.enqueue)
}

func (n *NotificationService) enqueue(_ context.Context, event events.Event) error {
	n.logger.Debug("ticket activity",
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID))
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return nil
	}
	select {
	case n.queue <- event:
		return nil
	default:
		return fmt.Errorf("notification queue full, dropping %s", event.Type)
	}
}

// Run posts queued events until ctx is done.
func (n *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-n.queue:
			n.deliver(ctx, event)
		}
	}
}

func (n *NotificationService) deliver(ctx context.Context, event events.Event) {
	ctx, cancel := context.WithTimeout(ctx, notificationTimeout)
	defer cancel()
	if err := n.post(ctx, n.cfg.WebhookURL, event); err != nil {
		n.logger.Warn("webhook notification failed",
			zap.String("url", n.cfg.WebhookURL),
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func postJSON(ctx context.Context, url string, event events.Event) error {
	timeout := notificationTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	agent := fiber.Post(url).JSON(event).Timeout(timeout)
	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return errs[0]
	}
	if status >= fiber.StatusBadRequest {
		return fmt.Errorf("webhook returned %d: %s", status, strings.TrimSpace(string(body)))
	}
	return nil
}
