package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/queue"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TaskSendScheduled is the task type of a delayed agent message.
const TaskSendScheduled = "message:send_scheduled"

const scheduledSendRetries = 3

// ScheduledSendPayload is the task body.
type ScheduledSendPayload struct {
	TicketID string `json:"ticketId"`
	Body     string `json:"body"`
}

// TextSender is the part of the message service the worker needs.
type TextSender interface {
	SendText(ctx context.Context, ticketID, body string) (*domain.Message, error)
}

// Scheduler enqueues messages to be sent later.
type Scheduler struct {
	client queue.Client
}

// NewScheduler wraps a queue client. A nil client yields a scheduler that
// rejects every request.
func NewScheduler(client queue.Client) *Scheduler {
	return &Scheduler{client: client}
}

// Schedule enqueues body for ticketID at the given time and returns the task id.
func (s *Scheduler) Schedule(ctx context.Context, ticketID, body string, at time.Time) (string, error) {
	if s == nil || s.client == nil {
		return "", apperrors.NewDomainError("QUEUE_DISABLED", "scheduled sends are disabled", http.StatusServiceUnavailable, nil)
	}
	body = strings.TrimSpace(body)
	if ticketID == "" || body == "" {
		return "", apperrors.NewValidationError("ticket id and body are required", nil)
	}
	if at.IsZero() {
		return "", apperrors.NewValidationError("send_at is required", nil)
	}

	payload, err := json.Marshal(ScheduledSendPayload{TicketID: ticketID, Body: body})
	if err != nil {
		return "", err
	}
	id, err := s.client.Enqueue(ctx, queue.Task{Type: TaskSendScheduled, Payload: payload}, queue.EnqueueOption{
		ProcessAt: at,
		MaxRetry:  scheduledSendRetries,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue scheduled send: %w", err)
	}
	return id, nil
}

// NewScheduledSendHandler sends the message through the regular pipeline,
// so the ticket is resolved exactly as for an interactive send. Tasks that
// can never succeed, or whose message already went out, are dropped instead
// of retried.
func NewScheduledSendHandler(sender TextSender, logger *zap.Logger) queue.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, task queue.Task) error {
		var p ScheduledSendPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			logger.Error("drop malformed scheduled send", zap.ByteString("payload", task.Payload), zap.Error(err))
			return nil
		}
		msg, err := sender.SendText(ctx, p.TicketID, p.Body)
		switch {
		case err == nil:
			logger.Info("scheduled message sent",
				zap.String("ticket_id", p.TicketID),
				zap.String("message_id", msg.ID))
			return nil
		case apperrors.IsCode(err, apperrors.CodeNotFound), apperrors.IsCode(err, apperrors.CodeValidation):
			logger.Warn("drop scheduled send", zap.String("ticket_id", p.TicketID), zap.Error(err))
			return nil
		case errors.Is(err, service.ErrSentNotRecorded):
			// The customer already has it; a retry would send it again.
			logger.Error("scheduled message sent but not recorded", zap.String("ticket_id", p.TicketID), zap.Error(err))
			return nil
		default:
			return err
		}
	}
}

// RegisterScheduledSends attaches the handler to a queue server.
func RegisterScheduledSends(srv queue.Server, sender TextSender, logger *zap.Logger) {
	srv.Register(TaskSendScheduled, NewScheduledSendHandler(sender, logger))
}
