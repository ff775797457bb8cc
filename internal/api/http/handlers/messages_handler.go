package handlers

import (
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/whatsapp"
	"github.com/spec-kit/helpdesk-service/internal/worker"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// MessagesHandler serves ticket threads and agent sends.
type MessagesHandler struct {
	messages  *service.MessageService
	tickets   *service.TicketService
	scheduler *worker.Scheduler
}

// NewMessagesHandler constructs handler. A nil scheduler disables scheduled sends.
func NewMessagesHandler(messages *service.MessageService, tickets *service.TicketService, scheduler *worker.Scheduler) *MessagesHandler {
	return &MessagesHandler{messages: messages, tickets: tickets, scheduler: scheduler}
}

// ListMessages GET /api/tickets/:id/messages.
func (h *MessagesHandler) ListMessages(c *fiber.Ctx) error {
	limit, offset := page(c, 50)
	msgs, err := h.messages.ListByTicket(c.UserContext(), c.Params("id"), limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.MessageResponse, 0, len(msgs))
	for i := range msgs {
		items = append(items, messageResponse(&msgs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// SendMessage POST /api/tickets/:id/messages.
func (h *MessagesHandler) SendMessage(c *fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := h.messages.SendText(c.UserContext(), c.Params("id"), req.Body)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": messageResponse(msg)})
}

// SendMedia POST /api/tickets/:id/messages/media. Multipart with a "file"
// part and an optional "body" caption.
func (h *MessagesHandler) SendMedia(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return apperrors.NewValidationError("file is required", nil)
	}
	f, err := header.Open()
	if err != nil {
		return apperrors.NewValidationError("unreadable file", nil)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return apperrors.NewValidationError("unreadable file", nil)
	}

	mimetype := header.Header.Get(fiber.HeaderContentType)
	if mimetype == "" || mimetype == fiber.MIMEOctetStream {
		mimetype = http.DetectContentType(data)
	}
	msg, err := h.messages.SendMedia(c.UserContext(), c.Params("id"), whatsapp.OutboundMedia{
		Data:     data,
		Mimetype: mimetype,
		FileName: header.Filename,
		Caption:  c.FormValue("body"),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": messageResponse(msg)})
}

// ScheduleMessage POST /api/tickets/:id/messages/schedule.
func (h *MessagesHandler) ScheduleMessage(c *fiber.Ctx) error {
	var req dto.ScheduleMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	taskID, err := h.scheduler.Schedule(c.UserContext(), ticket.ID, req.Body, req.SendAt)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": dto.ScheduleMessageResponse{TaskID: taskID, SendAt: req.SendAt}})
}
