package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/realtime"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const socketUserKey = "socket_user_id"

// SocketHandler upgrades dashboard connections and attaches them to the hub.
type SocketHandler struct {
	hub    *realtime.Hub
	auth   *auth.AuthMiddleware
	opts   realtime.ConnectionOptions
	logger *zap.Logger
}

// NewSocketHandler builds handler.
func NewSocketHandler(hub *realtime.Hub, authMiddleware *auth.AuthMiddleware, opts realtime.ConnectionOptions, logger *zap.Logger) *SocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Logger = logger
	return &SocketHandler{hub: hub, auth: authMiddleware, opts: opts, logger: logger}
}

// Authorize runs before the upgrade: only agents with a valid token get a socket.
func (h *SocketHandler) Authorize(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	principal, err := h.auth.Authenticate(c.UserContext(), c.Query("token"))
	if err != nil {
		return err
	}
	c.Locals(socketUserKey, principal.User.ID)
	return c.Next()
}

// Serve is the upgraded handler.
func (h *SocketHandler) Serve() fiber.Handler {
	return websocket.New(func(ws *websocket.Conn) {
		userID, _ := ws.Locals(socketUserKey).(string)
		conn := realtime.NewConnection(userID, ws, h.opts)
		h.hub.Attach(conn)
		conn.Start()
		h.logger.Debug("socket attached", zap.String("connection_id", conn.ID()), zap.String("user_id", userID))

		defer func() {
			h.hub.Detach(conn.ID())
			conn.Close(websocket.CloseNormalClosure, "")
			h.logger.Debug("socket detached", zap.String("connection_id", conn.ID()))
		}()
		conn.ReadLoop(h.control)
	})
}

func (h *SocketHandler) control(conn *realtime.Connection, frame realtime.Frame) error {
	if frame.Event != realtime.ControlRefreshAuth {
		return h.hub.HandleControl(conn.ID(), frame)
	}
	var token string
	if err := json.Unmarshal(frame.Data, &token); err != nil {
		return errors.New("refresh-auth expects a token string")
	}
	if _, err := h.auth.Authenticate(context.Background(), token); err != nil {
		h.hub.Detach(conn.ID())
		conn.Close(websocket.ClosePolicyViolation, "authentication expired")
		return apperrors.NewUnauthorized("socket token rejected")
	}
	return nil
}
