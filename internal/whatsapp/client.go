package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/spec-kit/helpdesk-service/internal/config"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const callbackTimeout = 30 * time.Second

// Client is the whatsmeow-backed transport for one WhatsApp line. The device
// session lives in Postgres through whatsmeow's sqlstore.
type Client struct {
	cfg       config.WhatsAppConfig
	logger    *zap.Logger
	container *sqlstore.Container
	cli       *whatsmeow.Client
	unread    *UnreadTracker

	mu      sync.RWMutex
	handler Handler
	wg      sync.WaitGroup
}

// NewClient opens the device store and prepares a client. It does not
// connect; call Start.
func NewClient(ctx context.Context, cfg config.WhatsAppConfig, logger *zap.Logger) (*Client, error) {
	if cfg.StoreDSN == "" {
		return nil, errors.New("whatsapp: store dsn is required")
	}
	waLogger := NewLogger(logger.Named("whatsmeow"), cfg.LogLevel)

	container, err := sqlstore.New(ctx, "postgres", cfg.StoreDSN, waLogger.Sub("Database"))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, waLogger.Sub("Client"))
	cli.EnableAutoReconnect = true

	return &Client{
		cfg:       cfg,
		logger:    logger,
		container: container,
		cli:       cli,
		unread:    NewUnreadTracker(),
	}, nil
}

// SetHandler installs the consumer of inbound messages and acks.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Start registers the event handler and connects. An unpaired device logs QR
// codes until a phone scans one.
func (c *Client) Start(ctx context.Context) error {
	c.cli.AddEventHandler(func(evt interface{}) { c.dispatch(ctx, evt) })

	if c.cli.Store.ID != nil {
		return c.cli.Connect()
	}

	qrChan, err := c.cli.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: qr channel: %w", err)
	}
	if err := c.cli.Connect(); err != nil {
		return err
	}
	go func() {
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				c.logger.Info("whatsapp pairing code; scan it from the phone", zap.String("qr", evt.Code))
			case "success":
				c.logger.Info("whatsapp device paired")
				return
			default:
				c.logger.Warn("whatsapp pairing event", zap.String("event", evt.Event))
			}
		}
	}()
	return nil
}

// Stop disconnects and waits for in-flight callbacks.
func (c *Client) Stop() {
	c.cli.Disconnect()
	c.wg.Wait()
	if err := c.container.Close(); err != nil {
		c.logger.Warn("close whatsapp device store", zap.Error(err))
	}
}

// Connected reports whether the socket is up and logged in.
func (c *Client) Connected() bool {
	return c.cli.IsConnected() && c.cli.IsLoggedIn()
}

var _ Sender = (*Client)(nil)

// SendText sends a plain text message. Failures are TRANSPORT_FAILURE errors.
func (c *Client) SendText(ctx context.Context, channelID string, to Identity, body string) (string, error) {
	if channelID != "" && channelID != c.cfg.ChannelID {
		return "", apperrors.NewTransportFailure(fmt.Errorf("whatsapp: unknown channel %q", channelID))
	}
	jid := to.JID()
	resp, err := c.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return "", apperrors.NewTransportFailure(err)
	}
	c.unread.Reset(jid.String())
	return string(resp.ID), nil
}

// SendMedia uploads media and sends it with its caption. The file is kept in
// the media directory under the returned name, as inbound media is.
func (c *Client) SendMedia(ctx context.Context, channelID string, to Identity, media OutboundMedia) (string, string, error) {
	if channelID != "" && channelID != c.cfg.ChannelID {
		return "", "", apperrors.NewTransportFailure(fmt.Errorf("whatsapp: unknown channel %q", channelID))
	}
	id := c.cli.GenerateMessageID()
	name := string(id) + extensionFor(media.Mimetype)
	if err := c.saveMedia(name, media.Data); err != nil {
		return "", "", err
	}

	kind := media.Kind()
	uploaded, err := c.cli.Upload(ctx, media.Data, uploadTypes[kind])
	if err != nil {
		c.removeMedia(name)
		return "", "", apperrors.NewTransportFailure(fmt.Errorf("upload %s: %w", kind, err))
	}
	jid := to.JID()
	if _, err := c.cli.SendMessage(ctx, jid, mediaMessage(kind, media, uploaded), whatsmeow.SendRequestExtra{ID: id}); err != nil {
		c.removeMedia(name)
		return "", "", apperrors.NewTransportFailure(err)
	}
	c.unread.Reset(jid.String())
	return string(id), name, nil
}

var uploadTypes = map[string]whatsmeow.MediaType{
	"image":    whatsmeow.MediaImage,
	"audio":    whatsmeow.MediaAudio,
	"video":    whatsmeow.MediaVideo,
	"document": whatsmeow.MediaDocument,
}

func mediaMessage(kind string, media OutboundMedia, up whatsmeow.UploadResponse) *waE2E.Message {
	switch kind {
	case "image":
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case "audio":
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case "video":
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(media.Caption),
			Title:         proto.String(media.FileName),
			FileName:      proto.String(media.FileName),
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
}

func (c *Client) saveMedia(name string, data []byte) error {
	if err := os.MkdirAll(c.cfg.MediaDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.cfg.MediaDir, name), data, 0o644)
}

func (c *Client) removeMedia(name string) {
	if err := os.Remove(filepath.Join(c.cfg.MediaDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("remove unsent media", zap.String("file", name), zap.Error(err))
	}
}

func (c *Client) dispatch(ctx context.Context, raw interface{}) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		return
	}

	switch evt := raw.(type) {
	case *events.Message:
		msg, att, ok := TranslateMessage(evt, c.cfg.ChannelID)
		if !ok {
			return
		}
		chat := evt.Info.Chat.ToNonAD().String()
		if msg.FromMe {
			c.unread.Reset(chat)
		} else {
			msg.UnreadCount = c.unread.Inbound(chat)
		}
		if att != nil {
			msg.Media = &mediaSource{client: c, id: msg.ID, att: att}
		}
		c.run(ctx, "inbound message", func(ctx context.Context) error {
			return h.HandleInbound(ctx, msg)
		})

	case *events.Receipt:
		if evt.Type == types.ReceiptTypeReadSelf {
			c.unread.Reset(evt.Chat.ToNonAD().String())
		}
		for _, ack := range AcksFromReceipt(evt) {
			ack := ack
			c.run(ctx, "ack", func(ctx context.Context) error {
				return h.HandleAck(ctx, ack)
			})
		}

	case *events.Connected:
		c.logger.Info("whatsapp connected", zap.String("channel_id", c.cfg.ChannelID))
	case *events.LoggedOut:
		c.logger.Warn("whatsapp logged out", zap.String("channel_id", c.cfg.ChannelID))
	}
}

// run handles one callback on its own goroutine so a slow handler never
// stalls whatsmeow's event loop.
func (c *Client) run(ctx context.Context, what string, fn func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		cbCtx, cancel := context.WithTimeout(ctx, callbackTimeout)
		defer cancel()
		if err := fn(cbCtx); err != nil {
			c.logger.Error("whatsapp callback failed", zap.String("callback", what), zap.Error(err))
		}
	}()
}

type mediaSource struct {
	client *Client
	id     string
	att    *Attachment
}

// Fetch downloads the attachment into the media directory.
func (m *mediaSource) Fetch(ctx context.Context) (string, error) {
	data, err := m.client.cli.Download(ctx, m.att.Media)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	name := m.id + extensionFor(m.att.Mimetype)
	if err := m.client.saveMedia(name, data); err != nil {
		return "", err
	}
	return name, nil
}
