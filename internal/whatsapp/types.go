package whatsapp

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// ErrMediaUnavailable means an attachment could not be fetched yet. The
// inbound event should be dropped without persisting; WhatsApp resends it.
var ErrMediaUnavailable = errors.New("whatsapp: media not yet available")

// Identity describes a WhatsApp party as the contact registry sees it.
type Identity struct {
	Number    string
	Name      string
	AvatarURL string
	IsGroup   bool
}

// JID is the address messages to this identity are sent to.
func (i Identity) JID() types.JID {
	if i.IsGroup {
		return types.NewJID(i.Number, types.GroupServer)
	}
	return types.NewJID(i.Number, types.DefaultUserServer)
}

// IdentityFromJID builds an Identity from a chat or sender address.
func IdentityFromJID(jid types.JID, name string) Identity {
	nonAD := jid.ToNonAD()
	return Identity{
		Number:  domain.CanonicalNumber(nonAD.String()),
		Name:    name,
		IsGroup: nonAD.Server == types.GroupServer,
	}
}

// MediaSource fetches an inbound attachment and stores it, returning the
// name it was stored under.
type MediaSource interface {
	Fetch(ctx context.Context) (string, error)
}

// InboundMessage is one message seen on a WhatsApp line, in either direction.
// Messages typed on the phone arrive with FromMe set.
type InboundMessage struct {
	ID          string
	ChannelID   string
	FromMe      bool
	Body        string
	MediaType   string
	Media       MediaSource
	ChatIsGroup bool
	Sender      Identity
	Group       *Identity
	UnreadCount int
	Timestamp   time.Time
}

// Ack is a delivery state change for a previously seen message.
type Ack struct {
	MessageID string
	Level     domain.AckLevel
}

// OutboundMedia is a file an agent sends on a line. Caption may be empty.
type OutboundMedia struct {
	Data     []byte
	Mimetype string
	FileName string
	Caption  string
}

// Kind is the stored media type for m's mimetype. Anything that is not an
// image, audio or video goes out as a document.
func (m OutboundMedia) Kind() string {
	major, _, _ := strings.Cut(m.Mimetype, "/")
	switch major {
	case "image", "audio", "video":
		return major
	default:
		return "document"
	}
}

// Sender delivers outbound messages on a line and returns the transport
// message id. SendMedia also returns the stored file name of the media.
type Sender interface {
	SendText(ctx context.Context, channelID string, to Identity, body string) (string, error)
	SendMedia(ctx context.Context, channelID string, to Identity, media OutboundMedia) (id, mediaURL string, err error)
}

// Handler consumes transport callbacks.
type Handler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) error
	HandleAck(ctx context.Context, ack Ack) error
}
