package whatsapp

import (
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Attachment is the downloadable part of a message plus what is needed to
// name the stored file.
type Attachment struct {
	Kind     string
	Mimetype string
	Media    whatsmeow.DownloadableMessage
}

// TranslateMessage converts a whatsmeow message event. ok is false for events
// the helpdesk ignores: status broadcasts and messages with no text or media.
// UnreadCount and Media are left for the caller to fill.
func TranslateMessage(evt *events.Message, channelID string) (InboundMessage, *Attachment, bool) {
	if evt == nil || evt.Message == nil {
		return InboundMessage{}, nil, false
	}
	info := evt.Info
	if info.Chat == types.StatusBroadcastJID || info.Chat.Server == types.BroadcastServer {
		return InboundMessage{}, nil, false
	}

	body := textOf(evt.Message)
	att := attachmentOf(evt.Message)
	if body == "" && att == nil {
		return InboundMessage{}, nil, false
	}

	msg := InboundMessage{
		ID:          info.ID,
		ChannelID:   channelID,
		FromMe:      info.IsFromMe,
		Body:        body,
		ChatIsGroup: info.IsGroup,
		Timestamp:   info.Timestamp,
	}
	if att != nil {
		msg.MediaType = att.Kind
	}

	switch {
	case info.IsGroup:
		group := IdentityFromJID(info.Chat, "")
		group.IsGroup = true
		msg.Group = &group
		// Our own participant JID is the line itself, not a contact.
		if !info.IsFromMe {
			msg.Sender = IdentityFromJID(info.Sender, info.PushName)
		}
	case info.IsFromMe:
		// The other party is the chat; PushName would be our own name.
		msg.Sender = IdentityFromJID(info.Chat, "")
	default:
		msg.Sender = IdentityFromJID(info.Chat, info.PushName)
	}
	return msg, att, true
}

func textOf(m *waE2E.Message) string {
	switch {
	case m.GetExtendedTextMessage().GetText() != "":
		return m.GetExtendedTextMessage().GetText()
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetImageMessage().GetCaption() != "":
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage().GetCaption() != "":
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage().GetCaption() != "":
		return m.GetDocumentMessage().GetCaption()
	}
	return ""
}

func attachmentOf(m *waE2E.Message) *Attachment {
	if im := m.GetImageMessage(); im != nil {
		return &Attachment{Kind: "image", Mimetype: im.GetMimetype(), Media: im}
	}
	if au := m.GetAudioMessage(); au != nil {
		return &Attachment{Kind: "audio", Mimetype: au.GetMimetype(), Media: au}
	}
	if vi := m.GetVideoMessage(); vi != nil {
		return &Attachment{Kind: "video", Mimetype: vi.GetMimetype(), Media: vi}
	}
	if doc := m.GetDocumentMessage(); doc != nil {
		return &Attachment{Kind: "document", Mimetype: doc.GetMimetype(), Media: doc}
	}
	if st := m.GetStickerMessage(); st != nil {
		return &Attachment{Kind: "sticker", Mimetype: st.GetMimetype(), Media: st}
	}
	return nil
}

// AcksFromReceipt maps a receipt to one Ack per message id. Receipt types
// that carry no delivery progress return nil.
func AcksFromReceipt(evt *events.Receipt) []Ack {
	if evt == nil {
		return nil
	}
	var level domain.AckLevel
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		level = domain.AckDelivered
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		level = domain.AckRead
	case types.ReceiptTypePlayed:
		level = domain.AckPlayed
	default:
		return nil
	}
	acks := make([]Ack, 0, len(evt.MessageIDs))
	for _, id := range evt.MessageIDs {
		acks = append(acks, Ack{MessageID: string(id), Level: level})
	}
	return acks
}

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"application/pdf": ".pdf",
}

// extensionFor picks a file extension for a mimetype such as
// "audio/ogg; codecs=opus".
func extensionFor(mimetype string) string {
	for i := 0; i < len(mimetype); i++ {
		if mimetype[i] == ';' {
			mimetype = mimetype[:i]
			break
		}
	}
	if ext, ok := extensions[mimetype]; ok {
		return ext
	}
	return ".bin"
}
