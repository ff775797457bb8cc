package domain

import (
	"strings"
	"time"
)

// Contact is an external WhatsApp party: a person or a group chat.
type Contact struct {
	ID        string
	Number    string
	Name      string
	AvatarURL string
	IsGroup   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanonicalNumber reduces a phone number or WhatsApp JID to its digits,
// e.g. "+55 (11) 99999-9999" and "5511999999999@s.whatsapp.net" both become
// "5511999999999". Group ids keep their hyphenated digits.
func CanonicalNumber(raw string) string {
	raw = strings.TrimSpace(raw)
	group := strings.HasSuffix(raw, "@g.us")
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	if colon := strings.IndexByte(raw, ':'); colon >= 0 {
		raw = raw[:colon]
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' && group && b.Len() > 0:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}
