package whatsapp

import (
	"context"
	"errors"

	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// ErrDisabled is wrapped by DisabledSender failures.
var ErrDisabled = errors.New("whatsapp: transport disabled")

// DisabledSender stands in when WHATSAPP_ENABLED is false. Every send fails
// as a transport failure so callers see the same error shape as a real outage.
type DisabledSender struct{}

func (DisabledSender) SendText(context.Context, string, Identity, string) (string, error) {
	return "", apperrors.NewTransportFailure(ErrDisabled)
}

func (DisabledSender) SendMedia(context.Context, string, Identity, OutboundMedia) (string, string, error) {
	return "", "", apperrors.NewTransportFailure(ErrDisabled)
}
