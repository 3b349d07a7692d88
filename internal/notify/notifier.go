package notify

import (
	"context"
	"errors"

	"github.com/reportcast/internal/apperrors"
	"github.com/reportcast/internal/report"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// RunIDHeader carries the per-run token so receivers can drop duplicates
// after an at-least-once retry.
const RunIDHeader = "X-Report-Run-ID"

type Message struct {
	To         []string
	Subject    string
	Body       string
	Attachment *report.Artifact
	RunID      string
}

type Config struct {
	From          string
	FromName      string
	ReplyTo       string
	AllowFallback bool
}

// Notifier delivers report emails over a primary channel and, when allowed,
// retries once over the secondary channel. A nil primary means the
// structured transport is disabled and the secondary is the only channel.
type Notifier struct {
	cfg       Config
	primary   Channel
	secondary Channel
}

func NewNotifier(cfg Config, primary, secondary Channel) *Notifier {
	return &Notifier{cfg: cfg, primary: primary, secondary: secondary}
}

// Deliver validates all recipients before touching any channel.
func (n *Notifier) Deliver(ctx context.Context, msg Message) error {
	if err := ValidateRecipients(msg.To); err != nil {
		return err
	}
	m := n.build(msg)
	logger := zerolog.Ctx(ctx)

	if n.primary == nil {
		if n.secondary == nil {
			return &apperrors.DeliveryError{Primary: errors.New("no email channel configured")}
		}
		if err := n.secondary.Send(ctx, m); err != nil {
			return &apperrors.DeliveryError{Primary: err, Timeout: apperrors.IsTimeout(err)}
		}
		return nil
	}

	primaryErr := n.primary.Send(ctx, m)
	if primaryErr == nil {
		return nil
	}
	logger.Warn().Err(primaryErr).Str("channel", n.primary.Name()).Msg("primary email channel failed")

	if !n.cfg.AllowFallback || n.secondary == nil {
		return &apperrors.DeliveryError{Primary: primaryErr, Timeout: apperrors.IsTimeout(primaryErr)}
	}
	if ctx.Err() != nil {
		return &apperrors.DeliveryError{Primary: primaryErr, Timeout: true}
	}

	secondaryErr := n.secondary.Send(ctx, m)
	if secondaryErr == nil {
		logger.Info().Str("channel", n.secondary.Name()).Msg("delivered through fallback channel")
		return nil
	}
	return &apperrors.DeliveryError{
		Primary:   primaryErr,
		Secondary: secondaryErr,
		Timeout:   apperrors.IsTimeout(secondaryErr),
	}
}

func (n *Notifier) build(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	if n.cfg.FromName != "" {
		m.SetAddressHeader("From", n.cfg.From, n.cfg.FromName)
	} else {
		m.SetHeader("From", n.cfg.From)
	}
	if n.cfg.ReplyTo != "" {
		m.SetHeader("Reply-To", n.cfg.ReplyTo)
	}
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	if msg.RunID != "" {
		m.SetHeader(RunIDHeader, msg.RunID)
	}
	m.SetBody("text/plain", msg.Body)
	if msg.Attachment != nil {
		m.Attach(msg.Attachment.Path, gomail.Rename(msg.Attachment.Filename))
	}
	return m
}
