package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// EmailOptions 描述 SMTP 渠道参数。
type EmailOptions struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	RequireTLS bool
	Timeout    time.Duration
}

// EmailNotifier 通过 SMTP 发送通知邮件。
type EmailNotifier struct {
	opts   EmailOptions
	logger zerolog.Logger
	send   func(ctx context.Context, msg *mail.Msg) error
}

// NewEmailNotifier 构造邮件通知器。
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	n := &EmailNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "notify_email").Logger(),
	}
	n.send = n.dialAndSend
	return n
}

// Notify sends one plain-text mail to address.
func (n *EmailNotifier) Notify(ctx context.Context, address string, note Notification) error {
	if address == "" {
		return fmt.Errorf("email recipient not configured")
	}

	msg := mail.NewMsg()
	if err := msg.From(n.opts.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(address); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(renderSubject(note))
	msg.SetBodyString(mail.TypeTextPlain, renderMessage(note))

	if err := n.send(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", address, err)
	}

	n.logger.Info().Str("market", note.MarketID).
		Str("offer", note.Offer.Offer.ShortID()).
		Str("to", address).
		Msg("通知已发送 (Email)")
	return nil
}

func (n *EmailNotifier) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(n.opts.Port),
		mail.WithTimeout(n.opts.Timeout),
	}
	if n.opts.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.opts.Username),
			mail.WithPassword(n.opts.Password),
		)
	}
	if n.opts.RequireTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(n.opts.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

var _ Notifier = (*EmailNotifier)(nil)
