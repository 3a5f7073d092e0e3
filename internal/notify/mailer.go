package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qurrota/apiserver/config"
	"github.com/qurrota/apiserver/types"
	"github.com/wneessen/go-mail"
)

// ErrDisabled is returned by SMTPMailer when no SMTP credentials are set.
var ErrDisabled = errors.New("email delivery disabled")

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, n types.Notification) error
}

// SMTPMailer renders notifications and sends them over authenticated SMTP.
type SMTPMailer struct {
	cfg     config.EmailConfig
	timeout time.Duration
}

func NewSMTPMailer(cfg config.EmailConfig, timeout time.Duration) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, timeout: timeout}
}

func (m *SMTPMailer) Send(ctx context.Context, n types.Notification) error {
	if !m.cfg.EmailEnabled() {
		return ErrDisabled
	}

	rendered, err := Render(n)
	if err != nil {
		return err
	}
	msg, err := m.message(n.To, rendered)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	}
	if m.timeout > 0 {
		opts = append(opts, mail.WithTimeout(m.timeout))
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) message(to string, rendered Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	from := m.cfg.FromAddress
	if from == "" {
		from = m.cfg.Username
	}
	if err := msg.FromFormat(m.cfg.FromName, from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(rendered.Subject)
	msg.SetBodyString(mail.TypeTextPlain, rendered.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, rendered.HTML)
	return msg, nil
}
