package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/chesley-web/siteops/internal/config"
	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// Notifier delivers a short operator message.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// New returns an SMTP mailer when a recipient is configured, otherwise a
// notifier that only logs.
func New(cfg config.MailConfig, log zerolog.Logger) Notifier {
	if strings.TrimSpace(cfg.To) == "" || cfg.Host == "" {
		return &LogNotifier{log: log}
	}
	return &Mailer{cfg: cfg}
}

// Mailer sends plain-text email over SMTP.
type Mailer struct {
	cfg config.MailConfig
}

func NewMailer(cfg config.MailConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

func (m *Mailer) Notify(ctx context.Context, subject, body string) error {
	msg, err := m.message(subject, body)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(m.cfg.Host, m.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client init failed: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending %q failed: %w", subject, err)
	}
	return nil
}

func (m *Mailer) message(subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.cfg.From, err)
	}
	if err := msg.To(recipients(m.cfg.To)...); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", m.cfg.To, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func (m *Mailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.User),
			mail.WithPassword(m.cfg.Password),
		)
	}
	return opts
}

func recipients(to string) []string {
	var out []string
	for _, addr := range strings.Split(to, ",") {
		if a := strings.TrimSpace(addr); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, subject, body string) error {
	n.log.Info().Str("subject", subject).Str("body", body).Msg("notification (email not configured)")
	return nil
}

var (
	_ Notifier = (*Mailer)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
