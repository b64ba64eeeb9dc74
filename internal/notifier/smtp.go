package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
)

// smtpTransport dials a fresh client per message so concurrent
// deliveries do not share one connection.
type smtpTransport struct {
	host string
	opts []mail.Option
}

func newSMTP(cfg Config) (*smtpTransport, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts := []mail.Option{mail.WithTimeout(timeout)}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.TLS)) {
	case "", "mandatory":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	case "opportunistic":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	case "ssl":
		opts = append(opts, mail.WithSSL())
	default:
		return nil, fmt.Errorf("unknown smtp tls mode %q", cfg.TLS)
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	t := &smtpTransport{host: host, opts: opts}
	if _, err := t.newClient(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *smtpTransport) newClient() (*mail.Client, error) {
	return mail.NewClient(t.host, t.opts...)
}

func (t *smtpTransport) Name() string { return "smtp" }

func (t *smtpTransport) Send(ctx context.Context, m Message) error {
	msg, err := buildMsg(m)
	if err != nil {
		return err
	}
	c, err := t.newClient()
	if err != nil {
		return err
	}
	return c.DialAndSendWithContext(ctx, msg)
}

func (t *smtpTransport) Close() error { return nil }

func buildMsg(m Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return nil, fmt.Errorf("from %q: %w", m.From, err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("to %q: %w", m.To, err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	return msg, nil
}
