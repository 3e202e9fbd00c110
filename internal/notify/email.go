package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"xrpl-wash-monitor/internal/domain"
)

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Validate checks that the config can send mail.
func (c EmailConfig) Validate() error {
	if c.Host == "" {
		return errors.New("smtp host required")
	}
	if c.From == "" {
		return errors.New("smtp from address required")
	}
	if len(c.To) == 0 {
		return errors.New("smtp recipients required")
	}
	return nil
}

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel sends plain-text alert mails over SMTP.
type EmailChannel struct {
	cfg      EmailConfig
	sendMail sendMailFunc
	now      func() time.Time
}

// NewEmailChannel creates an SMTP channel.
func NewEmailChannel(cfg EmailConfig) (*EmailChannel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}, nil
}

// Name returns "email".
func (c *EmailChannel) Name() string { return "email" }

// Send delivers alert to all recipients.
func (c *EmailChannel) Send(ctx context.Context, alert *domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	err := c.sendMail(addr, auth, c.cfg.From, c.cfg.To, c.message(alert))
	if err == nil {
		return nil
	}

	// 4xx replies are transient per RFC 5321; so are network failures.
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 400 && tpErr.Code < 500 {
			return fmt.Errorf("%w: smtp: %v", ErrTemporary, err)
		}
		return fmt.Errorf("smtp: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: smtp: %v", ErrTemporary, err)
	}
	return fmt.Errorf("smtp: %w", err)
}

func (c *EmailChannel) message(alert *domain.Alert) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", domain.AlertSubject)
	fmt.Fprintf(&b, "Date: %s\r\n", c.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "X-Alert-ID: %s\r\n", alert.ID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(alert.Text(), "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

var _ Channel = (*EmailChannel)(nil)
