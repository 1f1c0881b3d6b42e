package utils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
	"leadforge/config"
)

// OutboundEmail is one rendered message ready for delivery.
type OutboundEmail struct {
	MessageID      string
	FromName       string
	FromEmail      string
	ReplyTo        string
	To             string
	ToName         string
	Subject        string
	HTMLBody       string
	UnsubscribeURL string
}

// MailTransport delivers a message and returns the provider's identifier
// for it.
type MailTransport interface {
	Send(ctx context.Context, email OutboundEmail) (string, error)
}

// FormatMessageID renders the Message-ID header for an internal id.
func FormatMessageID(id, domain string) string {
	return fmt.Sprintf("<%s@%s>", id, domain)
}

// ParseMessageID extracts the internal id from a Message-ID, In-Reply-To or
// References header value.
func ParseMessageID(header string) string {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "<")
	header = strings.TrimSuffix(header, ">")
	if at := strings.Index(header, "@"); at >= 0 {
		header = header[:at]
	}
	return header
}

// SMTPTransport sends through one SMTP relay, retrying temporary failures.
type SMTPTransport struct {
	dialer     *gomail.Dialer
	domain     string
	maxRetries int
	sleep      func(time.Duration)
}

func NewSMTPTransport(cfg config.SMTPConfig, messageIDDomain string) *SMTPTransport {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return &SMTPTransport{
		dialer:     dialer,
		domain:     messageIDDomain,
		maxRetries: 3,
		sleep:      time.Sleep,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, email OutboundEmail) (string, error) {
	m := t.buildMessage(email)

	var lastErr error
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if attempt > 1 {
			t.sleep(time.Duration(attempt*attempt) * time.Second)
		}

		if lastErr = t.dialer.DialAndSend(m); lastErr == nil {
			return FormatMessageID(email.MessageID, t.domain), nil
		}
		if !IsTemporarySMTPError(lastErr) {
			break
		}
	}
	return "", fmt.Errorf("smtp send failed: %w", lastErr)
}

func (t *SMTPTransport) buildMessage(email OutboundEmail) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", email.FromEmail, email.FromName)
	if email.ToName != "" {
		m.SetAddressHeader("To", email.To, email.ToName)
	} else {
		m.SetHeader("To", email.To)
	}
	if email.ReplyTo != "" {
		m.SetHeader("Reply-To", email.ReplyTo)
	}
	m.SetHeader("Subject", email.Subject)
	m.SetHeader("Message-ID", FormatMessageID(email.MessageID, t.domain))
	if email.UnsubscribeURL != "" {
		m.SetHeader("List-Unsubscribe", "<"+email.UnsubscribeURL+">")
	}
	m.SetBody("text/html", email.HTMLBody)
	return m
}

// IsTemporarySMTPError reports 4xx replies and transient network errors.
func IsTemporarySMTPError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{"try again", "temporary", "421", "450", "451", "452", " 4."} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// LogTransport accepts every message and only logs it.
type LogTransport struct {
	logger *logrus.Logger
}

func NewLogTransport(logger *logrus.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, email OutboundEmail) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.logger.WithFields(logrus.Fields{
		"message_id": email.MessageID,
		"to":         email.To,
		"subject":    email.Subject,
	}).Info("Outbound email (log transport)")
	return "log-" + email.MessageID, nil
}

// NewMailTransport picks the transport named by MAIL_TRANSPORT.
func NewMailTransport(cfg config.Config, logger *logrus.Logger) MailTransport {
	if cfg.MailTransport == "smtp" {
		return NewSMTPTransport(cfg.SMTP, cfg.MessageIDDomain)
	}
	return NewLogTransport(logger)
}
