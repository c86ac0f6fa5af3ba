package utils

import (
	"crypto/tls"
	"fmt"

	"dealflow/config"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// EmailProvider delivers through the configured SMTP server
type EmailProvider struct {
	cfg    config.SMTPConfig
	dialer *gomail.Dialer
}

func NewEmailProvider(cfg config.SMTPConfig) *EmailProvider {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.TLSConfig = &tls.Config{ServerName: cfg.Host}

	return &EmailProvider{
		cfg:    cfg,
		dialer: dialer,
	}
}

func (ep *EmailProvider) Send(payload OutboundPayload) (string, error) {
	if ep.cfg.From == "" {
		return "", fmt.Errorf("SMTP sender address is not configured")
	}

	messageID := fmt.Sprintf("<%s@dealflow>", uuid.New().String())

	m := gomail.NewMessage()
	m.SetAddressHeader("From", ep.cfg.From, ep.cfg.FromName)
	m.SetHeader("To", payload.Recipient)
	m.SetHeader("Subject", payload.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/plain", payload.Body)

	if err := ep.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("SMTP send failed: %w", err)
	}

	return messageID, nil
}
