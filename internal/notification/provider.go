// Package notification delivers templated customer communication.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"path/filepath"
)

// Provider sends a templated message to a recipient. Implementations
// must treat delivery failures as errors so callers can feed them into
// retry and dunning logic.
type Provider interface {
	Send(ctx context.Context, templateID string, recipient string, data map[string]any) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, templateID string, recipient string, data map[string]any) error {
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) Send(ctx context.Context, templateID string, recipient string, data map[string]any) error {
	tmplPath := filepath.Join("internal", "notification", "templates", templateID+".html")
	t, err := template.ParseFiles(tmplPath)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	var body bytes.Buffer
	if err := t.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	subject := "Notification from Recurra"
	if subj, ok := data["subject"].(string); ok && subj != "" {
		subject = subj
	}

	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", recipient, subject, mime, body.String()))

	return smtp.SendMail(addr, auth, p.cfg.From, []string{recipient}, msg)
}
