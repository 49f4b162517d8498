package alerts

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// EmailMessage is one outbound email.
type EmailMessage struct {
	From        string
	To          []string
	Subject     string
	TextBody    string
	Attachments []EmailAttachment
}

// EmailAttachment is a file attached to an email.
type EmailAttachment struct {
	Filename string
	Content  []byte
}

// EmailTransport delivers a built message. Implementations raise on hard
// failure.
type EmailTransport interface {
	Send(ctx context.Context, msg *EmailMessage) error
}

// SMTPTransport sends mail through a plain SMTP relay.
type SMTPTransport struct {
	config domain.SMTPConfig
}

// NewSMTPTransport creates an SMTP-backed email transport.
func NewSMTPTransport(config domain.SMTPConfig) *SMTPTransport {
	return &SMTPTransport{config: config}
}

// Send delivers the message via SMTP.
func (t *SMTPTransport) Send(ctx context.Context, msg *EmailMessage) error {
	addr := fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)

	var auth smtp.Auth
	if t.config.Username != "" {
		auth = smtp.PlainAuth("", t.config.Username, t.config.Password, t.config.Host)
	}

	body, err := buildMIME(msg)
	if err != nil {
		return fmt.Errorf("building email body: %w", err)
	}

	if err := smtp.SendMail(addr, auth, msg.From, msg.To, body); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}

// buildMIME renders the message. Plain text when there are no attachments,
// multipart/mixed otherwise.
func buildMIME(msg *EmailMessage) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", msg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(msg.Attachments) == 0 {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		buf.WriteString(msg.TextBody)
		return buf.Bytes(), nil
	}

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", writer.Boundary())

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	part, err := writer.CreatePart(textHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(msg.TextBody)); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "application/pdf")
		header.Set("Content-Transfer-Encoding", "base64")
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(att.Content)
		if _, err := part.Write([]byte(encoded)); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EmailSender builds and delivers alert notification emails.
type EmailSender struct {
	transport EmailTransport
	artifacts domain.ArtifactProvider
	smtp      domain.SMTPConfig
	alerting  domain.AlertingConfig
	log       *logrus.Logger
}

// NewEmailSender creates an alert email sender. artifacts may be nil when
// PDF attachment is disabled.
func NewEmailSender(transport EmailTransport, artifacts domain.ArtifactProvider, smtpConfig domain.SMTPConfig, alerting domain.AlertingConfig, logger *logrus.Logger) *EmailSender {
	return &EmailSender{
		transport: transport,
		artifacts: artifacts,
		smtp:      smtpConfig,
		alerting:  alerting,
		log:       logger,
	}
}

// Deliver sends the alert to the given recipients. A missing or broken PDF
// artifact degrades to an email without attachment, never a failure.
func (s *EmailSender) Deliver(ctx context.Context, event *domain.AlertEvent, recipients []string) error {
	if len(recipients) == 0 {
		return domain.ErrNoRecipients
	}

	payload := event.Payload
	label := severityLabel(payload.Severity)

	msg := &EmailMessage{
		From:     s.smtp.FromAddress,
		To:       recipients,
		Subject:  fmt.Sprintf("[%s] %s drift alert: %s", strings.ToUpper(label), payload.ProductName, payload.EntityLabel),
		TextBody: s.buildBody(event, label),
	}

	if s.alerting.AttachPDF && s.artifacts != nil && event.ReportRunID != nil {
		if att := s.fetchPDF(ctx, event); att != nil {
			msg.Attachments = append(msg.Attachments, *att)
		}
	}

	if err := s.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("delivering alert email: %w", err)
	}
	return nil
}

func (s *EmailSender) buildBody(event *domain.AlertEvent, label string) string {
	payload := event.Payload
	requestID := uuid.New().String()

	var b strings.Builder
	fmt.Fprintf(&b, "%s detected a %s severity drift for %s.\n\n", payload.ProductName, label, payload.EntityLabel)
	fmt.Fprintf(&b, "Summary: %s moved from %.4f to %.4f (delta %+.4f), crossing rule %q (threshold %.2f).\n\n",
		payload.DriftType, payload.BaselineValue, payload.CurrentValue, payload.DeltaValue,
		payload.RuleName, payload.RuleThreshold)
	fmt.Fprintf(&b, "Review: %s/alerts/%s\n", strings.TrimRight(s.alerting.PortalBaseURL, "/"), event.ID)
	fmt.Fprintf(&b, "Request ID: %s\n", requestID)
	return b.String()
}

func (s *EmailSender) fetchPDF(ctx context.Context, event *domain.AlertEvent) *EmailAttachment {
	path, err := s.artifacts.ReportPDF(ctx, event.CustomerID, *event.ReportRunID)
	if err != nil {
		s.log.WithError(err).WithField("alert_event_id", event.ID).
			Warn("Report PDF unavailable; sending without attachment")
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		s.log.WithError(err).WithField("path", path).
			Warn("Could not read report PDF; sending without attachment")
		return nil
	}

	return &EmailAttachment{Filename: filepath.Base(path), Content: content}
}

// severityLabel buckets a numeric severity for humans: >=0.7 high,
// >=0.4 medium, else low; nil severity is unknown.
func severityLabel(severity *float64) string {
	if severity == nil {
		return "unknown"
	}
	switch {
	case *severity >= 0.7:
		return "high"
	case *severity >= 0.4:
		return "medium"
	default:
		return "low"
	}
}
