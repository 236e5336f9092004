// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

// Package notify delivers access-request emails to document admins. SMTP
// sits behind a circuit breaker so a dead mail server sheds load quickly
// instead of tying up notification workers in connect timeouts.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/coscribe/internal/config"
	"github.com/tomtom215/coscribe/internal/logging"
	"github.com/tomtom215/coscribe/internal/relay"
)

// NewMailer builds the mailer for the given configuration. When SMTP is
// disabled the relay still works; notifications are logged and skipped.
func NewMailer(cfg *config.SMTPConfig) relay.MailerPort {
	if cfg == nil || !cfg.Enabled {
		logging.Info().Msg("smtp disabled, access-request notifications will not be delivered")
		return NoopMailer{}
	}
	return NewSMTPMailer(cfg)
}

// NoopMailer drops notifications. Used when SMTP is not configured.
type NoopMailer struct{}

// SendAccessRequest logs the skipped notification.
func (NoopMailer) SendAccessRequest(_ context.Context, to, requesterName, documentTitle, _ string) error {
	logging.Debug().
		Str("to", to).
		Str("requester", requesterName).
		Str("document", documentTitle).
		Msg("notification skipped, smtp disabled")
	return nil
}

// SMTPMailer implements relay.MailerPort over a plain SMTP session.
type SMTPMailer struct {
	cfg     *config.SMTPConfig
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[struct{}]

	// send is swappable for tests; defaults to sendSMTP.
	send func(ctx context.Context, to, msg string) error
}

// NewSMTPMailer creates a mailer talking to the configured SMTP server.
//
// Circuit breaker configuration:
// - Opens after 60% failure rate with minimum 5 requests
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
func NewSMTPMailer(cfg *config.SMTPConfig) *SMTPMailer {
	m := &SMTPMailer{
		cfg:     cfg,
		timeout: cfg.Timeout,
	}
	if m.timeout <= 0 {
		m.timeout = 30 * time.Second
	}
	m.send = m.sendSMTP

	m.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("smtp circuit breaker state change")
		},
	})

	return m
}

// SendAccessRequest renders and delivers one notification email.
func (m *SMTPMailer) SendAccessRequest(ctx context.Context, to, requesterName, documentTitle, requestedRole string) error {
	body, err := renderAccessRequest(accessRequestData{
		RequesterName: requesterName,
		DocumentTitle: documentTitle,
		RequestedRole: requestedRole,
	})
	if err != nil {
		return fmt.Errorf("failed to render notification: %w", err)
	}

	subject := fmt.Sprintf("Access request for %s", documentTitle)
	msg := m.buildMessage(to, subject, body)

	_, err = m.cb.Execute(func() (struct{}, error) {
		return struct{}{}, m.send(ctx, to, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to send notification to %s: %w", to, err)
	}
	return nil
}

// buildMessage constructs the full RFC 5322 message with headers.
func (m *SMTPMailer) buildMessage(to, subject string, body renderedBody) string {
	fromName := m.cfg.FromName
	if fromName == "" {
		fromName = "Coscribe"
	}

	boundary := fmt.Sprintf("boundary_%d", time.Now().UnixNano())

	var msg []byte
	appendLine := func(line string) { msg = append(msg, line...); msg = append(msg, "\r\n"...) }

	appendLine(fmt.Sprintf("From: %s <%s>", fromName, m.cfg.From))
	appendLine(fmt.Sprintf("To: %s", to))
	appendLine(fmt.Sprintf("Subject: %s", subject))
	appendLine("MIME-Version: 1.0")
	appendLine(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", boundary))
	appendLine("")

	appendLine(fmt.Sprintf("--%s", boundary))
	appendLine("Content-Type: text/plain; charset=UTF-8")
	appendLine("")
	appendLine(body.text)

	appendLine(fmt.Sprintf("--%s", boundary))
	appendLine("Content-Type: text/html; charset=UTF-8")
	appendLine("")
	appendLine(body.html)

	appendLine(fmt.Sprintf("--%s--", boundary))

	return string(msg)
}

// sendSMTP runs one SMTP session against the configured server.
func (m *SMTPMailer) sendSMTP(ctx context.Context, to, msg string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }() //nolint:errcheck // Best effort cleanup

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }() //nolint:errcheck // Best effort cleanup

	if m.cfg.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: m.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := writer.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// Quit failures after a delivered message are not send failures.
	if err := client.Quit(); err != nil {
		logging.Debug().Err(err).Msg("smtp quit failed after delivery")
	}
	return nil
}
