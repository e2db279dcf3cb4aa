package main

// This file defines pluggable alert handlers for security events that an
// owner should hear about even when nobody is near the vehicle: a lockout
// after repeated failed attempts, and a confirmed emergency shutdown.

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// AlertKind classifies an alert.
type AlertKind string

const (
	AlertLockout  AlertKind = "lockout"
	AlertShutdown AlertKind = "shutdown"
)

// Alert is one notification.
type Alert struct {
	Kind    AlertKind
	Message string
	At      time.Time
}

// AlertHandler represents a mechanism that can deliver an Alert.  If Send
// returns an error, the caller logs it and carries on.
type AlertHandler interface {
	Name() string
	Send(alert Alert, logger *EventLogger) error
}

// LogAlert writes the alert to the event log.  This is the default alert
// handler if no other alerts are configured.
type LogAlert struct{}

// Name returns the type name of the alert handler.
func (LogAlert) Name() string { return "log" }

// Send writes an alert to the event log.
func (LogAlert) Send(alert Alert, logger *EventLogger) error {
	logger.Log("alert: %s: %s", alert.Kind, alert.Message)
	return nil
}

// EmailAlert sends an email via an SMTP server.  The subject defaults to
// "Ignition alert" if empty.
type EmailAlert struct {
	SMTPServer string
	SMTPPort   int
	Username   string
	Password   string
	From       string
	To         string
	Subject    string
}

// Name returns the type name of the alert handler.
func (EmailAlert) Name() string { return "email" }

// Send dispatches an email.  Errors from smtp.SendMail are returned directly
// so the caller can log them.
func (e EmailAlert) Send(alert Alert, logger *EventLogger) error {
	subject := e.Subject
	if subject == "" {
		subject = "Ignition alert"
	}
	body := fmt.Sprintf("%s at %s: %s", alert.Kind, alert.At.Format(time.RFC1123), alert.Message)
	// RFC 5322 requires CRLF line endings.
	msg := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", e.To, subject, body)
	addr := fmt.Sprintf("%s:%d", e.SMTPServer, e.SMTPPort)
	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.SMTPServer)
	}
	return smtp.SendMail(addr, auth, e.From, []string{e.To}, []byte(msg))
}

// initAlertHandlers constructs the handlers listed in the configuration.  If
// none are usable a single LogAlert is returned so alerts are always recorded.
func initAlertHandlers(cfg Config) []AlertHandler {
	var handlers []AlertHandler
	for _, ac := range cfg.Alerts {
		switch strings.ToLower(ac.Type) {
		case "log":
			handlers = append(handlers, LogAlert{})
		case "email":
			handlers = append(handlers, EmailAlert{
				SMTPServer: ac.SMTPServer,
				SMTPPort:   ac.SMTPPort,
				Username:   ac.Username,
				Password:   ac.Password,
				From:       ac.From,
				To:         ac.To,
				Subject:    ac.Subject,
			})
		}
	}
	if len(handlers) == 0 {
		handlers = append(handlers, LogAlert{})
	}
	return handlers
}
