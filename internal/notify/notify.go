// Package notify delivers one-time passcodes and password-reset links.
//
// No delivery provider is wired yet; LogSender writes each message to the
// structured log so the flows work end to end in development.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) error
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

var (
	_ SMSSender   = (*LogSender)(nil)
	_ EmailSender = (*LogSender)(nil)
)

// LogSender implements both senders by logging at Info.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "notify"))}
}

func (s *LogSender) SendSMS(ctx context.Context, phone, message string) error {
	s.logger.InfoContext(ctx, "sms queued",
		slog.String("to", phone),
		slog.String("body", message),
	)
	return nil
}

func (s *LogSender) SendEmail(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "email queued",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("body", body),
	)
	return nil
}

// Message is one delivery recorded by Recorder.
type Message struct {
	To      string
	Subject string // empty for SMS
	Body    string
}

// Recorder keeps every message in memory. Tests use it to read back the
// codes and links a flow sent.
type Recorder struct {
	mu     sync.Mutex
	SMS    []Message
	Emails []Message
	Err    error // returned from every send when set
}

func (r *Recorder) SendSMS(_ context.Context, phone, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.SMS = append(r.SMS, Message{To: phone, Body: message})
	return nil
}

func (r *Recorder) SendEmail(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Emails = append(r.Emails, Message{To: to, Subject: subject, Body: body})
	return nil
}

// LastSMS returns the most recent SMS, or false if none was sent.
func (r *Recorder) LastSMS() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.SMS) == 0 {
		return Message{}, false
	}
	return r.SMS[len(r.SMS)-1], true
}

// LastEmail returns the most recent email, or false if none was sent.
func (r *Recorder) LastEmail() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Emails) == 0 {
		return Message{}, false
	}
	return r.Emails[len(r.Emails)-1], true
}
