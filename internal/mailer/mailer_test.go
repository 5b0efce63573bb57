package mailer

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/baechuer/sofauth/internal/config"
)

type fakeSender struct {
	calls    int
	to       string
	subject  string
	textBody string
	htmlBody string
	err      error
}

func (s *fakeSender) Send(_ context.Context, to, subject, textBody, htmlBody string) error {
	s.calls++
	s.to = to
	s.subject = subject
	s.textBody = textBody
	s.htmlBody = htmlBody
	return s.err
}

func TestSendDefaultTemplate(t *testing.T) {
	sender := &fakeSender{}
	m, err := New(sender, &config.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = m.Send(context.Background(), "confirmEmail", "kirby@example.com", map[string]any{
		"token": "tok-123",
		"url":   "http://app.local/confirm?token=tok-123",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if sender.calls != 1 || sender.to != "kirby@example.com" {
		t.Fatalf("sender calls=%d to=%q", sender.calls, sender.to)
	}
	if sender.subject != "Please confirm your email" {
		t.Errorf("subject = %q", sender.subject)
	}
	if sender.textBody != "" {
		t.Errorf("html template delivered a text body: %q", sender.textBody)
	}
	if !strings.Contains(sender.htmlBody, "http://app.local/confirm?token=tok-123") {
		t.Errorf("url missing from body:\n%s", sender.htmlBody)
	}
}

func TestSendConfiguredOverride(t *testing.T) {
	cfg := &config.Config{
		Emails: map[string]config.EmailTemplate{
			"forgotPassword": {
				Subject:  "Reset it",
				Format:   "text",
				Template: "Reset here: {{.url}}",
			},
		},
	}
	sender := &fakeSender{}
	m, err := New(sender, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = m.Send(context.Background(), "forgotPassword", "kirby@example.com", map[string]any{
		"url": "http://app.local/reset?token=abc",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if sender.subject != "Reset it" {
		t.Errorf("subject = %q", sender.subject)
	}
	if sender.textBody != "Reset here: http://app.local/reset?token=abc" {
		t.Errorf("textBody = %q", sender.textBody)
	}
	if sender.htmlBody != "" {
		t.Errorf("text template delivered an html body: %q", sender.htmlBody)
	}
}

func TestSendUnknownTemplate(t *testing.T) {
	m, err := New(&fakeSender{}, &config.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Send(context.Background(), "nope", "x@example.com", nil); err == nil {
		t.Fatal("want error for unregistered template")
	}
}

func TestNoEmailSkipsDelivery(t *testing.T) {
	cfg := &config.Config{}
	cfg.TestMode.NoEmail = true
	sender := &fakeSender{}
	m, err := New(sender, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = m.Send(context.Background(), "confirmEmail", "kirby@example.com", map[string]any{
		"url": "http://app.local/confirm?token=tok",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sender.calls != 0 {
		t.Errorf("sender called %d times with noEmail set", sender.calls)
	}
}

func TestNewRejectsBrokenOverride(t *testing.T) {
	cfg := &config.Config{
		Emails: map[string]config.EmailTemplate{
			"broken": {Template: "{{.url"},
		},
	}
	if _, err := New(&fakeSender{}, cfg, zerolog.Nop()); err == nil {
		t.Fatal("want parse error at wiring time")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	cfg := &config.Config{
		Emails: map[string]config.EmailTemplate{
			"odd": {Format: "markdown", Template: "hello"},
		},
	}
	if _, err := New(&fakeSender{}, cfg, zerolog.Nop()); err == nil {
		t.Fatal("want unknown-format error")
	}
}
