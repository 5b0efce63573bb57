// Package mailer renders named email templates and hands them to a transport
// sender. Templates ship with usable defaults and can be replaced per key
// through configuration.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"io"
	texttemplate "text/template"

	"github.com/rs/zerolog"

	"github.com/baechuer/sofauth/internal/config"
)

// Sender delivers one rendered message. Implementations decide transport;
// an empty textBody or htmlBody means that alternative is absent.
type Sender interface {
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
}

type executor interface {
	Execute(w io.Writer, data any) error
}

type compiled struct {
	subject string
	format  string
	tmpl    executor
}

// Mailer is the template registry in front of a Sender.
type Mailer struct {
	sender    Sender
	templates map[string]compiled
	noEmail   bool
	log       zerolog.Logger
}

// New compiles the default templates plus any configured overrides. A broken
// override fails wiring rather than the first send.
func New(sender Sender, cfg *config.Config, lg zerolog.Logger) (*Mailer, error) {
	m := &Mailer{
		sender:    sender,
		templates: make(map[string]compiled, len(defaultTemplates)+len(cfg.Emails)),
		noEmail:   cfg.TestMode.NoEmail,
		log:       lg.With().Str("component", "mailer").Logger(),
	}
	for key, t := range defaultTemplates {
		c, err := compile(key, t)
		if err != nil {
			return nil, err
		}
		m.templates[key] = c
	}
	for key, t := range cfg.Emails {
		c, err := compile(key, t)
		if err != nil {
			return nil, err
		}
		m.templates[key] = c
	}
	return m, nil
}

func compile(key string, t config.EmailTemplate) (compiled, error) {
	format := t.Format
	if format == "" {
		format = "html"
	}
	c := compiled{subject: t.Subject, format: format}
	var err error
	switch format {
	case "html":
		c.tmpl, err = htmltemplate.New(key).Parse(t.Template)
	case "text":
		c.tmpl, err = texttemplate.New(key).Parse(t.Template)
	default:
		return compiled{}, fmt.Errorf("mailer: template %q: unknown format %q", key, format)
	}
	if err != nil {
		return compiled{}, fmt.Errorf("mailer: parse template %q: %w", key, err)
	}
	return c, nil
}

// Send renders the named template with data and delivers it. With the
// test-mode noEmail flag set, delivery is skipped after a successful render
// so tests still catch template errors.
func (m *Mailer) Send(ctx context.Context, templateKey, to string, data map[string]any) error {
	c, ok := m.templates[templateKey]
	if !ok {
		return fmt.Errorf("mailer: no template registered for %q", templateKey)
	}
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("mailer: render %q: %w", templateKey, err)
	}
	if m.noEmail {
		m.log.Debug().Str("template", templateKey).Str("to", to).Msg("noEmail set, skipping delivery")
		return nil
	}
	text, html := buf.String(), ""
	if c.format == "html" {
		text, html = "", buf.String()
	}
	return m.sender.Send(ctx, to, c.subject, text, html)
}
