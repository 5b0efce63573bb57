// Package validate implements the declarative user-model validator: whitelist,
// sanitizers, per-field rules (including async custom validators that may do
// I/O), cross-field matches, renames and static field injection.
package validate

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/baechuer/sofauth/internal/domain"
)

var formats = validator.New()

// IsEmail reports whether s parses as an email address, using the same
// format check the Email rule applies.
func IsEmail(s string) bool {
	return formats.Var(s, "email") == nil
}

// CustomFn runs a field check that may hit the database (uniqueness probes).
// A non-empty message fails the field; an error aborts validation.
type CustomFn func(ctx context.Context, value any, doc map[string]any) (string, error)

type Model struct {
	Whitelist        []string
	Sanitize         map[string][]string
	Rules            map[string][]Rule
	Rename           map[string]string
	Static           map[string]any
	CustomValidators map[string]CustomFn
}

// Rule checks one field. present reports whether the field existed on the
// input at all; rules other than Presence skip absent or empty values.
type Rule interface {
	check(ctx context.Context, m *Model, field string, value any, present bool, doc map[string]any) (string, error)
}

type Presence struct {
	Message string
}

func (p Presence) check(_ context.Context, _ *Model, _ string, value any, present bool, _ map[string]any) (string, error) {
	if !present || value == nil {
		return p.message(), nil
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return p.message(), nil
	}
	return "", nil
}

func (p Presence) message() string {
	if p.Message != "" {
		return p.Message
	}
	return "can't be blank"
}

type Length struct {
	Minimum int
	Message string
}

func (l Length) check(_ context.Context, _ *Model, _ string, value any, present bool, _ map[string]any) (string, error) {
	s, ok := value.(string)
	if !present || !ok || s == "" {
		return "", nil
	}
	if len([]rune(s)) < l.Minimum {
		if l.Message != "" {
			return l.Message, nil
		}
		return fmt.Sprintf("is too short (minimum is %d characters)", l.Minimum), nil
	}
	return "", nil
}

// Matches fails unless the field equals another field of the same document.
type Matches struct {
	Field string
}

func (m Matches) check(_ context.Context, _ *Model, _ string, value any, present bool, doc map[string]any) (string, error) {
	if !present {
		return "", nil
	}
	if doc[m.Field] != value {
		return "does not match " + m.Field, nil
	}
	return "", nil
}

type Email struct{}

func (Email) check(_ context.Context, _ *Model, _ string, value any, present bool, _ map[string]any) (string, error) {
	s, ok := value.(string)
	if !present || !ok || s == "" {
		return "", nil
	}
	if err := formats.Var(s, "email"); err != nil {
		return "is not a valid email", nil
	}
	return "", nil
}

type Phone struct {
	Regexp *regexp.Regexp
}

func (p Phone) check(_ context.Context, _ *Model, _ string, value any, present bool, _ map[string]any) (string, error) {
	s, ok := value.(string)
	if !present || !ok || s == "" {
		return "", nil
	}
	if p.Regexp != nil && !p.Regexp.MatchString(s) {
		return "is not a valid phone number", nil
	}
	return "", nil
}

// Custom runs Fn, or the model's registered validator when only Name is set.
type Custom struct {
	Name string
	Fn   CustomFn
}

func (c Custom) check(ctx context.Context, m *Model, field string, value any, present bool, doc map[string]any) (string, error) {
	if !present {
		return "", nil
	}
	fn := c.Fn
	if fn == nil {
		fn = m.CustomValidators[c.Name]
	}
	if fn == nil {
		return "", fmt.Errorf("validate: no custom validator %q for field %s", c.Name, field)
	}
	return fn(ctx, value, doc)
}

// Validate runs the pipeline and returns the cleaned document, or a
// validation_failed domain error carrying the per-field messages. Non-domain
// errors signal broken wiring or failed I/O, not bad input.
func (m *Model) Validate(ctx context.Context, input map[string]any) (map[string]any, error) {
	doc := make(map[string]any, len(input))
	if len(m.Whitelist) > 0 {
		for _, f := range m.Whitelist {
			if v, ok := input[f]; ok {
				doc[f] = v
			}
		}
	} else {
		maps.Copy(doc, input)
	}

	for field, ops := range m.Sanitize {
		s, ok := doc[field].(string)
		if !ok {
			continue
		}
		for _, op := range ops {
			switch op {
			case "trim":
				s = strings.TrimSpace(s)
			case "toLowerCase":
				s = strings.ToLower(s)
			default:
				return nil, fmt.Errorf("validate: unknown sanitizer %q for field %s", op, field)
			}
		}
		doc[field] = s
	}

	failures := make(map[string][]string)
	fields := make([]string, 0, len(m.Rules))
	for field := range m.Rules {
		fields = append(fields, field)
	}
	slices.Sort(fields)
	for _, field := range fields {
		value, present := doc[field]
		for _, rule := range m.Rules[field] {
			msg, err := rule.check(ctx, m, field, value, present, doc)
			if err != nil {
				return nil, err
			}
			if msg != "" {
				failures[field] = append(failures[field], title(field)+" "+msg)
			}
		}
	}
	if len(failures) > 0 {
		return nil, domain.ErrValidationFailed(failures)
	}

	for old, renamed := range m.Rename {
		if v, ok := doc[old]; ok {
			doc[renamed] = v
			delete(doc, old)
		}
	}
	maps.Copy(doc, m.Static)
	return doc, nil
}

// Merge layers overlay onto base without mutating either. Whitelists union,
// sanitizers and rules append, renames/statics/custom validators override per
// key.
func Merge(base, overlay *Model) *Model {
	if overlay == nil {
		overlay = &Model{}
	}
	out := &Model{
		Whitelist:        slices.Clone(base.Whitelist),
		Sanitize:         make(map[string][]string),
		Rules:            make(map[string][]Rule),
		Rename:           make(map[string]string),
		Static:           make(map[string]any),
		CustomValidators: make(map[string]CustomFn),
	}
	for _, f := range overlay.Whitelist {
		if !slices.Contains(out.Whitelist, f) {
			out.Whitelist = append(out.Whitelist, f)
		}
	}
	for _, m := range []*Model{base, overlay} {
		for f, ops := range m.Sanitize {
			out.Sanitize[f] = append(out.Sanitize[f], ops...)
		}
		for f, rules := range m.Rules {
			out.Rules[f] = append(out.Rules[f], rules...)
		}
		maps.Copy(out.Rename, m.Rename)
		maps.Copy(out.Static, m.Static)
		maps.Copy(out.CustomValidators, m.CustomValidators)
	}
	return out
}

func title(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
