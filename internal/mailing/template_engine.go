// Package mailing turns a SendJob's content into the raw MIME message handed
// to the provider: Liquid personalization per recipient, markdown and HTML
// rendering, a plain-text alternative, and attachments.
package mailing

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
)

// RenderMode determines how the template engine handles errors
type RenderMode int

const (
	// RenderModeLax returns the template unchanged on errors (production sends)
	RenderModeLax RenderMode = iota
	// RenderModeStrict returns the error (preview/validation)
	RenderModeStrict
)

// TemplateService handles Liquid template rendering with caching. Templates
// are parsed once per cache key and rendered once per recipient.
type TemplateService struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateService creates a new template service with custom filters
func NewTemplateService() *TemplateService {
	ts := &TemplateService{engine: liquid.NewEngine()}
	ts.registerCustomFilters()
	return ts
}

// registerCustomFilters adds personalization filters
func (ts *TemplateService) registerCustomFilters() {
	// Default value filter: {{ email_local | default: "Friend" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// Capitalize first letter: {{ email_local | capitalize }}
	ts.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	// URL encode: {{ email | urlencode }}
	ts.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	// HTML escape (safety): {{ email | escape }}
	ts.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})
}

// Parse compiles a template string and returns any syntax errors
func (ts *TemplateService) Parse(templateStr string) error {
	_, err := ts.engine.ParseString(templateStr)
	return err
}

// Validate checks the Liquid markup of a job's subject and body before it
// is accepted. Problems are reported per field.
func (ts *TemplateService) Validate(subject, body string) error {
	verr := &domain.ValidationError{}
	for _, f := range []struct{ field, src string }{{"subject", subject}, {"body", body}} {
		if err := ts.Parse(f.src); err != nil {
			verr.Fields = append(verr.Fields, domain.FieldError{
				Field:   f.field,
				Message: "invalid template: " + err.Error(),
			})
		}
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Render processes a template with the given variables. A non-empty
// cacheKey caches the parsed template.
func (ts *TemplateService) Render(cacheKey, templateStr string, vars map[string]interface{}, mode RenderMode) (string, error) {
	// Plain content needs no parsing
	if !strings.Contains(templateStr, "{{") && !strings.Contains(templateStr, "{%") {
		return templateStr, nil
	}

	var tpl *liquid.Template
	if cacheKey != "" {
		if cached, ok := ts.cache.Load(cacheKey); ok {
			tpl = cached.(*liquid.Template)
		}
	}
	if tpl == nil {
		parsed, err := ts.engine.ParseString(templateStr)
		if err != nil {
			return ts.fallback(templateStr, mode, fmt.Errorf("parse template: %w", err))
		}
		tpl = parsed
		if cacheKey != "" {
			ts.cache.Store(cacheKey, tpl)
		}
	}

	out, err := tpl.RenderString(vars)
	if err != nil {
		return ts.fallback(templateStr, mode, fmt.Errorf("render template: %w", err))
	}
	return out, nil
}

func (ts *TemplateService) fallback(templateStr string, mode RenderMode, err error) (string, error) {
	if mode == RenderModeStrict {
		return "", err
	}
	logger.Warn("template: lax mode render warning", "error", err)
	return templateStr, nil
}

// ClearCacheKey removes one cached template
func (ts *TemplateService) ClearCacheKey(key string) {
	ts.cache.Delete(key)
}

// cached returns the number of cached templates.
func (ts *TemplateService) cached() int {
	n := 0
	ts.cache.Range(func(_, _ any) bool { n++; return true })
	return n
}

// RecipientVars returns the personalization variables for one address:
// email, email_local and email_domain.
func RecipientVars(recipient string) map[string]interface{} {
	local, domain, _ := strings.Cut(recipient, "@")
	return map[string]interface{}{
		"email":        recipient,
		"email_local":  local,
		"email_domain": domain,
	}
}
