// Package render turns a queued row's type, locale, and template context
// into the HTML and plain-text bodies a worker hands to transport. HTML
// templates are mandatory per type; a missing text template falls back to a
// locale-matched, per-type canned message instead of failing the send.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	texttemplate "text/template"

	"golang.org/x/text/language"

	"github.com/odiseo-io/email-service/internal/emailsvc/config"
	"github.com/odiseo-io/email-service/internal/emailsvc/errs"
	"github.com/odiseo-io/email-service/internal/emailsvc/models"
)

// funcs are registered on both the HTML and text template engines. Both are
// pass-throughs today, reserved for locale-aware formatting hooks later.
func formatDate(v any) string { return fmt.Sprintf("%v", v) }
func formatTime(v any) string { return fmt.Sprintf("%v", v) }

var htmlFuncs = htmltemplate.FuncMap{"formatDate": formatDate, "formatTime": formatTime}
var textFuncs = texttemplate.FuncMap{"formatDate": formatDate, "formatTime": formatTime}

// fallbackFieldDefaults covers every placeholder the catalogue templates
// reference, so a missing context field renders as a readable stand-in
// rather than "<no value>".
var fallbackFieldDefaults = map[string]string{
	"service_type":     "N/A",
	"booking_date":     "N/A",
	"booking_time":     "N/A",
	"duration_minutes": "N/A",
	"old_date":         "N/A",
	"old_time":         "N/A",
	"new_date":         "N/A",
	"new_time":         "N/A",
	"hours_until":      "24",
}

var fallbackCustomerNameByLocale = map[string]string{
	"en": "Customer",
	"es": "Cliente",
	"fr": "Client",
	"de": "Kunde",
	"it": "Cliente",
}

// Renderer loads HTML/text templates from a filesystem directory and a
// per-locale fallback-text catalogue from a directory of JSON files.
type Renderer struct {
	templateDir   string
	defaultLocale string
	catalogue     map[string]map[string]string // locale -> email type (or "default") -> template string
	localeKeys    []string                      // parallel to matcher's tag order
	matcher       language.Matcher
}

// New loads the fallback-text catalogue from cfg.LocalesDir (one <locale>.json
// file per locale) and prepares locale matching. Template files themselves
// are read lazily on each render call, so editing a template never requires
// a restart.
func New(cfg config.MailConfig) (*Renderer, error) {
	entries, err := os.ReadDir(cfg.LocalesDir)
	if err != nil {
		return nil, errs.Config(fmt.Sprintf("cannot read locales directory %s", cfg.LocalesDir), err)
	}

	catalogue := make(map[string]map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		locale := strings.TrimSuffix(entry.Name(), ".json")
		data, err := os.ReadFile(filepath.Join(cfg.LocalesDir, entry.Name()))
		if err != nil {
			return nil, errs.Config(fmt.Sprintf("cannot read locale catalogue %s", entry.Name()), err)
		}
		var messages map[string]string
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, errs.Config(fmt.Sprintf("invalid locale catalogue %s", entry.Name()), err)
		}
		catalogue[locale] = messages
	}

	if _, ok := catalogue[cfg.DefaultLocale]; !ok {
		return nil, errs.Config(fmt.Sprintf("locale catalogue missing default locale %q", cfg.DefaultLocale), nil)
	}

	var rest []string
	for locale := range catalogue {
		if locale != cfg.DefaultLocale {
			rest = append(rest, locale)
		}
	}
	sort.Strings(rest)
	localeKeys := append([]string{cfg.DefaultLocale}, rest...)

	tags := make([]language.Tag, len(localeKeys))
	for i, locale := range localeKeys {
		tags[i] = language.Make(locale)
	}

	return &Renderer{
		templateDir:   cfg.TemplateDir,
		defaultLocale: cfg.DefaultLocale,
		catalogue:     catalogue,
		localeKeys:    localeKeys,
		matcher:       language.NewMatcher(tags),
	}, nil
}

// RenderHTML renders the mandatory HTML template for emailType. A missing
// template file is a TemplateError — unlike text, there is no fallback.
func (r *Renderer) RenderHTML(emailType models.Type, data map[string]any) (string, error) {
	typ := models.NormalizeType(string(emailType))
	name := string(typ) + ".html"
	path := filepath.Join(r.templateDir, name)

	if _, err := os.Stat(path); err != nil {
		return "", errs.Template(fmt.Sprintf("template not found: %s", name), err, name)
	}

	tmpl, err := htmltemplate.New(name).Funcs(htmlFuncs).ParseFiles(path)
	if err != nil {
		return "", errs.Template(fmt.Sprintf("failed to parse template %s", name), err, name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errs.Template(fmt.Sprintf("failed to render template %s", name), err, name)
	}
	return buf.String(), nil
}

// RenderText renders the .txt template for emailType when one exists, and
// otherwise generates a locale-matched plaintext fallback from the
// catalogue. The fallback path never errors: it is the safety net text
// rendering falls back to, not another thing that can fail the send.
func (r *Renderer) RenderText(emailType models.Type, locale string, data map[string]any) (string, error) {
	typ := models.NormalizeType(string(emailType))
	name := string(typ) + ".txt"
	path := filepath.Join(r.templateDir, name)

	if _, err := os.Stat(path); err == nil {
		tmpl, err := texttemplate.New(name).Funcs(textFuncs).ParseFiles(path)
		if err != nil {
			return "", errs.Template(fmt.Sprintf("failed to parse template %s", name), err, name)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return "", errs.Template(fmt.Sprintf("failed to render template %s", name), err, name)
		}
		return buf.String(), nil
	}

	return r.renderFallback(typ, locale, data), nil
}

// TemplateExists reports whether a template file is present for emailType;
// kind is "html" or "text".
func (r *Renderer) TemplateExists(emailType models.Type, kind string) bool {
	ext := "html"
	if kind == "text" {
		ext = "txt"
	}
	typ := models.NormalizeType(string(emailType))
	path := filepath.Join(r.templateDir, string(typ)+"."+ext)
	_, err := os.Stat(path)
	return err == nil
}

// renderFallback picks the best-matching locale catalogue, looks up the
// per-type message (or the generic "default" one), and substitutes context
// fields into it.
func (r *Renderer) renderFallback(typ models.Type, locale string, data map[string]any) string {
	localeKey := r.matchLocale(locale)
	messages := r.catalogue[localeKey]

	tmplStr, ok := messages[string(typ)]
	if !ok {
		tmplStr = messages["default"]
	}

	tmpl, err := texttemplate.New("fallback").Parse(tmplStr)
	if err != nil {
		return tmplStr
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, mergeFallbackData(localeKey, data)); err != nil {
		return tmplStr
	}
	return buf.String()
}

// matchLocale resolves locale (a BCP-47 tag, possibly empty or unknown) to
// one of the catalogue's locale keys, falling back to the default.
func (r *Renderer) matchLocale(locale string) string {
	if locale == "" {
		return r.defaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return r.defaultLocale
	}
	_, index, _ := r.matcher.Match(tag)
	return r.localeKeys[index]
}

// mergeFallbackData fills in defaults for every placeholder the catalogue
// templates reference, then layers the caller's context on top.
func mergeFallbackData(locale string, data map[string]any) map[string]any {
	name, ok := fallbackCustomerNameByLocale[locale]
	if !ok {
		name = "Customer"
	}

	merged := make(map[string]any, len(fallbackFieldDefaults)+len(data)+1)
	merged["customer_name"] = name
	for k, v := range fallbackFieldDefaults {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	return merged
}
