package handlers

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/csrf"
	"github.com/rs/zerolog"
	"github.com/savage-app/savage/types"
	"github.com/yuin/goldmark"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page templates, each rendered inside templates/base.html.
const (
	pageHome          = "home"
	pageLogin         = "login"
	pageRegister      = "register"
	pageSettings      = "settings"
	pageNotifications = "notifications"
	pageMessages      = "messages"
	pageTrashed       = "trashed"
	pageSent          = "sent"
	pageMessage       = "message"
)

var pageNames = []string{
	pageHome, pageLogin, pageRegister, pageSettings, pageNotifications,
	pageMessages, pageTrashed, pageSent, pageMessage,
}

// page is the data every template receives.
type page struct {
	Title     string
	User      *types.User
	Unread    int
	CSRFField template.HTML
	Flash     map[string]string
	Errors    map[string]string
	Old       map[string]string
	Data      any
}

// Views holds the parsed page templates.
type Views struct {
	pages map[string]*template.Template
}

// NewViews parses every page template once.
func NewViews(log zerolog.Logger) (*Views, error) {
	md := goldmark.New()
	funcs := template.FuncMap{
		"markdown": func(src string) template.HTML {
			var buf bytes.Buffer
			if err := md.Convert([]byte(src), &buf); err != nil {
				log.Error().Err(err).Msg("convert markdown")
				return template.HTML(template.HTMLEscapeString(src))
			}
			// goldmark omits raw HTML unless built with html.WithUnsafe.
			return template.HTML(buf.String())
		},
		"date": func(t time.Time) string {
			return t.Format("Jan 2, 2006 15:04")
		},
	}

	views := &Views{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		tmpl, err := template.New("base.html").Funcs(funcs).ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		views.pages[name] = tmpl
	}
	return views, nil
}

// Render executes the named page into a buffer and writes it with status.
func (v *Views) Render(w http.ResponseWriter, status int, name string, data page) error {
	tmpl, ok := v.pages[name]
	if !ok {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return fmt.Errorf("unknown template %q", name)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return fmt.Errorf("execute template %s: %w", name, err)
	}

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// csrfField is empty when the request did not pass through csrf.Protect.
func csrfField(r *http.Request) template.HTML {
	if csrf.Token(r) == "" {
		return ""
	}
	return csrf.TemplateField(r)
}
