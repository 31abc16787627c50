package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"monthcal/internal/model"
)

//go:embed templates
var templateFiles embed.FS

const baseTemplatePath = "templates/base.gohtml"

// newPageCache parses every page together with the base layout, keyed by
// page name ("index", "month", "day").
func newPageCache(funcs template.FuncMap) (map[string]*template.Template, error) {
	paths, err := fs.Glob(templateFiles, "templates/pages/*.gohtml")
	if err != nil {
		return nil, err
	}

	cache := make(map[string]*template.Template, len(paths))
	for _, p := range paths {
		tmpl, err := template.New("base").Funcs(funcs).ParseFS(templateFiles, baseTemplatePath, p)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		cache[strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))] = tmpl
	}
	return cache, nil
}

// renderPage executes into a buffer first so a template error never leaves
// a half-written response.
func (s *Server) renderPage(w http.ResponseWriter, page string, data any) {
	tmpl := s.pages[page]
	if tmpl == nil {
		s.serverError(w, fmt.Errorf("page %q not found", page))
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		s.serverError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func timeRange(o model.Occurrence) string {
	if o.AllDay {
		return "all day"
	}
	if !o.End.After(o.Start) {
		return o.Start.Format("15:04")
	}
	if o.End.YearDay() != o.Start.YearDay() || o.End.Year() != o.Start.Year() {
		return o.Start.Format("Jan 2 15:04") + " - " + o.End.Format("Jan 2 15:04")
	}
	return o.Start.Format("15:04") + " - " + o.End.Format("15:04")
}
