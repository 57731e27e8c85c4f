package mail

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"path"
	"strings"
	texttemplate "text/template"
)

// FallbackTemplateKey is rendered for any key without a template file.
const FallbackTemplateKey = "generic-thank-you"

//go:embed templates/*.tmpl
var templateFS embed.FS

type pair struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

// Renderer holds the parsed nurture templates. Each templates/<key>.tmpl file
// defines an "html" and a "text" block.
type Renderer struct {
	byKey map[string]pair
}

func NewRenderer() (*Renderer, error) {
	files, err := fs.Glob(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}
	r := &Renderer{byKey: make(map[string]pair, len(files))}
	for _, file := range files {
		raw, err := templateFS.ReadFile(file)
		if err != nil {
			return nil, err
		}
		key := strings.TrimSuffix(path.Base(file), ".tmpl")
		h, err := htmltemplate.New(key).Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse html template %s: %w", key, err)
		}
		t, err := texttemplate.New(key).Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse text template %s: %w", key, err)
		}
		r.byKey[key] = pair{html: h, text: t}
	}
	if _, ok := r.byKey[FallbackTemplateKey]; !ok {
		return nil, fmt.Errorf("fallback template %s missing", FallbackTemplateKey)
	}
	return r, nil
}

func (r *Renderer) Has(key string) bool {
	_, ok := r.byKey[key]
	return ok
}

// Render produces both bodies for key, falling back to the generic template
// when the key is unknown. Rendered.Key reports which template was used.
func (r *Renderer) Render(key string, data TemplateData) (Rendered, error) {
	p, ok := r.byKey[key]
	if !ok {
		key = FallbackTemplateKey
		p = r.byKey[key]
	}

	var html, text bytes.Buffer
	if err := p.html.ExecuteTemplate(&html, "html", data); err != nil {
		return Rendered{}, fmt.Errorf("render template %s: %w", key, err)
	}
	if err := p.text.ExecuteTemplate(&text, "text", data); err != nil {
		return Rendered{}, fmt.Errorf("render template %s: %w", key, err)
	}
	return Rendered{Key: key, HTML: html.String(), Text: text.String()}, nil
}

// RenderSubject expands a subject line template such as "{{.FirstName}}, welcome".
func (r *Renderer) RenderSubject(subject string, data TemplateData) (string, error) {
	t, err := texttemplate.New("subject").Parse(subject)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := t.Execute(&out, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}
