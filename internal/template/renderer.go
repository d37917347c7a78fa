// Package template renders the closed set of notification templates into
// html/text pairs. Rendering is pure and deterministic: identical input
// yields byte-identical output, and missing data fields degrade to omitted
// fragments rather than literal placeholders.
package template

import (
	"bytes"
	"embed"
	"fmt"
	htmltpl "html/template"
	"sort"
	texttpl "text/template"

	"taskmail/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// registered is the closed set of template identifiers. Both variants must
// parse at init; a missing or broken template file is a programming error.
var registered = map[types.TemplateID]struct{}{
	types.TemplateTaskReminder:  {},
	types.TemplateTaskAssigned:  {},
	types.TemplateTaskCompleted: {},
	types.TemplateWelcome:       {},
	types.TemplatePasswordReset: {},
}

// Renderer maps template identifiers to parsed html/text template pairs.
type Renderer struct {
	html map[types.TemplateID]*htmltpl.Template
	text map[types.TemplateID]*texttpl.Template
}

// NewRenderer parses all registered templates from the embedded filesystem.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		html: make(map[types.TemplateID]*htmltpl.Template),
		text: make(map[types.TemplateID]*texttpl.Template),
	}

	for id := range registered {
		htmlContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.html", id))
		if err != nil {
			return nil, fmt.Errorf("failed to read html template %s: %w", id, err)
		}
		ht, err := htmltpl.New(string(id)).Option("missingkey=zero").Parse(string(htmlContent))
		if err != nil {
			return nil, fmt.Errorf("failed to parse html template %s: %w", id, err)
		}
		r.html[id] = ht

		textContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.txt", id))
		if err != nil {
			return nil, fmt.Errorf("failed to read text template %s: %w", id, err)
		}
		tt, err := texttpl.New(string(id)).Option("missingkey=zero").Parse(string(textContent))
		if err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", id, err)
		}
		r.text[id] = tt
	}

	return r, nil
}

// IsRegistered reports whether id is in the registered set.
func IsRegistered(id types.TemplateID) bool {
	_, ok := registered[id]
	return ok
}

// IDs returns the registered template identifiers, sorted.
func IDs() []types.TemplateID {
	ids := make([]types.TemplateID, 0, len(registered))
	for id := range registered {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Render produces the html/text pair for a registered template. Unknown
// identifiers fail with types.ErrUnknownTemplate.
func (r *Renderer) Render(id types.TemplateID, data map[string]any) (types.RenderedContent, error) {
	ht, ok := r.html[id]
	if !ok {
		return types.RenderedContent{}, fmt.Errorf("%w: %q", types.ErrUnknownTemplate, id)
	}
	tt := r.text[id]

	fields := normalize(data)

	var html bytes.Buffer
	if err := ht.Execute(&html, fields); err != nil {
		return types.RenderedContent{}, fmt.Errorf("failed to render html template %s: %w", id, err)
	}

	var text bytes.Buffer
	if err := tt.Execute(&text, fields); err != nil {
		return types.RenderedContent{}, fmt.Errorf("failed to render text template %s: %w", id, err)
	}

	return types.RenderedContent{
		HTML: html.String(),
		Text: text.String(),
	}, nil
}

// normalize coerces the free-form data bag to strings so that absent and
// nil fields render as empty under missingkey=zero instead of "<no value>".
func normalize(data map[string]any) map[string]string {
	fields := make(map[string]string, len(data))
	for key, value := range data {
		if value == nil {
			continue
		}
		fields[key] = fmt.Sprint(value)
	}
	return fields
}
