// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package jokes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// TemplateData is the data passed to a category prompt template.
type TemplateData struct {
	// Subject designates the person to roast, e.g. "the second person in a
	// set of 3 images".
	Subject string
	// Index is the 0 based position of the image and Total the batch size.
	Index int
	Total int
}

// Templates holds the category prompt templates keyed by pack title.
type Templates struct {
	byTitle map[string]*template.Template
}

// ParseTemplates decodes a JSON object of pack title to template text. It
// must contain a "default" entry.
func ParseTemplates(b []byte) (*Templates, error) {
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	t := &Templates{byTitle: make(map[string]*template.Template, len(raw))}
	for title, text := range raw {
		tmpl, err := template.New(title).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", title, err)
		}
		t.byTitle[Key(title)] = tmpl
	}
	if t.byTitle[DefaultStyle] == nil {
		return nil, errors.New("missing default template")
	}
	return t, nil
}

// Has returns true if a template exists for this exact pack title.
func (t *Templates) Has(title string) bool {
	_, ok := t.byTitle[Key(title)]
	return ok
}

// Render executes the template for title, or the default template when the
// title is unknown.
func (t *Templates) Render(title string, data TemplateData) (string, error) {
	tmpl := t.byTitle[Key(title)]
	if tmpl == nil {
		tmpl = t.byTitle[DefaultStyle]
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
