// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package jokes holds the static joke data: the per-style table, the
// extended joke pack, the English category table and the batch prompt
// templates.
//
// All values are read-only once loaded.
package jokes

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

//go:embed data/*.json
var dataFS embed.FS

// DefaultStyle is the style used when the requested one is unknown.
const DefaultStyle = "default"

// Table maps a style key to its jokes.
type Table map[string][]string

// Lookup returns the jokes for style, or the DefaultStyle jokes when style is
// unknown. It returns nil when neither exists.
func (t Table) Lookup(style string) []string {
	if l := t[Key(style)]; len(l) != 0 {
		return l
	}
	return t[DefaultStyle]
}

// Pack is the three level joke pack: style, then tone, then category.
type Pack struct {
	Name   string                                    `json:"name"`
	Styles map[string]map[string]map[string][]string `json:"styles"`
}

// Jokes returns the jokes of the pack for the style, narrowed by tone and
// category. An empty tone or category matches all of them.
//
// The returned slice is freshly allocated when it merges several lists.
func (p *Pack) Jokes(style, tone, category string) []string {
	if p == nil {
		return nil
	}
	tones := p.Styles[Key(style)]
	if len(tones) == 0 {
		return nil
	}
	var out []string
	for _, tk := range selectKeys(tones, Key(tone)) {
		cats := tones[tk]
		for _, ck := range selectKeys(cats, Key(category)) {
			out = append(out, cats[ck]...)
		}
	}
	return out
}

// Data is the whole static joke data set.
type Data struct {
	Table      Table
	Pack       *Pack
	Categories Table
	Templates  *Templates
}

const (
	tableFile      = "roasts.json"
	packFile       = "jokepack.json"
	categoriesFile = "categories.json"
	templatesFile  = "templates.json"
)

// Default returns the embedded data set.
func Default() *Data {
	d, err := load(func(name string) ([]byte, error) {
		return dataFS.ReadFile("data/" + name)
	}, false)
	if err != nil {
		panic(err)
	}
	return d
}

// Load reads the data set from dir. Each file that is missing or does not
// parse is replaced by its embedded default; this is logged, never fatal.
//
// An empty dir uses the embedded data set.
func Load(dir string) *Data {
	if dir == "" {
		slog.Info("jokes", "msg", "using embedded joke data")
		return Default()
	}
	d, _ := load(func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, name))
	}, true)
	slog.Info("jokes", "dir", dir, "pack", d.Pack.Name, "styles", len(d.Table), "categories", len(d.Categories))
	return d
}

// load decodes all the files. When fallback is set, a file that fails is
// replaced by the embedded copy.
func load(read func(string) ([]byte, error), fallback bool) (*Data, error) {
	d := &Data{}
	var errs []error
	try := func(name string, decode func([]byte) error) {
		b, err := read(name)
		if err == nil {
			if err = decode(b); err == nil {
				return
			}
		}
		err = fmt.Errorf("loading %s: %w", name, err)
		errs = append(errs, err)
		if !fallback {
			return
		}
		slog.Warn("jokes", "msg", "using embedded default", "file", name, "err", err)
		b, err = dataFS.ReadFile("data/" + name)
		if err == nil {
			err = decode(b)
		}
		if err != nil {
			panic(fmt.Sprintf("embedded %s: %v", name, err))
		}
	}
	try(tableFile, func(b []byte) error {
		t, err := decodeTable(b)
		d.Table = t
		return err
	})
	try(packFile, func(b []byte) error {
		p, err := decodePack(b)
		d.Pack = p
		return err
	})
	try(categoriesFile, func(b []byte) error {
		t, err := decodeTable(b)
		d.Categories = t
		return err
	})
	try(templatesFile, func(b []byte) error {
		t, err := ParseTemplates(b)
		d.Templates = t
		return err
	})
	return d, errors.Join(errs...)
}

func decodeTable(b []byte) (Table, error) {
	var raw map[string][]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	t := Table{}
	for k, v := range raw {
		if l := cleanList(v); len(l) != 0 {
			t[Key(k)] = l
		}
	}
	if len(t) == 0 {
		return nil, errors.New("no jokes")
	}
	return t, nil
}

func decodePack(b []byte) (*Pack, error) {
	var raw Pack
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	p := &Pack{Name: raw.Name, Styles: map[string]map[string]map[string][]string{}}
	for style, tones := range raw.Styles {
		for tone, cats := range tones {
			for cat, l := range cats {
				if l = cleanList(l); len(l) == 0 {
					continue
				}
				s := p.Styles[Key(style)]
				if s == nil {
					s = map[string]map[string][]string{}
					p.Styles[Key(style)] = s
				}
				c := s[Key(tone)]
				if c == nil {
					c = map[string][]string{}
					s[Key(tone)] = c
				}
				c[Key(cat)] = l
			}
		}
	}
	return p, nil
}

// Key normalizes a style, tone or category for lookups.
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cleanList(l []string) []string {
	var out []string
	for _, s := range l {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// selectKeys returns key if present, all keys in sorted order when key is
// empty, nothing otherwise.
func selectKeys[V any](m map[string]V, key string) []string {
	if key != "" {
		if _, ok := m[key]; ok {
			return []string{key}
		}
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
