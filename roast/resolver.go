// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package roast turns a style, category and tone into a roast, asking a
// remote model first and falling back to the static jokes.
package roast

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/iamzeaq/RoastMyFace-Backend/jokes"
)

// Requester sends a prompt to a remote model and returns its raw completion.
type Requester interface {
	Request(ctx context.Context, prompt string) (string, error)
}

// Options for New.
type Options struct {
	// Requester is nil when no credential is configured; the remote model is
	// then never called.
	Requester Requester
	// IntN returns a uniform random number in [0, n). It must be safe for
	// concurrent use. Defaults to math/rand/v2.IntN.
	IntN func(n int) int
	// Now defaults to time.Now.
	Now func() time.Time
	// MaxParallel limits the concurrent resolutions of a batch. 0 means no
	// limit.
	MaxParallel int
}

// Request is one roast to generate.
type Request struct {
	Style    string
	Category string
	Tone     string
	// Custom is a prompt fragment replacing the generic per-style instruction.
	Custom string
}

// Resolver generates roasts. It is safe for concurrent use.
type Resolver struct {
	data        *jokes.Data
	llm         Requester
	intn        func(int) int
	now         func() time.Time
	maxParallel int
}

// New returns a Resolver over the read-only data.
func New(data *jokes.Data, opts *Options) *Resolver {
	r := &Resolver{
		data:        data,
		llm:         opts.Requester,
		intn:        opts.IntN,
		now:         opts.Now,
		maxParallel: opts.MaxParallel,
	}
	if r.data == nil {
		r.data = &jokes.Data{}
	}
	if r.intn == nil {
		r.intn = rand.IntN
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Resolve always returns a non-empty roast ending with punctuation.
func (r *Resolver) Resolve(ctx context.Context, req *Request) string {
	style := r.style(req.Style)
	if r.llm == nil {
		slog.DebugContext(ctx, "roast", "msg", "no API key, using static jokes", "style", style)
		return r.fallback(style, req)
	}
	raw, err := r.llm.Request(ctx, r.buildPrompt(style, req))
	if err != nil {
		slog.WarnContext(ctx, "roast", "msg", "remote failed, using static jokes", "style", style, "err", err)
		return r.fallback(style, req)
	}
	text, ok := Sanitize(raw)
	if !ok {
		slog.WarnContext(ctx, "roast", "msg", "invalid remote output, using static jokes", "style", style, "raw", raw)
		return r.fallback(style, req)
	}
	slog.DebugContext(ctx, "roast", "style", style, "roast", text)
	return text
}

// style returns the normalized style if any static data knows it, the
// default style otherwise.
func (r *Resolver) style(s string) string {
	k := jokes.Key(s)
	if k == "" {
		return jokes.DefaultStyle
	}
	if _, ok := r.data.Table[k]; ok {
		return k
	}
	if _, ok := styleLabels[k]; ok {
		return k
	}
	if r.data.Pack != nil {
		if _, ok := r.data.Pack.Styles[k]; ok {
			return k
		}
	}
	return jokes.DefaultStyle
}

// Used when the loaded table has neither the style nor the default style.
var builtinJokes = []string{
	"Your selfie just made my phone switch to power-saving mode.",
	"Your face is what error messages were designed for.",
	"You look like the human version of a loading screen.",
	"Your appearance is buffering at 2% indefinitely.",
}

const lastResort = "Your selfie has achieved what no filter could - made me speechless."

// fallback picks a static joke: category specific first, then the per-style
// table, then the built-in list.
func (r *Resolver) fallback(style string, req *Request) string {
	if req.Category != "" {
		if s := r.pick(r.data.Pack.Jokes(style, req.Tone, req.Category)); s != "" {
			return s
		}
		// The category table is English only.
		if Label(style) == english {
			if s := r.pick(r.data.Categories[jokes.Key(req.Category)]); s != "" {
				return s
			}
		}
	}
	if s := r.pick(r.data.Table.Lookup(style)); s != "" {
		return s
	}
	if s := r.pick(builtinJokes); s != "" {
		return s
	}
	return lastResort
}

func (r *Resolver) pick(l []string) string {
	if len(l) == 0 {
		return ""
	}
	return finish(l[r.intn(len(l))])
}
