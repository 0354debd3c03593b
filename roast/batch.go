// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package roast

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iamzeaq/RoastMyFace-Backend/jokes"
	"golang.org/x/sync/errgroup"
)

// Batch is a multi image request.
type Batch struct {
	Style     string
	Prompt    string
	PackTitle string
	Count     int
}

// Item is the roast of one image of a batch.
type Item struct {
	ImageIndex int    `json:"imageIndex"`
	Roast      string `json:"roast"`
}

// ResolveBatch resolves every image of the batch concurrently and returns the
// roasts in upload order.
//
// A failing remote call only affects its own image, which gets a static joke.
// An error is only returned for an unexpected fault in the orchestration.
func (r *Resolver) ResolveBatch(ctx context.Context, b *Batch) ([]Item, error) {
	items := make([]Item, b.Count)
	eg, ctx := errgroup.WithContext(ctx)
	if r.maxParallel > 0 {
		eg.SetLimit(r.maxParallel)
	}
	for i := range b.Count {
		eg.Go(func() (err error) {
			defer func() {
				if v := recover(); v != nil {
					err = fmt.Errorf("image %d: panic: %v", i, v)
				}
			}()
			req := &Request{Style: b.Style, Category: b.PackTitle, Custom: r.fragment(ctx, b, i)}
			items[i] = Item{ImageIndex: i, Roast: r.Resolve(ctx, req)}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "roast", "msg", "batch failed", "count", b.Count, "err", err)
		return nil, err
	}
	return items, nil
}

// fragment builds the custom prompt fragment for image i of the batch.
func (r *Resolver) fragment(ctx context.Context, b *Batch, i int) string {
	data := jokes.TemplateData{Subject: subject(i, b.Count), Index: i, Total: b.Count}
	var body string
	if r.data.Templates != nil {
		if b.PackTitle != "" && !r.data.Templates.Has(b.PackTitle) {
			slog.DebugContext(ctx, "roast", "msg", "unknown pack title, using default template", "pack", b.PackTitle)
		}
		var err error
		if body, err = r.data.Templates.Render(b.PackTitle, data); err != nil {
			slog.WarnContext(ctx, "roast", "msg", "template failed", "pack", b.PackTitle, "err", err)
			body = ""
		}
	}
	if body == "" {
		body = fmt.Sprintf("For %s, write a single-sentence, savage, no-holds-barred roast with brutal wit and zero mercy.", data.Subject)
	}
	parts := make([]string, 0, 4)
	if p := strings.TrimSpace(b.Prompt); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, body)
	if b.Count > 1 {
		parts = append(parts, comparison)
	}
	parts = append(parts, savageSuffix)
	return strings.Join(parts, " ")
}
