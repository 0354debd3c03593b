// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestCtxHandler(t *testing.T) {
	withID := context.WithValue(context.Background(), requestIDKey{}, "abc-123")
	tests := []struct {
		name     string
		ctx      context.Context
		logger   func(l *slog.Logger) *slog.Logger
		expected []string
		absent   string
	}{
		{"request id", withID, func(l *slog.Logger) *slog.Logger { return l }, []string{"msg=web", "req=abc-123"}, ""},
		{"no request id", context.Background(), func(l *slog.Logger) *slog.Logger { return l }, []string{"msg=web"}, "req="},
		{"with attrs", withID, func(l *slog.Logger) *slog.Logger { return l.With("style", "pidgin") }, []string{"style=pidgin", "req=abc-123"}, ""},
		{"with group", withID, func(l *slog.Logger) *slog.Logger { return l.WithGroup("g") }, []string{"g.req=abc-123"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := tt.logger(slog.New(&ctxHandler{slog.NewTextHandler(&buf, nil)}))
			l.InfoContext(tt.ctx, "web", "status", 200)
			got := buf.String()
			for _, want := range tt.expected {
				if !strings.Contains(got, want) {
					t.Errorf("%q is missing %q", got, want)
				}
			}
			if tt.absent != "" && strings.Contains(got, tt.absent) {
				t.Errorf("%q must not contain %q", got, tt.absent)
			}
		})
	}
}
