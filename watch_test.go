// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchFiles(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
		change func(p string) error
	}{
		{"create", false, func(p string) error { return os.WriteFile(p, []byte("{}"), 0o644) }},
		{"write", true, func(p string) error { return os.WriteFile(p, []byte(`{"default": ["New."]}`), 0o644) }},
		{"remove", true, os.Remove},
		{"rename", true, func(p string) error { return os.Rename(p, p+".old") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			p := filepath.Join(dir, "roasts.json")
			if tt.exists {
				if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			if err := watchFiles(ctx, cancel, dir); err != nil {
				t.Fatal(err)
			}
			if err := tt.change(p); err != nil {
				t.Fatal(err)
			}
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("context was not cancelled")
			}
		})
	}
}

func TestWatchFilesErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	if err := watchFiles(ctx, cancel); err != nil {
		t.Errorf("no path: %v", err)
	}
	if err := watchFiles(ctx, cancel, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected an error for a missing path")
	}
	if ctx.Err() != nil {
		t.Error("context must not be cancelled")
	}
}
