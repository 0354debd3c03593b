// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/iamzeaq/RoastMyFace-Backend/roast"
	"github.com/rs/cors"
	"golang.org/x/net/netutil"
)

// Answer of /api/roast when the handler itself blew up.
const brokenEngine = "Your face was so powerful it broke our roasting engine!"

// In-memory part of a multipart form; the rest spills to temporary files.
const maxFormMemory = 8 << 20

type webServer struct {
	r         *roast.Resolver
	maxUpload int64
}

func newWebServerHandler(r *roast.Resolver, maxUpload int64) http.Handler {
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	s := &webServer{r: r, maxUpload: maxUpload}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("RoastMyFace API is running"))
	})
	mux.HandleFunc("POST /api/roast", s.serveRoast)
	mux.HandleFunc("POST /api/mememyface", s.serveMemeMyFace)
	return cors.AllowAll().Handler(withRequestID(mux))
}

func (s *webServer) serveRoast(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if !s.parseForm(w, req, "image", "No image uploaded") {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			slog.ErrorContext(ctx, "web", "msg", "roast panicked", "err", v)
			writeJSON(ctx, w, http.StatusOK, map[string]any{"roasts": []string{brokenEngine}})
		}
	}()
	style := req.FormValue("style")
	if style == "" {
		style = "default"
	}
	// In-flight remote calls are not cancelled if the client goes away.
	text := s.r.Resolve(context.WithoutCancel(ctx), &roast.Request{
		Style:    style,
		Category: req.FormValue("category"),
		Tone:     req.FormValue("tone"),
	})
	writeJSON(ctx, w, http.StatusOK, map[string]any{"roasts": []string{text}})
}

func (s *webServer) serveMemeMyFace(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if !s.parseForm(w, req, "images", "No images uploaded") {
		return
	}
	failed := func(err any) {
		slog.ErrorContext(ctx, "web", "msg", "mememyface failed", "err", err)
		writeJSON(ctx, w, http.StatusInternalServerError, map[string]any{
			"error":  "An error occurred while processing your request",
			"roasts": []roast.Item{},
		})
	}
	defer func() {
		if v := recover(); v != nil {
			failed(v)
		}
	}()
	b := &roast.Batch{
		Style:     req.FormValue("style"),
		Prompt:    req.FormValue("prompt"),
		PackTitle: req.FormValue("packTitle"),
		Count:     len(req.MultipartForm.File["images"]),
	}
	if b.Style == "" {
		b.Style = "default"
	}
	slog.InfoContext(ctx, "web", "images", b.Count, "pack", b.PackTitle, "style", b.Style)
	items, err := s.r.ResolveBatch(context.WithoutCancel(ctx), b)
	if err != nil {
		failed(err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, map[string]any{"roasts": items})
}

// parseForm parses the multipart upload and makes sure at least one file was
// sent as field. It writes the error response and returns false otherwise.
func (s *webServer) parseForm(w http.ResponseWriter, req *http.Request, field, missing string) bool {
	ctx := req.Context()
	req.Body = http.MaxBytesReader(w, req.Body, s.maxUpload)
	err := req.ParseMultipartForm(maxFormMemory)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSON(ctx, w, http.StatusRequestEntityTooLarge, map[string]string{"error": fmt.Sprintf("Upload larger than %d bytes", tooLarge.Limit)})
		return false
	case errors.Is(err, http.ErrNotMultipart):
		writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": missing})
		return false
	case err != nil:
		slog.WarnContext(ctx, "web", "msg", "bad upload", "err", err)
		writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "Invalid multipart form"})
		return false
	}
	context.AfterFunc(ctx, func() { _ = req.MultipartForm.RemoveAll() })
	if len(req.MultipartForm.File[field]) == 0 {
		writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": missing})
		return false
	}
	return true
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "web", "err", err)
	}
}

type requestIDKey struct{}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withRequestID tags each request with an id, visible in the logs and in the
// X-Request-Id response header.
func withRequestID(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(req.Context(), requestIDKey{}, id)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, req.WithContext(ctx))
		slog.InfoContext(ctx, "web", "method", req.Method, "path", req.URL.Path, "status", sw.status, "dur", time.Since(start).Round(time.Millisecond))
	})
}

func runWebserver(ctx context.Context, host string, h http.Handler, maxConns int) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", host)
	if err != nil {
		return err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	slog.InfoContext(ctx, "web", "listening", ln.Addr())
	s := &http.Server{Handler: h, ReadHeaderTimeout: 2 * time.Second}
	errCh := make(chan error)
	go func() {
		err2 := s.Serve(ln)
		if errors.Is(err2, http.ErrServerClosed) {
			err2 = nil
		}
		errCh <- err2
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "web", "msg", "Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.Shutdown(shutdownCtx)
		shutdownCancel()
		if err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	return nil
}
