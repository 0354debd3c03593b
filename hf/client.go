// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hf calls the Hugging Face hosted text-generation inference API.
package hf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maruel/roundtrippers"
)

// DefaultURL is the Mixtral instruct model inference endpoint.
const DefaultURL = "https://api-inference.huggingface.co/models/mistralai/Mixtral-8x7B-Instruct-v0.1"

// Options configures a Client. Zero values are replaced with defaults.
type Options struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"-"`

	// Timeout applies to each attempt.
	Timeout time.Duration `yaml:"timeout"`
	// Attempts is the maximum number of calls, including the first one.
	Attempts int `yaml:"attempts"`
	// BaseDelay is the wait after the first failure; it doubles after each
	// subsequent one.
	BaseDelay time.Duration `yaml:"base_delay"`

	MaxNewTokens int     `yaml:"max_new_tokens"`
	Temperature  float64 `yaml:"temperature"`

	// QPS caps the outbound requests per second. Time spent waiting for a
	// slot does not count against Timeout.
	QPS float64 `yaml:"qps"`
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.URL == "" {
		out.URL = DefaultURL
	}
	if out.Timeout <= 0 {
		out.Timeout = 10 * time.Second
	}
	if out.Attempts <= 0 {
		out.Attempts = 3
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = time.Second
	}
	if out.MaxNewTokens <= 0 {
		out.MaxNewTokens = 50
	}
	if out.Temperature <= 0 {
		out.Temperature = 0.9
	}
	if out.QPS <= 0 {
		out.QPS = 10
	}
	return out
}

// Client is the remote joke requester.
type Client struct {
	c    http.Client
	opts Options

	// timer is only overridden in tests.
	timer backoff.Timer
}

// New returns a client. It fails when no API key is provided; callers are
// expected to not create a client at all in that case.
func New(opts *Options, h http.RoundTripper) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("no API key")
	}
	o := opts.withDefaults()
	o.APIKey = strings.TrimSpace(o.APIKey)
	t := &roundtrippers.Throttle{Transport: &attemptTimeout{Transport: h, Timeout: o.Timeout}, QPS: o.QPS}
	return &Client{c: http.Client{Transport: t}, opts: o}, nil
}

// Request sends the prompt and returns the raw completion.
//
// Network errors, timeouts and non-2xx answers are retried with exponential
// backoff. After the last attempt it returns a *RequestError wrapping the last
// cause. A 2xx answer that cannot be decoded is not retried.
func (c *Client) Request(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	attempts := 0
	var out string
	op := func() error {
		attempts++
		var err error
		out, err = c.requestNoRetry(ctx, prompt)
		return err
	}
	notify := func(err error, d time.Duration) {
		slog.WarnContext(ctx, "hf", "msg", "attempt failed", "attempt", attempts, "retry_in", d, "err", err)
	}
	err := backoff.RetryNotifyWithTimer(op, backoff.WithContext(newBackOff(c.opts.Attempts, c.opts.BaseDelay), ctx), notify, c.timer)
	if err != nil {
		err = &RequestError{Attempts: attempts, Err: err}
	}
	slog.InfoContext(ctx, "hf", "attempts", attempts, "dur", time.Since(start).Round(time.Millisecond), "err", err)
	return out, err
}

// newBackOff returns a policy allowing attempts calls, waiting base, 2*base,
// 4*base... in between, without jitter.
func newBackOff(attempts int, base time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = base << 10
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(max(attempts-1, 0)))
}

type request struct {
	Inputs     string     `json:"inputs"`
	Parameters parameters `json:"parameters"`
}

type parameters struct {
	MaxNewTokens   int     `json:"max_new_tokens"`
	Temperature    float64 `json:"temperature"`
	ReturnFullText bool    `json:"return_full_text"`
}

type generation struct {
	GeneratedText string `json:"generated_text"`
}

func (c *Client) requestNoRetry(ctx context.Context, prompt string) (string, error) {
	b, err := json.Marshal(&request{
		Inputs: prompt,
		Parameters: parameters{
			MaxNewTokens: c.opts.MaxNewTokens,
			Temperature:  c.opts.Temperature,
		},
	})
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("internal error: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(b))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.c.Do(req)
	if err != nil {
		return "", err
	}
	bod, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: bod}
	}
	var gens []generation
	if err := json.Unmarshal(bod, &gens); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decoding response: %w", err))
	}
	if len(gens) == 0 {
		return "", nil
	}
	return strings.TrimSpace(gens[0].GeneratedText), nil
}

// attemptTimeout bounds one round trip, reading the body included.
type attemptTimeout struct {
	Transport http.RoundTripper
	Timeout   time.Duration
}

func (a *attemptTimeout) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), a.Timeout)
	resp, err := a.Transport.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (a *attemptTimeout) Unwrap() http.RoundTripper {
	return a.Transport
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelBody) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// HTTPError is a non-2xx answer.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// RequestError is returned once all attempts failed or the failure was not
// retryable.
type RequestError struct {
	Attempts int
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
