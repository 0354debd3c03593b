// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Tool roastmyface serves roasts for uploaded selfies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/iamzeaq/RoastMyFace-Backend/hf"
	"github.com/iamzeaq/RoastMyFace-Backend/jokes"
	"github.com/iamzeaq/RoastMyFace-Backend/roast"
	"github.com/joho/godotenv"
	"github.com/maruel/roundtrippers"
	"golang.org/x/sync/errgroup"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/cassette"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"
	"gopkg.in/yaml.v3"
)

// httpRecorder records HTTP requests and responses to testdata/.
func httpRecorder(ctx context.Context) (*recorder.Recorder, error) {
	ch := make(chan roundtrippers.Record)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		for i := 0; ; i++ {
			select {
			case r, ok := <-ch:
				if !ok {
					return nil
				}
				if r.Response != nil {
					f, err := os.Create(fmt.Sprintf("testdata/hf%03d.json", i))
					if err != nil {
						return err
					}
					_, err = io.Copy(f, r.Response.Body)
					_ = f.Close()
					if err != nil {
						return err
					}
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
	h := &roundtrippers.Capture{Transport: http.DefaultTransport, C: ch}
	return recorder.New("testdata/hf",
		recorder.WithMode(recorder.ModeRecordOnce),
		recorder.WithSkipRequestLatency(true),
		recorder.WithRealTransport(h),
		recorder.WithHook(trimResponseHeaders, recorder.AfterCaptureHook),
	)
}

// Response headers that vary per call on the inference endpoint.
var volatileHeaderPrefixes = []string{"X-Compute-", "X-Amz-", "X-Proxied-"}

// trimResponseHeaders removes the credential and the per-call noise from a
// recorded interaction.
func trimResponseHeaders(i *cassette.Interaction) error {
	i.Request.Headers.Del("Authorization")
	i.Response.Headers.Del("Set-Cookie")
	i.Response.Headers.Del("Date")
	for k := range i.Response.Headers {
		for _, p := range volatileHeaderPrefixes {
			if strings.HasPrefix(http.CanonicalHeaderKey(k), p) {
				delete(i.Response.Headers, k)
				break
			}
		}
	}
	i.Response.Duration = i.Response.Duration.Round(time.Millisecond)
	return nil
}

// apiKey returns the inference API credential. A blank value counts as unset.
func apiKey() string {
	return strings.TrimSpace(os.Getenv("HF_API_KEY"))
}

func mainImpl() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	configPath := flag.String("config", "config.yml", "configuration file")
	host := flag.String("host", "", "host:port to listen on; overrides the config file")
	verbose := flag.Bool("verbose", false, "verbose mode")
	record := flag.Bool("record", false, "record calls to the inference API in testdata/")
	watch := flag.Bool("watch", false, "shut down when the executable or the data files change")
	flag.Parse()

	if flag.NArg() != 0 {
		return errors.New("unexpected arguments")
	}
	initLog(*verbose)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	c, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *host != "" {
		c.Host = *host
	} else if port := os.Getenv("PORT"); port != "" {
		c.Host = ":" + port
	}

	if *watch {
		paths := []string{}
		if exe, err := os.Executable(); err == nil {
			paths = append(paths, exe)
		}
		if c.DataDir != "" {
			paths = append(paths, c.DataDir)
		}
		if err := watchFiles(ctx, cancel, paths...); err != nil {
			return err
		}
	}

	opts := roast.Options{MaxParallel: c.MaxParallel}
	if key := apiKey(); key != "" {
		var h http.RoundTripper = http.DefaultTransport
		if *record {
			rr, err := httpRecorder(ctx)
			if err != nil {
				return err
			}
			defer rr.Stop()
			h = rr
		}
		o := c.HF
		o.APIKey = key
		client, err := hf.New(&o, h)
		if err != nil {
			return err
		}
		opts.Requester = client
	} else {
		slog.WarnContext(ctx, "hf", "msg", "HF_API_KEY is not set, serving static jokes only")
	}
	r := roast.New(jokes.Load(c.DataDir), &opts)
	return runWebserver(ctx, c.Host, newWebServerHandler(r, c.MaxUploadBytes), c.MaxConnections)
}

// Config is the content of config.yml.
type Config struct {
	Host           string     `yaml:"host"`
	DataDir        string     `yaml:"data_dir"`
	HF             hf.Options `yaml:"hf"`
	MaxUploadBytes int64      `yaml:"max_upload_bytes"`
	MaxConnections int        `yaml:"max_connections"`
	MaxParallel    int        `yaml:"max_parallel"`
}

// loadConfig reads the configuration. A missing file means defaults.
func loadConfig(path string) (*Config, error) {
	c := &Config{
		Host:           ":5500",
		MaxUploadBytes: 32 << 20,
		MaxConnections: 256,
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("config", "msg", "no config file, using defaults", "path", path)
			return c, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, nil
}

func main() {
	if err := mainImpl(); err != nil {
		if err != context.Canceled {
			fmt.Fprintln(os.Stderr, "roastmyface:", err)
			os.Exit(1)
		}
	}
}
