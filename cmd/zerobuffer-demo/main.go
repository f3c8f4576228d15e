/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// zerobuffer-demo runs one end of a zerobuffer and serves its metrics and
// health endpoints.
//
// Start the reader first, it creates the buffer:
//
//	zerobuffer-demo --role reader --name cam0 --listen :9101
//	zerobuffer-demo --role writer --name cam0 --listen :9102 --frame-size 65536
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/srediag/zerobuffer/adapter"
	"github.com/srediag/zerobuffer/api"
	"github.com/srediag/zerobuffer/pkg/shm"
	"github.com/srediag/zerobuffer/pkg/transport"
)

type options struct {
	role      string
	name      string
	listen    string
	metadata  uint64
	payload   uint64
	frameSize int
	interval  time.Duration
	frames    int
	workers   int
}

// endpoint is the part of a writer or reader the HTTP side needs.
type endpoint interface {
	api.Health
	api.Inspector
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	flagSet := pflag.NewFlagSet("zerobuffer-demo", pflag.ContinueOnError)
	flagSet.StringVar(&opts.role, "role", "reader", "writer or reader")
	flagSet.StringVar(&opts.name, "name", "zerobuffer-demo", "buffer name")
	flagSet.StringVar(&opts.listen, "listen", "", "address serving /metrics, /live and /ready (disabled when empty)")
	flagSet.Uint64Var(&opts.metadata, "metadata-size", 4096, "metadata block size in bytes (reader only)")
	flagSet.Uint64Var(&opts.payload, "payload-size", 16<<20, "payload ring size in bytes (reader only)")
	flagSet.IntVar(&opts.frameSize, "frame-size", 1024, "bytes per frame (writer only)")
	flagSet.DurationVar(&opts.interval, "interval", 10*time.Millisecond, "delay between frames (writer only)")
	flagSet.IntVar(&opts.frames, "frames", 0, "frames to write before exiting, 0 for unlimited (writer only)")
	flagSet.IntVar(&opts.workers, "workers", 1, "frame handlers running at once (reader only)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("buffer", opts.name, "role", opts.role)

	cfg := shm.DefaultConfig()
	cfg.MetadataSize = opts.metadata
	cfg.PayloadSize = opts.payload

	switch opts.role {
	case "reader":
		r, err := shm.NewReader(opts.name, cfg)
		if err != nil {
			return err
		}
		defer r.Close()
		serve(ctx, logger, opts.listen, r)
		return runReader(ctx, logger, r, opts)
	case "writer":
		w, err := shm.OpenWriterContext(ctx, opts.name, cfg)
		if err != nil {
			return err
		}
		defer w.Close()
		serve(ctx, logger, opts.listen, w)
		return runWriter(ctx, logger, w, opts)
	default:
		return fmt.Errorf("unknown role %q", opts.role)
	}
}

func runWriter(ctx context.Context, logger *slog.Logger, w *shm.Writer, opts options) error {
	meta, err := json.Marshal(map[string]interface{}{
		"producer":   "zerobuffer-demo",
		"frame_size": opts.frameSize,
		"started":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := w.WriteMetadata(meta); err != nil {
		return err
	}

	data := make([]byte, opts.frameSize)
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for n := 0; opts.frames == 0 || n < opts.frames; n++ {
		_, _ = rand.Read(data)
		if err := w.WriteFrame(ctx, data, -1); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	logger.Info("done", "frames", opts.frames)
	return nil
}

func runReader(ctx context.Context, logger *slog.Logger, r *shm.Reader, opts options) error {
	cfg := transport.DefaultConfig()
	cfg.Workers = opts.workers
	cfg.OnError = func(msg transport.Message, err error) {
		logger.Warn("frame handler failed", "sequence", msg.Sequence, "error", err)
	}

	// the writer stores metadata before its first frame
	var metaOnce sync.Once
	pump, err := transport.NewPump(r, func(_ context.Context, msg transport.Message) error {
		metaOnce.Do(func() {
			if meta, ok, err := r.Metadata(); err == nil && ok {
				logger.Info("metadata", "value", string(meta))
			}
		})
		if msg.Sequence%1000 == 0 {
			logger.Info("frames received", "sequence", msg.Sequence, "bytes", len(msg.Data))
		}
		return nil
	}, cfg)
	if err != nil {
		return err
	}

	err = pump.Run(ctx)
	stats := pump.Stats()
	logger.Info("reader stopped", "received", stats.Received, "failed", stats.Failed)
	if errors.Is(err, shm.ErrWriterDead) {
		return nil
	}
	return err
}

// serve exposes metrics and health checks for e until ctx ends.
func serve(ctx context.Context, logger *slog.Logger, addr string, e endpoint) {
	if addr == "" {
		return
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(adapter.NewCollector(e))

	health := adapter.NewHealthHandler(e, e)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	logger.Info("serving", "addr", addr)
}
