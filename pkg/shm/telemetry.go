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

package shm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/srediag/zerobuffer/pkg/shm"

type telemetry struct {
	tracer trace.Tracer
	attrs  []attribute.KeyValue
	set    metric.MeasurementOption

	framesWritten metric.Int64Counter
	bytesWritten  metric.Int64Counter
	framesRead    metric.Int64Counter
	bytesRead     metric.Int64Counter
	peerDead      metric.Int64Counter
	waitDuration  metric.Float64Histogram
}

func newTelemetry(cfg *Config, name string, role Role, log *logger) *telemetry {
	attrs := []attribute.KeyValue{
		attribute.String("buffer", name),
		attribute.String("role", string(role)),
	}
	t := &telemetry{
		tracer: cfg.Tracer,
		attrs:  attrs,
		set:    metric.WithAttributes(attrs...),
	}
	if err := t.register(cfg.Meter); err != nil {
		log.warnf("otel instruments unavailable, metrics disabled: %v", err)
		_ = t.register(metricnoop.NewMeterProvider().Meter(instrumentationName))
	}
	return t
}

func (t *telemetry) register(m metric.Meter) (err error) {
	if t.framesWritten, err = m.Int64Counter("zerobuffer.frames.written",
		metric.WithDescription("Frames committed to the payload ring.")); err != nil {
		return err
	}
	if t.bytesWritten, err = m.Int64Counter("zerobuffer.bytes.written",
		metric.WithDescription("Frame data bytes committed to the payload ring."), metric.WithUnit("By")); err != nil {
		return err
	}
	if t.framesRead, err = m.Int64Counter("zerobuffer.frames.read",
		metric.WithDescription("Frames read from the payload ring.")); err != nil {
		return err
	}
	if t.bytesRead, err = m.Int64Counter("zerobuffer.bytes.read",
		metric.WithDescription("Frame data bytes read from the payload ring."), metric.WithUnit("By")); err != nil {
		return err
	}
	if t.peerDead, err = m.Int64Counter("zerobuffer.peer.dead",
		metric.WithDescription("Blocked calls that found the peer process dead.")); err != nil {
		return err
	}
	t.waitDuration, err = m.Float64Histogram("zerobuffer.wait.duration",
		metric.WithDescription("Time spent blocked on a semaphore."), metric.WithUnit("s"))
	return err
}

func (t *telemetry) wrote(ctx context.Context, n int) {
	t.framesWritten.Add(ctx, 1, t.set)
	t.bytesWritten.Add(ctx, int64(n), t.set)
}

func (t *telemetry) read(ctx context.Context, n int) {
	t.framesRead.Add(ctx, 1, t.set)
	t.bytesRead.Add(ctx, int64(n), t.set)
}

func (t *telemetry) deadPeer(ctx context.Context) {
	t.peerDead.Add(ctx, 1, t.set)
}

// startWait opens a span for a blocking call. The returned func records the
// wait duration and ends the span with err.
func (t *telemetry) startWait(ctx context.Context) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "zerobuffer.wait", trace.WithAttributes(t.attrs...))
	return ctx, func(err error) {
		t.waitDuration.Record(ctx, time.Since(start).Seconds(), t.set)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
