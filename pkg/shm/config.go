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
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/zerobuffer/internal/health"
)

const (
	defaultMetadataSize     = 4 << 10
	defaultPayloadSize      = 1 << 20
	defaultLivenessInterval = 100 * time.Millisecond

	minMetadataSize = 8
	minPayloadSize  = 64
	maxPayloadSize  = 1 << 40
)

// LivenessFunc reports whether the process with the given PID is running.
type LivenessFunc = health.LivenessFunc

// Config is used to tune a buffer. Geometry only matters to the side that
// creates the segment; attaching sides read it from the control block.
type Config struct {
	// MetadataSize is the capacity of the metadata block, including the 4-byte length prefix.
	MetadataSize uint64

	// PayloadSize is the capacity of the payload ring in bytes.
	// The largest frame is PayloadSize - 16.
	PayloadSize uint64

	// LivenessInterval bounds how long a blocked call waits before it
	// re-checks that the peer process is still running.
	LivenessInterval time.Duration

	// IsProcessAlive probes peer PIDs. Defaults to a /proc based probe.
	IsProcessAlive LivenessFunc

	// LogOutput is where the buffer's internal logger writes. Defaults to os.Stdout.
	LogOutput io.Writer

	// Meter and Tracer instrument the buffer. Both default to no-op providers.
	Meter  metric.Meter
	Tracer trace.Tracer
}

// DefaultConfig is used to create a default config.
func DefaultConfig() *Config {
	return &Config{
		MetadataSize:     defaultMetadataSize,
		PayloadSize:      defaultPayloadSize,
		LivenessInterval: defaultLivenessInterval,
		IsProcessAlive:   health.ProcessAlive,
		LogOutput:        os.Stdout,
		Meter:            metricnoop.NewMeterProvider().Meter(instrumentationName),
		Tracer:           tracenoop.NewTracerProvider().Tracer(instrumentationName),
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}
	if config.MetadataSize < minMetadataSize {
		return fmt.Errorf("MetadataSize must be at least %d, got %d", minMetadataSize, config.MetadataSize)
	}
	if config.PayloadSize < minPayloadSize || config.PayloadSize > maxPayloadSize {
		return fmt.Errorf("PayloadSize must be in [%d, %d], got %d", minPayloadSize, uint64(maxPayloadSize), config.PayloadSize)
	}
	if config.LivenessInterval <= 0 {
		return fmt.Errorf("LivenessInterval must be positive, got %v", config.LivenessInterval)
	}
	return nil
}

// withDefaults returns a copy of config with unset optional fields filled in.
func withDefaults(config *Config) *Config {
	def := DefaultConfig()
	if config == nil {
		return def
	}
	c := *config
	if c.MetadataSize == 0 {
		c.MetadataSize = def.MetadataSize
	}
	if c.PayloadSize == 0 {
		c.PayloadSize = def.PayloadSize
	}
	if c.LivenessInterval == 0 {
		c.LivenessInterval = def.LivenessInterval
	}
	if c.IsProcessAlive == nil {
		c.IsProcessAlive = def.IsProcessAlive
	}
	if c.LogOutput == nil {
		c.LogOutput = def.LogOutput
	}
	if c.Meter == nil {
		c.Meter = def.Meter
	}
	if c.Tracer == nil {
		c.Tracer = def.Tracer
	}
	return &c
}
