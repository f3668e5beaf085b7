/*
 * MIT License
 *
 * Copyright (c) 2025 linux.do
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package otel_trace

import (
	"context"
	"sync"

	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/godoty/sidecar"

var (
	Tracer        trace.Tracer
	shutdownFuncs []func(context.Context) error
	mu            sync.Mutex
	enabled       bool
)

// Init initializes the OpenTelemetry tracing based on configuration.
// Init 根据配置初始化 OpenTelemetry 追踪。
// Calling Init again after Shutdown re-initializes the provider.
// Shutdown 之后再次调用 Init 会重新初始化提供者。
func Init(ctx context.Context, cfg config.TelemetryConfig) {
	mu.Lock()
	defer mu.Unlock()

	if Tracer != nil {
		return
	}

	if !cfg.Enabled {
		logger.InfoF(ctx, "[Trace] OpenTelemetry tracing is disabled / OpenTelemetry 追踪已禁用")
		// Use noop tracer when disabled / 禁用时使用空操作追踪器
		Tracer = noop.NewTracerProvider().Tracer("noop")
		enabled = false
		return
	}

	logger.InfoF(ctx, "[Trace] Initializing OpenTelemetry tracing, endpoint=%s / 正在初始化 OpenTelemetry 追踪", cfg.Endpoint)

	// 初始化 Propagator
	otel.SetTextMapPropagator(newPropagator())

	// 初始化 Trace Provider
	tracerProvider, err := newTracerProvider(ctx, cfg)
	if err != nil {
		logger.WarnF(ctx, "[Trace] Failed to init trace provider, using noop tracer: %v / 初始化追踪提供者失败，使用空操作追踪器", err)
		Tracer = noop.NewTracerProvider().Tracer("noop")
		enabled = false
		return
	}

	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	Tracer = tracerProvider.Tracer(instrumentationName)
	enabled = true
	logger.InfoF(ctx, "[Trace] OpenTelemetry tracing initialized / OpenTelemetry 追踪已初始化")
}

// IsEnabled returns whether tracing is enabled.
// IsEnabled 返回追踪是否已启用。
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

func Shutdown(ctx context.Context) {
	mu.Lock()
	defer mu.Unlock()
	for _, fn := range shutdownFuncs {
		if err := fn(ctx); err != nil {
			logger.WarnF(ctx, "[Trace] shutdown: %v", err)
		}
	}
	shutdownFuncs = nil
	Tracer = nil
	enabled = false
}

func Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	mu.Lock()
	t := Tracer
	mu.Unlock()
	if t == nil {
		// Return noop span if not initialized / 如果未初始化则返回空操作 span
		return ctx, noop.Span{}
	}
	return t.Start(ctx, name, opts...)
}
