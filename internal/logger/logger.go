/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger provides the process-wide structured logger.
// logger 包提供进程级结构化日志记录器。
//
// Long-lived components take a *zap.Logger from L(); request and command
// paths use the ctx-aware printf helpers so trace ids are attached.
// 长生命周期组件通过 L() 获取 *zap.Logger；请求与命令路径使用带 ctx 的格式化函数以附加 trace id。
package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/godoty/sidecar/internal/config"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	base   = zap.NewNop()
	sugar  = otelzap.New(zap.NewNop()).Sugar()
	closer func() error
)

// Init builds the global logger from configuration
// Init 根据配置构建全局日志记录器
func Init(cfg config.LogConfig) error {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var (
		syncers []zapcore.WriteSyncer
		rotator *lumberjack.Logger
	)
	if cfg.Output == "" || cfg.Output == "stdout" || cfg.Output == "both" {
		syncers = append(syncers, zapcore.AddSync(os.Stdout))
	}
	if cfg.Output == "file" || cfg.Output == "both" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		syncers = append(syncers, zapcore.AddSync(rotator))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), level)
	zl := zap.New(core, zap.AddCaller())

	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		_ = closer()
	}
	base = zl
	sugar = otelzap.New(zl.WithOptions(zap.AddCallerSkip(1)), otelzap.WithMinLevel(level)).Sugar()
	closer = func() error {
		_ = zl.Sync()
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}
	return nil
}

// Replace swaps the global logger, used by tests to capture output
// Replace 替换全局日志记录器，测试中用于捕获输出
func Replace(zl *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = zl
	sugar = otelzap.New(zl.WithOptions(zap.AddCallerSkip(1))).Sugar()
}

// Sync flushes buffered entries and closes the rotating file
// Sync 刷新缓冲日志并关闭轮转文件
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if closer == nil {
		return base.Sync()
	}
	err := closer()
	closer = nil
	return err
}

// L returns the field-structured logger
// L 返回结构化字段日志记录器
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Named returns a child logger tagged with component name
// Named 返回带组件名的子日志记录器
func Named(component string) *zap.Logger {
	return L().Named(component)
}

func ctxSugar(ctx context.Context) otelzap.SugaredLoggerWithCtx {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return s.Ctx(ctx)
}

func DebugF(ctx context.Context, format string, args ...interface{}) {
	ctxSugar(ctx).Debugf(format, args...)
}

func InfoF(ctx context.Context, format string, args ...interface{}) {
	ctxSugar(ctx).Infof(format, args...)
}

func WarnF(ctx context.Context, format string, args ...interface{}) {
	ctxSugar(ctx).Warnf(format, args...)
}

func ErrorF(ctx context.Context, format string, args ...interface{}) {
	ctxSugar(ctx).Errorf(format, args...)
}
