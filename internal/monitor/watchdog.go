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

// Package monitor runs the optional health watchdog for the sidecar.
// monitor 包运行可选的 sidecar 健康看门狗。
//
// The watchdog probes health on a ticker. After FailureThreshold consecutive
// failures while the supervisor owns an instance, it asks the restart policy
// and restarts through the service facade.
// 看门狗按固定间隔探测健康状态；当监督器持有实例且连续失败达到阈值时，
// 询问重启策略并通过服务门面重启。
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/logger"
	"go.uber.org/zap"
)

// DefaultInterval is the default probe interval
// DefaultInterval 是默认的探测间隔
const DefaultInterval = 10 * time.Second

// DefaultFailureThreshold is the number of consecutive failures before a restart
// DefaultFailureThreshold 是触发重启前的连续失败次数
const DefaultFailureThreshold = 3

// ErrRestartRefused is reported when the policy refuses a restart
var ErrRestartRefused = errors.New("restart refused by policy")

// Prober reports sidecar health
type Prober interface {
	Healthy(ctx context.Context) bool
}

// Owner reports whether the supervisor holds a running or adopted instance
type Owner interface {
	Owned() bool
}

// Restarter restarts the sidecar through the lifecycle lock
type Restarter interface {
	RestartSidecar(ctx context.Context) error
}

// Policy limits automatic restarts
type Policy interface {
	Allow() bool
	Record(success bool, err error)
}

// EventType represents the type of watchdog event
// EventType 表示看门狗事件类型
type EventType string

const (
	EventUnhealthy      EventType = "unhealthy"
	EventRecovered      EventType = "recovered"
	EventRestarted      EventType = "restarted"
	EventRestartFailed  EventType = "restart_failed"
	EventRestartRefused EventType = "restart_refused"
)

// Event represents a watchdog event
// Event 表示看门狗事件
type Event struct {
	Type             EventType `json:"type"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	Error            string    `json:"error,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// EventHandler is called when watchdog events occur
// EventHandler 在看门狗事件发生时被调用
type EventHandler func(event Event)

// Status is a snapshot of the watchdog
// Status 是看门狗的状态快照
type Status struct {
	Enabled          bool      `json:"enabled"`
	Running          bool      `json:"running"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	LastCheck        time.Time `json:"last_check"`
	LastHealthy      time.Time `json:"last_healthy"`
}

// Watchdog probes the sidecar and restarts it after repeated failures
// Watchdog 探测 sidecar 并在多次失败后重启
type Watchdog struct {
	enabled   bool
	interval  time.Duration
	threshold int

	prober    Prober
	owner     Owner
	restarter Restarter
	policy    Policy

	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	fails       int
	lastCheck   time.Time
	lastHealthy time.Time
	handler     EventHandler

	log *zap.Logger
}

// NewWatchdog creates a watchdog from configuration
// NewWatchdog 根据配置创建看门狗
func NewWatchdog(wc config.WatchdogConfig, prober Prober, owner Owner, restarter Restarter, policy Policy) *Watchdog {
	w := &Watchdog{
		enabled:   wc.Enabled,
		interval:  wc.Interval,
		threshold: wc.FailureThreshold,
		prober:    prober,
		owner:     owner,
		restarter: restarter,
		policy:    policy,
		log:       logger.Named("watchdog"),
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	if w.threshold <= 0 {
		w.threshold = DefaultFailureThreshold
	}
	return w
}

// SetEventHandler sets the event handler callback
// SetEventHandler 设置事件处理回调
func (w *Watchdog) SetEventHandler(handler EventHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = handler
}

// Start launches the probe loop; it is a no-op when disabled or already running
// Start 启动探测循环；未启用或已在运行时不做任何事
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.enabled || w.running {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running = true
	w.log.Info("watchdog started", zap.Duration("interval", w.interval), zap.Int("threshold", w.threshold))

	go w.loop(ctx, w.done)
}

// Stop halts the probe loop and waits for an in-flight check to return
// Stop 停止探测循环并等待进行中的检查返回
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	done := w.done
	w.running = false
	w.mu.Unlock()

	<-done
	w.log.Info("watchdog stopped")
}

func (w *Watchdog) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check runs one probe round and restarts when the threshold is reached
// Check 执行一轮探测，达到阈值时重启
func (w *Watchdog) Check(ctx context.Context) {
	if !w.owner.Owned() {
		w.mu.Lock()
		w.fails = 0
		w.mu.Unlock()
		return
	}

	healthy := w.prober.Healthy(ctx)
	now := time.Now()

	w.mu.Lock()
	w.lastCheck = now
	if healthy {
		recovered := w.fails > 0
		w.fails = 0
		w.lastHealthy = now
		w.mu.Unlock()
		if recovered {
			w.emit(Event{Type: EventRecovered, Timestamp: now})
		}
		return
	}
	w.fails++
	fails := w.fails
	w.mu.Unlock()

	w.log.Warn("sidecar health probe failed", zap.Int("consecutive_fails", fails))
	w.emit(Event{Type: EventUnhealthy, ConsecutiveFails: fails, Timestamp: now})
	if fails < w.threshold {
		return
	}

	w.mu.Lock()
	w.fails = 0
	w.mu.Unlock()

	if !w.policy.Allow() {
		w.emit(Event{Type: EventRestartRefused, ConsecutiveFails: fails, Error: ErrRestartRefused.Error(), Timestamp: time.Now()})
		return
	}

	err := w.restarter.RestartSidecar(ctx)
	w.policy.Record(err == nil, err)
	if err != nil {
		w.log.Error("watchdog restart failed", zap.Error(err))
		w.emit(Event{Type: EventRestartFailed, ConsecutiveFails: fails, Error: err.Error(), Timestamp: time.Now()})
		return
	}
	w.log.Info("watchdog restarted sidecar", zap.Int("consecutive_fails", fails))
	w.emit(Event{Type: EventRestarted, ConsecutiveFails: fails, Timestamp: time.Now()})
}

// Status returns a snapshot of the watchdog
// Status 返回看门狗状态快照
func (w *Watchdog) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Status{
		Enabled:          w.enabled,
		Running:          w.running,
		ConsecutiveFails: w.fails,
		LastCheck:        w.lastCheck,
		LastHealthy:      w.lastHealthy,
	}
}

func (w *Watchdog) emit(ev Event) {
	w.mu.RLock()
	h := w.handler
	w.mu.RUnlock()
	if h != nil {
		h(ev)
	}
}
