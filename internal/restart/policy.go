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

// Package restart decides whether the watchdog may restart the sidecar.
// restart 包决定看门狗是否可以重启 sidecar。
//
// A Policy allows at most MaxRestarts inside a sliding window, then refuses
// every request until the cooldown has passed.
// Policy 在滑动窗口内最多允许 MaxRestarts 次重启，之后在冷却期结束前拒绝所有请求。
package restart

import (
	"sync"
	"time"

	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/logger"
	"go.uber.org/zap"
)

// Default policy values
// 默认策略值
const (
	DefaultMaxRestarts = 3
	DefaultWindow      = 5 * time.Minute
	DefaultCooldown    = 10 * time.Minute
)

// History tracks restarts performed by the watchdog
// History 跟踪看门狗执行的重启
type History struct {
	RestartCount  int         `json:"restart_count"`
	LastRestart   time.Time   `json:"last_restart"`
	LastSuccess   bool        `json:"last_success"`
	LastError     string      `json:"last_error,omitempty"`
	WindowStart   time.Time   `json:"window_start"`
	CooldownUntil time.Time   `json:"cooldown_until"`
	RestartTimes  []time.Time `json:"restart_times"`
}

// Callback is called after every recorded restart attempt
// Callback 在每次记录重启尝试后被调用
type Callback func(success bool, err error)

// Policy limits automatic restarts
// Policy 限制自动重启
type Policy struct {
	maxRestarts int
	window      time.Duration
	cooldown    time.Duration

	mu       sync.RWMutex
	history  History
	callback Callback
	now      func() time.Time
	log      *zap.Logger
}

// NewPolicy creates a policy from watchdog configuration
// NewPolicy 根据看门狗配置创建策略
func NewPolicy(wc config.WatchdogConfig) *Policy {
	p := &Policy{
		maxRestarts: wc.MaxRestarts,
		window:      wc.Window,
		cooldown:    wc.Cooldown,
		now:         time.Now,
		log:         logger.Named("restart"),
	}
	if p.maxRestarts <= 0 {
		p.maxRestarts = DefaultMaxRestarts
	}
	if p.window <= 0 {
		p.window = DefaultWindow
	}
	if p.cooldown <= 0 {
		p.cooldown = DefaultCooldown
	}
	p.history.WindowStart = p.now()
	return p
}

// SetCallback sets the restart callback
// SetCallback 设置重启回调
func (p *Policy) SetCallback(cb Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = cb
}

// Allow reports whether another restart may run now.
// Allow 报告当前是否允许再次重启。
// Reaching the limit inside the window starts the cooldown.
// 窗口内达到上限时进入冷却。
func (p *Policy) Allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	h := &p.history
	if now.Before(h.CooldownUntil) {
		p.log.Warn("restart refused, cooling down", zap.Time("until", h.CooldownUntil))
		return false
	}
	if !h.CooldownUntil.IsZero() {
		p.log.Info("cooldown passed, restart counter reset")
		p.resetLocked()
		return true
	}

	if p.pruneLocked(now) >= p.maxRestarts {
		h.CooldownUntil = now.Add(p.cooldown)
		p.log.Warn("restart limit reached, entering cooldown",
			zap.Int("max_restarts", p.maxRestarts),
			zap.Duration("window", p.window),
			zap.Time("until", h.CooldownUntil))
		return false
	}
	return true
}

// Record stores a restart attempt and notifies the callback
// Record 记录一次重启尝试并通知回调
func (p *Policy) Record(success bool, err error) {
	p.mu.Lock()
	now := p.now()
	h := &p.history
	h.RestartCount++
	h.LastRestart = now
	h.LastSuccess = success
	h.LastError = ""
	if err != nil {
		h.LastError = err.Error()
	}
	h.RestartTimes = append(h.RestartTimes, now)
	inWindow := p.pruneLocked(now)
	cb := p.callback
	p.mu.Unlock()

	p.log.Info("restart recorded", zap.Bool("success", success), zap.Int("in_window", inWindow), zap.Error(err))
	if cb != nil {
		cb(success, err)
	}
}

// Reset clears the counter and any cooldown
// Reset 清除计数与冷却
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Policy) resetLocked() {
	p.history.RestartCount = 0
	p.history.RestartTimes = nil
	p.history.WindowStart = p.now()
	p.history.CooldownUntil = time.Time{}
}

// pruneLocked drops restart times older than the window and returns how many remain
func (p *Policy) pruneLocked(now time.Time) int {
	cutoff := now.Add(-p.window)
	kept := p.history.RestartTimes[:0]
	for _, t := range p.history.RestartTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.history.RestartTimes = kept
	return len(kept)
}

// InCooldown reports whether restarts are currently refused
// InCooldown 报告当前是否处于冷却期
func (p *Policy) InCooldown() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.now().Before(p.history.CooldownUntil)
}

// History returns a copy of the restart history
// History 返回重启历史的副本
func (p *Policy) History() History {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h := p.history
	h.RestartTimes = append([]time.Time(nil), p.history.RestartTimes...)
	return h
}
