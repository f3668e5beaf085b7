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

// Package process supervises the sidecar backend process.
// process 包负责托管 sidecar 后端进程。
//
// This package provides:
// 此包提供：
// - Start with adoption of a healthy instance / 启动并接管已健康的实例
// - Health waiting bounded by a timeout / 带超时的健康等待
// - Graceful shutdown with forced fallback / 优雅关闭及强制终止兜底
// - Restart, status, output tail and lifecycle events / 重启、状态、输出尾部与生命周期事件
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/discovery"
	"github.com/godoty/sidecar/internal/logger"
	"github.com/godoty/sidecar/internal/otel_trace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Common errors for sidecar supervision
// sidecar 托管的常见错误
var (
	// ErrSpawnFailed indicates the sidecar binary could not be started
	// ErrSpawnFailed 表示 sidecar 二进制文件无法启动
	ErrSpawnFailed = errors.New("sidecar spawn failed")

	// ErrHealthTimeout indicates the sidecar did not become healthy in time
	// ErrHealthTimeout 表示 sidecar 未能在规定时间内变为健康
	ErrHealthTimeout = errors.New("sidecar health check timed out")

	// ErrProcessExited indicates the tracked process exited while waiting
	// ErrProcessExited 表示等待期间被跟踪的进程已退出
	ErrProcessExited = errors.New("sidecar process exited")

	// ErrStopFailed indicates the sidecar could not be stopped
	// ErrStopFailed 表示 sidecar 无法停止
	ErrStopFailed = errors.New("sidecar failed to stop")

	// ErrSupervisorClosed indicates the supervisor was closed
	// ErrSupervisorClosed 表示守护器已关闭
	ErrSupervisorClosed = errors.New("supervisor closed")
)

// State is the supervisor's view of the sidecar lifecycle
// State 是守护器视角下的 sidecar 生命周期状态
type State string

const (
	StateAbsent       State = "absent"
	StateStarting     State = "starting"
	StateHealthy      State = "healthy"
	StateShuttingDown State = "shutting_down"
)

// EventType names a lifecycle event
// EventType 表示生命周期事件名称
type EventType string

const (
	EventStarted     EventType = "started"
	EventAdopted     EventType = "adopted"
	EventHealthy     EventType = "healthy"
	EventExited      EventType = "exited"
	EventStopped     EventType = "stopped"
	EventStartFailed EventType = "start_failed"
)

// Event is delivered to the registered EventHandler
// Event 会被投递给注册的 EventHandler
type Event struct {
	Type    EventType `json:"type"`
	PID     int       `json:"pid,omitempty"`
	SpawnID string    `json:"spawn_id,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// EventHandler is called synchronously for each lifecycle event
// EventHandler 对每个生命周期事件同步调用
type EventHandler func(Event)

// HealthChecker probes the sidecar over HTTP
// HealthChecker 通过 HTTP 探测 sidecar
type HealthChecker interface {
	Healthy(ctx context.Context) bool
	RequestShutdown(ctx context.Context, timeout time.Duration) bool
}

// Reclaimer terminates stale sidecar instances
// Reclaimer 终止残留的 sidecar 实例
type Reclaimer interface {
	Reclaim(ctx context.Context) *discovery.Report
	ReclaimPort(ctx context.Context) *discovery.Report
}

// Installation resolves the binary to run and its config root
// Installation 解析要运行的二进制文件及其配置根目录
type Installation interface {
	ConfigDir() string
	EnsureInstalled(ctx context.Context) (string, error)
}

// StartResult describes the outcome of Start
// StartResult 描述 Start 的结果
type StartResult struct {
	AlreadyRunning bool   `json:"already_running"`
	Adopted        bool   `json:"adopted"`
	PID            int    `json:"pid,omitempty"`
	SpawnID        string `json:"spawn_id,omitempty"`
	Binary         string `json:"binary,omitempty"`

	Reclaim *discovery.Report `json:"reclaim,omitempty"`
}

// ShutdownResult describes the outcome of Shutdown
// ShutdownResult 描述 Shutdown 的结果
type ShutdownResult struct {
	WasRunning bool `json:"was_running"`
	Graceful   bool `json:"graceful"`
	Forced     bool `json:"forced"`
	PID        int  `json:"pid,omitempty"`
}

// Status is a snapshot of the supervisor
// Status 是守护器的状态快照
type Status struct {
	State     State      `json:"state"`
	Running   bool       `json:"running"`
	Adopted   bool       `json:"adopted"`
	PID       int        `json:"pid,omitempty"`
	SpawnID   string     `json:"spawn_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Host      string     `json:"host"`
	Port      int        `json:"port"`
	Binary    string     `json:"binary,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Restarts  int        `json:"restarts"`
}

type exitEvent struct {
	h   *Handle
	err error
}

// Supervisor owns the single sidecar process.
// Supervisor 持有唯一的 sidecar 进程。
//
// Lifecycle operations serialize on lifecycle; mu guards the observable
// fields. The exit watcher of each spawn reports through exits and only the
// event loop clears the store on exit.
// 生命周期操作在 lifecycle 上串行；mu 保护可观察字段。
// 每次启动的退出监视器通过 exits 上报，只有事件循环在退出时清理存储。
type Supervisor struct {
	sidecar  config.SidecarConfig
	shutdown config.ShutdownConfig

	prober    HealthChecker
	reclaimer Reclaimer
	inst      Installation

	store *Store
	logs  *LogBuffer

	lifecycle sync.Mutex

	mu       sync.RWMutex
	state    State
	adopted  bool
	last     *Handle // most recent spawn, kept after exit so waiters see it
	binary   string
	lastErr  string
	restarts int
	handler  EventHandler

	exits     chan exitEvent
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	hostEnv func() []string
	log     *zap.Logger
}

// NewSupervisor creates a supervisor and starts its event loop.
// NewSupervisor 创建守护器并启动其事件循环。
// reclaimer may be nil when stale instance reclaim is disabled.
// 禁用残留实例回收时 reclaimer 可以为 nil。
func NewSupervisor(cfg *config.Config, prober HealthChecker, reclaimer Reclaimer, inst Installation) *Supervisor {
	s := &Supervisor{
		sidecar:   cfg.Sidecar,
		shutdown:  cfg.Shutdown,
		prober:    prober,
		reclaimer: reclaimer,
		inst:      inst,
		store:     NewStore(),
		logs:      NewLogBuffer(cfg.Sidecar.LogBufferLines),
		state:     StateAbsent,
		exits:     make(chan exitEvent, 4),
		stop:      make(chan struct{}),
		hostEnv:   os.Environ,
		log:       logger.Named("supervisor"),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// SetEventHandler sets the event handler callback
// SetEventHandler 设置事件处理回调
func (s *Supervisor) SetEventHandler(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Close stops the event loop; a running sidecar is left untouched
// Close 停止事件循环；正在运行的 sidecar 不受影响
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
}

// State returns the current lifecycle state
// State 返回当前生命周期状态
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Running reports whether a spawned process is tracked and alive
// Running 报告是否跟踪着存活的已启动进程
func (s *Supervisor) Running() bool {
	return s.store.Running()
}

// Owned reports whether the supervisor is responsible for a live instance,
// either spawned or adopted.
// Owned 报告守护器是否负责一个存活实例（自行启动或接管）。
func (s *Supervisor) Owned() bool {
	s.mu.RLock()
	adopted := s.adopted
	s.mu.RUnlock()
	return adopted || s.store.Running()
}

// Status returns a snapshot of the supervisor
// Status 返回守护器的状态快照
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	st := Status{
		State:     s.state,
		Adopted:   s.adopted,
		Host:      s.sidecar.Host,
		Port:      s.sidecar.Port,
		Binary:    s.binary,
		LastError: s.lastErr,
		Restarts:  s.restarts,
	}
	s.mu.RUnlock()

	if h := s.store.Current(); h != nil && h.Alive() {
		started := h.StartedAt
		st.Running = true
		st.PID = h.PID
		st.SpawnID = h.SpawnID
		st.StartedAt = &started
	}
	return st
}

// Logs returns the latest n lines of sidecar output
// Logs 返回 sidecar 输出的最新 n 行
func (s *Supervisor) Logs(n int) []LogLine {
	return s.logs.Tail(n)
}

// Start launches the sidecar unless one is already tracked or healthy.
// Start 启动 sidecar，除非已有被跟踪或健康的实例。
func (s *Supervisor) Start(ctx context.Context) (*StartResult, error) {
	ctx, span := otel_trace.Start(ctx, "sidecar.start")
	defer span.End()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	res, err := s.startLocked(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("sidecar.adopted", res.Adopted),
		attribute.Bool("sidecar.already_running", res.AlreadyRunning),
		attribute.Int("sidecar.pid", res.PID),
	)
	return res, nil
}

func (s *Supervisor) startLocked(ctx context.Context) (*StartResult, error) {
	select {
	case <-s.stop:
		return nil, ErrSupervisorClosed
	default:
	}

	if h := s.store.Current(); h != nil && h.Alive() {
		logger.DebugF(ctx, "[Sidecar] Already running, pid=%d", h.PID)
		return &StartResult{AlreadyRunning: true, PID: h.PID, SpawnID: h.SpawnID, Binary: h.Binary}, nil
	}

	if s.prober.Healthy(ctx) {
		s.mu.Lock()
		alreadyAdopted := s.adopted
		s.adopted = true
		s.last = nil
		s.state = StateHealthy
		s.lastErr = ""
		s.mu.Unlock()
		if !alreadyAdopted {
			logger.InfoF(ctx, "[Sidecar] Healthy instance found on %s, adopting it", s.sidecar.Address())
			s.emit(Event{Type: EventAdopted})
		}
		return &StartResult{Adopted: true, AlreadyRunning: alreadyAdopted}, nil
	}

	s.setState(StateStarting)
	s.mu.Lock()
	s.adopted = false
	s.mu.Unlock()

	res := &StartResult{}
	if s.reclaimer != nil {
		res.Reclaim = s.reclaimer.Reclaim(ctx)
		if n := len(res.Reclaim.Killed); n > 0 {
			logger.InfoF(ctx, "[Sidecar] Reclaimed %d stale instance(s)", n)
		}
	}

	bin, err := s.inst.EnsureInstalled(ctx)
	if err != nil {
		return nil, s.startFailed(ctx, fmt.Errorf("%w: %v", ErrSpawnFailed, err))
	}

	h, err := s.spawn(bin)
	if err != nil {
		return nil, s.startFailed(ctx, fmt.Errorf("%w: %v", ErrSpawnFailed, err))
	}

	if err := s.store.Put(h); err != nil {
		_ = killProcessTree(h.PID)
		s.watch(h)
		return nil, s.startFailed(ctx, err)
	}
	s.watch(h)

	s.mu.Lock()
	s.last = h
	s.binary = bin
	s.lastErr = ""
	s.mu.Unlock()

	logger.InfoF(ctx, "[Sidecar] Started %s pid=%d port=%d", bin, h.PID, s.sidecar.Port)
	s.emit(Event{Type: EventStarted, PID: h.PID, SpawnID: h.SpawnID})

	res.PID = h.PID
	res.SpawnID = h.SpawnID
	res.Binary = bin
	return res, nil
}

func (s *Supervisor) startFailed(ctx context.Context, err error) error {
	s.mu.Lock()
	s.state = StateAbsent
	s.lastErr = err.Error()
	s.mu.Unlock()
	logger.ErrorF(ctx, "[Sidecar] Start failed: %v", err)
	s.emit(Event{Type: EventStartFailed, Error: err.Error()})
	return err
}

// spawn runs "<bin> serve --port <port>" in its own process group.
// The request ctx is not bound to the child; its lifetime is the supervisor's.
func (s *Supervisor) spawn(bin string) (*Handle, error) {
	configDir := s.inst.ConfigDir()

	cmd := exec.Command(bin, "serve", "--port", strconv.Itoa(s.sidecar.Port))
	cmd.Env = Environment(configDir, s.hostEnv())
	if configDir != "" {
		if info, err := os.Stat(configDir); err == nil && info.IsDir() {
			cmd.Dir = configDir
		}
	}
	setProcGroupAttr(cmd)

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.WaitDelay = s.shutdown.KillTimeout

	if err := cmd.Start(); err != nil {
		_ = outW.Close()
		_ = errW.Close()
		return nil, err
	}

	h := newHandle(cmd, bin)
	h.pipes = []io.Closer{outW, errW}
	go s.drain(outR, "stdout", h.PID)
	go s.drain(errR, "stderr", h.PID)
	return h, nil
}

// watch waits for the process and reports its exit to the event loop.
// It must only run once the handle is in the store.
func (s *Supervisor) watch(h *Handle) {
	go func() {
		err := h.cmd.Wait()
		for _, c := range h.pipes {
			_ = c.Close()
		}
		h.markExited(err)
		select {
		case s.exits <- exitEvent{h: h, err: err}:
		case <-s.stop:
		}
	}()
}

func (s *Supervisor) drain(r io.Reader, stream string, pid int) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s.logs.Add(stream, pid, line)
		if stream == "stderr" {
			s.log.Warn(line, zap.String("stream", stream), zap.Int("pid", pid))
		} else {
			s.log.Info(line, zap.String("stream", stream), zap.Int("pid", pid))
		}
	}
	// keep the writer side from blocking after a scan error
	_, _ = io.Copy(io.Discard, r)
}

func (s *Supervisor) loop() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.exits:
			s.handleExit(ev)
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) handleExit(ev exitEvent) {
	if !s.store.ClearIfCurrent(ev.h.SpawnID) {
		return
	}

	msg := "exited"
	if ev.err != nil {
		msg = ev.err.Error()
	}

	s.mu.Lock()
	if s.state != StateShuttingDown {
		s.state = StateAbsent
		s.lastErr = msg
	}
	s.mu.Unlock()

	s.log.Warn("Sidecar exited", zap.Int("pid", ev.h.PID), zap.String("spawn_id", ev.h.SpawnID), zap.String("reason", msg))
	s.emit(Event{Type: EventExited, PID: ev.h.PID, SpawnID: ev.h.SpawnID, Error: msg})
}

// WaitForHealthy polls the health endpoint every interval until it answers,
// the tracked process exits, or timeout elapses. Non-positive arguments use
// the configured startup timeout and poll interval.
// WaitForHealthy 每隔 interval 轮询健康端点，直到其响应、被跟踪进程退出或超时。
// 非正参数使用配置的启动超时和轮询间隔。
func (s *Supervisor) WaitForHealthy(ctx context.Context, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = s.sidecar.StartupTimeout
	}
	if interval <= 0 {
		interval = s.sidecar.PollInterval
	}

	ctx, span := otel_trace.Start(ctx, "sidecar.wait_healthy")
	defer span.End()

	h := s.store.Current()
	if h == nil {
		s.mu.RLock()
		h = s.last
		s.mu.RUnlock()
	}
	var done <-chan struct{}
	if h != nil {
		done = h.Done()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if s.prober.Healthy(ctx) {
			s.markHealthy(ctx, h)
			return nil
		}

		select {
		case <-done:
			err := fmt.Errorf("%w: %v", ErrProcessExited, h.ExitErr())
			s.setLastErr(err)
			span.RecordError(err)
			return err
		case <-deadline.C:
			s.onHealthTimeout(ctx, h, timeout)
			span.SetStatus(codes.Error, ErrHealthTimeout.Error())
			return ErrHealthTimeout
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) markHealthy(ctx context.Context, h *Handle) {
	s.mu.Lock()
	if s.state == StateShuttingDown {
		s.mu.Unlock()
		return
	}
	changed := s.state != StateHealthy
	s.state = StateHealthy
	if h == nil {
		// someone else answers on the port
		s.adopted = true
	}
	s.mu.Unlock()

	if changed {
		ev := Event{Type: EventHealthy}
		if h != nil {
			ev.PID, ev.SpawnID = h.PID, h.SpawnID
		}
		logger.InfoF(ctx, "[Sidecar] Healthy on %s", s.sidecar.Address())
		s.emit(ev)
	}
}

// onHealthTimeout kills the spawn that never became healthy so a retry
// starts clean.
func (s *Supervisor) onHealthTimeout(ctx context.Context, h *Handle, timeout time.Duration) {
	err := fmt.Errorf("%w after %s", ErrHealthTimeout, timeout)
	logger.WarnF(ctx, "[Sidecar] %v", err)

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if h != nil {
		if cur := s.store.Current(); cur != nil && cur.SpawnID == h.SpawnID {
			if cur.Alive() {
				_ = killProcessTree(cur.PID)
				s.waitExit(cur, s.shutdown.KillTimeout)
			}
			s.store.ClearIfCurrent(cur.SpawnID)
		}
	}

	s.mu.Lock()
	if !s.store.Running() && !s.adopted {
		s.state = StateAbsent
	}
	s.lastErr = err.Error()
	s.mu.Unlock()
}

// Shutdown stops the sidecar. With graceful set it first asks the sidecar to
// exit over HTTP and only kills it when that does not work.
// Shutdown 停止 sidecar。graceful 为真时先通过 HTTP 请求退出，失败后才强制终止。
func (s *Supervisor) Shutdown(ctx context.Context, graceful bool) (*ShutdownResult, error) {
	ctx, span := otel_trace.Start(ctx, "sidecar.shutdown")
	defer span.End()
	span.SetAttributes(attribute.Bool("sidecar.graceful", graceful))

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	res, err := s.shutdownLocked(ctx, graceful)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Supervisor) shutdownLocked(ctx context.Context, graceful bool) (*ShutdownResult, error) {
	h := s.store.Current()
	if h != nil && !h.Alive() {
		s.store.ClearIfCurrent(h.SpawnID)
		h = nil
	}

	s.mu.Lock()
	adopted := s.adopted
	if h == nil && !adopted {
		s.mu.Unlock()
		logger.DebugF(ctx, "[Sidecar] Shutdown requested but nothing is running")
		return &ShutdownResult{WasRunning: false}, nil
	}
	prev := s.state
	s.state = StateShuttingDown
	s.mu.Unlock()

	res := &ShutdownResult{WasRunning: true}
	if h != nil {
		res.PID = h.PID
	}

	if graceful && s.gracefulStop(ctx, h) {
		res.Graceful = true
		s.finishShutdown(ctx, h, res)
		return res, nil
	}

	if h != nil {
		logger.InfoF(ctx, "[Sidecar] Killing process tree pid=%d", h.PID)
		if err := killProcessTree(h.PID); err != nil {
			logger.WarnF(ctx, "[Sidecar] Kill pid=%d: %v", h.PID, err)
		}
		if !s.waitExit(h, s.shutdown.KillTimeout) {
			return res, s.stopFailed(prev, fmt.Errorf("%w: pid %d still alive after %s", ErrStopFailed, h.PID, s.shutdown.KillTimeout))
		}
	} else if s.reclaimer != nil {
		report := s.reclaimer.ReclaimPort(ctx)
		if !report.PortFree {
			return res, s.stopFailed(prev, fmt.Errorf("%w: adopted instance on port %d could not be reclaimed", ErrStopFailed, s.sidecar.Port))
		}
	} else {
		return res, s.stopFailed(prev, fmt.Errorf("%w: adopted instance ignored the shutdown request", ErrStopFailed))
	}

	res.Forced = true
	s.finishShutdown(ctx, h, res)
	return res, nil
}

// gracefulStop posts the shutdown request, waits the grace period and
// re-probes. Once the endpoint is gone the tracked process, if any, gets up
// to the kill timeout to exit on its own.
func (s *Supervisor) gracefulStop(ctx context.Context, h *Handle) bool {
	if !s.prober.RequestShutdown(ctx, s.shutdown.RequestTimeout) {
		logger.DebugF(ctx, "[Sidecar] Shutdown request not accepted")
		return false
	}
	if !sleepCtx(ctx, s.shutdown.GracePeriod) {
		return false
	}
	if s.prober.Healthy(ctx) {
		return false
	}
	if h == nil {
		return true
	}
	if s.waitExit(h, s.shutdown.KillTimeout) {
		return true
	}
	logger.WarnF(ctx, "[Sidecar] pid=%d accepted shutdown but did not exit within %s", h.PID, s.shutdown.KillTimeout)
	return false
}

func (s *Supervisor) finishShutdown(ctx context.Context, h *Handle, res *ShutdownResult) {
	ev := Event{Type: EventStopped, PID: res.PID}
	if h != nil {
		s.store.ClearIfCurrent(h.SpawnID)
		ev.SpawnID = h.SpawnID
	}
	s.mu.Lock()
	s.state = StateAbsent
	s.adopted = false
	s.last = nil
	s.mu.Unlock()

	logger.InfoF(ctx, "[Sidecar] Stopped (graceful=%t forced=%t)", res.Graceful, res.Forced)
	s.emit(ev)
}

func (s *Supervisor) stopFailed(prev State, err error) error {
	s.mu.Lock()
	s.state = prev
	s.lastErr = err.Error()
	s.mu.Unlock()
	s.log.Error("Sidecar stop failed", zap.Error(err))
	return err
}

// Restart stops the sidecar gracefully, waits the restart delay and starts
// it again. A sidecar that was not running is simply started.
// Restart 优雅停止 sidecar，等待重启延迟后再次启动；未运行时直接启动。
func (s *Supervisor) Restart(ctx context.Context) (*StartResult, error) {
	ctx, span := otel_trace.Start(ctx, "sidecar.restart")
	defer span.End()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if _, err := s.shutdownLocked(ctx, true); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !sleepCtx(ctx, s.sidecar.RestartDelay) {
		return nil, ctx.Err()
	}

	res, err := s.startLocked(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	return res, nil
}

func (s *Supervisor) waitExit(h *Handle, timeout time.Duration) bool {
	if timeout <= 0 {
		return !h.Alive()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.Done():
		return true
	case <-t.C:
		return false
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *Supervisor) emit(ev Event) {
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()

	if handler != nil {
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		handler(ev)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
