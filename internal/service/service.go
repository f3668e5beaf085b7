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

// Package service exposes the sidecar commands shared by the CLI and the control API.
// service 包提供 CLI 与控制 API 共用的 sidecar 命令。
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godoty/sidecar/internal/collector"
	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/history"
	"github.com/godoty/sidecar/internal/installer"
	"github.com/godoty/sidecar/internal/logger"
	"github.com/godoty/sidecar/internal/monitor"
	"github.com/godoty/sidecar/internal/otel_trace"
	"github.com/godoty/sidecar/internal/paths"
	"github.com/godoty/sidecar/internal/process"
	"github.com/godoty/sidecar/internal/release"
	"github.com/godoty/sidecar/internal/restart"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrOperationInProgress indicates another lifecycle operation holds the lock
	// ErrOperationInProgress 表示其他生命周期操作正持有锁
	ErrOperationInProgress = errors.New("sidecar operation in progress")

	// ErrUpdaterUnavailable indicates no installer could be built for this platform
	// ErrUpdaterUnavailable 表示当前平台无法构建安装器
	ErrUpdaterUnavailable = errors.New("sidecar updater unavailable")
)

// Lifecycle is the supervisor surface used by the service
// Lifecycle 是服务使用的守护器接口
type Lifecycle interface {
	Start(ctx context.Context) (*process.StartResult, error)
	Shutdown(ctx context.Context, graceful bool) (*process.ShutdownResult, error)
	Restart(ctx context.Context) (*process.StartResult, error)
	WaitForHealthy(ctx context.Context, timeout, interval time.Duration) error
	Status() process.Status
	Logs(n int) []process.LogLine
	Owned() bool
	Close()
}

// VersionSource reports the installed sidecar version
type VersionSource interface {
	Current(ctx context.Context) string
	Path() string
}

// ReleaseSource fetches the latest release manifest
type ReleaseSource interface {
	Latest(ctx context.Context) (*release.Manifest, error)
}

// Updater installs a release asset
type Updater interface {
	Install(ctx context.Context, m *release.Manifest, reporter installer.ProgressReporter) (*installer.Result, error)
}

// HistoryStore persists update attempts
type HistoryStore interface {
	Create(ctx context.Context, rec *history.UpdateRecord) error
	Finish(ctx context.Context, id string, status history.Status, cause error) error
	List(ctx context.Context, limit int) ([]*history.UpdateRecord, error)
}

// UsageSampler reads resource usage of a running process
type UsageSampler interface {
	Sample(ctx context.Context, pid int) (*collector.Usage, error)
}

// Deps holds the collaborators of a Service
// Deps 保存 Service 的协作者
type Deps struct {
	ConfigDir  string
	Supervisor Lifecycle
	Prober     monitor.Prober
	Versions   VersionSource
	Releases   ReleaseSource
	// Updater is nil when the platform has no release target
	Updater Updater
	History HistoryStore
	// Usage is optional; status omits resource usage without it
	Usage   UsageSampler
	Closers []func() error
}

// VersionInfo describes the installed binary
// VersionInfo 描述已安装的二进制文件
type VersionInfo struct {
	Version string `json:"version"`
	Path    string `json:"path"`
}

// UpdateOutcome describes a completed update
// UpdateOutcome 描述一次完成的更新
type UpdateOutcome struct {
	RecordID    string                  `json:"record_id,omitempty"`
	FromVersion string                  `json:"from_version"`
	ToVersion   string                  `json:"to_version"`
	Stopped     *process.ShutdownResult `json:"stopped,omitempty"`
	Install     *installer.Result       `json:"install,omitempty"`
	Start       *process.StartResult    `json:"start,omitempty"`
}

// StatusInfo combines supervisor and watchdog state
// StatusInfo 汇总守护器与看门狗状态
type StatusInfo struct {
	Sidecar  process.Status   `json:"sidecar"`
	Watchdog monitor.Status   `json:"watchdog"`
	Restarts restart.History  `json:"auto_restarts"`
	Usage    *collector.Usage `json:"usage,omitempty"`
}

// Service runs sidecar commands. Every lifecycle command holds opMu for its
// whole duration so an update is never interleaved with a start or stop.
// Service 执行 sidecar 命令；每个生命周期命令在整个执行期间持有 opMu。
type Service struct {
	cfg       *config.Config
	configDir string

	sup      Lifecycle
	versions VersionSource
	releases ReleaseSource
	updater  Updater
	history  HistoryStore
	usage    UsageSampler

	watchdog *monitor.Watchdog
	policy   *restart.Policy

	opMu      sync.Mutex
	closers   []func() error
	closeOnce sync.Once
}

// New creates a service from its collaborators
// New 根据协作者创建服务
func New(cfg *config.Config, deps Deps) *Service {
	s := &Service{
		cfg:       cfg,
		configDir: deps.ConfigDir,
		sup:       deps.Supervisor,
		versions:  deps.Versions,
		releases:  deps.Releases,
		updater:   deps.Updater,
		history:   deps.History,
		usage:     deps.Usage,
		closers:   deps.Closers,
	}
	if s.history == nil {
		s.history = (*history.Repository)(nil)
	}
	s.policy = restart.NewPolicy(cfg.Watchdog)
	s.policy.SetCallback(s.onAutoRestart)
	if deps.Prober != nil {
		s.watchdog = monitor.NewWatchdog(cfg.Watchdog, deps.Prober, deps.Supervisor, watchdogRestarter{s}, s.policy)
	}
	return s
}

func (s *Service) onAutoRestart(success bool, err error) {
	ctx := context.Background()
	if success {
		logger.InfoF(ctx, "[Service] sidecar auto-restarted: %s", s.sup.Status().State)
		return
	}
	logger.WarnF(ctx, "[Service] sidecar auto-restart failed: %v", err)
}

// ConfigDir returns the resolved configuration root
func (s *Service) ConfigDir() string { return s.configDir }

// Watchdog returns the health watchdog, or nil when no prober was supplied
func (s *Service) Watchdog() *monitor.Watchdog { return s.watchdog }

// GetSidecarVersion reports the installed version and binary path
// GetSidecarVersion 返回已安装的版本与二进制路径
func (s *Service) GetSidecarVersion(ctx context.Context) VersionInfo {
	return VersionInfo{
		Version: s.versions.Current(ctx),
		Path:    s.versions.Path(),
	}
}

// CheckSidecarUpdate compares the installed version with the latest release
// CheckSidecarUpdate 比较已安装版本与最新发布
func (s *Service) CheckSidecarUpdate(ctx context.Context) (*release.UpdateInfo, error) {
	current := s.versions.Current(ctx)
	m, err := s.releases.Latest(ctx)
	if err != nil {
		logger.WarnF(ctx, "[Service] update check failed: %v", err)
		return nil, err
	}
	info := release.NewUpdateInfo(current, m)
	logger.InfoF(ctx, "[Service] update check: current=%s latest=%s available=%v",
		info.CurrentVersion, info.LatestVersion, info.Available)
	return info, nil
}

// PerformSidecarUpdate stops the sidecar, installs m and starts it again.
// A nil manifest fetches the latest release first.
// PerformSidecarUpdate 停止 sidecar、安装 m 并重新启动；m 为 nil 时先获取最新发布。
//
// When installation fails the installer has restored the previous binary,
// which is started again before the error is returned.
// 安装失败时安装器已恢复旧的二进制文件，返回错误前会重新启动它。
func (s *Service) PerformSidecarUpdate(ctx context.Context, m *release.Manifest, reporter installer.ProgressReporter) (out *UpdateOutcome, err error) {
	if s.updater == nil {
		return nil, ErrUpdaterUnavailable
	}
	if reporter == nil {
		reporter = &installer.NoOpProgressReporter{}
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	ctx, span := otel_trace.Start(ctx, "service.PerformSidecarUpdate")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if m == nil {
		if m, err = s.releases.Latest(ctx); err != nil {
			return nil, err
		}
	}

	out, finish := s.beginUpdate(ctx, m)
	span.SetAttributes(
		attribute.String("sidecar.from_version", out.FromVersion),
		attribute.String("sidecar.to_version", out.ToVersion),
	)

	out.Stopped, err = s.sup.Shutdown(ctx, true)
	if err != nil {
		finish(err)
		return out, err
	}

	out.Install, err = s.updater.Install(ctx, m, reporter)
	if err != nil {
		finish(err)
		logger.ErrorF(ctx, "[Service] update failed, starting previous binary: %v", err)
		if _, serr := s.startAndWait(ctx); serr != nil {
			logger.ErrorF(ctx, "[Service] previous binary did not come back: %v", serr)
		}
		return out, err
	}
	finish(nil)

	out.Start, err = s.startAndWait(ctx)
	if err != nil {
		return out, fmt.Errorf("updated to %s but start failed: %w", out.ToVersion, err)
	}
	logger.InfoF(ctx, "[Service] sidecar updated to %s", out.ToVersion)
	return out, nil
}

// InstallUpdate installs m without stopping or starting a supervised
// sidecar; running instances are killed by name. A nil manifest fetches the
// latest release first.
// InstallUpdate 在不经过守护器的情况下安装 m，运行中的实例按名称终止。
func (s *Service) InstallUpdate(ctx context.Context, m *release.Manifest, reporter installer.ProgressReporter) (*UpdateOutcome, error) {
	if s.updater == nil {
		return nil, ErrUpdaterUnavailable
	}
	if reporter == nil {
		reporter = &installer.NoOpProgressReporter{}
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	var err error
	if m == nil {
		if m, err = s.releases.Latest(ctx); err != nil {
			return nil, err
		}
	}
	out, finish := s.beginUpdate(ctx, m)
	out.Install, err = s.updater.Install(ctx, m, reporter)
	finish(err)
	return out, err
}

// beginUpdate records the attempt and returns the function that closes the record
func (s *Service) beginUpdate(ctx context.Context, m *release.Manifest) (*UpdateOutcome, func(error)) {
	out := &UpdateOutcome{
		FromVersion: s.versions.Current(ctx),
		ToVersion:   m.Version(),
	}
	logger.InfoF(ctx, "[Service] updating sidecar %s -> %s", out.FromVersion, out.ToVersion)

	rec := &history.UpdateRecord{FromVersion: out.FromVersion, ToVersion: out.ToVersion}
	if t, ok := s.updater.(interface{ Triple() string }); ok {
		if a, aerr := m.SelectAsset(t.Triple()); aerr == nil {
			rec.Asset = a.Name
		}
	}
	if herr := s.history.Create(ctx, rec); herr != nil {
		logger.WarnF(ctx, "[Service] cannot record update: %v", herr)
	} else {
		out.RecordID = rec.ID
	}

	finish := func(cause error) {
		if out.RecordID == "" {
			return
		}
		status := history.StatusSuccess
		if cause != nil {
			status = history.StatusFailed
		}
		if herr := s.history.Finish(ctx, out.RecordID, status, cause); herr != nil {
			logger.WarnF(ctx, "[Service] cannot finish update record %s: %v", out.RecordID, herr)
		}
	}
	return out, finish
}

// RestartSidecar stops the sidecar gracefully, starts it again and waits for health
// RestartSidecar 优雅停止 sidecar 后重新启动并等待健康
func (s *Service) RestartSidecar(ctx context.Context) (*process.StartResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.restartLocked(ctx)
}

func (s *Service) restartLocked(ctx context.Context) (*process.StartResult, error) {
	res, err := s.sup.Restart(ctx)
	if err != nil {
		return res, err
	}
	return res, s.sup.WaitForHealthy(ctx, 0, 0)
}

// StartSidecar starts or adopts the sidecar and waits for health
// StartSidecar 启动或接管 sidecar 并等待健康
func (s *Service) StartSidecar(ctx context.Context) (*process.StartResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	res, err := s.startAndWait(ctx)
	if err == nil && s.policy != nil {
		s.policy.Reset()
	}
	return res, err
}

func (s *Service) startAndWait(ctx context.Context) (*process.StartResult, error) {
	res, err := s.sup.Start(ctx)
	if err != nil {
		return res, err
	}
	return res, s.sup.WaitForHealthy(ctx, 0, 0)
}

// StopSidecar stops the sidecar
// StopSidecar 停止 sidecar
func (s *Service) StopSidecar(ctx context.Context, graceful bool) (*process.ShutdownResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.sup.Shutdown(ctx, graceful)
}

// Status returns supervisor and watchdog state
// Status 返回守护器与看门狗状态
func (s *Service) Status() StatusInfo {
	info := StatusInfo{
		Sidecar:  s.sup.Status(),
		Restarts: s.policy.History(),
	}
	if s.watchdog != nil {
		info.Watchdog = s.watchdog.Status()
	}
	if s.usage != nil && info.Sidecar.Running && info.Sidecar.PID > 0 {
		if u, err := s.usage.Sample(context.Background(), info.Sidecar.PID); err == nil {
			info.Usage = u
		}
	}
	return info
}

// Logs returns the newest n lines of sidecar output
// Logs 返回最新的 n 行 sidecar 输出
func (s *Service) Logs(n int) []process.LogLine {
	return s.sup.Logs(n)
}

// History lists recorded update attempts, newest first
// History 按时间倒序列出更新记录
func (s *Service) History(ctx context.Context, limit int) ([]*history.UpdateRecord, error) {
	return s.history.List(ctx, limit)
}

// Boot prepares the config root, starts the sidecar, waits for it and then
// calls onReady. The watchdog starts afterwards when enabled.
// Boot 准备配置目录、启动 sidecar、等待健康后调用 onReady，随后按配置启动看门狗。
func (s *Service) Boot(ctx context.Context, onReady func(process.Status)) error {
	if err := paths.Prepare(s.configDir); err != nil {
		return err
	}

	s.opMu.Lock()
	res, err := s.startAndWait(ctx)
	s.opMu.Unlock()
	if err != nil {
		return err
	}
	logger.InfoF(ctx, "[Service] sidecar ready (pid=%d adopted=%v)", res.PID, res.Adopted)

	if onReady != nil {
		onReady(s.sup.Status())
	}
	if s.watchdog != nil {
		s.watchdog.Start(context.WithoutCancel(ctx))
	}
	return nil
}

// Shutdown stops the watchdog and the sidecar, then releases resources.
// Shutdown 停止看门狗与 sidecar 并释放资源。
func (s *Service) Shutdown(ctx context.Context) error {
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.opMu.Lock()
	_, err := s.sup.Shutdown(ctx, true)
	s.opMu.Unlock()
	s.Close()
	return err
}

// Close releases the supervisor and storage without stopping the sidecar
// Close 释放守护器与存储，但不停止 sidecar
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		if s.watchdog != nil {
			s.watchdog.Stop()
		}
		s.sup.Close()
		for _, c := range s.closers {
			if err := c(); err != nil {
				logger.WarnF(context.Background(), "[Service] close: %v", err)
			}
		}
	})
}

// watchdogRestarter restarts only when no other operation is running
type watchdogRestarter struct{ s *Service }

func (w watchdogRestarter) RestartSidecar(ctx context.Context) error {
	if !w.s.opMu.TryLock() {
		return ErrOperationInProgress
	}
	defer w.s.opMu.Unlock()
	_, err := w.s.restartLocked(ctx)
	return err
}
