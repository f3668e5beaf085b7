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

package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godoty/sidecar/internal/collector"
	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/history"
	"github.com/godoty/sidecar/internal/installer"
	"github.com/godoty/sidecar/internal/logger"
	"github.com/godoty/sidecar/internal/paths"
	"github.com/godoty/sidecar/internal/process"
	"github.com/godoty/sidecar/internal/release"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeLifecycle records calls in order
type fakeLifecycle struct {
	mu       sync.Mutex
	calls    []string
	startErr error
	waitErr  error
	stopErr  error
	owned    bool
	closed   bool
}

func (f *fakeLifecycle) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeLifecycle) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeLifecycle) Start(ctx context.Context) (*process.StartResult, error) {
	f.record("start")
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.owned = true
	return &process.StartResult{PID: 42}, nil
}

func (f *fakeLifecycle) Shutdown(ctx context.Context, graceful bool) (*process.ShutdownResult, error) {
	if graceful {
		f.record("shutdown:graceful")
	} else {
		f.record("shutdown:forced")
	}
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	was := f.owned
	f.owned = false
	return &process.ShutdownResult{WasRunning: was, Graceful: graceful && was}, nil
}

func (f *fakeLifecycle) Restart(ctx context.Context) (*process.StartResult, error) {
	f.record("restart")
	return &process.StartResult{PID: 43}, nil
}

func (f *fakeLifecycle) WaitForHealthy(ctx context.Context, timeout, interval time.Duration) error {
	f.record("wait")
	return f.waitErr
}

func (f *fakeLifecycle) Status() process.Status {
	return process.Status{State: process.StateHealthy, Running: f.owned, PID: 42}
}

func (f *fakeLifecycle) Logs(n int) []process.LogLine {
	return []process.LogLine{{ID: 1, Stream: "stdout", Message: "hello"}}
}

func (f *fakeLifecycle) Owned() bool { return f.owned }

func (f *fakeLifecycle) Close() { f.closed = true }

type fakeVersions struct{ version string }

func (f fakeVersions) Current(context.Context) string { return f.version }
func (f fakeVersions) Path() string                   { return "/opt/godoty/bin/opencode-cli" }

type fakeReleases struct {
	manifest *release.Manifest
	err      error
	calls    atomic.Int32
}

func (f *fakeReleases) Latest(context.Context) (*release.Manifest, error) {
	f.calls.Add(1)
	return f.manifest, f.err
}

type fakeUpdater struct {
	lc       *fakeLifecycle
	err      error
	inFlight atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (f *fakeUpdater) Triple() string { return "x86_64-unknown-linux-gnu" }

func (f *fakeUpdater) Install(ctx context.Context, m *release.Manifest, reporter installer.ProgressReporter) (*installer.Result, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)
	if f.lc != nil {
		f.lc.record("install")
	}
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	return &installer.Result{Asset: "opencode-x86_64-unknown-linux-gnu", Version: m.Version()}, nil
}

func testManifest() *release.Manifest {
	return &release.Manifest{
		Tag: "v1.2.0",
		Assets: []release.Asset{
			{Name: "opencode-x86_64-unknown-linux-gnu", DownloadURL: "http://example.invalid/a"},
		},
	}
}

type harness struct {
	svc      *Service
	lc       *fakeLifecycle
	releases *fakeReleases
	updater  *fakeUpdater
	repo     *history.Repository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := history.Open(context.Background(), filepath.Join(dir, history.DefaultFileName))
	require.NoError(t, err)

	lc := &fakeLifecycle{}
	h := &harness{
		lc:       lc,
		releases: &fakeReleases{manifest: testManifest()},
		updater:  &fakeUpdater{lc: lc},
		repo:     history.NewRepository(db),
	}
	h.svc = New(config.Default(), Deps{
		ConfigDir:  dir,
		Supervisor: lc,
		Versions:   fakeVersions{version: "1.1.0"},
		Releases:   h.releases,
		Updater:    h.updater,
		History:    h.repo,
		Closers:    []func() error{func() error { return history.Close(db) }},
	})
	t.Cleanup(h.svc.Close)
	return h
}

func TestGetSidecarVersion(t *testing.T) {
	h := newHarness(t)
	info := h.svc.GetSidecarVersion(context.Background())
	assert.Equal(t, "1.1.0", info.Version)
	assert.Equal(t, "/opt/godoty/bin/opencode-cli", info.Path)
}

func TestCheckSidecarUpdate(t *testing.T) {
	h := newHarness(t)

	info, err := h.svc.CheckSidecarUpdate(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Available)
	assert.Equal(t, "1.2.0", info.LatestVersion)
	assert.Equal(t, "1.1.0", info.CurrentVersion)

	h.releases.err = release.ErrFetchFailed
	_, err = h.svc.CheckSidecarUpdate(context.Background())
	assert.ErrorIs(t, err, release.ErrFetchFailed)
}

func TestPerformSidecarUpdateSequence(t *testing.T) {
	h := newHarness(t)
	h.lc.owned = true

	out, err := h.svc.PerformSidecarUpdate(context.Background(), testManifest(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"shutdown:graceful", "install", "start", "wait"}, h.lc.Calls())
	assert.Equal(t, "1.1.0", out.FromVersion)
	assert.Equal(t, "1.2.0", out.ToVersion)
	assert.True(t, out.Stopped.WasRunning)
	require.NotNil(t, out.Start)
	assert.Equal(t, int32(0), h.releases.calls.Load())

	rec, err := h.repo.Get(context.Background(), out.RecordID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusSuccess, rec.Status)
	assert.Equal(t, "opencode-x86_64-unknown-linux-gnu", rec.Asset)
	assert.NotNil(t, rec.FinishedAt)
}

func TestPerformSidecarUpdateFetchesWhenManifestMissing(t *testing.T) {
	h := newHarness(t)

	out, err := h.svc.PerformSidecarUpdate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.releases.calls.Load())
	assert.Equal(t, "1.2.0", out.ToVersion)
}

func TestPerformSidecarUpdateInstallFailureRestartsPrevious(t *testing.T) {
	h := newHarness(t)
	h.lc.owned = true
	h.updater.err = installer.ErrDownloadFailed

	out, err := h.svc.PerformSidecarUpdate(context.Background(), testManifest(), nil)
	require.ErrorIs(t, err, installer.ErrDownloadFailed)

	assert.Equal(t, []string{"shutdown:graceful", "install", "start", "wait"}, h.lc.Calls())
	rec, gerr := h.repo.Get(context.Background(), out.RecordID)
	require.NoError(t, gerr)
	assert.Equal(t, history.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "download")
}

func TestPerformSidecarUpdateStopFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.lc.stopErr = process.ErrStopFailed

	_, err := h.svc.PerformSidecarUpdate(context.Background(), testManifest(), nil)
	require.ErrorIs(t, err, process.ErrStopFailed)
	assert.Equal(t, []string{"shutdown:graceful"}, h.lc.Calls())
}

func TestPerformSidecarUpdateStartFailureReported(t *testing.T) {
	h := newHarness(t)
	h.lc.waitErr = process.ErrHealthTimeout

	out, err := h.svc.PerformSidecarUpdate(context.Background(), testManifest(), nil)
	require.ErrorIs(t, err, process.ErrHealthTimeout)

	// the install itself succeeded
	rec, gerr := h.repo.Get(context.Background(), out.RecordID)
	require.NoError(t, gerr)
	assert.Equal(t, history.StatusSuccess, rec.Status)
}

func TestPerformSidecarUpdateWithoutUpdater(t *testing.T) {
	svc := New(config.Default(), Deps{Supervisor: &fakeLifecycle{}, Versions: fakeVersions{}})
	_, err := svc.PerformSidecarUpdate(context.Background(), testManifest(), nil)
	assert.ErrorIs(t, err, ErrUpdaterUnavailable)
	_, err = svc.InstallUpdate(context.Background(), testManifest(), nil)
	assert.ErrorIs(t, err, ErrUpdaterUnavailable)
}

func TestUpdatesAreSerialized(t *testing.T) {
	h := newHarness(t)
	h.updater.delay = 30 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.svc.PerformSidecarUpdate(context.Background(), testManifest(), nil)
		}()
	}
	wg.Wait()

	assert.False(t, h.updater.overlap.Load())
	recs, err := h.svc.History(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestInstallUpdateLeavesLifecycleAlone(t *testing.T) {
	h := newHarness(t)

	out, err := h.svc.InstallUpdate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"install"}, h.lc.Calls())
	assert.Equal(t, "opencode-x86_64-unknown-linux-gnu", out.Install.Asset)
}

func TestLifecycleCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.StartSidecar(ctx)
	require.NoError(t, err)
	_, err = h.svc.RestartSidecar(ctx)
	require.NoError(t, err)
	res, err := h.svc.StopSidecar(ctx, false)
	require.NoError(t, err)
	assert.True(t, res.WasRunning)

	assert.Equal(t, []string{"start", "wait", "restart", "wait", "shutdown:forced"}, h.lc.Calls())
	assert.Len(t, h.svc.Logs(10), 1)
}

func TestStartSidecarPropagatesErrors(t *testing.T) {
	h := newHarness(t)
	h.lc.startErr = process.ErrSpawnFailed

	_, err := h.svc.StartSidecar(context.Background())
	assert.ErrorIs(t, err, process.ErrSpawnFailed)
	assert.Equal(t, []string{"start"}, h.lc.Calls())
}

func TestBootPreparesAndNotifies(t *testing.T) {
	h := newHarness(t)

	var ready process.Status
	err := h.svc.Boot(context.Background(), func(st process.Status) { ready = st })
	require.NoError(t, err)

	assert.True(t, ready.Running)
	for _, sub := range []string{paths.DataDir, paths.CacheDir, paths.DocsDir, paths.BinDir} {
		info, err := os.Stat(filepath.Join(h.svc.ConfigDir(), sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestBootFailureSkipsReady(t *testing.T) {
	h := newHarness(t)
	h.lc.waitErr = process.ErrProcessExited

	called := false
	err := h.svc.Boot(context.Background(), func(process.Status) { called = true })
	assert.ErrorIs(t, err, process.ErrProcessExited)
	assert.False(t, called)
}

func TestWatchdogRestartYieldsToRunningOperation(t *testing.T) {
	h := newHarness(t)

	h.svc.opMu.Lock()
	err := watchdogRestarter{h.svc}.RestartSidecar(context.Background())
	h.svc.opMu.Unlock()
	assert.ErrorIs(t, err, ErrOperationInProgress)

	err = watchdogRestarter{h.svc}.RestartSidecar(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"restart", "wait"}, h.lc.Calls())
}

func TestStatusAndShutdown(t *testing.T) {
	h := newHarness(t)
	h.lc.owned = true

	st := h.svc.Status()
	assert.Equal(t, process.StateHealthy, st.Sidecar.State)
	assert.Equal(t, 0, st.Restarts.RestartCount)

	require.NoError(t, h.svc.Shutdown(context.Background()))
	assert.True(t, h.lc.closed)
	assert.Equal(t, []string{"shutdown:graceful"}, h.lc.Calls())
}

func TestAutoRestartOutcomesAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger.Replace(zap.New(core))
	t.Cleanup(func() { logger.Replace(zap.NewNop()) })

	h := newHarness(t)
	h.svc.policy.Record(true, nil)
	h.svc.policy.Record(false, errors.New("port busy"))

	assert.Equal(t, 1, logs.FilterMessage("[Service] sidecar auto-restarted: healthy").Len())
	failed := logs.FilterMessage("[Service] sidecar auto-restart failed: port busy").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
	assert.Equal(t, 2, h.svc.Status().Restarts.RestartCount)
}

type fakeUsage struct{ pids []int }

func (f *fakeUsage) Sample(_ context.Context, pid int) (*collector.Usage, error) {
	f.pids = append(f.pids, pid)
	return &collector.Usage{PID: pid, MemoryRSS: 1 << 20}, nil
}

func TestStatusIncludesUsageForRunningSidecar(t *testing.T) {
	usage := &fakeUsage{}
	lc := &fakeLifecycle{}
	svc := New(config.Default(), Deps{Supervisor: lc, Usage: usage})

	assert.Nil(t, svc.Status().Usage, "no sample when the sidecar is not running")

	lc.owned = true
	st := svc.Status()
	require.NotNil(t, st.Usage)
	assert.Equal(t, 42, st.Usage.PID)
	assert.Equal(t, []int{42}, usage.pids)
}

func TestNilHistoryIsNoOp(t *testing.T) {
	svc := New(config.Default(), Deps{
		Supervisor: &fakeLifecycle{},
		Versions:   fakeVersions{version: "1.0.0"},
		Releases:   &fakeReleases{manifest: testManifest()},
		Updater:    &fakeUpdater{},
	})
	out, err := svc.PerformSidecarUpdate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out.RecordID)

	recs, err := svc.History(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.False(t, errors.Is(err, history.ErrRecordNotFound))
}
