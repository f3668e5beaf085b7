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

package discovery

import (
	"context"
	"os"
	"time"

	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/logger"
	"go.uber.org/zap"
)

// Skip reasons recorded in a Report
// Report 中记录的跳过原因
const (
	SkipSelf         = "self"
	SkipUnidentified = "unidentified"
	SkipUnrelated    = "unrelated"
	SkipKillFailed   = "kill_failed"
)

// PortChecker reports whether the sidecar port is occupied
// PortChecker 报告 sidecar 端口是否被占用
type PortChecker interface {
	PortInUse(ctx context.Context) bool
}

// SkippedProcess is a candidate the reclaimer left alone
// SkippedProcess 是回收器未处理的候选进程
type SkippedProcess struct {
	PID    int32  `json:"pid"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

// Report summarizes one reclaim pass
// Report 汇总一次回收过程
type Report struct {
	Killed   []ProcessInfo    `json:"killed"`
	Skipped  []SkippedProcess `json:"skipped"`
	Errors   []string         `json:"errors,omitempty"`
	PortFree bool             `json:"port_free"`
}

// Reclaimer terminates stale sidecar instances that it can positively identify.
// Reclaimer 终止可以明确识别的残留 sidecar 实例。
//
// A process is only ever killed after its name matched the sidecar match
// name; a foreign port holder is logged and left running.
// 只有名称匹配 sidecar 的进程才会被终止；占用端口的其他进程只记录日志并保留。
type Reclaimer struct {
	ops        PlatformOps
	ports      PortChecker
	port       int
	match      string
	broadSweep bool
	wait       time.Duration
	selfPID    int32
	log        *zap.Logger
}

// NewReclaimer creates a reclaimer for the configured sidecar port
// NewReclaimer 为配置的 sidecar 端口创建回收器
func NewReclaimer(ops PlatformOps, ports PortChecker, sc config.SidecarConfig, rc config.ReclaimConfig) *Reclaimer {
	return &Reclaimer{
		ops:        ops,
		ports:      ports,
		port:       sc.Port,
		match:      sc.MatchName,
		broadSweep: rc.BroadSweep,
		wait:       rc.PortReleaseWait,
		selfPID:    int32(os.Getpid()),
		log:        logger.Named("reclaimer"),
	}
}

// Reclaim runs the name sweep (when enabled) and then the port-holder pass.
// Reclaim 执行名称清扫（启用时）和端口持有者回收。
func (r *Reclaimer) Reclaim(ctx context.Context) *Report {
	report := &Report{}
	if r.broadSweep {
		r.sweepByName(ctx, report)
		if len(report.Killed) > 0 {
			r.settle(ctx)
		}
	}
	r.reclaimPort(ctx, report)
	return report
}

// ReclaimPort only terminates a verified sidecar listening on the port
// ReclaimPort 仅终止经过验证的、监听该端口的 sidecar
func (r *Reclaimer) ReclaimPort(ctx context.Context) *Report {
	report := &Report{}
	r.reclaimPort(ctx, report)
	return report
}

func (r *Reclaimer) sweepByName(ctx context.Context, report *Report) {
	procs, err := r.ops.ListProcesses(ctx)
	if err != nil {
		r.log.Warn("Process enumeration failed", zap.Error(err))
		report.Errors = append(report.Errors, err.Error())
		return
	}

	for _, p := range procs {
		if p.PID == r.selfPID || !MatchesName(p.Name, r.match) {
			continue
		}
		r.kill(ctx, p, report)
	}
}

func (r *Reclaimer) reclaimPort(ctx context.Context, report *Report) {
	if !r.ports.PortInUse(ctx) {
		report.PortFree = true
		return
	}

	pids, err := r.ops.ListenerPIDs(ctx, r.port)
	if err != nil {
		r.log.Warn("Listener lookup failed", zap.Int("port", r.port), zap.Error(err))
		report.Errors = append(report.Errors, err.Error())
		return
	}

	killed := 0
	for _, pid := range pids {
		if pid == r.selfPID {
			report.Skipped = append(report.Skipped, SkippedProcess{PID: pid, Reason: SkipSelf})
			continue
		}

		name, err := r.ops.ProcessName(ctx, pid)
		if err != nil {
			r.log.Warn("Cannot identify port holder, leaving it alone",
				zap.Int("port", r.port), zap.Int32("pid", pid), zap.Error(err))
			report.Skipped = append(report.Skipped, SkippedProcess{PID: pid, Reason: SkipUnidentified, Error: err.Error()})
			continue
		}

		if !MatchesName(name, r.match) {
			r.log.Warn("Port held by an unrelated process, leaving it alone",
				zap.Int("port", r.port), zap.Int32("pid", pid), zap.String("name", name))
			report.Skipped = append(report.Skipped, SkippedProcess{PID: pid, Name: name, Reason: SkipUnrelated})
			continue
		}

		if r.kill(ctx, ProcessInfo{PID: pid, Name: name}, report) {
			killed++
		}
	}

	if killed > 0 {
		r.settle(ctx)
	}
	report.PortFree = !r.ports.PortInUse(ctx)
}

func (r *Reclaimer) kill(ctx context.Context, p ProcessInfo, report *Report) bool {
	r.log.Info("Killing stale sidecar", zap.Int32("pid", p.PID), zap.String("name", p.Name))
	if err := r.ops.KillByPID(ctx, p.PID); err != nil {
		r.log.Warn("Failed to kill stale sidecar", zap.Int32("pid", p.PID), zap.Error(err))
		report.Skipped = append(report.Skipped, SkippedProcess{PID: p.PID, Name: p.Name, Reason: SkipKillFailed, Error: err.Error()})
		return false
	}
	report.Killed = append(report.Killed, p)
	return true
}

// settle waits for the OS to release the port
func (r *Reclaimer) settle(ctx context.Context) {
	if r.wait <= 0 {
		return
	}
	t := time.NewTimer(r.wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
