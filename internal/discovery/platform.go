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

// Package discovery finds and reclaims sidecar processes left behind by earlier sessions.
// discovery 包发现并回收先前会话遗留的 sidecar 进程。
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrProcessGone indicates the target process no longer exists
// ErrProcessGone 表示目标进程已不存在
var ErrProcessGone = errors.New("process no longer exists")

// ProcessInfo describes one OS process
// ProcessInfo 描述一个操作系统进程
type ProcessInfo struct {
	PID     int32  `json:"pid"`
	Name    string `json:"name"`
	Cmdline string `json:"cmdline,omitempty"`
}

// PlatformOps is the set of OS process operations the reclaimer and installer need.
// PlatformOps 是回收器与安装器所需的操作系统进程操作集合。
type PlatformOps interface {
	// ListProcesses enumerates running processes
	// ListProcesses 枚举运行中的进程
	ListProcesses(ctx context.Context) ([]ProcessInfo, error)

	// ProcessName returns the short executable name of pid
	// ProcessName 返回 pid 的可执行文件短名称
	ProcessName(ctx context.Context, pid int32) (string, error)

	// ListenerPIDs returns the PIDs listening on the TCP port
	// ListenerPIDs 返回监听该 TCP 端口的 PID
	ListenerPIDs(ctx context.Context, port int) ([]int32, error)

	// KillByPID forcibly terminates pid
	// KillByPID 强制终止 pid
	KillByPID(ctx context.Context, pid int32) error

	// KillByName forcibly terminates every process matching name, including its children
	// KillByName 强制终止所有匹配 name 的进程及其子进程
	KillByName(ctx context.Context, name string) error
}

// SystemOps implements PlatformOps for the running OS.
// SystemOps 为当前操作系统实现 PlatformOps。
type SystemOps struct{}

// NewSystemOps creates the platform implementation
// NewSystemOps 创建平台实现
func NewSystemOps() *SystemOps {
	return &SystemOps{}
}

func (o *SystemOps) ListProcesses(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// exited or not visible to us
			continue
		}
		info := ProcessInfo{PID: p.Pid, Name: name}
		if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
			info.Cmdline = cmdline
		}
		out = append(out, info)
	}
	return out, nil
}

func (o *SystemOps) ProcessName(ctx context.Context, pid int32) (string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", fmt.Errorf("%w: pid %d", ErrProcessGone, pid)
	}
	return p.NameWithContext(ctx)
}

func (o *SystemOps) ListenerPIDs(ctx context.Context, port int) ([]int32, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	seen := make(map[int32]bool)
	var pids []int32
	for _, c := range conns {
		if !strings.EqualFold(c.Status, "LISTEN") || int(c.Laddr.Port) != port || c.Pid <= 0 {
			continue
		}
		if !seen[c.Pid] {
			seen[c.Pid] = true
			pids = append(pids, c.Pid)
		}
	}
	return pids, nil
}

func (o *SystemOps) KillByPID(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return fmt.Errorf("%w: pid %d", ErrProcessGone, pid)
	}
	if err := p.KillWithContext(ctx); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}

func (o *SystemOps) KillByName(ctx context.Context, name string) error {
	return killByName(ctx, name)
}

// MatchesName reports whether a process name identifies a sidecar instance
// MatchesName 报告进程名是否标识 sidecar 实例
func MatchesName(processName, match string) bool {
	if match == "" || processName == "" {
		return false
	}
	return strings.Contains(strings.ToLower(processName), strings.ToLower(match))
}
