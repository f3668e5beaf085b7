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

// Package collector samples resource usage of the supervised sidecar.
// collector 包采集被托管 sidecar 的资源使用情况。
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of one process
// Usage 是单个进程某一时刻的资源采样
type Usage struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	Threads    int32     `json:"threads"`
	CreatedAt  time.Time `json:"created_at"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Collector reads process statistics through gopsutil
// Collector 通过 gopsutil 读取进程统计信息
type Collector struct {
	timeout time.Duration
}

// NewCollector creates a collector; timeout bounds a single sample
// NewCollector 创建采集器，timeout 限制单次采样时长
func NewCollector(timeout time.Duration) *Collector {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Collector{timeout: timeout}
}

// Sample collects usage for pid. Fields the platform cannot report stay zero.
// Sample 采集 pid 的资源使用，平台不支持的字段保持为零。
func (c *Collector) Sample(ctx context.Context, pid int) (*Usage, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}

	u := &Usage{PID: pid, SampledAt: time.Now()}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		u.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		u.MemoryRSS = mem.RSS
		u.MemoryVMS = mem.VMS
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		u.Threads = n
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil {
		u.CreatedAt = time.UnixMilli(ms)
	}
	return u, nil
}
