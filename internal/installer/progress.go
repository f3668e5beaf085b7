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

package installer

import "time"

// InstallStep represents a step in the update installation
// InstallStep 表示更新安装过程中的步骤
type InstallStep string

const (
	InstallStepSelectAsset    InstallStep = "select_asset"
	InstallStepDownload       InstallStep = "download"
	InstallStepStopRunning    InstallStep = "stop_running"
	InstallStepBackup         InstallStep = "backup"
	InstallStepExtract        InstallStep = "extract"
	InstallStepSetPermissions InstallStep = "set_permissions"
	InstallStepComplete       InstallStep = "complete"
)

// StepStatus represents the status of an installation step
// StepStatus 表示安装步骤的状态
type StepStatus string

const (
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// StepInfo is one progress update
// StepInfo 是一次进度更新
type StepInfo struct {
	Step      InstallStep `json:"step"`
	Status    StepStatus  `json:"status"`
	Progress  int         `json:"progress"`
	Message   string      `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
	StartTime *time.Time  `json:"start_time,omitempty"`
	EndTime   *time.Time  `json:"end_time,omitempty"`
}

// InstallationSteps lists the steps in execution order
// InstallationSteps 按执行顺序列出所有步骤
var InstallationSteps = []InstallStep{
	InstallStepSelectAsset,
	InstallStepDownload,
	InstallStepStopRunning,
	InstallStepBackup,
	InstallStepExtract,
	InstallStepSetPermissions,
	InstallStepComplete,
}

// StepNumber returns the 1-based position of step in InstallationSteps, or 0
// StepNumber 返回 step 在 InstallationSteps 中从 1 开始的序号，未知步骤返回 0
func StepNumber(step InstallStep) int {
	for i, s := range InstallationSteps {
		if s == step {
			return i + 1
		}
	}
	return 0
}

// ProgressReporter is an interface for reporting installation progress
// ProgressReporter 是用于上报安装进度的接口
type ProgressReporter interface {
	// Report sends a progress update with the current step, progress percentage, and message
	// Report 发送进度更新，包含当前步骤、进度百分比和消息
	Report(step InstallStep, progress int, message string) error

	ReportStepStart(step InstallStep) error
	ReportStepComplete(step InstallStep) error
	ReportStepFailed(step InstallStep, err error) error
	ReportStepSkipped(step InstallStep, reason string) error
}

// NoOpProgressReporter is a ProgressReporter that does nothing
// NoOpProgressReporter 是一个不执行任何操作的 ProgressReporter
type NoOpProgressReporter struct{}

func (r *NoOpProgressReporter) Report(step InstallStep, progress int, message string) error {
	return nil
}

func (r *NoOpProgressReporter) ReportStepStart(step InstallStep) error { return nil }

func (r *NoOpProgressReporter) ReportStepComplete(step InstallStep) error { return nil }

func (r *NoOpProgressReporter) ReportStepFailed(step InstallStep, err error) error { return nil }

func (r *NoOpProgressReporter) ReportStepSkipped(step InstallStep, reason string) error {
	return nil
}

// ChannelProgressReporter reports progress through a channel.
// ChannelProgressReporter 通过通道报告进度。
// Updates are dropped when the buffer is full so a slow reader never stalls an install.
// 缓冲区满时丢弃更新，慢速读取方不会阻塞安装。
type ChannelProgressReporter struct {
	StepChan chan StepInfo
}

// NewChannelProgressReporter creates a new ChannelProgressReporter
// NewChannelProgressReporter 创建新的 ChannelProgressReporter
func NewChannelProgressReporter(bufferSize int) *ChannelProgressReporter {
	return &ChannelProgressReporter{
		StepChan: make(chan StepInfo, bufferSize),
	}
}

func (r *ChannelProgressReporter) send(info StepInfo) error {
	select {
	case r.StepChan <- info:
	default:
	}
	return nil
}

func (r *ChannelProgressReporter) Report(step InstallStep, progress int, message string) error {
	return r.send(StepInfo{Step: step, Status: StepStatusRunning, Progress: progress, Message: message})
}

func (r *ChannelProgressReporter) ReportStepStart(step InstallStep) error {
	now := time.Now()
	return r.send(StepInfo{Step: step, Status: StepStatusRunning, StartTime: &now})
}

func (r *ChannelProgressReporter) ReportStepComplete(step InstallStep) error {
	now := time.Now()
	return r.send(StepInfo{Step: step, Status: StepStatusSuccess, Progress: 100, EndTime: &now})
}

func (r *ChannelProgressReporter) ReportStepFailed(step InstallStep, err error) error {
	now := time.Now()
	return r.send(StepInfo{Step: step, Status: StepStatusFailed, Error: err.Error(), EndTime: &now})
}

func (r *ChannelProgressReporter) ReportStepSkipped(step InstallStep, reason string) error {
	now := time.Now()
	return r.send(StepInfo{Step: step, Status: StepStatusSkipped, Message: reason, EndTime: &now})
}

// Close closes the channel
// Close 关闭通道
func (r *ChannelProgressReporter) Close() {
	close(r.StepChan)
}
