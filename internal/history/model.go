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

// Package history records sidecar update attempts.
// history 包记录 sidecar 更新尝试。
package history

import (
	"time"
)

// Status is the outcome of an update attempt
// Status 是更新尝试的结果
type Status string

const (
	// StatusRunning indicates the update is in progress
	// StatusRunning 表示更新正在进行
	StatusRunning Status = "running"
	// StatusSuccess indicates the update was installed
	// StatusSuccess 表示更新已安装
	StatusSuccess Status = "success"
	// StatusFailed indicates the update was aborted
	// StatusFailed 表示更新已中止
	StatusFailed Status = "failed"
)

// UpdateRecord is one persisted install attempt.
// UpdateRecord 是一条持久化的安装尝试记录。
type UpdateRecord struct {
	ID          string     `json:"id" gorm:"size:36;primaryKey"`
	FromVersion string     `json:"from_version" gorm:"size:64"`
	ToVersion   string     `json:"to_version" gorm:"size:64;not null;index"`
	Asset       string     `json:"asset" gorm:"size:255"`
	Status      Status     `json:"status" gorm:"size:20;not null;index"`
	Error       string     `json:"error,omitempty" gorm:"type:text"`
	StartedAt   time.Time  `json:"started_at" gorm:"index"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// TableName specifies the table name for UpdateRecord
// TableName 指定 UpdateRecord 的表名
func (UpdateRecord) TableName() string {
	return "sidecar_updates"
}
