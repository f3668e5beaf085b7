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

package process

import (
	"sync"
	"time"
)

// LogLine is one line drained from the sidecar's output
// LogLine 是从 sidecar 输出中读取的一行
type LogLine struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"` // "stdout" or "stderr"
	PID       int       `json:"pid"`
	Message   string    `json:"message"`
}

// LogBuffer keeps the most recent sidecar output lines
// LogBuffer 保存最近的 sidecar 输出行
type LogBuffer struct {
	mu       sync.RWMutex
	lines    []LogLine
	capacity int
	nextID   int64
}

// NewLogBuffer creates a buffer holding at most capacity lines
// NewLogBuffer 创建最多保存 capacity 行的缓冲区
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &LogBuffer{
		lines:    make([]LogLine, 0, capacity),
		capacity: capacity,
		nextID:   1,
	}
}

func (b *LogBuffer) Add(stream string, pid int, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.lines) >= b.capacity {
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:len(b.lines)-1]
	}
	b.lines = append(b.lines, LogLine{
		ID:        b.nextID,
		Timestamp: time.Now(),
		Stream:    stream,
		PID:       pid,
		Message:   message,
	})
	b.nextID++
}

// Tail returns the latest n lines, oldest first
// Tail 返回最新的 n 行，按时间正序
func (b *LogBuffer) Tail(n int) []LogLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || len(b.lines) == 0 {
		return []LogLine{}
	}
	start := len(b.lines) - n
	if start < 0 {
		start = 0
	}
	out := make([]LogLine, len(b.lines)-start)
	copy(out, b.lines[start:])
	return out
}
