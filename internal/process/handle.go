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
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrHandleOccupied indicates a second live handle was offered to the store
// ErrHandleOccupied 表示向存储提交了第二个存活句柄
var ErrHandleOccupied = errors.New("process handle store already holds a live process")

// Handle is the supervisor's reference to one spawned sidecar process.
// Handle 是守护进程对一个已启动 sidecar 进程的引用。
type Handle struct {
	SpawnID   string    `json:"spawn_id"`
	PID       int       `json:"pid"`
	Binary    string    `json:"binary"`
	StartedAt time.Time `json:"started_at"`

	cmd     *exec.Cmd
	pipes   []io.Closer
	done    chan struct{}
	once    sync.Once
	exitErr error
}

func newHandle(cmd *exec.Cmd, binary string) *Handle {
	h := &Handle{
		SpawnID:   uuid.NewString(),
		Binary:    binary,
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	if cmd != nil && cmd.Process != nil {
		h.PID = cmd.Process.Pid
	}
	return h
}

// Alive reports whether the process has not been observed to exit
// Alive 报告进程是否尚未被观察到退出
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process exit has been observed
// Done 在观察到进程退出后关闭
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr returns the wait error; valid after Done is closed
// ExitErr 返回等待错误；Done 关闭后有效
func (h *Handle) ExitErr() error {
	<-h.done
	return h.exitErr
}

func (h *Handle) markExited(err error) {
	h.once.Do(func() {
		h.exitErr = err
		close(h.done)
	})
}

// Store is the exclusively owned slot for the current sidecar handle.
// Store 是当前 sidecar 句柄的独占槽位。
// The running flag is derived from the slot under the same lock.
// 运行标志在同一把锁下由槽位推导得出。
type Store struct {
	mu sync.Mutex
	h  *Handle
}

// NewStore creates an empty store
// NewStore 创建空存储
func NewStore() *Store {
	return &Store{}
}

// Put stores h; a live occupant is a supervisor logic error
// Put 存入 h；已有存活句柄属于守护逻辑错误
func (s *Store) Put(h *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h != nil && s.h.Alive() {
		return ErrHandleOccupied
	}
	s.h = h
	return nil
}

// Current returns the stored handle, live or not
// Current 返回存储的句柄，无论是否存活
func (s *Store) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h
}

// Take removes and returns the stored handle
// Take 移除并返回存储的句柄
func (s *Store) Take() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.h
	s.h = nil
	return h
}

// ClearIfCurrent clears the slot only when it still holds spawnID
// ClearIfCurrent 仅当槽位仍持有 spawnID 时清空
func (s *Store) ClearIfCurrent(spawnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h == nil || s.h.SpawnID != spawnID {
		return false
	}
	s.h = nil
	return true
}

// Running reports whether a live process is tracked
// Running 报告是否跟踪着存活的进程
func (s *Store) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h != nil && s.h.Alive()
}
