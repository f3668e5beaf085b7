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

// Package version resolves the version of the installed sidecar binary.
// version 包解析已安装 sidecar 二进制文件的版本。
package version

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/godoty/sidecar/internal/logger"
)

// Sentinel is reported when no usable version can be determined
// Sentinel 在无法确定可用版本时返回
const Sentinel = "0.0.0"

// DefaultTimeout bounds the --version invocation
// DefaultTimeout 限制 --version 调用的时长
const DefaultTimeout = 5 * time.Second

// BinaryLocator returns the path of the installed binary
// BinaryLocator 返回已安装二进制文件的路径
type BinaryLocator interface {
	Path() string
}

// Resolver runs "<bin> --version" and parses its output.
// Resolver 执行 "<bin> --version" 并解析输出。
type Resolver struct {
	bin     BinaryLocator
	timeout time.Duration
}

// NewResolver creates a resolver; a non-positive timeout uses DefaultTimeout
// NewResolver 创建解析器；非正超时使用 DefaultTimeout
func NewResolver(bin BinaryLocator, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{bin: bin, timeout: timeout}
}

// Path returns the binary the resolver queries
func (r *Resolver) Path() string {
	return r.bin.Path()
}

// Current returns the installed version, or Sentinel when the binary is
// missing, fails, times out or prints nothing. It never returns an error.
// Current 返回已安装版本；二进制缺失、执行失败、超时或无输出时返回 Sentinel。
func (r *Resolver) Current(ctx context.Context) string {
	path := r.bin.Path()
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return Sentinel
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stdout = &stdout
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		logger.DebugF(ctx, "[Version] %s --version failed: %v", path, err)
		return Sentinel
	}
	return ParseVersionOutput(stdout.String())
}

// ParseVersionOutput extracts a version from "--version" output.
// ParseVersionOutput 从 "--version" 输出中提取版本。
//
// "opencode-cli 0.1.2" yields "0.1.2"; output whose last token has no dot is
// returned trimmed as is; empty output yields Sentinel.
func ParseVersionOutput(out string) string {
	out = strings.TrimSpace(out)
	if out == "" {
		return Sentinel
	}
	fields := strings.Fields(out)
	if last := fields[len(fields)-1]; strings.Contains(last, ".") {
		return last
	}
	return out
}
