//go:build !windows
// +build !windows

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
	"errors"
	"fmt"
	"os/exec"
)

// killByName runs pkill against the full command line
// killByName 使用 pkill 匹配完整命令行
func killByName(ctx context.Context, name string) error {
	out, err := exec.CommandContext(ctx, "pkill", "-KILL", "-f", name).CombinedOutput()
	if err != nil {
		// exit status 1 means nothing matched / 退出码 1 表示没有匹配的进程
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil
		}
		return fmt.Errorf("pkill %s: %w (%s)", name, err, string(out))
	}
	return nil
}
