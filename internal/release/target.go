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

package release

import (
	"fmt"
	"runtime"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// SentinelVersion marks an unknown or missing installation
// SentinelVersion 表示未知或未安装
const SentinelVersion = "0.0.0"

func normalize(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 1 && (v[0] == 'v' || v[0] == 'V') {
		return v[1:]
	}
	return v
}

// IsUpdateAvailable reports whether latest should replace current.
// IsUpdateAvailable 报告 latest 是否应替换 current。
//
// When both sides parse as semantic versions they are compared numerically;
// otherwise an update is available iff the strings differ and latest is not
// the sentinel.
func IsUpdateAvailable(current, latest string) bool {
	current, latest = normalize(current), normalize(latest)
	if latest == "" {
		return false
	}

	cv, cerr := goversion.NewSemver(current)
	lv, lerr := goversion.NewSemver(latest)
	if cerr == nil && lerr == nil {
		return lv.GreaterThan(cv)
	}
	return current != latest && latest != SentinelVersion
}

// TargetTriple maps GOOS/GOARCH to the asset name fragment of the release.
// TargetTriple 将 GOOS/GOARCH 映射为发布资源名称片段。
func TargetTriple(goos, goarch string) (string, error) {
	switch goos {
	case "darwin":
		switch goarch {
		case "arm64":
			return "aarch64-apple-darwin", nil
		case "amd64":
			return "x86_64-apple-darwin", nil
		}
	case "windows":
		// arm64 runs the x64 build under emulation
		switch goarch {
		case "amd64", "arm64":
			return "x86_64-pc-windows-msvc", nil
		}
	case "linux":
		switch goarch {
		case "amd64":
			return "x86_64-unknown-linux-gnu", nil
		case "arm64":
			return "aarch64-unknown-linux-gnu", nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

// CurrentTarget returns the triple for the running platform
// CurrentTarget 返回当前运行平台的三元组
func CurrentTarget() (string, error) {
	return TargetTriple(runtime.GOOS, runtime.GOARCH)
}
