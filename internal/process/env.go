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
	"path/filepath"
	"strings"

	"github.com/godoty/sidecar/internal/paths"
)

// GodotPathEnv is forwarded to the sidecar when the host has it set
// GodotPathEnv 在宿主设置时转发给 sidecar
const GodotPathEnv = "GODOT_PATH"

// Environment returns host plus the variables that point the sidecar at its
// isolated config, data and cache directories under configDir.
// Environment 返回宿主环境变量及指向 configDir 下隔离配置、数据和缓存目录的变量。
func Environment(configDir string, host []string) []string {
	dataDir := filepath.Join(configDir, paths.DataDir)
	overrides := [][2]string{
		{"OPENCODE_CONFIG_FILE", filepath.Join(configDir, paths.ConfigFileName)},
		{"OPENCODE_CONFIG_DIR", configDir},
		{"OPENCODE_DATA_DIR", dataDir},
		{"XDG_CONFIG_HOME", configDir},
		{"XDG_DATA_HOME", dataDir},
		{"XDG_CACHE_HOME", filepath.Join(configDir, paths.CacheDir)},
		{"GODOT_DOC_DIR", filepath.Join(configDir, paths.DocsDir)},
	}

	replaced := make(map[string]bool, len(overrides))
	for _, kv := range overrides {
		replaced[envKey(kv[0])] = true
	}

	env := make([]string, 0, len(host)+len(overrides))
	for _, kv := range host {
		key, _, _ := strings.Cut(kv, "=")
		if replaced[envKey(key)] {
			continue
		}
		env = append(env, kv)
	}
	for _, kv := range overrides {
		env = append(env, kv[0]+"="+kv[1])
	}
	return env
}

// LookupEnv returns the value of key in env
// LookupEnv 返回 env 中 key 的值
func LookupEnv(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(env[i], "=")
		if ok && envKey(k) == envKey(key) {
			return v, true
		}
	}
	return "", false
}
