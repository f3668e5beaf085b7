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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/godoty/sidecar/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		configFile = ""
		port = 0
		if f := rootCmd.PersistentFlags().Lookup("port"); f != nil {
			f.Changed = false
		}
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

// TestVersionCommand tests the version subcommand output
// TestVersionCommand 测试 version 子命令输出
func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "godotyd dev")
}

// TestConfigCommandAppliesPortFlag tests that --port overrides file and env
// TestConfigCommandAppliesPortFlag 测试 --port 覆盖配置文件和环境变量
func TestConfigCommandAppliesPortFlag(t *testing.T) {
	t.Setenv("GODOTY_PORT", "4999")
	path := filepath.Join(t.TempDir(), "godotyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sidecar:\n  port: 5001\n"), 0644))

	out, err := execute(t, "config", "-c", path, "--port", "6001")
	require.NoError(t, err)

	// decode the printed YAML as-is, without env overrides
	var printed struct {
		Sidecar struct {
			Port int `yaml:"port"`
		} `yaml:"sidecar"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &printed))
	assert.Equal(t, 6001, printed.Sidecar.Port)
}

// TestConfigCommandRejectsInvalidConfig tests validation errors surface
// TestConfigCommandRejectsInvalidConfig 测试校验错误被返回
func TestConfigCommandRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "godotyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sidecar:\n  port: 70000\n"), 0644))

	_, err := execute(t, "config", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

// TestShutdownBudget tests the shutdown deadline covers every stop phase
// TestShutdownBudget 测试关闭期限覆盖所有停止阶段
func TestShutdownBudget(t *testing.T) {
	cfg := config.Default()
	budget := shutdownBudget(cfg)
	assert.Greater(t, budget, cfg.Shutdown.RequestTimeout+cfg.Shutdown.GracePeriod+2*cfg.Shutdown.KillTimeout)
	assert.Less(t, budget, time.Minute)
}

// TestSubcommandsRegistered tests the command tree
// TestSubcommandsRegistered 测试命令树
func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "version", "sidecar-version", "check-update", "update", "config"} {
		assert.True(t, names[want], want)
	}
}
