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

package config

import "time"

// Config represents the supervisor configuration
// Config 表示守护进程配置
type Config struct {
	// Sidecar process configuration / Sidecar 进程配置
	Sidecar SidecarConfig `mapstructure:"sidecar" yaml:"sidecar"`

	// Health probe configuration / 健康探测配置
	Health HealthConfig `mapstructure:"health" yaml:"health"`

	// Shutdown configuration / 关闭配置
	Shutdown ShutdownConfig `mapstructure:"shutdown" yaml:"shutdown"`

	// Stale instance reclaim configuration / 残留实例回收配置
	Reclaim ReclaimConfig `mapstructure:"reclaim" yaml:"reclaim"`

	// Update configuration / 更新配置
	Update UpdateConfig `mapstructure:"update" yaml:"update"`

	// Update history configuration / 更新历史配置
	History HistoryConfig `mapstructure:"history" yaml:"history"`

	// Watchdog configuration / 看门狗配置
	Watchdog WatchdogConfig `mapstructure:"watchdog" yaml:"watchdog"`

	// Control API configuration / 控制 API 配置
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Log configuration / 日志配置
	Log LogConfig `mapstructure:"log" yaml:"log"`

	// Telemetry configuration / 遥测配置
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// SidecarConfig describes the supervised backend binary and how to run it.
// SidecarConfig 描述被托管的后端二进制文件及其运行方式。
type SidecarConfig struct {
	// Name is the executable name without platform suffix
	// Name 是不带平台后缀的可执行文件名
	Name string `mapstructure:"name" yaml:"name"`

	// MatchName is the substring used to recognize sidecar processes
	// MatchName 是用于识别 sidecar 进程的子串
	MatchName string `mapstructure:"match_name" yaml:"match_name"`

	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// ConfigDir overrides the resolved configuration root
	// ConfigDir 覆盖解析出的配置根目录
	ConfigDir string `mapstructure:"config_dir" yaml:"config_dir"`

	// BinaryPath overrides the installation path under ConfigDir
	// BinaryPath 覆盖 ConfigDir 下的安装路径
	BinaryPath string `mapstructure:"binary_path" yaml:"binary_path"`

	// BundleDirs are searched for a bundled binary when nothing is installed
	// BundleDirs 在未安装时用于查找随包二进制文件
	BundleDirs []string `mapstructure:"bundle_dirs" yaml:"bundle_dirs"`

	StartupTimeout time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RestartDelay   time.Duration `mapstructure:"restart_delay" yaml:"restart_delay"`

	// LogBufferLines is the number of drained output lines kept in memory
	// LogBufferLines 是内存中保留的输出行数
	LogBufferLines int `mapstructure:"log_buffer_lines" yaml:"log_buffer_lines"`
}

// HealthConfig contains health probe settings
// HealthConfig 包含健康探测设置
type HealthConfig struct {
	Path         string        `mapstructure:"path" yaml:"path"`
	ShutdownPath string        `mapstructure:"shutdown_path" yaml:"shutdown_path"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ShutdownConfig contains graceful and forced shutdown settings
// ShutdownConfig 包含优雅关闭与强制关闭设置
type ShutdownConfig struct {
	// RequestTimeout bounds the POST /shutdown call
	// RequestTimeout 限制 POST /shutdown 请求的时长
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// GracePeriod is the wait between an accepted shutdown request and the re-probe
	// GracePeriod 是关闭请求被接受后到再次探测之间的等待时间
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`

	// KillTimeout bounds the wait for exit after a forced kill
	// KillTimeout 限制强制终止后等待退出的时长
	KillTimeout time.Duration `mapstructure:"kill_timeout" yaml:"kill_timeout"`
}

// ReclaimConfig contains stale instance reclaim settings
// ReclaimConfig 包含残留实例回收设置
type ReclaimConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BroadSweep kills every process whose name matches, not only the port holder
	// BroadSweep 终止所有名称匹配的进程，而不仅是端口持有者
	BroadSweep bool `mapstructure:"broad_sweep" yaml:"broad_sweep"`

	PortReleaseWait time.Duration `mapstructure:"port_release_wait" yaml:"port_release_wait"`
}

// UpdateConfig contains release feed and installer settings
// UpdateConfig 包含发布源与安装器设置
type UpdateConfig struct {
	ReleaseURL     string        `mapstructure:"release_url" yaml:"release_url"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	VersionTimeout time.Duration `mapstructure:"version_timeout" yaml:"version_timeout"`
	KillSettle     time.Duration `mapstructure:"kill_settle" yaml:"kill_settle"`
	TempDir        string        `mapstructure:"temp_dir" yaml:"temp_dir"`
}

// HistoryConfig contains update history storage settings
// HistoryConfig 包含更新历史存储设置
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// WatchdogConfig contains health watchdog and auto-restart settings
// WatchdogConfig 包含健康看门狗与自动重启设置
type WatchdogConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval         time.Duration `mapstructure:"interval" yaml:"interval"`
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	MaxRestarts      int           `mapstructure:"max_restarts" yaml:"max_restarts"`
	Window           time.Duration `mapstructure:"window" yaml:"window"`
	Cooldown         time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// APIConfig contains loopback control API settings
// APIConfig 包含本地控制 API 设置
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Mode    string `mapstructure:"mode" yaml:"mode"`
}

// LogConfig contains logging settings
// LogConfig 包含日志设置
type LogConfig struct {
	// Level is the log level (debug, info, warn, error)
	// Level 是日志级别（debug, info, warn, error）
	Level string `mapstructure:"level" yaml:"level"`

	// Format is console or json
	// Format 为 console 或 json
	Format string `mapstructure:"format" yaml:"format"`

	// Output is stdout, file or both
	// Output 为 stdout、file 或 both
	Output string `mapstructure:"output" yaml:"output"`

	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// TelemetryConfig contains OpenTelemetry tracing settings
// TelemetryConfig 包含 OpenTelemetry 追踪设置
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}
