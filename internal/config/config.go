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

// Package config provides configuration management for the sidecar supervisor.
// config 包提供 sidecar 守护进程的配置管理功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Command line arguments / 命令行参数
// 2. Environment variables / 环境变量
// 3. Configuration file / 配置文件
// 4. Default values / 默认值
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default configuration values
// 默认配置值
const (
	DefaultConfigPath      = "godotyd.yaml"
	DefaultSidecarName     = "opencode-cli"
	DefaultSidecarMatch    = "opencode"
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 4096
	DefaultHealthTimeout   = 2 * time.Second
	DefaultStartupTimeout  = 30 * time.Second
	DefaultPollInterval    = 200 * time.Millisecond
	DefaultRestartDelay    = 500 * time.Millisecond
	DefaultRequestTimeout  = 3 * time.Second
	DefaultGracePeriod     = 500 * time.Millisecond
	DefaultKillTimeout     = 5 * time.Second
	DefaultPortReleaseWait = time.Second
	DefaultReleaseURL      = "https://api.github.com/repos/anomalyco/opencode/releases/latest"
	DefaultUserAgent       = "godoty-updater"
	DefaultReleaseTimeout  = 30 * time.Second
	DefaultVersionTimeout  = 5 * time.Second
	DefaultKillSettle      = 500 * time.Millisecond
	DefaultAPIListen       = "127.0.0.1:4097"
	DefaultLogLevel        = "info"
	DefaultLogMaxSize      = 20 // MB
	DefaultLogMaxBackups   = 3
	DefaultLogMaxAge       = 7 // days
)

// EnvPrefix is the prefix of every environment override
// EnvPrefix 是所有环境变量覆盖项的前缀
const EnvPrefix = "GODOTY"

// Load loads configuration from file and environment variables
// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	return LoadWithPriority(configPath, nil)
}

// LoadWithPriority loads configuration with explicit priority handling
// LoadWithPriority 使用显式优先级处理加载配置
// Priority: cmdArgs > envVars > configFile > defaults
// 优先级：命令行参数 > 环境变量 > 配置文件 > 默认值
func LoadWithPriority(configPath string, cmdArgs map[string]interface{}) (*Config, error) {
	v := newViper()

	// Set config file path / 设置配置文件路径
	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "_CONFIG_PATH")
	}
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	v.SetConfigFile(configPath)

	// Read config file / 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error if we have defaults
		// 如果有默认值，配置文件未找到不是错误
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Apply command line arguments (highest priority)
	// 应用命令行参数（最高优先级）
	for key, value := range cmdArgs {
		v.Set(key, value)
	}

	return unmarshal(v)
}

// LoadFromYAML loads configuration from YAML bytes
// LoadFromYAML 从 YAML 字节加载配置
func LoadFromYAML(yamlData []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(yamlData)); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return unmarshal(v)
}

// Default returns the configuration built from defaults and environment only
// Default 返回仅由默认值和环境变量构建的配置
func Default() *Config {
	cfg, err := unmarshal(newViper())
	if err != nil {
		// defaults always decode
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable override / 启用环境变量覆盖
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short names kept from the desktop shell / 保留桌面端使用的简短变量名
	_ = v.BindEnv("sidecar.port", EnvPrefix+"_PORT", EnvPrefix+"_SIDECAR_PORT")
	_ = v.BindEnv("sidecar.config_dir", EnvPrefix+"_CONFIG_DIR", EnvPrefix+"_SIDECAR_CONFIG_DIR")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Sidecar defaults / Sidecar 默认值
	v.SetDefault("sidecar.name", DefaultSidecarName)
	v.SetDefault("sidecar.match_name", DefaultSidecarMatch)
	v.SetDefault("sidecar.host", DefaultHost)
	v.SetDefault("sidecar.port", DefaultPort)
	v.SetDefault("sidecar.config_dir", "")
	v.SetDefault("sidecar.binary_path", "")
	v.SetDefault("sidecar.bundle_dirs", []string{"resources", "bin"})
	v.SetDefault("sidecar.startup_timeout", DefaultStartupTimeout)
	v.SetDefault("sidecar.poll_interval", DefaultPollInterval)
	v.SetDefault("sidecar.restart_delay", DefaultRestartDelay)
	v.SetDefault("sidecar.log_buffer_lines", 500)

	// Health defaults / 健康探测默认值
	v.SetDefault("health.path", "/health")
	v.SetDefault("health.shutdown_path", "/shutdown")
	v.SetDefault("health.timeout", DefaultHealthTimeout)

	// Shutdown defaults / 关闭默认值
	v.SetDefault("shutdown.request_timeout", DefaultRequestTimeout)
	v.SetDefault("shutdown.grace_period", DefaultGracePeriod)
	v.SetDefault("shutdown.kill_timeout", DefaultKillTimeout)

	// Reclaim defaults / 回收默认值
	v.SetDefault("reclaim.enabled", true)
	v.SetDefault("reclaim.broad_sweep", false)
	v.SetDefault("reclaim.port_release_wait", DefaultPortReleaseWait)

	// Update defaults / 更新默认值
	v.SetDefault("update.release_url", DefaultReleaseURL)
	v.SetDefault("update.user_agent", DefaultUserAgent)
	v.SetDefault("update.timeout", DefaultReleaseTimeout)
	v.SetDefault("update.version_timeout", DefaultVersionTimeout)
	v.SetDefault("update.kill_settle", DefaultKillSettle)
	v.SetDefault("update.temp_dir", "")

	// History defaults / 历史默认值
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")

	// Watchdog defaults / 看门狗默认值
	v.SetDefault("watchdog.enabled", false)
	v.SetDefault("watchdog.interval", 10*time.Second)
	v.SetDefault("watchdog.failure_threshold", 3)
	v.SetDefault("watchdog.max_restarts", 3)
	v.SetDefault("watchdog.window", 5*time.Minute)
	v.SetDefault("watchdog.cooldown", 10*time.Minute)

	// API defaults / API 默认值
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", DefaultAPIListen)
	v.SetDefault("api.mode", "release")

	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)
	v.SetDefault("log.compress", false)

	// Telemetry defaults / 遥测默认值
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "godotyd")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	// Validate sidecar / 验证 sidecar
	if strings.TrimSpace(c.Sidecar.Name) == "" {
		return errors.New("sidecar.name is required")
	}
	if strings.TrimSpace(c.Sidecar.MatchName) == "" {
		return errors.New("sidecar.match_name is required")
	}
	if c.Sidecar.Port <= 0 || c.Sidecar.Port > 65535 {
		return fmt.Errorf("invalid sidecar.port: %d (must be 1-65535)", c.Sidecar.Port)
	}
	if c.Sidecar.PollInterval <= 0 {
		return errors.New("sidecar.poll_interval must be positive")
	}
	if c.Sidecar.StartupTimeout < c.Sidecar.PollInterval {
		return errors.New("sidecar.startup_timeout must not be shorter than sidecar.poll_interval")
	}

	// Validate timeouts / 验证超时
	if c.Health.Timeout <= 0 {
		return errors.New("health.timeout must be positive")
	}
	if c.Shutdown.RequestTimeout <= 0 || c.Shutdown.KillTimeout <= 0 {
		return errors.New("shutdown timeouts must be positive")
	}
	if c.Update.Timeout <= 0 || c.Update.VersionTimeout <= 0 {
		return errors.New("update timeouts must be positive")
	}
	if c.Update.ReleaseURL == "" {
		return errors.New("update.release_url is required")
	}

	// Validate watchdog / 验证看门狗
	if c.Watchdog.Enabled {
		if c.Watchdog.Interval < 100*time.Millisecond {
			return errors.New("watchdog.interval must be at least 100ms")
		}
		if c.Watchdog.FailureThreshold < 1 {
			return errors.New("watchdog.failure_threshold must be at least 1")
		}
	}

	// Validate API / 验证 API
	if c.API.Enabled && c.API.Listen == "" {
		return errors.New("api.listen is required when the control API is enabled")
	}

	// Validate log level / 验证日志级别
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch c.Log.Output {
	case "stdout", "file", "both":
	default:
		return fmt.Errorf("invalid log output: %s (must be stdout, file, or both)", c.Log.Output)
	}
	if c.Log.Output != "stdout" && c.Log.File == "" {
		return errors.New("log.file is required when log.output writes to a file")
	}

	return nil
}

// String returns a string representation of the config (for debugging)
// String 返回配置的字符串表示（用于调试）
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Sidecar.Name: %s, Sidecar.Port: %d, Reclaim.BroadSweep: %t, Watchdog.Enabled: %t, Log.Level: %s}",
		c.Sidecar.Name,
		c.Sidecar.Port,
		c.Reclaim.BroadSweep,
		c.Watchdog.Enabled,
		c.Log.Level,
	)
}

// ToYAML serializes the configuration to YAML format
// ToYAML 将配置序列化为 YAML 格式
func (c *Config) ToYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Address returns host:port of the sidecar
// Address 返回 sidecar 的 host:port
func (c *SidecarConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
