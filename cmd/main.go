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

// Package main is the entry point of godotyd, the sidecar supervisor.
// main 包是 sidecar 守护进程 godotyd 的入口点。
//
// godotyd starts (or adopts) the local opencode backend, keeps exactly one
// instance alive, serves a loopback control API and replaces the backend
// binary from the release feed on request.
// godotyd 启动（或接管）本地 opencode 后端，保持唯一实例存活，
// 提供本地控制 API，并按需从发布源替换后端二进制文件。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godoty/sidecar/internal/api"
	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/installer"
	"github.com/godoty/sidecar/internal/logger"
	"github.com/godoty/sidecar/internal/otel_trace"
	"github.com/godoty/sidecar/internal/process"
	"github.com/godoty/sidecar/internal/service"
	"github.com/spf13/cobra"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var (
	// configFile 是配置文件的路径
	configFile string
	// port overrides sidecar.port when set
	port int
	// force reinstalls even when no newer release exists
	force bool
)

// rootCmd runs the supervisor when invoked without a subcommand
// rootCmd 在不带子命令时运行守护进程
var rootCmd = &cobra.Command{
	Use:           "godotyd",
	Short:         "Sidecar supervisor and updater for the opencode backend",
	Long:          "godotyd supervises the local opencode backend: it starts or adopts a single instance, serves a loopback control API and installs backend updates.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor in the foreground",
	RunE:  runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print godotyd version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "godotyd %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
	},
}

var sidecarVersionCmd = &cobra.Command{
	Use:   "sidecar-version",
	Short: "Print the installed sidecar version and path",
	RunE: withService(func(ctx context.Context, cmd *cobra.Command, svc *service.Service) error {
		return printJSON(cmd.OutOrStdout(), svc.GetSidecarVersion(ctx))
	}),
}

var checkUpdateCmd = &cobra.Command{
	Use:   "check-update",
	Short: "Compare the installed sidecar with the latest release",
	RunE: withService(func(ctx context.Context, cmd *cobra.Command, svc *service.Service) error {
		info, err := svc.CheckSidecarUpdate(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), info)
	}),
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Install the latest sidecar release (running instances are stopped by name)",
	RunE:  withService(runUpdate),
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := cfg.ToYAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: ./godotyd.yaml or $GODOTY_CONFIG_PATH)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "sidecar port (overrides sidecar.port)")
	updateCmd.Flags().BoolVar(&force, "force", false, "reinstall even when the installed version is current")

	rootCmd.AddCommand(runCmd, versionCmd, sidecarVersionCmd, checkUpdateCmd, updateCmd, configCmd)
}

// loadConfig loads and validates configuration; --port wins over file and env
// loadConfig 加载并校验配置；--port 优先于配置文件和环境变量
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var overrides map[string]interface{}
	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		overrides = map[string]interface{}{"sidecar.port": port}
	}
	cfg, err := config.LoadWithPriority(configFile, overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setup loads configuration and initializes logging and tracing
func setup(ctx context.Context, cmd *cobra.Command) (*config.Config, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, nil, err
	}
	otel_trace.Init(ctx, cfg.Telemetry)
	return cfg, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		otel_trace.Shutdown(shutdownCtx)
		_ = logger.Sync()
	}, nil
}

// withService runs fn against a service that is closed afterwards without
// stopping the sidecar
func withService(fn func(ctx context.Context, cmd *cobra.Command, svc *service.Service) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, cleanup, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		svc, err := service.Build(ctx, cfg)
		if err != nil {
			return err
		}
		defer svc.Close()
		return fn(ctx, cmd, svc)
	}
}

func runUpdate(ctx context.Context, cmd *cobra.Command, svc *service.Service) error {
	out := cmd.OutOrStdout()

	info, err := svc.CheckSidecarUpdate(ctx)
	if err != nil {
		return err
	}
	if !info.Available && !force {
		fmt.Fprintf(out, "opencode-cli %s is up to date\n", info.CurrentVersion)
		return nil
	}

	reporter := installer.NewChannelProgressReporter(32)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for step := range reporter.StepChan {
			if step.Status == installer.StepStatusRunning && step.StartTime == nil {
				continue
			}
			fmt.Fprintf(out, "[%d/%d %s] %s %s%s\n", installer.StepNumber(step.Step), len(installer.InstallationSteps),
				step.Step, step.Status, step.Message, step.Error)
		}
	}()

	res, err := svc.InstallUpdate(ctx, info.Release, reporter)
	reporter.Close()
	<-printed
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "installed opencode-cli %s at %s\n", info.LatestVersion, res.Install.Path)
	return nil
}

// runDaemon boots the supervisor and the control API and blocks until a signal arrives
// runDaemon 启动守护器与控制 API，并阻塞直到收到信号
func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, cleanup, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.InfoF(ctx, "[godotyd] starting %s (commit %s), sidecar %s:%d",
		Version, GitCommit, cfg.Sidecar.Host, cfg.Sidecar.Port)

	svc, err := service.Build(ctx, cfg)
	if err != nil {
		return err
	}

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.NewServer(cfg.API, cfg.Telemetry.ServiceName, svc)
		if err := apiSrv.Start(); err != nil {
			svc.Close()
			return fmt.Errorf("control api: %w", err)
		}
	}

	// a failed boot leaves the daemon up so the API can retry
	if err := svc.Boot(ctx, func(st process.Status) {
		logger.InfoF(ctx, "[godotyd] sidecar ready on %s:%d (pid=%d adopted=%v)", st.Host, st.Port, st.PID, st.Adopted)
	}); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorF(ctx, "[godotyd] sidecar boot failed: %v", err)
	}

	<-ctx.Done()
	logger.InfoF(context.Background(), "[godotyd] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget(cfg))
	defer cancel()
	if apiSrv != nil {
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			logger.WarnF(shutdownCtx, "[godotyd] api shutdown: %v", err)
		}
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.ErrorF(shutdownCtx, "[godotyd] sidecar shutdown: %v", err)
	}
	return nil
}

// shutdownBudget covers a graceful request, the grace period, the wait for a
// voluntary exit and a forced kill
func shutdownBudget(cfg *config.Config) time.Duration {
	return cfg.Shutdown.RequestTimeout + cfg.Shutdown.GracePeriod + 2*cfg.Shutdown.KillTimeout + 5*time.Second
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
