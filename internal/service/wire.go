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

package service

import (
	"context"
	"path/filepath"

	"github.com/godoty/sidecar/internal/collector"
	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/discovery"
	"github.com/godoty/sidecar/internal/health"
	"github.com/godoty/sidecar/internal/history"
	"github.com/godoty/sidecar/internal/installer"
	"github.com/godoty/sidecar/internal/logger"
	"github.com/godoty/sidecar/internal/paths"
	"github.com/godoty/sidecar/internal/process"
	"github.com/godoty/sidecar/internal/release"
	"github.com/godoty/sidecar/internal/version"
	"gorm.io/gorm"
)

// Build wires the production collaborators from configuration.
// Build 根据配置装配生产环境协作者。
//
// History and the updater degrade instead of failing: an unopenable database
// disables history, an unsupported platform disables updates.
// 历史与更新器采用降级处理：数据库无法打开时禁用历史，平台不支持时禁用更新。
func Build(ctx context.Context, cfg *config.Config) (*Service, error) {
	inst, err := paths.NewInstallation(cfg.Sidecar)
	if err != nil {
		return nil, err
	}
	logger.InfoF(ctx, "[Service] config dir %s, binary %s", inst.ConfigDir(), inst.Path())

	prober := health.NewProber(cfg.Sidecar, cfg.Health)
	ops := discovery.NewSystemOps()

	var reclaimer process.Reclaimer
	if cfg.Reclaim.Enabled {
		reclaimer = discovery.NewReclaimer(ops, prober, cfg.Sidecar, cfg.Reclaim)
	}

	deps := Deps{
		ConfigDir:  inst.ConfigDir(),
		Supervisor: process.NewSupervisor(cfg, prober, reclaimer, inst),
		Prober:     prober,
		Versions:   version.NewResolver(inst, cfg.Update.VersionTimeout),
		Releases:   release.NewFetcher(cfg.Update),
		Usage:      collector.NewCollector(cfg.Health.Timeout),
	}

	if upd, err := installer.NewInstaller(cfg.Update, cfg.Sidecar, inst, ops); err != nil {
		logger.WarnF(ctx, "[Service] updates disabled: %v", err)
	} else {
		deps.Updater = upd
	}

	if cfg.History.Enabled {
		if db, err := openHistory(ctx, cfg.History, inst.ConfigDir()); err != nil {
			logger.WarnF(ctx, "[Service] update history disabled: %v", err)
		} else {
			deps.History = history.NewRepository(db)
			deps.Closers = append(deps.Closers, func() error { return history.Close(db) })
		}
	}

	return New(cfg, deps), nil
}

func openHistory(ctx context.Context, hc config.HistoryConfig, configDir string) (*gorm.DB, error) {
	path := hc.Path
	if path == "" {
		path = filepath.Join(configDir, history.DefaultFileName)
	}
	return history.Open(ctx, path)
}
