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

// Package paths resolves the configuration root and the sidecar installation path.
// paths 包解析配置根目录与 sidecar 安装路径。
package paths

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/logger"
)

// Directory layout under the configuration root
// 配置根目录下的目录布局
const (
	AppDirName     = "godoty"
	PortableDir    = "data"
	DataDir        = "data"
	CacheDir       = "cache"
	DocsDir        = "godot_docs"
	BinDir         = "bin"
	ConfigFileName = "opencode.json"
	BackupSuffix   = ".old"
)

var (
	// ErrBundledBinaryNotFound indicates no bundled sidecar binary was found
	// ErrBundledBinaryNotFound 表示未找到随包的 sidecar 二进制文件
	ErrBundledBinaryNotFound = errors.New("bundled sidecar binary not found")

	// ErrConfigDirUnresolved indicates no configuration root could be determined
	// ErrConfigDirUnresolved 表示无法确定配置根目录
	ErrConfigDirUnresolved = errors.New("cannot resolve config directory")
)

// ConfigDir resolves the configuration root.
// ConfigDir 解析配置根目录。
// Order: explicit override, a portable data directory next to the executable,
// then the per-user config directory.
// 顺序：显式覆盖值、可执行文件旁的便携 data 目录、用户配置目录。
func ConfigDir(override string) (string, error) {
	if override != "" {
		return filepath.Abs(override)
	}

	if exe, err := os.Executable(); err == nil {
		portable := filepath.Join(filepath.Dir(exe), PortableDir)
		if info, err := os.Stat(portable); err == nil && info.IsDir() {
			return portable, nil
		}
	}

	userDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfigDirUnresolved, err)
	}
	return filepath.Join(userDir, AppDirName), nil
}

// ExecutableName appends the platform executable suffix
// ExecutableName 追加平台可执行文件后缀
func ExecutableName(name string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}

// InstallationPath returns the deterministic binary location under configDir
// InstallationPath 返回 configDir 下确定的二进制文件位置
func InstallationPath(configDir, name string) string {
	return filepath.Join(configDir, BinDir, ExecutableName(name))
}

// BackupPath returns the rollback location for an installed binary
// BackupPath 返回已安装二进制文件的回滚位置
func BackupPath(installPath string) string {
	return strings.TrimSuffix(installPath, filepath.Ext(installPath)) + BackupSuffix
}

// Prepare creates the subdirectories the sidecar expects
// Prepare 创建 sidecar 所需的子目录
func Prepare(configDir string) error {
	dirs := []string{
		"",
		DataDir,
		CacheDir,
		DocsDir,
		filepath.Join(DocsDir, "classes"),
		BinDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(filepath.Join(configDir, dir), 0755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Join(configDir, dir), err)
		}
	}
	return nil
}

// Installation is the default collaborator that locates the sidecar binary.
// Installation 是定位 sidecar 二进制文件的默认协作者。
type Installation struct {
	configDir  string
	name       string
	path       string
	bundleDirs []string
}

// NewInstallation resolves directories from sidecar configuration
// NewInstallation 根据 sidecar 配置解析目录
func NewInstallation(cfg config.SidecarConfig) (*Installation, error) {
	dir, err := ConfigDir(cfg.ConfigDir)
	if err != nil {
		return nil, err
	}
	path := cfg.BinaryPath
	if path == "" {
		path = InstallationPath(dir, cfg.Name)
	}
	return &Installation{
		configDir:  dir,
		name:       cfg.Name,
		path:       path,
		bundleDirs: cfg.BundleDirs,
	}, nil
}

func (i *Installation) ConfigDir() string { return i.configDir }

func (i *Installation) Path() string { return i.path }

func (i *Installation) Name() string { return i.name }

// EnsureInstalled returns the installation path, copying a bundled binary there when missing.
// EnsureInstalled 返回安装路径，缺失时从随包二进制复制。
func (i *Installation) EnsureInstalled(ctx context.Context) (string, error) {
	if info, err := os.Stat(i.path); err == nil && !info.IsDir() {
		if runtime.GOOS != "windows" && info.Mode().Perm()&0111 == 0 {
			if err := os.Chmod(i.path, 0755); err != nil {
				logger.WarnF(ctx, "[Paths] cannot mark %s executable: %v", i.path, err)
			}
		}
		return i.path, nil
	}

	logger.InfoF(ctx, "[Paths] sidecar not found at %s, installing from bundle", i.path)

	bundled, err := FindBundledBinary(i.searchDirs(), i.name)
	if err != nil {
		return "", err
	}
	logger.InfoF(ctx, "[Paths] found bundled binary at %s", bundled)

	if err := os.MkdirAll(filepath.Dir(i.path), 0755); err != nil {
		return "", fmt.Errorf("create bin dir: %w", err)
	}
	if err := CopyFile(bundled, i.path, 0755); err != nil {
		return "", err
	}
	logger.InfoF(ctx, "[Paths] copied bundled binary to %s", i.path)
	return i.path, nil
}

// searchDirs expands relative bundle dirs against the executable dir and the working dir
func (i *Installation) searchDirs() []string {
	var roots []string
	if exe, err := os.Executable(); err == nil {
		roots = append(roots, filepath.Dir(exe))
	}
	if wd, err := os.Getwd(); err == nil {
		roots = append(roots, wd)
	}

	var out []string
	for _, d := range i.bundleDirs {
		if filepath.IsAbs(d) {
			out = append(out, d)
			continue
		}
		for _, r := range roots {
			out = append(out, filepath.Join(r, d))
		}
	}
	return out
}

// FindBundledBinary returns the first regular file whose name starts with name
// and is not a backup.
// FindBundledBinary 返回第一个名称以 name 开头且不是备份的普通文件。
func FindBundledBinary(dirs []string, name string) (string, error) {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			n := e.Name()
			if strings.HasPrefix(n, name) && !strings.HasSuffix(n, BackupSuffix) {
				return filepath.Join(dir, n), nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s in %v", ErrBundledBinaryNotFound, name, dirs)
}

// CopyFile copies src to dst through a temporary sibling and a rename
// CopyFile 通过同目录临时文件加重命名的方式复制 src 到 dst
func CopyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	return WriteFileAtomic(dst, in, perm)
}

// WriteFileAtomic streams r into dst so that dst only ever names a complete file
// WriteFileAtomic 将 r 写入 dst，保证 dst 只指向完整文件
func WriteFileAtomic(dst string, r io.Reader, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if runtime.GOOS != "windows" {
		if err = os.Chmod(tmpName, perm); err != nil {
			return fmt.Errorf("chmod %s: %w", tmpName, err)
		}
	}
	if err = os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename to %s: %w", dst, err)
	}
	return nil
}
