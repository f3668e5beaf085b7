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

// Package installer downloads a sidecar release and replaces the installed
// binary.
// installer 包下载 sidecar 发布版本并替换已安装的二进制文件。
//
// The installed path only ever names a complete file: the previous binary is
// moved to a ".old" backup first and new content lands through a temporary
// sibling and a rename.
// 安装路径始终只指向完整文件：先将旧二进制移动为 ".old" 备份，新内容经同目录临时文件重命名落地。
package installer

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/logger"
	"github.com/godoty/sidecar/internal/otel_trace"
	"github.com/godoty/sidecar/internal/paths"
	"github.com/godoty/sidecar/internal/release"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Common errors for update installation
// 更新安装的常见错误
var (
	// ErrDownloadFailed indicates the asset download failed
	// ErrDownloadFailed 表示资源下载失败
	ErrDownloadFailed = errors.New("asset download failed")

	// ErrReplaceFailed indicates the installed binary could not be moved aside
	// ErrReplaceFailed 表示无法移走已安装的二进制文件
	ErrReplaceFailed = errors.New("could not replace installed binary")

	// ErrEntryNotFound indicates the archive holds no sidecar executable
	// ErrEntryNotFound 表示压缩包中没有 sidecar 可执行文件
	ErrEntryNotFound = errors.New("executable not found in archive")

	// ErrExtractionFailed indicates the archive could not be read or written out
	// ErrExtractionFailed 表示压缩包无法读取或写出
	ErrExtractionFailed = errors.New("asset extraction failed")
)

// stagingDirName is the temp subdirectory used for downloads
const stagingDirName = "godoty-update"

// Target is the installed binary the installer replaces
// Target 是安装器替换的已安装二进制文件
type Target interface {
	Path() string
	Name() string
}

// ProcessKiller terminates running sidecar processes by executable name
// ProcessKiller 按可执行文件名终止正在运行的 sidecar 进程
type ProcessKiller interface {
	KillByName(ctx context.Context, name string) error
}

// Result contains the result of an installation
// Result 包含安装结果
type Result struct {
	Asset      string `json:"asset"`
	Version    string `json:"version"`
	Path       string `json:"path"`
	BackupPath string `json:"backup_path,omitempty"`
	Bytes      int64  `json:"bytes"`
}

// Installer replaces the installed sidecar binary with a release asset.
// Installer 使用发布资源替换已安装的 sidecar 二进制文件。
type Installer struct {
	target     Target
	killer     ProcessKiller
	match      string
	triple     string
	tempDir    string
	killSettle time.Duration
	httpClient *http.Client

	// file operations, replaced in tests to simulate a locked binary
	rename func(oldpath, newpath string) error
	remove func(name string) error
}

// NewInstaller creates an installer for the running platform.
// killer may be nil, in which case running instances are not stopped.
// NewInstaller 为当前平台创建安装器；killer 为 nil 时不终止运行中的实例。
func NewInstaller(uc config.UpdateConfig, sc config.SidecarConfig, target Target, killer ProcessKiller) (*Installer, error) {
	triple, err := release.CurrentTarget()
	if err != nil {
		return nil, err
	}
	tempDir := uc.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Installer{
		target:     target,
		killer:     killer,
		match:      sc.MatchName,
		triple:     triple,
		tempDir:    filepath.Join(tempDir, stagingDirName),
		killSettle: uc.KillSettle,
		// no overall timeout for large downloads, ctx bounds the transfer
		httpClient: &http.Client{},
		rename:     os.Rename,
		remove:     os.Remove,
	}, nil
}

// Triple returns the release target the installer selects assets for
func (i *Installer) Triple() string { return i.triple }

// Install downloads the asset for this platform from m and puts it in place.
// It does not restart the sidecar.
// Install 从 m 下载当前平台的资源文件并就位，不负责重启 sidecar。
func (i *Installer) Install(ctx context.Context, m *release.Manifest, reporter ProgressReporter) (res *Result, err error) {
	if reporter == nil {
		reporter = &NoOpProgressReporter{}
	}

	ctx, span := otel_trace.Start(ctx, "installer.install")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	// Step 1: select asset / 步骤 1：选择资源文件
	_ = reporter.ReportStepStart(InstallStepSelectAsset)
	asset, err := m.SelectAsset(i.triple)
	if err != nil {
		_ = reporter.ReportStepFailed(InstallStepSelectAsset, err)
		return nil, err
	}
	_ = reporter.ReportStepComplete(InstallStepSelectAsset)
	span.SetAttributes(attribute.String("release.asset", asset.Name), attribute.String("release.tag", m.Tag))
	logger.InfoF(ctx, "[Installer] Selected %s for %s", asset.Name, i.triple)

	// Step 2: download / 步骤 2：下载
	_ = reporter.ReportStepStart(InstallStepDownload)
	staged, size, err := i.download(ctx, asset, reporter)
	if err != nil {
		_ = reporter.ReportStepFailed(InstallStepDownload, err)
		return nil, err
	}
	defer os.Remove(staged)
	_ = reporter.ReportStepComplete(InstallStepDownload)

	// Step 3: stop running instances / 步骤 3：停止运行中的实例
	_ = reporter.ReportStepStart(InstallStepStopRunning)
	if i.killer == nil {
		_ = reporter.ReportStepSkipped(InstallStepStopRunning, "no process killer configured")
	} else {
		if kerr := i.killer.KillByName(ctx, i.target.Name()); kerr != nil {
			logger.WarnF(ctx, "[Installer] Stopping running %s: %v", i.target.Name(), kerr)
		}
		sleepCtx(ctx, i.killSettle)
		_ = reporter.ReportStepComplete(InstallStepStopRunning)
	}

	// Step 4: backup / 步骤 4：备份
	_ = reporter.ReportStepStart(InstallStepBackup)
	dest := i.target.Path()
	backup, err := i.backup(ctx, dest)
	if err != nil {
		_ = reporter.ReportStepFailed(InstallStepBackup, err)
		return nil, err
	}
	if backup == "" {
		_ = reporter.ReportStepSkipped(InstallStepBackup, "no installed binary")
	} else {
		_ = reporter.ReportStepComplete(InstallStepBackup)
	}

	// Step 5: extract / 步骤 5：解压
	_ = reporter.ReportStepStart(InstallStepExtract)
	if err := i.extract(ctx, staged, asset.Name, dest); err != nil {
		i.rollback(ctx, dest, backup)
		_ = reporter.ReportStepFailed(InstallStepExtract, err)
		return nil, err
	}
	_ = reporter.ReportStepComplete(InstallStepExtract)

	// Step 6: permissions / 步骤 6：设置权限
	if runtime.GOOS == "windows" {
		_ = reporter.ReportStepSkipped(InstallStepSetPermissions, "not needed on windows")
	} else {
		_ = reporter.ReportStepStart(InstallStepSetPermissions)
		if err := os.Chmod(dest, 0755); err != nil {
			err = fmt.Errorf("chmod %s: %w", dest, err)
			_ = reporter.ReportStepFailed(InstallStepSetPermissions, err)
			return nil, err
		}
		_ = reporter.ReportStepComplete(InstallStepSetPermissions)
	}

	_ = reporter.Report(InstallStepComplete, 100, "Update installed / 更新已安装")
	logger.InfoF(ctx, "[Installer] Installed %s to %s", m.Tag, dest)

	return &Result{
		Asset:      asset.Name,
		Version:    m.Version(),
		Path:       dest,
		BackupPath: backup,
		Bytes:      size,
	}, nil
}

// download streams the asset into a staging file with progress reporting
// download 将资源文件流式写入暂存文件并上报进度
func (i *Installer) download(ctx context.Context, asset *release.Asset, reporter ProgressReporter) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.DownloadURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", config.DefaultUserAgent)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, fmt.Errorf("%w: HTTP status %d", ErrDownloadFailed, resp.StatusCode)
	}

	if err := os.MkdirAll(i.tempDir, 0755); err != nil {
		return "", 0, fmt.Errorf("%w: create staging dir: %v", ErrDownloadFailed, err)
	}
	tempFile, err := os.CreateTemp(i.tempDir, "asset-*")
	if err != nil {
		return "", 0, fmt.Errorf("%w: create staging file: %v", ErrDownloadFailed, err)
	}
	fail := func(err error) (string, int64, error) {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return "", 0, err
	}

	totalSize := resp.ContentLength
	if totalSize <= 0 {
		totalSize = asset.Size
	}
	var downloaded int64

	buf := make([]byte, 32*1024) // 32KB buffer
	for {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		default:
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := tempFile.Write(buf[:n]); werr != nil {
				return fail(fmt.Errorf("%w: write staging file: %v", ErrDownloadFailed, werr))
			}
			downloaded += int64(n)
			if totalSize > 0 {
				progress := int(float64(downloaded) / float64(totalSize) * 100)
				_ = reporter.Report(InstallStepDownload, progress, fmt.Sprintf("Downloaded %d/%d bytes / 已下载 %d/%d 字节", downloaded, totalSize, downloaded, totalSize))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fail(fmt.Errorf("%w: %v", ErrDownloadFailed, rerr))
		}
	}

	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())
		return "", 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return tempFile.Name(), downloaded, nil
}

// backup moves the installed binary to its ".old" path. A binary that cannot
// be renamed (locked on Windows) is removed instead; if that fails too the
// update is aborted with the binary untouched.
// backup 将已安装二进制移动到 ".old"；无法重命名时直接删除，删除也失败则中止更新且不改动原文件。
func (i *Installer) backup(ctx context.Context, dest string) (string, error) {
	if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	old := paths.BackupPath(dest)
	if err := i.remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnF(ctx, "[Installer] Removing stale backup %s: %v", old, err)
	}

	if err := i.rename(dest, old); err != nil {
		logger.WarnF(ctx, "[Installer] Could not rename current binary: %v", err)
		if rmErr := i.remove(dest); rmErr != nil {
			return "", fmt.Errorf("%w: %v", ErrReplaceFailed, rmErr)
		}
		return "", nil
	}
	return old, nil
}

// rollback restores the backup when nothing was installed in its place
func (i *Installer) rollback(ctx context.Context, dest, backup string) {
	if backup == "" {
		return
	}
	if _, err := os.Stat(dest); err == nil {
		return
	}
	if err := i.rename(backup, dest); err != nil {
		logger.ErrorF(ctx, "[Installer] Restoring %s from %s: %v", dest, backup, err)
		return
	}
	logger.WarnF(ctx, "[Installer] Restored previous binary from %s", backup)
}

// extract writes the executable contained in the staged asset to dest
// extract 将暂存资源中的可执行文件写入 dest
func (i *Installer) extract(ctx context.Context, staged, assetName, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: create bin dir: %v", ErrExtractionFailed, err)
	}

	lower := strings.ToLower(assetName)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return i.extractZip(staged, dest)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return i.extractTarGz(ctx, staged, dest)
	default:
		if err := paths.CopyFile(staged, dest, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		return nil
	}
}

func (i *Installer) matches(entryName string) bool {
	return strings.Contains(path.Base(entryName), i.match)
}

func (i *Installer) extractZip(staged, dest string) error {
	zr, err := zip.OpenReader(staged)
	if err != nil {
		return fmt.Errorf("%w: open zip: %v", ErrExtractionFailed, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") || !i.matches(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("%w: open %s: %v", ErrExtractionFailed, f.Name, err)
		}
		err = paths.WriteFileAtomic(dest, rc, 0755)
		rc.Close()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		return nil
	}
	return fmt.Errorf("%w: no entry containing %q", ErrEntryNotFound, i.match)
}

func (i *Installer) extractTarGz(ctx context.Context, staged, dest string) error {
	file, err := os.Open(staged)
	if err != nil {
		return fmt.Errorf("%w: open package: %v", ErrExtractionFailed, err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("%w: failed to create gzip reader: %v", ErrExtractionFailed, err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: failed to read tar header: %v", ErrExtractionFailed, err)
		}
		if header.Typeflag != tar.TypeReg || !i.matches(header.Name) {
			continue
		}
		if err := paths.WriteFileAtomic(dest, tarReader, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		return nil
	}
	return fmt.Errorf("%w: no entry containing %q", ErrEntryNotFound, i.match)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
