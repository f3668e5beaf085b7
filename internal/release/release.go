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

// Package release queries the remote release feed and picks the asset for
// the running platform.
// release 包查询远程发布源并为当前平台选择资源文件。
package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/logger"
	"github.com/godoty/sidecar/internal/otel_trace"
	"go.opentelemetry.io/otel/attribute"
)

// Common errors for release lookups
// 发布查询的常见错误
var (
	// ErrFetchFailed indicates the feed could not be reached
	// ErrFetchFailed 表示无法访问发布源
	ErrFetchFailed = errors.New("release fetch failed")

	// ErrUnexpectedStatus indicates the feed answered with a non-2xx status
	// ErrUnexpectedStatus 表示发布源返回了非 2xx 状态
	ErrUnexpectedStatus = errors.New("unexpected release feed status")

	// ErrDecodeFailed indicates the feed body is not a release document
	// ErrDecodeFailed 表示发布源响应体不是发布文档
	ErrDecodeFailed = errors.New("release decode failed")

	// ErrUnsupportedPlatform indicates no release target exists for this OS/arch
	// ErrUnsupportedPlatform 表示当前操作系统/架构没有对应的发布目标
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrNoMatchingAsset indicates the release has no asset for the target
	// ErrNoMatchingAsset 表示发布中没有目标平台的资源文件
	ErrNoMatchingAsset = errors.New("no matching asset")
)

// Asset is one downloadable file of a release
// Asset 是发布中的一个可下载文件
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size,omitempty"`
}

// Manifest is the latest-release document
// Manifest 是最新发布文档
type Manifest struct {
	Tag         string  `json:"tag_name"`
	Assets      []Asset `json:"assets"`
	Notes       string  `json:"body,omitempty"`
	PublishedAt string  `json:"published_at,omitempty"`
}

// Version returns the tag without a leading "v"
// Version 返回去掉前缀 "v" 的标签
func (m *Manifest) Version() string {
	return normalize(m.Tag)
}

// SelectAsset returns the first asset whose name contains triple
// SelectAsset 返回名称包含 triple 的第一个资源文件
func (m *Manifest) SelectAsset(triple string) (*Asset, error) {
	if triple == "" {
		return nil, fmt.Errorf("%w: empty target", ErrNoMatchingAsset)
	}
	for i := range m.Assets {
		if strings.Contains(m.Assets[i].Name, triple) {
			return &m.Assets[i], nil
		}
	}
	return nil, fmt.Errorf("%w for target %s", ErrNoMatchingAsset, triple)
}

// Fetcher retrieves the latest release manifest.
// Fetcher 获取最新发布清单。
type Fetcher struct {
	url       string
	userAgent string
	client    *http.Client
}

// NewFetcher creates a fetcher from update configuration
// NewFetcher 根据更新配置创建获取器
func NewFetcher(cfg config.UpdateConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultReleaseTimeout
	}
	return NewFetcherWithClient(cfg, &http.Client{Timeout: timeout})
}

// NewFetcherWithClient creates a fetcher with a custom HTTP client
// NewFetcherWithClient 使用自定义 HTTP 客户端创建获取器
func NewFetcherWithClient(cfg config.UpdateConfig, client *http.Client) *Fetcher {
	url := cfg.ReleaseURL
	if url == "" {
		url = config.DefaultReleaseURL
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	return &Fetcher{url: url, userAgent: ua, client: client}
}

// Latest fetches and decodes the latest release. No retry, no cache.
// Latest 获取并解码最新发布，不重试也不缓存。
func (f *Fetcher) Latest(ctx context.Context) (*Manifest, error) {
	ctx, span := otel_trace.Start(ctx, "release.latest")
	defer span.End()
	span.SetAttributes(attribute.String("release.url", f.url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := f.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: HTTP status %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if m.Tag == "" {
		return nil, fmt.Errorf("%w: missing tag_name", ErrDecodeFailed)
	}

	span.SetAttributes(attribute.String("release.tag", m.Tag), attribute.Int("release.assets", len(m.Assets)))
	logger.DebugF(ctx, "[Release] latest %s with %d asset(s)", m.Tag, len(m.Assets))
	return &m, nil
}

// Check compares current against the latest release
// Check 将当前版本与最新发布进行比较
func (f *Fetcher) Check(ctx context.Context, current string) (*UpdateInfo, error) {
	m, err := f.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return NewUpdateInfo(current, m), nil
}

// UpdateInfo is the result of an update check
// UpdateInfo 是更新检查的结果
type UpdateInfo struct {
	Available      bool      `json:"available"`
	LatestVersion  string    `json:"latest_version"`
	CurrentVersion string    `json:"current_version"`
	Release        *Manifest `json:"release,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// NewUpdateInfo builds an UpdateInfo for current against m
// NewUpdateInfo 根据当前版本与 m 构建 UpdateInfo
func NewUpdateInfo(current string, m *Manifest) *UpdateInfo {
	latest := m.Version()
	return &UpdateInfo{
		Available:      IsUpdateAvailable(current, latest),
		LatestVersion:  latest,
		CurrentVersion: current,
		Release:        m,
		CheckedAt:      time.Now(),
	}
}
