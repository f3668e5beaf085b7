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

// Package health probes the sidecar's local health and control endpoints.
// health 包探测 sidecar 本地健康与控制端点。
package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/godoty/sidecar/internal/config"
)

// Prober issues short-lived HTTP requests against the sidecar port.
// Prober 向 sidecar 端口发起短连接 HTTP 请求。
// Every failure collapses to false; callers own retry policy.
// 所有失败都折叠为 false；重试策略由调用方负责。
type Prober struct {
	host         string
	port         int
	path         string
	shutdownPath string
	timeout      time.Duration
	transport    http.RoundTripper
}

// NewProber creates a prober for the configured sidecar address
// NewProber 为配置的 sidecar 地址创建探测器
func NewProber(sc config.SidecarConfig, hc config.HealthConfig) *Prober {
	return &Prober{
		host:         sc.Host,
		port:         sc.Port,
		path:         hc.Path,
		shutdownPath: hc.ShutdownPath,
		timeout:      hc.Timeout,
		// fresh connection per probe
		transport: &http.Transport{DisableKeepAlives: true},
	}
}

// Host returns the probed host
func (p *Prober) Host() string { return p.host }

// Port returns the probed port
func (p *Prober) Port() int { return p.port }

// Healthy probes the configured address with the configured timeout
// Healthy 使用配置的超时探测配置的地址
func (p *Prober) Healthy(ctx context.Context) bool {
	return p.Probe(ctx, p.host, p.port, p.timeout)
}

// Probe reports whether GET /health on host:port answers 2xx within timeout.
// Probe 报告 host:port 上的 GET /health 是否在超时内返回 2xx。
func (p *Prober) Probe(ctx context.Context, host string, port int, timeout time.Duration) bool {
	return p.do(ctx, http.MethodGet, p.url(host, port, p.path), timeout)
}

// RequestShutdown issues POST /shutdown and reports whether it was accepted
// RequestShutdown 发送 POST /shutdown 并报告是否被接受
func (p *Prober) RequestShutdown(ctx context.Context, timeout time.Duration) bool {
	return p.do(ctx, http.MethodPost, p.url(p.host, p.port, p.shutdownPath), timeout)
}

// PortInUse reports whether anything accepts TCP connections on the port
// PortInUse 报告端口上是否有进程接受 TCP 连接
func (p *Prober) PortInUse(ctx context.Context) bool {
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(p.host, strconv.Itoa(p.port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (p *Prober) url(host string, port int, path string) string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(host, strconv.Itoa(port)), path)
}

func (p *Prober) do(ctx context.Context, method, url string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = config.DefaultHealthTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return false
	}

	client := &http.Client{Transport: p.transport, Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
