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

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/godoty/sidecar/internal/history"
	"github.com/godoty/sidecar/internal/installer"
	"github.com/godoty/sidecar/internal/logger"
	"github.com/godoty/sidecar/internal/process"
	"github.com/godoty/sidecar/internal/release"
	"github.com/godoty/sidecar/internal/service"
)

// Commands is the service surface exposed over HTTP
// Commands 是通过 HTTP 暴露的服务接口
type Commands interface {
	Status() service.StatusInfo
	Logs(n int) []process.LogLine
	StartSidecar(ctx context.Context) (*process.StartResult, error)
	StopSidecar(ctx context.Context, graceful bool) (*process.ShutdownResult, error)
	RestartSidecar(ctx context.Context) (*process.StartResult, error)
	GetSidecarVersion(ctx context.Context) service.VersionInfo
	CheckSidecarUpdate(ctx context.Context) (*release.UpdateInfo, error)
	PerformSidecarUpdate(ctx context.Context, m *release.Manifest, reporter installer.ProgressReporter) (*service.UpdateOutcome, error)
	History(ctx context.Context, limit int) ([]*history.UpdateRecord, error)
}

// Response 标准响应格式
// Response is the standard response envelope
type Response struct {
	ErrorMsg string      `json:"error_msg"`
	Data     interface{} `json:"data"`
}

// LogsRequest 日志查询参数
type LogsRequest struct {
	Lines int `form:"lines" binding:"omitempty,min=1,max=10000"`
}

// HistoryRequest 更新历史查询参数
type HistoryRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// Handler provides HTTP handlers for sidecar commands.
// Handler 提供 sidecar 命令的 HTTP 处理器。
type Handler struct {
	cmds Commands
}

// NewHandler 创建处理器实例
func NewHandler(cmds Commands) *Handler {
	return &Handler{cmds: cmds}
}

// GetStatus 获取 sidecar 状态
// @Router /api/v1/status [get]
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Data: h.cmds.Status()})
}

// GetLogs 获取最近的 sidecar 输出
// @Router /api/v1/logs [get]
func (h *Handler) GetLogs(c *gin.Context) {
	req := &LogsRequest{Lines: 100}
	if err := c.ShouldBindQuery(req); err != nil {
		c.JSON(http.StatusBadRequest, Response{ErrorMsg: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Data: h.cmds.Logs(req.Lines)})
}

// Start 启动或接管 sidecar
// @Router /api/v1/start [post]
func (h *Handler) Start(c *gin.Context) {
	res, err := h.cmds.StartSidecar(c.Request.Context())
	h.respond(c, res, err)
}

// Stop 停止 sidecar，graceful 默认为 true
// @Router /api/v1/stop [post]
func (h *Handler) Stop(c *gin.Context) {
	graceful := true
	if v := c.Query("graceful"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{ErrorMsg: "invalid graceful value"})
			return
		}
		graceful = b
	}
	res, err := h.cmds.StopSidecar(c.Request.Context(), graceful)
	h.respond(c, res, err)
}

// Restart 重启 sidecar
// @Router /api/v1/restart [post]
func (h *Handler) Restart(c *gin.Context) {
	res, err := h.cmds.RestartSidecar(c.Request.Context())
	h.respond(c, res, err)
}

// GetVersion 获取已安装版本
// @Router /api/v1/version [get]
func (h *Handler) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Data: h.cmds.GetSidecarVersion(c.Request.Context())})
}

// CheckUpdate 检查更新
// @Router /api/v1/update [get]
func (h *Handler) CheckUpdate(c *gin.Context) {
	info, err := h.cmds.CheckSidecarUpdate(c.Request.Context())
	h.respond(c, info, err)
}

// PerformUpdate 执行更新；请求体为发布清单，可省略
// @Router /api/v1/update [post]
func (h *Handler) PerformUpdate(c *gin.Context) {
	var manifest *release.Manifest
	if c.Request.ContentLength != 0 {
		m := &release.Manifest{}
		if err := c.ShouldBindJSON(m); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, Response{ErrorMsg: err.Error()})
			return
		} else if err == nil {
			if m.Tag == "" {
				c.JSON(http.StatusBadRequest, Response{ErrorMsg: "tag_name is required"})
				return
			}
			manifest = m
		}
	}

	out, err := h.cmds.PerformSidecarUpdate(c.Request.Context(), manifest, nil)
	if err != nil {
		logger.ErrorF(c.Request.Context(), "[API] update failed: %v", err)
	}
	h.respond(c, out, err)
}

// ListHistory 获取更新历史
// @Router /api/v1/history [get]
func (h *Handler) ListHistory(c *gin.Context) {
	req := &HistoryRequest{Limit: 20}
	if err := c.ShouldBindQuery(req); err != nil {
		c.JSON(http.StatusBadRequest, Response{ErrorMsg: err.Error()})
		return
	}
	recs, err := h.cmds.History(c.Request.Context(), req.Limit)
	h.respond(c, recs, err)
}

// respond writes data on success; on failure the partial result is kept so
// callers can see how far an operation got.
func (h *Handler) respond(c *gin.Context, data interface{}, err error) {
	if err != nil {
		c.JSON(statusFor(err), Response{ErrorMsg: err.Error(), Data: data})
		return
	}
	c.JSON(http.StatusOK, Response{Data: data})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrOperationInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrUpdaterUnavailable),
		errors.Is(err, release.ErrUnsupportedPlatform):
		return http.StatusNotImplemented
	case errors.Is(err, release.ErrNoMatchingAsset):
		return http.StatusNotFound
	case errors.Is(err, release.ErrFetchFailed),
		errors.Is(err, release.ErrUnexpectedStatus),
		errors.Is(err, release.ErrDecodeFailed),
		errors.Is(err, installer.ErrDownloadFailed):
		return http.StatusBadGateway
	case errors.Is(err, process.ErrHealthTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, process.ErrSupervisorClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
