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

// Package api serves the loopback control API for the sidecar supervisor.
// api 包提供 sidecar 守护进程的本地控制 API。
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/godoty/sidecar/internal/config"
	"github.com/godoty/sidecar/internal/logger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Server hosts the control API
// Server 承载控制 API
type Server struct {
	cfg    config.APIConfig
	engine *gin.Engine
	srv    *http.Server
	ln     net.Listener
	done   chan struct{}
}

// NewServer builds the router for cmds
// NewServer 为 cmds 构建路由
func NewServer(cfg config.APIConfig, serviceName string, cmds Commands) *Server {
	if cfg.Mode == gin.ReleaseMode || cfg.Mode == gin.TestMode || cfg.Mode == gin.DebugMode {
		gin.SetMode(cfg.Mode)
	}
	return &Server{cfg: cfg, engine: newRouter(serviceName, NewHandler(cmds))}
}

func newRouter(serviceName string, h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName), loggerMiddleware())

	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/status", h.GetStatus)
		apiV1.GET("/logs", h.GetLogs)
		apiV1.POST("/start", h.Start)
		apiV1.POST("/stop", h.Stop)
		apiV1.POST("/restart", h.Restart)
		apiV1.GET("/version", h.GetVersion)
		apiV1.GET("/update", h.CheckUpdate)
		apiV1.POST("/update", h.PerformUpdate)
		apiV1.GET("/history", h.ListHistory)
	}
	return r
}

// Handler returns the HTTP handler, used by tests
func (s *Server) Handler() http.Handler { return s.engine }

// Start binds the listen address and serves in the background
// Start 绑定监听地址并在后台提供服务
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.ln = ln
	s.done = make(chan struct{})
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.InfoF(context.Background(), "[API] listening on %s", ln.Addr())

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorF(context.Background(), "[API] serve: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones
// Shutdown 停止接收请求并等待进行中的请求完成
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
