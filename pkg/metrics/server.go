/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/parallelscore/trackam-live/pkg/config"
)

// HealthFunc reports the realtime connection state and whether it counts as healthy.
type HealthFunc func() (state string, healthy bool)

// Server serves /metrics for scraping and a /health probe that follows the connection state.
type Server struct {
	port       int
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer builds the metrics server. A nil health reports healthy with an unknown state.
func NewServer(cfg *config.MetricsConfig, health HealthFunc, log *zap.Logger) *Server {
	if health == nil {
		health = func() (string, bool) { return "unknown", true }
	}
	registry := Init()

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})))
	router.GET("/health", func(c *gin.Context) {
		state, healthy := health()
		code, status := http.StatusOK, "healthy"
		if !healthy {
			code, status = http.StatusServiceUnavailable, "unhealthy"
		}
		c.JSON(code, gin.H{"status": status, "connection": state})
	})

	return &Server{
		port: cfg.Port,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the port so a conflict is reported to the caller, then serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics server failed to bind: %w", err)
	}
	s.log.Info("Metrics server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight scrapes until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping metrics server", zap.Int("port", s.port))
	return s.httpServer.Shutdown(ctx)
}

// StartMemoryMetricsUpdater periodically refreshes memory metrics until ctx is done.
func StartMemoryMetricsUpdater(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				UpdateMemoryMetrics()
			}
		}
	}()
}
