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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parallelscore/trackam-live/pkg/api/handlers"
	"github.com/parallelscore/trackam-live/pkg/config"
	"github.com/parallelscore/trackam-live/pkg/logger"
	"github.com/parallelscore/trackam-live/pkg/metrics"
	"github.com/parallelscore/trackam-live/pkg/realtime"
	"github.com/parallelscore/trackam-live/pkg/storage"
	"github.com/parallelscore/trackam-live/pkg/tracking"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		deliveries []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker with its local status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, deliveries)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML configuration file")
	cmd.Flags().StringSliceVarP(&deliveries, "watch", "w", nil, "Delivery ids to watch on startup")
	return cmd
}

// webSocketConfig maps realtime settings onto the websocket transport.
func webSocketConfig(rt config.RealtimeConfig) realtime.WebSocketConfig {
	return realtime.WebSocketConfig{
		URL:                rt.URL,
		Token:              rt.Token,
		HandshakeTimeout:   rt.HandshakeTimeout,
		WriteTimeout:       rt.WriteTimeout,
		PingInterval:       rt.PingInterval,
		PongTimeout:        rt.PongTimeout,
		ReadLimit:          1 << 20,
		InsecureSkipVerify: rt.InsecureSkipVerify,
	}
}

// managerConfig builds the connection manager config. Auto connect is left to the caller so
// that subscribers are attached before the first transition.
func managerConfig(rt config.RealtimeConfig) realtime.Config {
	return realtime.Config{
		URL: rt.URL,
		Policy: realtime.ReconnectPolicy{
			MaxAttempts:   rt.MaxAttempts,
			RetryInterval: rt.RetryInterval,
		},
		SendBuffer: rt.SendBuffer,
	}
}

func serve(parent context.Context, cfg *config.Config, deliveries []string) error {
	if parent == nil {
		parent = context.Background()
	}
	log := logger.NewLogger(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer log.Sync()

	log.Info("Starting livetrack",
		zap.String("version", version),
		zap.String("url", cfg.Realtime.URL),
		zap.Bool("token_configured", cfg.Realtime.Token != ""),
		zap.String("storage_type", cfg.Storage.Type),
		zap.Int("max_attempts", cfg.Realtime.MaxAttempts),
		zap.Duration("retry_interval", cfg.Realtime.RetryInterval),
	)

	metrics.SetEnabled(cfg.Metrics.Enabled)
	metrics.Init()
	metrics.Info.WithLabelValues(version, cfg.Storage.Type).Set(1)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewFromConfig(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	transport := realtime.NewWebSocketTransport(webSocketConfig(cfg.Realtime), log)
	manager := realtime.NewManager(managerConfig(cfg.Realtime), transport, log)
	defer manager.Close()

	tracker := tracking.NewTracker(manager, store, log)
	tracker.Start()
	defer tracker.Stop()

	for _, id := range deliveries {
		if err := tracker.Watch(id); err != nil {
			return fmt.Errorf("invalid delivery %q: %w", id, err)
		}
	}
	if cfg.Realtime.AutoConnect {
		manager.Connect()
	}

	gin.SetMode(gin.ReleaseMode)
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.APIPort),
		Handler:           handlers.NewRouter(handlers.NewAPIServer(manager, tracker, log), log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(&cfg.Metrics, func() (string, bool) {
			state := manager.State()
			return state.String(), state != realtime.Error
		}, log)
		if err := metricsServer.Start(); err != nil {
			return err
		}
		metrics.StartMemoryMetricsUpdater(ctx, 15*time.Second)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Starting status API server", zap.Int("port", cfg.Server.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status API server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down livetrack")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("status API shutdown: %w", err))
		}
		if metricsServer != nil {
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	metrics.Up.Set(0)
	if err != nil {
		log.Error("livetrack stopped with error", zap.Error(err))
		return err
	}
	log.Info("livetrack stopped")
	return nil
}
