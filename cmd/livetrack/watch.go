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
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parallelscore/trackam-live/pkg/config"
	"github.com/parallelscore/trackam-live/pkg/logger"
	"github.com/parallelscore/trackam-live/pkg/models"
	"github.com/parallelscore/trackam-live/pkg/realtime"
	"github.com/parallelscore/trackam-live/pkg/storage"
	"github.com/parallelscore/trackam-live/pkg/tracking"
)

func newWatchCmd() *cobra.Command {
	var (
		configPath string
		url        string
		token      string
		deliveries []string
		maxAttempt int
		retryEvery time.Duration
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow deliveries live and print connection changes and rider positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("url") {
				cfg.Realtime.URL = url
			}
			if flags.Changed("token") {
				cfg.Realtime.Token = token
			}
			if flags.Changed("max-attempts") {
				cfg.Realtime.MaxAttempts = maxAttempt
			}
			if flags.Changed("retry-interval") {
				cfg.Realtime.RetryInterval = retryEvery
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if len(deliveries) == 0 {
				return fmt.Errorf("at least one --delivery is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cmd.OutOrStdout(), cfg, deliveries, logLevel)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to TOML configuration file")
	flags.StringVar(&url, "url", "", "Realtime websocket URL (overrides config)")
	flags.StringVar(&token, "token", "", "Bearer token for the realtime handshake")
	flags.StringSliceVarP(&deliveries, "delivery", "d", nil, "Delivery ids to follow")
	flags.IntVar(&maxAttempt, "max-attempts", realtime.DefaultMaxAttempts, "Automatic reconnection attempts after a failure")
	flags.DurationVar(&retryEvery, "retry-interval", realtime.DefaultRetryInterval, "Fixed delay between reconnection attempts")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level for diagnostics on stderr")
	return cmd
}

func watch(ctx context.Context, out io.Writer, cfg *config.Config, deliveries []string, logLevel string) error {
	log := logger.NewLogger(logger.Config{Level: logLevel, Format: "console"})
	defer log.Sync()

	store := storage.NewMemoryStorage(cfg.Storage.Memory.MaxPoints)
	defer store.Close()

	manager := realtime.NewManager(managerConfig(cfg.Realtime), realtime.NewWebSocketTransport(webSocketConfig(cfg.Realtime), log), log)
	defer manager.Close()

	tracker := tracking.NewTracker(manager, store, log)
	tracker.Start()
	defer tracker.Stop()

	manager.OnStateChange(func(c realtime.StateChange) {
		line := fmt.Sprintf("%s  %-12s -> %s", c.At.Format(time.TimeOnly), c.From, c.To)
		if c.Err != nil {
			line += "  (" + c.Err.Error() + ")"
		}
		fmt.Fprintln(out, line)
		if c.To == realtime.Error {
			fmt.Fprintln(out, "connection gave up; press Ctrl+C to exit")
		}
	})
	tracker.OnUpdate(func(u models.LocationUpdate) {
		fmt.Fprintf(out, "%s  %s  %.6f,%.6f\n", u.RecordedAt.Format(time.TimeOnly), u.DeliveryID, u.Latitude, u.Longitude)
	})

	for _, id := range deliveries {
		if err := tracker.Watch(id); err != nil {
			return fmt.Errorf("invalid delivery %q: %w", id, err)
		}
	}
	manager.Connect()

	<-ctx.Done()
	return nil
}
