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

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/parallelscore/trackam-live/pkg/config"
)

// NewFromConfig opens the store selected by storage.type.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (LocationStore, error) {
	switch cfg.Type {
	case "memory":
		logger.Info("Using in-memory location store", zap.Int("max_points", cfg.Memory.MaxPoints))
		return NewMemoryStorage(cfg.Memory.MaxPoints), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return NewSQLiteStorage(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStorage(ctx, cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
