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
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/parallelscore/trackam-live/pkg/config"
	"github.com/parallelscore/trackam-live/pkg/models"
)

//go:embed locations-postgres.sql
var postgresSchemaSQL string

// PostgresStorage implements LocationStore on a pgx connection pool.
type PostgresStorage struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	closed atomic.Bool
}

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.PostgresConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	if cfg.ConnectTimeout > 0 {
		query.Set("connect_timeout", fmt.Sprintf("%d", int(cfg.ConnectTimeout.Seconds())))
	}
	if cfg.ApplicationName != "" {
		query.Set("application_name", cfg.ApplicationName)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// NewPostgresStorage connects a pool, pings it and bootstraps the schema.
func NewPostgresStorage(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*PostgresStorage, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(min(cfg.MaxIdleConns, int(poolCfg.MaxConns)))
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w: %w", ErrDatabaseUnavailable, err)
	}

	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("PostgreSQL storage initialized",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns))

	return &PostgresStorage{pool: pool, logger: logger}, nil
}

func (p *PostgresStorage) SaveLocation(ctx context.Context, update *models.LocationUpdate) (err error) {
	defer func(start time.Time) { observe("save", "postgres", start, err) }(time.Now())

	if err := validateForSave(update); err != nil {
		return err
	}
	if p.closed.Load() {
		return ErrDatabaseUnavailable
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO location_updates (`+locationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		update.DeliveryID, update.RiderID, update.Latitude, update.Longitude,
		update.Heading, update.Speed, update.Accuracy, update.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save location for delivery %s: %w", update.DeliveryID, err)
	}
	return nil
}

func (p *PostgresStorage) LatestLocation(ctx context.Context, deliveryID string) (_ *models.LocationUpdate, err error) {
	defer func(start time.Time) { observe("latest", "postgres", start, err) }(time.Now())

	if p.closed.Load() {
		return nil, ErrDatabaseUnavailable
	}

	rows, err := p.pool.Query(ctx,
		`SELECT `+locationColumns+` FROM location_updates WHERE delivery_id = $1 ORDER BY id DESC LIMIT 1`,
		deliveryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest location: %w", err)
	}

	update, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[models.LocationUpdate])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("delivery %s: %w", deliveryID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan latest location: %w", err)
	}
	return update, nil
}

func (p *PostgresStorage) Trail(ctx context.Context, deliveryID string, limit int) (_ []models.LocationUpdate, err error) {
	defer func(start time.Time) { observe("trail", "postgres", start, err) }(time.Now())

	if p.closed.Load() {
		return nil, ErrDatabaseUnavailable
	}

	rows, err := p.pool.Query(ctx,
		`SELECT `+locationColumns+` FROM location_updates WHERE delivery_id = $1 ORDER BY id DESC LIMIT $2`,
		deliveryID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query trail: %w", err)
	}

	trail, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.LocationUpdate])
	if err != nil {
		return nil, fmt.Errorf("failed to scan trail: %w", err)
	}
	if trail == nil {
		trail = []models.LocationUpdate{}
	}
	return trail, nil
}

func (p *PostgresStorage) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.logger.Info("Closing PostgreSQL storage")
	p.pool.Close()
	return nil
}
