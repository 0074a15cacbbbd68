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
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/parallelscore/trackam-live/pkg/models"
)

//go:embed locations-sqlite.sql
var sqliteSchemaSQL string

const sqliteSchemaVersion = 1

const locationColumns = `delivery_id, rider_id, latitude, longitude, heading, speed, accuracy, recorded_at`

// SQLiteStorage implements LocationStore on a local SQLite file.
type SQLiteStorage struct {
	db     *sqlx.DB
	logger *zap.Logger
	closed atomic.Bool
}

// NewSQLiteStorage opens (or creates) the database at dbPath and applies the schema.
func NewSQLiteStorage(dbPath string, logger *zap.Logger) (*SQLiteStorage, error) {
	// Build connection string with SQLite pragmas for optimal performance
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer avoids "database is locked" under concurrent saves
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	storage := &SQLiteStorage{
		db:     db,
		logger: logger,
	}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite storage initialized",
		zap.String("database_path", dbPath),
		zap.String("journal_mode", "WAL"))

	return storage, nil
}

// initSchema creates the database schema if it doesn't exist
func (s *SQLiteStorage) initSchema() error {
	var version int
	if err := s.db.Get(&version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("failed to query schema version: %w", err)
	}

	if version >= sqliteSchemaVersion {
		s.logger.Debug("Database schema up to date", zap.Int("version", version))
		return nil
	}

	s.logger.Info("Initializing database schema", zap.Int("version", sqliteSchemaVersion))
	if _, err := s.db.Exec(sqliteSchemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) SaveLocation(ctx context.Context, update *models.LocationUpdate) (err error) {
	defer func(start time.Time) { observe("save", "sqlite", start, err) }(time.Now())

	if err := validateForSave(update); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrDatabaseUnavailable
	}

	query := `INSERT INTO location_updates (` + locationColumns + `)
		VALUES (:delivery_id, :rider_id, :latitude, :longitude, :heading, :speed, :accuracy, :recorded_at)`

	row := *update
	row.RecordedAt = row.RecordedAt.UTC()
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save location for delivery %s: %w", update.DeliveryID, err)
	}
	return nil
}

func (s *SQLiteStorage) LatestLocation(ctx context.Context, deliveryID string) (_ *models.LocationUpdate, err error) {
	defer func(start time.Time) { observe("latest", "sqlite", start, err) }(time.Now())

	if s.closed.Load() {
		return nil, ErrDatabaseUnavailable
	}

	var update models.LocationUpdate
	query := `SELECT ` + locationColumns + ` FROM location_updates
		WHERE delivery_id = ? ORDER BY id DESC LIMIT 1`
	if err := s.db.GetContext(ctx, &update, query, deliveryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("delivery %s: %w", deliveryID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query latest location: %w", err)
	}
	return &update, nil
}

func (s *SQLiteStorage) Trail(ctx context.Context, deliveryID string, limit int) (_ []models.LocationUpdate, err error) {
	defer func(start time.Time) { observe("trail", "sqlite", start, err) }(time.Now())

	if s.closed.Load() {
		return nil, ErrDatabaseUnavailable
	}

	trail := []models.LocationUpdate{}
	query := `SELECT ` + locationColumns + ` FROM location_updates
		WHERE delivery_id = ? ORDER BY id DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &trail, query, deliveryID, clampLimit(limit)); err != nil {
		return nil, fmt.Errorf("failed to query trail: %w", err)
	}
	return trail, nil
}

func (s *SQLiteStorage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("Closing SQLite storage")
	return s.db.Close()
}
