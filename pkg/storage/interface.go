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
	"time"

	"github.com/parallelscore/trackam-live/pkg/metrics"
	"github.com/parallelscore/trackam-live/pkg/models"
)

const (
	// DefaultTrailLimit is used when a caller passes a non-positive limit
	DefaultTrailLimit = 100
	// MaxTrailLimit caps a single trail read
	MaxTrailLimit = 1000
)

// LocationStore persists rider positions per delivery.
//
// Implementations must be safe for concurrent use. Trail returns points newest first,
// in the order they were saved.
type LocationStore interface {
	// SaveLocation validates and appends an update to the delivery's trail.
	SaveLocation(ctx context.Context, update *models.LocationUpdate) error

	// LatestLocation returns the most recently saved update, or ErrNotFound.
	LatestLocation(ctx context.Context, deliveryID string) (*models.LocationUpdate, error)

	// Trail returns up to limit updates, newest first. An unknown delivery yields an empty slice.
	Trail(ctx context.Context, deliveryID string, limit int) ([]models.LocationUpdate, error)

	// Close releases the underlying resources. Operations after Close return ErrDatabaseUnavailable.
	Close() error
}

func validateForSave(update *models.LocationUpdate) error {
	if update == nil {
		return fmt.Errorf("%w: nil update", ErrInvalidLocation)
	}
	if err := update.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultTrailLimit
	}
	if limit > MaxTrailLimit {
		return MaxTrailLimit
	}
	return limit
}

// observe records the outcome and latency of one store operation.
func observe(operation, backend string, start time.Time, err error) {
	status := "success"
	switch {
	case err == nil:
	case IsNotFoundError(err):
		status = "not_found"
	default:
		status = "error"
	}
	metrics.StorageOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	metrics.StorageOperationDurationSeconds.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
}
