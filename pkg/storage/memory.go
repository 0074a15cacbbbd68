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
	"sync"
	"time"

	"github.com/parallelscore/trackam-live/pkg/models"
)

// DefaultMemoryMaxPoints is the per-delivery trail length kept by MemoryStorage.
const DefaultMemoryMaxPoints = 500

// MemoryStorage keeps a bounded trail per delivery in process memory.
type MemoryStorage struct {
	mu        sync.RWMutex
	trails    map[string][]models.LocationUpdate // oldest first
	maxPoints int
	closed    bool
}

// NewMemoryStorage creates an in-memory store. maxPoints <= 0 selects the default.
func NewMemoryStorage(maxPoints int) *MemoryStorage {
	if maxPoints <= 0 {
		maxPoints = DefaultMemoryMaxPoints
	}
	return &MemoryStorage{
		trails:    make(map[string][]models.LocationUpdate),
		maxPoints: maxPoints,
	}
}

func (m *MemoryStorage) SaveLocation(_ context.Context, update *models.LocationUpdate) (err error) {
	defer func(start time.Time) { observe("save", "memory", start, err) }(time.Now())

	if err := validateForSave(update); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDatabaseUnavailable
	}

	trail := append(m.trails[update.DeliveryID], *update)
	if over := len(trail) - m.maxPoints; over > 0 {
		trail = append(trail[:0:0], trail[over:]...)
	}
	m.trails[update.DeliveryID] = trail
	return nil
}

func (m *MemoryStorage) LatestLocation(_ context.Context, deliveryID string) (_ *models.LocationUpdate, err error) {
	defer func(start time.Time) { observe("latest", "memory", start, err) }(time.Now())

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrDatabaseUnavailable
	}

	trail := m.trails[deliveryID]
	if len(trail) == 0 {
		return nil, fmt.Errorf("delivery %s: %w", deliveryID, ErrNotFound)
	}
	latest := trail[len(trail)-1]
	return &latest, nil
}

func (m *MemoryStorage) Trail(_ context.Context, deliveryID string, limit int) (_ []models.LocationUpdate, err error) {
	defer func(start time.Time) { observe("trail", "memory", start, err) }(time.Now())

	limit = clampLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrDatabaseUnavailable
	}

	trail := m.trails[deliveryID]
	n := min(limit, len(trail))
	out := make([]models.LocationUpdate, 0, n)
	for i := len(trail) - 1; i >= len(trail)-n; i-- {
		out = append(out, trail[i])
	}
	return out, nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.trails = nil
	return nil
}
