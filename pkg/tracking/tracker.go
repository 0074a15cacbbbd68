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

package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parallelscore/trackam-live/pkg/metrics"
	"github.com/parallelscore/trackam-live/pkg/models"
	"github.com/parallelscore/trackam-live/pkg/realtime"
	"github.com/parallelscore/trackam-live/pkg/storage"
)

// ErrEmptyDeliveryID is returned by Watch and Unwatch for a blank id.
var ErrEmptyDeliveryID = errors.New("delivery id is required")

const (
	// DefaultQueueSize bounds the updates waiting to be stored.
	DefaultQueueSize = 256
	// DefaultSaveTimeout bounds a single store write.
	DefaultSaveTimeout = 5 * time.Second
)

// Session is the part of *realtime.Manager the tracker depends on.
type Session interface {
	State() realtime.State
	Send(event string, payload any)
	OnStateChange(fn realtime.StateListener) func()
	OnEvent(name string, fn realtime.EventHandler) func()
}

var _ Session = (*realtime.Manager)(nil)

// UpdateHandler receives every stored location update.
type UpdateHandler func(models.LocationUpdate)

// job is one queued update, or a barrier when update is nil.
type job struct {
	update *models.LocationUpdate
	done   chan struct{}
}

// Tracker keeps a set of watched deliveries joined on the realtime session and records the
// location updates pushed for them. Updates are stored and published by a worker goroutine so
// the session loop never waits on the store.
type Tracker struct {
	session     Session
	store       storage.LocationStore
	logger      *zap.Logger
	saveTimeout time.Duration
	queue       chan job

	mu      sync.RWMutex
	watched map[string]struct{}

	handlersMu sync.RWMutex
	handlers   map[uint64]UpdateHandler
	nextID     uint64

	subsMu sync.Mutex
	subs   []func()
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewTracker creates a tracker. Call Start to attach it to the session.
func NewTracker(session Session, store storage.LocationStore, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		session:     session,
		store:       store,
		logger:      logger,
		saveTimeout: DefaultSaveTimeout,
		queue:       make(chan job, DefaultQueueSize),
		watched:     make(map[string]struct{}),
		handlers:    make(map[uint64]UpdateHandler),
	}
}

// Start subscribes to state changes and location updates and starts the store worker.
// Calling it twice is a no-op.
func (t *Tracker) Start() {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	if len(t.subs) > 0 {
		return
	}
	t.stop = make(chan struct{})
	t.wg.Add(1)
	go t.persistLoop(t.stop)

	t.subs = append(t.subs,
		t.session.OnStateChange(t.handleStateChange),
		t.session.OnEvent(models.EventLocationUpdate, t.handleLocationEvent),
	)
}

// Stop removes the tracker's subscriptions and waits for the worker to finish its current write.
// Updates still queued are left for the next Start.
func (t *Tracker) Stop() {
	t.subsMu.Lock()
	subs := t.subs
	stop := t.stop
	t.subs = nil
	t.stop = nil
	t.subsMu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
	if stop != nil {
		close(stop)
		t.wg.Wait()
	}
}

// Watch adds a delivery and joins its room when connected. Otherwise the join is sent on the
// next transition to connected.
func (t *Tracker) Watch(deliveryID string) error {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return ErrEmptyDeliveryID
	}

	t.mu.Lock()
	_, exists := t.watched[deliveryID]
	t.watched[deliveryID] = struct{}{}
	count := len(t.watched)
	t.mu.Unlock()

	if exists {
		return nil
	}
	metrics.WatchedDeliveries.Set(float64(count))
	t.logger.Info("Watching delivery", zap.String("delivery_id", deliveryID))

	if t.session.State() == realtime.Connected {
		t.session.Send(models.EventTrackingJoin, models.WatchRequest{DeliveryID: deliveryID})
	}
	return nil
}

// Unwatch removes a delivery and leaves its room when connected.
func (t *Tracker) Unwatch(deliveryID string) error {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return ErrEmptyDeliveryID
	}

	t.mu.Lock()
	_, exists := t.watched[deliveryID]
	delete(t.watched, deliveryID)
	count := len(t.watched)
	t.mu.Unlock()

	if !exists {
		return nil
	}
	metrics.WatchedDeliveries.Set(float64(count))
	t.logger.Info("Stopped watching delivery", zap.String("delivery_id", deliveryID))

	if t.session.State() == realtime.Connected {
		t.session.Send(models.EventTrackingLeave, models.WatchRequest{DeliveryID: deliveryID})
	}
	return nil
}

// Watched returns the watched delivery ids in sorted order.
func (t *Tracker) Watched() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.watched))
	for id := range t.watched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsWatching reports whether deliveryID is watched.
func (t *Tracker) IsWatching(deliveryID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.watched[deliveryID]
	return ok
}

// OnUpdate registers fn for stored updates. fn runs on the tracker's worker goroutine.
// The returned function unregisters it.
func (t *Tracker) OnUpdate(fn UpdateHandler) func() {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()

	t.nextID++
	id := t.nextID
	t.handlers[id] = fn

	return func() {
		t.handlersMu.Lock()
		defer t.handlersMu.Unlock()
		delete(t.handlers, id)
	}
}

// Latest returns the last stored location for a delivery.
func (t *Tracker) Latest(ctx context.Context, deliveryID string) (*models.LocationUpdate, error) {
	return t.store.LatestLocation(ctx, deliveryID)
}

// Trail returns up to limit stored locations, newest first.
func (t *Tracker) Trail(ctx context.Context, deliveryID string, limit int) ([]models.LocationUpdate, error) {
	return t.store.Trail(ctx, deliveryID, limit)
}

// handleStateChange rejoins every watched room; membership does not survive a new connection.
func (t *Tracker) handleStateChange(change realtime.StateChange) {
	if change.To != realtime.Connected {
		return
	}

	ids := t.Watched()
	for _, id := range ids {
		t.session.Send(models.EventTrackingJoin, models.WatchRequest{DeliveryID: id})
	}
	if len(ids) > 0 {
		t.logger.Info("Rejoined tracking rooms", zap.Int("count", len(ids)))
	}
}

func (t *Tracker) handleLocationEvent(event realtime.Event) {
	var update models.LocationUpdate
	if err := json.Unmarshal(event.Data, &update); err != nil {
		t.logger.Warn("Failed to decode location update", zap.Error(err))
		metrics.LocationUpdatesTotal.WithLabelValues("malformed").Inc()
		return
	}
	if err := update.Validate(); err != nil {
		t.logger.Warn("Rejected invalid location update",
			zap.String("delivery_id", update.DeliveryID),
			zap.Error(err),
		)
		metrics.LocationUpdatesTotal.WithLabelValues("invalid").Inc()
		return
	}
	if !t.IsWatching(update.DeliveryID) {
		t.logger.Debug("Ignoring update for unwatched delivery", zap.String("delivery_id", update.DeliveryID))
		metrics.LocationUpdatesTotal.WithLabelValues("ignored").Inc()
		return
	}

	select {
	case t.queue <- job{update: &update}:
	default:
		t.logger.Warn("Location update queue full, dropping update",
			zap.String("delivery_id", update.DeliveryID),
			zap.Int("capacity", cap(t.queue)),
		)
		metrics.LocationUpdatesTotal.WithLabelValues("dropped").Inc()
	}
}

func (t *Tracker) persistLoop(stop <-chan struct{}) {
	defer t.wg.Done()
	for {
		select {
		case <-stop:
			return
		case j := <-t.queue:
			if j.update != nil {
				t.persist(*j.update)
			}
			if j.done != nil {
				close(j.done)
			}
		}
	}
}

func (t *Tracker) persist(update models.LocationUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), t.saveTimeout)
	err := t.store.SaveLocation(ctx, &update)
	cancel()
	if err != nil {
		t.logger.Error("Failed to store location update",
			zap.String("delivery_id", update.DeliveryID),
			zap.Error(fmt.Errorf("save location: %w", err)),
		)
		metrics.LocationUpdatesTotal.WithLabelValues("store_error").Inc()
		return
	}
	metrics.LocationUpdatesTotal.WithLabelValues("stored").Inc()

	t.handlersMu.RLock()
	handlers := make([]UpdateHandler, 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.handlersMu.RUnlock()

	for _, h := range handlers {
		h(update)
	}
}

// flush blocks until every update queued before it has been handled. The worker must be running.
func (t *Tracker) flush() {
	done := make(chan struct{})
	t.queue <- job{done: done}
	<-done
}
