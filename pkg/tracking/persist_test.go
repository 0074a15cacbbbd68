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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/parallelscore/trackam-live/pkg/models"
	"github.com/parallelscore/trackam-live/pkg/realtime"
	"github.com/parallelscore/trackam-live/pkg/storage"
)

// stallingStore blocks every SaveLocation until release is closed or ctx ends.
type stallingStore struct {
	*storage.MemoryStorage
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStallingStore() *stallingStore {
	return &stallingStore{
		MemoryStorage: storage.NewMemoryStorage(10),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (s *stallingStore) SaveLocation(ctx context.Context, update *models.LocationUpdate) error {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
		return s.MemoryStorage.SaveLocation(ctx, update)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pipeConn is an in-memory realtime.Conn fed through frames.
type pipeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{frames: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *pipeConn) Read() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *pipeConn) Write([]byte) error { return nil }

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func locationFrame(t *testing.T, deliveryID string) []byte {
	t.Helper()
	data, err := json.Marshal(locationPayload(deliveryID, 6.5))
	require.NoError(t, err)
	frame, err := json.Marshal(realtime.Event{Name: models.EventLocationUpdate, Data: data})
	require.NoError(t, err)
	return frame
}

func TestTracker_SlowStoreDoesNotStallSession(t *testing.T) {
	conn := newPipeConn()
	transport := realtime.TransportFunc(func(context.Context) (realtime.Conn, error) {
		return conn, nil
	})
	cfg := realtime.DefaultConfig("ws://test")
	cfg.AutoConnect = false
	manager := realtime.NewManager(cfg, transport, zap.NewNop())
	defer manager.Close()

	store := newStallingStore()
	tracker := NewTracker(manager, store, zap.NewNop())
	tracker.Start()
	defer tracker.Stop()
	defer close(store.release)

	manager.Connect()
	require.Eventually(t, manager.IsConnected, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, tracker.Watch("d1"))

	conn.frames <- locationFrame(t, "d1")
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("store write never started")
	}

	manager.Disconnect()
	require.Eventually(t, func() bool {
		return manager.State() == realtime.Disconnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTracker_SaveTimeoutIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	session := newFakeSession()
	store := newStallingStore()
	tracker := NewTracker(session, store, zap.New(core))
	tracker.saveTimeout = 20 * time.Millisecond
	tracker.Start()
	defer tracker.Stop()

	require.NoError(t, tracker.Watch("d1"))
	called := false
	tracker.OnUpdate(func(models.LocationUpdate) { called = true })

	session.emit(t, models.EventLocationUpdate, locationPayload("d1", 6.5))
	tracker.flush()

	assert.False(t, called)
	entries := logs.FilterMessage("Failed to store location update").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], context.DeadlineExceeded.Error())
}

func TestTracker_FullQueueDropsUpdate(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tracker := NewTracker(newFakeSession(), storage.NewMemoryStorage(10), zap.New(core))
	tracker.queue = make(chan job, 1)
	require.NoError(t, tracker.Watch("d1"))

	// Without Start nothing drains the queue.
	for _, lat := range []float64{6.5, 6.6} {
		data, err := json.Marshal(locationPayload("d1", lat))
		require.NoError(t, err)
		tracker.handleLocationEvent(realtime.Event{Name: models.EventLocationUpdate, Data: data})
	}

	assert.Equal(t, 1, logs.FilterMessage("Location update queue full, dropping update").Len())
	assert.Len(t, tracker.queue, 1)
}
