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

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parallelscore/trackam-live/pkg/metrics"
	"go.uber.org/zap"
)

// RetryTimer is a scheduled retry that can be cancelled.
type RetryTimer interface {
	Stop() bool
}

// RetryScheduler runs f once after d.
type RetryScheduler func(d time.Duration, f func()) RetryTimer

func defaultRetryScheduler(d time.Duration, f func()) RetryTimer {
	return time.AfterFunc(d, f)
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryScheduler replaces time.AfterFunc for the retry timer.
func WithRetryScheduler(s RetryScheduler) Option {
	return func(m *Manager) {
		if s != nil {
			m.schedule = s
		}
	}
}

// Manager owns at most one live transport connection, tracks its lifecycle and recovers
// from failures within a bounded, fixed-interval retry budget.
//
// All state is mutated on a single loop goroutine. Connect, Disconnect and Send only enqueue
// work and return immediately; listeners are invoked on the loop goroutine in transition order.
type Manager struct {
	cfg       Config
	policy    ReconnectPolicy
	transport Transport
	logger    *zap.Logger
	schedule  RetryScheduler

	queue   *commandQueue
	stopped chan struct{}
	closing sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	// Loop-owned state
	state      State
	epoch      uint64
	attempts   int
	handle     *handle
	retryTimer RetryTimer
	cancelDial context.CancelFunc
	dialDone   chan struct{}
	lastErr    error

	current atomic.Int32

	statusMu sync.RWMutex
	status   Status

	listenersMu    sync.Mutex
	nextListenerID uint64
	stateListeners []stateListenerEntry
	eventHandlers  []eventHandlerEntry
}

type stateListenerEntry struct {
	id uint64
	fn StateListener
}

type eventHandlerEntry struct {
	id   uint64
	name string
	fn   EventHandler
}

// NewManager creates a connection manager for cfg.URL and starts its event loop.
// When cfg.AutoConnect is set the first connection attempt is issued immediately.
func NewManager(cfg Config, transport Transport, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		policy:    cfg.Policy.normalized(),
		transport: transport,
		logger:    logger.With(zap.String("url", cfg.URL)),
		schedule:  defaultRetryScheduler,
		queue:     newCommandQueue(),
		stopped:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		state:     Disconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.publishStatus()
	metrics.ConnectionState.WithLabelValues(Disconnected.String()).Set(1)

	go m.run()

	if cfg.AutoConnect {
		m.Connect()
	}
	return m
}

// Connect starts a connection attempt unless one is already outstanding or established.
// From Error, Reconnecting or Disconnected it re-arms the retry budget.
func (m *Manager) Connect() {
	if !m.post(command{kind: cmdConnect}) {
		m.logger.Debug("Connect ignored", zap.Error(ErrManagerClosed))
	}
}

// Disconnect tears down the connection, cancels any pending retry and suppresses automatic
// reconnection until the next Connect.
func (m *Manager) Disconnect() {
	if !m.post(command{kind: cmdDisconnect}) {
		m.logger.Debug("Disconnect ignored", zap.Error(ErrManagerClosed))
	}
}

// Send forwards payload under the event name when connected. It never fails loudly:
// when not connected, or when the payload cannot be encoded, it logs a warning and drops.
func (m *Manager) Send(event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		m.logger.Warn("Dropping outbound event: encode failed",
			zap.String("event", event),
			zap.Error(err),
		)
		metrics.EventsDroppedTotal.WithLabelValues("outbound", "encode").Inc()
		return
	}
	if !m.post(command{kind: cmdSend, event: event, data: data}) {
		m.logger.Warn("Dropping outbound event: manager closed", zap.String("event", event))
		metrics.EventsDroppedTotal.WithLabelValues("outbound", "closed").Inc()
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.current.Load())
}

// IsConnected returns true if the manager is currently connected
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status
}

// OnStateChange registers fn for every state transition. The returned function unregisters it.
func (m *Manager) OnStateChange(fn StateListener) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	m.nextListenerID++
	id := m.nextListenerID
	m.stateListeners = append(m.stateListeners, stateListenerEntry{id: id, fn: fn})

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		for i, e := range m.stateListeners {
			if e.id == id {
				m.stateListeners = append(m.stateListeners[:i:i], m.stateListeners[i+1:]...)
				return
			}
		}
	}
}

// OnEvent registers fn for inbound events named name; an empty name receives every event.
// The returned function unregisters it.
func (m *Manager) OnEvent(name string, fn EventHandler) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	m.nextListenerID++
	id := m.nextListenerID
	m.eventHandlers = append(m.eventHandlers, eventHandlerEntry{id: id, name: name, fn: fn})

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		for i, e := range m.eventHandlers {
			if e.id == id {
				m.eventHandlers = append(m.eventHandlers[:i:i], m.eventHandlers[i+1:]...)
				return
			}
		}
	}
}

// Close disconnects, cancels any pending retry and stops the event loop. It blocks until the
// loop has exited and must not be called from a listener.
func (m *Manager) Close() {
	m.closing.Do(func() {
		m.post(command{kind: cmdClose})
	})
	<-m.stopped
}

// Done is closed once the manager has shut down.
func (m *Manager) Done() <-chan struct{} {
	return m.stopped
}

func (m *Manager) post(cmd command) bool {
	return m.queue.push(cmd)
}

// flush waits until every command queued before it has been processed.
func (m *Manager) flush() {
	barrier := make(chan struct{})
	if !m.post(command{kind: cmdBarrier, barrier: barrier}) {
		return
	}
	<-barrier
}

func (m *Manager) run() {
	defer close(m.stopped)

	for range m.queue.signal {
		batch := m.queue.drain()
		for i, cmd := range batch {
			if m.process(cmd) {
				for _, rest := range append(batch[i+1:], m.queue.shut()...) {
					m.discard(rest)
				}
				return
			}
		}
	}
}

// process handles one command and reports whether the loop should exit.
func (m *Manager) process(cmd command) bool {
	switch cmd.kind {
	case cmdConnect:
		m.handleConnect()
	case cmdDisconnect:
		m.handleDisconnect()
	case cmdSend:
		m.handleSend(cmd)
	case cmdDialResult:
		m.handleDialResult(cmd)
	case cmdInbound:
		m.handleInbound(cmd)
	case cmdDropped:
		m.handleDropped(cmd)
	case cmdRetry:
		m.handleRetry(cmd)
	case cmdBarrier:
		close(cmd.barrier)
	case cmdClose:
		m.shutdown()
		return true
	}
	return false
}

// discard releases resources held by a command that will never be processed.
func (m *Manager) discard(cmd command) {
	switch cmd.kind {
	case cmdBarrier:
		close(cmd.barrier)
	case cmdDialResult:
		if cmd.conn != nil {
			_ = cmd.conn.Close()
		}
	}
}

func (m *Manager) handleConnect() {
	switch m.state {
	case Connecting, Connected:
		m.logger.Debug("Connect is a no-op", zap.String("state", m.state.String()))
		return
	}

	m.stopRetryTimer()
	m.attempts = 0
	m.lastErr = nil
	m.startAttempt()
}

func (m *Manager) handleDisconnect() {
	if m.state == Disconnected {
		return
	}

	m.logger.Info("Disconnecting", zap.String("state", m.state.String()))
	m.resetConnection()
	m.setState(Disconnected, nil)
}

// resetConnection cancels the timer, invalidates every in-flight callback and releases the handle.
func (m *Manager) resetConnection() {
	m.stopRetryTimer()
	m.epoch++
	m.stopDial()
	m.teardownHandle()
	m.attempts = 0
	m.lastErr = nil
}

func (m *Manager) shutdown() {
	m.logger.Info("Stopping connection manager")
	m.resetConnection()
	m.setState(Disconnected, nil)
	m.cancel()
}

// startAttempt dials on a new goroutine. A dial does not start until the previous one has
// returned, and a connection from a cancelled dial is closed before that point, so two
// transport connections are never open at once even if the transport ignores ctx.
func (m *Manager) startAttempt() {
	m.stopDial()
	m.epoch++
	epoch := m.epoch

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelDial = cancel
	prev := m.dialDone
	done := make(chan struct{})
	m.dialDone = done

	m.logger.Info("Connecting",
		zap.Int("attempt", m.attempts),
		zap.Int("max_attempts", m.policy.MaxAttempts),
	)
	m.setState(Connecting, nil)

	go func() {
		defer close(done)
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				m.post(command{kind: cmdDialResult, epoch: epoch, err: ctx.Err()})
				return
			}
		}

		conn, err := m.transport.Dial(ctx)
		if conn != nil && ctx.Err() != nil {
			_ = conn.Close()
			conn, err = nil, ctx.Err()
		}
		if !m.post(command{kind: cmdDialResult, epoch: epoch, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *Manager) handleDialResult(cmd command) {
	if cmd.epoch != m.epoch || m.state != Connecting {
		if cmd.conn != nil {
			_ = cmd.conn.Close()
		}
		m.logger.Debug("Discarding stale dial result",
			zap.Uint64("epoch", cmd.epoch),
			zap.Uint64("current_epoch", m.epoch),
		)
		return
	}
	m.stopDial()

	if cmd.err != nil {
		m.logger.Warn("Connection failed", zap.Error(cmd.err), zap.Int("attempt", m.attempts))
		metrics.ConnectionErrorsTotal.WithLabelValues("establish").Inc()
		m.fail(cmd.err)
		return
	}
	if cmd.conn == nil {
		m.fail(errors.New("transport returned no connection"))
		return
	}

	h := newHandle(cmd.conn, m.epoch, m.cfg.SendBuffer, m.logger)
	m.handle = h
	m.attempts = 0
	m.lastErr = nil
	h.start(m.post)

	m.logger.Info("Connection established", zap.String("connection_id", h.id))
	m.setState(Connected, nil)
}

func (m *Manager) handleDropped(cmd command) {
	if cmd.handle != m.handle || cmd.epoch != m.epoch || m.state != Connected {
		return
	}

	m.logger.Warn("Connection lost", zap.Error(cmd.err), zap.String("connection_id", cmd.handle.id))
	metrics.ConnectionErrorsTotal.WithLabelValues("drop").Inc()
	m.fail(fmt.Errorf("%w: %w", ErrConnectionDropped, cmd.err))
}

// fail routes an establishment failure or an unsolicited drop through the retry policy.
func (m *Manager) fail(err error) {
	m.teardownHandle()

	if m.attempts < m.policy.MaxAttempts {
		m.lastErr = err
		m.scheduleRetry()
		m.logger.Warn("Connection failed, will retry",
			zap.Error(err),
			zap.Duration("retry_delay", m.policy.RetryInterval),
			zap.Int("retry_count", m.attempts),
		)
		m.setState(Reconnecting, err)
		return
	}

	exhausted := fmt.Errorf("%w after %d attempts: %w", ErrRetryBudgetExhausted, m.attempts, err)
	m.lastErr = exhausted
	m.logger.Error("Giving up on connection", zap.Error(exhausted))
	metrics.ConnectionErrorsTotal.WithLabelValues("exhausted").Inc()
	m.setState(Error, exhausted)
}

func (m *Manager) scheduleRetry() {
	epoch := m.epoch
	m.retryTimer = m.schedule(m.policy.RetryInterval, func() {
		m.post(command{kind: cmdRetry, epoch: epoch})
	})
}

func (m *Manager) handleRetry(cmd command) {
	if cmd.epoch != m.epoch || m.state != Reconnecting {
		m.logger.Debug("Ignoring stale retry timer",
			zap.Uint64("epoch", cmd.epoch),
			zap.Uint64("current_epoch", m.epoch),
		)
		return
	}

	m.retryTimer = nil
	m.attempts++
	metrics.ReconnectAttemptsTotal.Inc()
	m.startAttempt()
}

func (m *Manager) handleSend(cmd command) {
	if m.state != Connected || m.handle == nil {
		m.logger.Warn("Dropping outbound event: not connected",
			zap.String("event", cmd.event),
			zap.String("state", m.state.String()),
		)
		metrics.EventsDroppedTotal.WithLabelValues("outbound", "not_connected").Inc()
		return
	}
	if !m.handle.enqueue(cmd.data) {
		m.logger.Warn("Dropping outbound event: send buffer full", zap.String("event", cmd.event))
		metrics.EventsDroppedTotal.WithLabelValues("outbound", "buffer_full").Inc()
		return
	}
	metrics.EventsSentTotal.WithLabelValues(cmd.event).Inc()
}

func (m *Manager) handleInbound(cmd command) {
	if cmd.handle != m.handle || m.state != Connected {
		metrics.EventsDroppedTotal.WithLabelValues("inbound", "not_connected").Inc()
		return
	}

	event, err := decodeEnvelope(cmd.data)
	if err != nil {
		m.logger.Warn("Failed to parse inbound message",
			zap.Error(err),
			zap.Int("message_length", len(cmd.data)),
		)
		metrics.EventsDroppedTotal.WithLabelValues("inbound", "malformed").Inc()
		return
	}
	event.ReceivedAt = cmd.at
	metrics.EventsReceivedTotal.WithLabelValues(event.Name).Inc()

	m.listenersMu.Lock()
	handlers := make([]eventHandlerEntry, len(m.eventHandlers))
	copy(handlers, m.eventHandlers)
	m.listenersMu.Unlock()

	for _, h := range handlers {
		if h.name != "" && h.name != event.Name {
			continue
		}
		m.invoke("event", func() { h.fn(event) })
	}
}

func (m *Manager) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) stopDial() {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
}

func (m *Manager) teardownHandle() {
	if m.handle != nil {
		m.handle.close()
		m.handle = nil
	}
}

// setState records the transition and notifies listeners. It is only called on the loop
// goroutine, after any handle teardown has completed.
func (m *Manager) setState(next State, err error) {
	prev := m.state
	if prev == next {
		return
	}
	m.state = next
	m.current.Store(int32(next))
	m.publishStatus()

	m.logger.Info("Connection state changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
	metrics.ConnectionState.WithLabelValues(prev.String()).Set(0)
	metrics.ConnectionState.WithLabelValues(next.String()).Set(1)
	metrics.StateTransitionsTotal.WithLabelValues(prev.String(), next.String()).Inc()

	change := StateChange{From: prev, To: next, Err: err, At: time.Now()}

	m.listenersMu.Lock()
	listeners := make([]stateListenerEntry, len(m.stateListeners))
	copy(listeners, m.stateListeners)
	m.listenersMu.Unlock()

	for _, l := range listeners {
		m.invoke("state", func() { l.fn(change) })
	}
}

func (m *Manager) publishStatus() {
	s := Status{
		State:       m.state,
		Attempts:    m.attempts,
		MaxAttempts: m.policy.MaxAttempts,
		URL:         m.cfg.URL,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	if m.handle != nil {
		s.ConnectionID = m.handle.id
		s.ConnectedAt = m.handle.connectedAt
	}

	m.statusMu.Lock()
	m.status = s
	m.statusMu.Unlock()
}

// invoke runs a listener, containing any panic.
func (m *Manager) invoke(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic recovered in listener",
				zap.String("listener", kind),
				zap.Any("error", r),
			)
			metrics.PanicRecoveriesTotal.WithLabelValues("realtime_" + kind).Inc()
		}
	}()
	fn()
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, errors.New("event name is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return json.Marshal(Event{Name: event, Data: data})
}

func decodeEnvelope(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if event.Name == "" {
		return Event{}, errors.New("message missing 'event' field")
	}
	return event, nil
}
