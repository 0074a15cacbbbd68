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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

var errConnClosed = errors.New("use of closed connection")

type fakeConn struct {
	reads     chan []byte
	readErr   chan error
	writes    chan []byte
	writeErr  atomic.Value
	closed    chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:   make(chan []byte, 16),
		readErr: make(chan error, 1),
		writes:  make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case data := <-c.reads:
		return data, nil
	case err := <-c.readErr:
		return nil, err
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) Write(data []byte) error {
	if err, ok := c.writeErr.Load().(error); ok && err != nil {
		return err
	}
	select {
	case c.writes <- data:
		return nil
	case <-c.closed:
		return errConnClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type dialReply struct {
	conn Conn
	err  error
}

// fakeTransport hands every Dial to the test, which answers it through the returned channel.
type fakeTransport struct {
	pending   chan chan dialReply
	dials     atomic.Int32
	open      atomic.Int32
	maxOpen   atomic.Int32
	ignoreCtx bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{pending: make(chan chan dialReply, 16)}
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.dials.Add(1)
	reply := make(chan dialReply, 1)
	t.pending <- reply

	if t.ignoreCtx {
		r := <-reply
		return r.conn, r.err
	}
	select {
	case r := <-reply:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) expectDial(tb testing.TB) chan dialReply {
	tb.Helper()
	select {
	case reply := <-t.pending:
		return reply
	case <-time.After(waitTimeout):
		tb.Fatal("timed out waiting for a dial")
		return nil
	}
}

// newConn returns a connection that counts towards the open-connection high-water mark.
func (t *fakeTransport) newConn() *fakeConn {
	c := newFakeConn()
	n := t.open.Add(1)
	for {
		prev := t.maxOpen.Load()
		if n <= prev || t.maxOpen.CompareAndSwap(prev, n) {
			break
		}
	}
	c.onClose = func() { t.open.Add(-1) }
	return c
}

func (t *fakeTransport) succeed(tb testing.TB) *fakeConn {
	tb.Helper()
	c := t.newConn()
	t.expectDial(tb) <- dialReply{conn: c}
	return c
}

func (t *fakeTransport) fail(tb testing.TB, err error) {
	tb.Helper()
	t.expectDial(tb) <- dialReply{err: err}
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped atomic.Bool
}

func (f *fakeTimer) Stop() bool {
	return !f.stopped.Swap(true)
}

// fakeScheduler records retry timers; tests fire them by hand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) schedule(d time.Duration, fn func()) RetryTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := &fakeTimer{delay: d, fn: fn}
	s.timers = append(s.timers, timer)
	return timer
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) timer(tb testing.TB, i int) *fakeTimer {
	tb.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Greater(tb, len(s.timers), i, "retry timer %d was never scheduled", i)
	return s.timers[i]
}

// fire runs timer i even if it was stopped, like a timer that raced its cancellation.
func (s *fakeScheduler) fire(tb testing.TB, i int) {
	tb.Helper()
	s.timer(tb, i).fn()
}

type recorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *recorder) listen(c StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) all() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StateChange, len(r.changes))
	copy(out, r.changes)
	return out
}

func (r *recorder) path() []State {
	changes := r.all()
	if len(changes) == 0 {
		return nil
	}
	path := []State{changes[0].From}
	for _, c := range changes {
		path = append(path, c.To)
	}
	return path
}

func waitState(tb testing.TB, m *Manager, want State) {
	tb.Helper()
	require.Eventually(tb, func() bool { return m.State() == want }, waitTimeout, time.Millisecond,
		"state never became %s (last %s)", want, m.State())
}
