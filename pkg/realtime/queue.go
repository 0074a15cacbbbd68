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
	"sync"
	"time"
)

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdDisconnect
	cmdSend
	cmdDialResult
	cmdInbound
	cmdDropped
	cmdRetry
	cmdBarrier
	cmdClose
)

// command is one unit of work for the manager loop. Results from helper goroutines carry
// the epoch they were started under.
type command struct {
	kind    commandKind
	epoch   uint64
	handle  *handle
	conn    Conn
	err     error
	event   string
	data    []byte
	at      time.Time
	barrier chan struct{}
}

// commandQueue is an unbounded FIFO so that posting never blocks the caller, including
// listeners running on the loop goroutine itself.
type commandQueue struct {
	mu     sync.Mutex
	items  []command
	closed bool
	signal chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{signal: make(chan struct{}, 1)}
}

func (q *commandQueue) push(cmd command) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *commandQueue) drain() []command {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// shut marks the queue closed and returns whatever was still pending.
func (q *commandQueue) shut() []command {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	items := q.items
	q.items = nil
	return items
}
