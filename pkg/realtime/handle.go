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

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// handle is the single live ConnectionHandle owned by a Manager. It pumps inbound frames
// back to the manager loop and drains a bounded outbound buffer onto the connection.
type handle struct {
	id          string
	epoch       uint64
	conn        Conn
	connectedAt time.Time
	outbound    chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	logger      *zap.Logger
}

func newHandle(conn Conn, epoch uint64, bufferSize int, logger *zap.Logger) *handle {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBuffer
	}
	id := uuid.New().String()
	return &handle{
		id:          id,
		epoch:       epoch,
		conn:        conn,
		connectedAt: time.Now(),
		outbound:    make(chan []byte, bufferSize),
		done:        make(chan struct{}),
		logger:      logger.With(zap.String("connection_id", id)),
	}
}

// start launches the read and write pumps. post returns false once the manager is closed.
func (h *handle) start(post func(command) bool) {
	go h.readPump(post)
	go h.writePump(post)
}

// enqueue queues an outbound frame without blocking. It reports false when the buffer is full
// or the handle is already closed.
func (h *handle) enqueue(data []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.outbound <- data:
		return true
	default:
		return false
	}
}

func (h *handle) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// close stops both pumps and closes the connection. Safe to call more than once.
func (h *handle) close() {
	h.closeOnce.Do(func() {
		close(h.done)
		if err := h.conn.Close(); err != nil {
			h.logger.Debug("Error closing connection", zap.Error(err))
		}
	})
}

func (h *handle) readPump(post func(command) bool) {
	for {
		data, err := h.conn.Read()
		receivedAt := time.Now()

		if err != nil {
			// Errors after close() are our own teardown
			if h.closed() {
				return
			}
			post(command{kind: cmdDropped, epoch: h.epoch, handle: h, err: err})
			return
		}

		if !post(command{kind: cmdInbound, epoch: h.epoch, handle: h, data: data, at: receivedAt}) {
			return
		}
	}
}

func (h *handle) writePump(post func(command) bool) {
	for {
		select {
		case <-h.done:
			return
		case data := <-h.outbound:
			if err := h.conn.Write(data); err != nil {
				if h.closed() {
					return
				}
				h.logger.Warn("Failed to write to connection", zap.Error(err))
				post(command{kind: cmdDropped, epoch: h.epoch, handle: h, err: err})
				return
			}
		}
	}
}
