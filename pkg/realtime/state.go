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
	"encoding/json"
	"errors"
	"time"
)

// State represents the connection state
type State int

const (
	// Disconnected state - no connection, no automatic recovery pending
	Disconnected State = iota
	// Connecting state - a single establishment attempt is outstanding
	Connecting
	// Connected state - active connection
	Connected
	// Reconnecting state - waiting for the retry timer after a failure
	Reconnecting
	// Error state - retry budget exhausted, requires an explicit Connect
	Error
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// AllStates lists every state in declaration order.
func AllStates() []State {
	return []State{Disconnected, Connecting, Connected, Reconnecting, Error}
}

var (
	// ErrRetryBudgetExhausted is attached to the transition into Error.
	ErrRetryBudgetExhausted = errors.New("reconnect attempts exhausted")
	// ErrConnectionDropped wraps the read failure of an unsolicited drop.
	ErrConnectionDropped = errors.New("connection dropped")
	// ErrManagerClosed is reported for commands issued after Close.
	ErrManagerClosed = errors.New("connection manager closed")
)

// StateChange is delivered to state listeners on every transition.
type StateChange struct {
	From State
	To   State
	// Err is the failure behind a transition to Reconnecting or Error.
	Err error
	At  time.Time
}

// StateListener receives state transitions in order on the manager's loop goroutine.
type StateListener func(StateChange)

// Event is an inbound application payload.
type Event struct {
	Name       string          `json:"event"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"-"`
}

// EventHandler receives inbound events on the manager's loop goroutine.
type EventHandler func(Event)

// Status is a read-only snapshot of the manager.
type Status struct {
	State        State     `json:"state"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"maxAttempts"`
	LastError    string    `json:"lastError,omitempty"`
	ConnectionID string    `json:"connectionId,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt,omitzero"`
	URL          string    `json:"url"`
}
