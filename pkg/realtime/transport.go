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

import "context"

// Transport establishes connections to the fixed address it was built for. Dial should return
// promptly once ctx is cancelled; the manager does not start another dial until it has.
// A successful Dial is the "connected" signal and a Dial error the "connect error" signal.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one live transport connection. Read blocks until a frame arrives; a Read error
// is the "disconnected" signal. Write is only ever called from a single goroutine.
// Close is called on the manager loop and must not block on the peer.
type Conn interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f TransportFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}
