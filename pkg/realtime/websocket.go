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
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned by Dial when the server rejects the token.
var ErrUnauthorized = errors.New("authentication failed")

// closeGracePeriod bounds the closing handshake with a peer that has stopped reading.
const closeGracePeriod = 250 * time.Millisecond

// WebSocketConfig configures the gorilla/websocket transport.
type WebSocketConfig struct {
	URL                string
	Token              string        // Sent as a bearer token when set
	HandshakeTimeout   time.Duration // Max time for the opening handshake
	WriteTimeout       time.Duration // Write deadline for frames and pings
	PingInterval       time.Duration // Keepalive ping period (0 disables)
	PongTimeout        time.Duration // Max silence before the read fails (0 disables)
	ReadLimit          int64         // Max inbound frame size in bytes (0 = unlimited)
	InsecureSkipVerify bool
}

// DefaultWebSocketConfig returns sensible defaults.
func DefaultWebSocketConfig(url string) WebSocketConfig {
	return WebSocketConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     25 * time.Second,
		PongTimeout:      60 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// WebSocketTransport dials a single websocket address.
type WebSocketTransport struct {
	cfg    WebSocketConfig
	dialer websocket.Dialer
	logger *zap.Logger
}

// NewWebSocketTransport creates a websocket transport for cfg.URL.
func NewWebSocketTransport(cfg WebSocketConfig, logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InsecureSkipVerify {
		logger.Debug("TLS certificate verification disabled (insecure_skip_verify=true)")
	}

	return &WebSocketTransport{
		cfg: cfg,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify,
			},
		},
		logger: logger,
	}
}

// Dial performs the websocket handshake. ctx bounds the handshake only.
func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if t.cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+t.cfg.Token)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			t.logger.Debug("WebSocket handshake rejected",
				zap.Error(err),
				zap.Int("status_code", resp.StatusCode),
			)
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
			}
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	return newWSConn(conn, t.cfg, t.logger), nil
}

// wsConn adapts *websocket.Conn to Conn and keeps the connection alive with pings.
type wsConn struct {
	conn   *websocket.Conn
	cfg    WebSocketConfig
	logger *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, cfg WebSocketConfig, logger *zap.Logger) *wsConn {
	c := &wsConn{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	c.touch()

	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}

	// Server pings and our own pongs both count as liveness
	conn.SetPingHandler(func(appData string) error {
		c.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	if cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}
	return c
}

// touch pushes the read deadline forward on any sign of liveness.
func (c *wsConn) touch() {
	if c.cfg.PongTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	}
}

// Read returns the next text frame. Binary frames are skipped.
func (c *wsConn) Read() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.touch()

		if messageType != websocket.TextMessage {
			c.logger.Debug("Ignoring non-text message", zap.Int("message_type", messageType))
			continue
		}
		return data, nil
	}
}

// Write sends one text frame.
func (c *wsConn) Write(data []byte) error {
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close stops the heartbeat and returns at once. The normal closure frame and the socket close
// happen in the background, so a stalled peer cannot hold up the caller.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		go func() {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing connection")
			if err := c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(closeGracePeriod)); err != nil {
				c.logger.Debug("Failed to send close frame", zap.Error(err))
			}
			if err := c.conn.Close(); err != nil {
				c.logger.Debug("Error closing websocket", zap.Error(err))
			}
		}()
	})
	return nil
}

// heartbeatLoop sends keepalive pings until the connection is closed.
func (c *wsConn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if c.cfg.WriteTimeout <= 0 {
				deadline = time.Now().Add(time.Second)
			}
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("Failed to send ping", zap.Error(err))
			}
		}
	}
}
