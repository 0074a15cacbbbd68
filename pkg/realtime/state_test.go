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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Connected, "connected"},
		{Reconnecting, "reconnecting"},
		{Error, "error"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}

	var zero State
	assert.Equal(t, Disconnected, zero)
	assert.Len(t, AllStates(), 5)
}

func TestState_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(map[string]State{"state": Reconnecting})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"reconnecting"}`, string(data))
}

func TestReconnectPolicy_Normalized(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: -2, RetryInterval: 0}.normalized()
	assert.Equal(t, 0, p.MaxAttempts)
	assert.Equal(t, DefaultRetryInterval, p.RetryInterval)

	p = ReconnectPolicy{MaxAttempts: 3, RetryInterval: 250 * time.Millisecond}.normalized()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.RetryInterval)

	def := DefaultReconnectPolicy()
	assert.Equal(t, 5, def.MaxAttempts)
	assert.Equal(t, 5*time.Second, def.RetryInterval)
}

func TestEnvelope(t *testing.T) {
	data, err := encodeEnvelope("tracking:leave", map[string]string{"deliveryId": "d9"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"tracking:leave","data":{"deliveryId":"d9"}}`, string(data))

	event, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "tracking:leave", event.Name)
	assert.JSONEq(t, `{"deliveryId":"d9"}`, string(event.Data))

	_, err = decodeEnvelope([]byte(`{"data":1}`))
	assert.Error(t, err)
	_, err = decodeEnvelope([]byte(`[`))
	assert.Error(t, err)
	_, err = encodeEnvelope("", nil)
	assert.Error(t, err)
}

func TestCommandQueue(t *testing.T) {
	q := newCommandQueue()
	assert.True(t, q.push(command{kind: cmdConnect}))
	assert.True(t, q.push(command{kind: cmdDisconnect}))

	items := q.drain()
	require.Len(t, items, 2)
	assert.Equal(t, cmdConnect, items[0].kind)
	assert.Empty(t, q.drain())

	q.push(command{kind: cmdSend})
	rest := q.shut()
	assert.Len(t, rest, 1)
	assert.False(t, q.push(command{kind: cmdConnect}))
}
