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

import "time"

const (
	DefaultMaxAttempts   = 5
	DefaultRetryInterval = 5 * time.Second
	DefaultSendBuffer    = 256
)

// ReconnectPolicy bounds automatic recovery. The interval between attempts is fixed.
type ReconnectPolicy struct {
	MaxAttempts   int
	RetryInterval time.Duration
}

// DefaultReconnectPolicy returns the default reconnection policy
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:   DefaultMaxAttempts,
		RetryInterval: DefaultRetryInterval,
	}
}

// normalized clamps a negative attempt budget to zero and fills a missing interval.
func (p ReconnectPolicy) normalized() ReconnectPolicy {
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.RetryInterval <= 0 {
		p.RetryInterval = DefaultRetryInterval
	}
	return p
}

// Config configures a Manager.
type Config struct {
	// URL is the single connection target, used for logging and status.
	URL string
	// AutoConnect issues Connect from NewManager.
	AutoConnect bool
	Policy      ReconnectPolicy
	// SendBuffer bounds the outbound frames queued on a connection.
	SendBuffer int
}

// DefaultConfig returns a config with auto connect and the default policy.
func DefaultConfig(url string) Config {
	return Config{
		URL:         url,
		AutoConnect: true,
		Policy:      DefaultReconnectPolicy(),
		SendBuffer:  DefaultSendBuffer,
	}
}
