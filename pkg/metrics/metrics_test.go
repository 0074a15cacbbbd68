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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parallelscore/trackam-live/pkg/config"
)

func reset(enabled bool) {
	once = sync.Once{}
	registry = nil
	Enabled = enabled
}

func TestInitDisabled(t *testing.T) {
	reset(false)
	t.Cleanup(func() { reset(false) })

	reg := Init()
	require.NotNil(t, reg)

	// noop metrics must accept writes without a registry behind them
	ConnectionState.WithLabelValues("connected").Set(1)
	ReconnectAttemptsTotal.Inc()
	EventsDroppedTotal.WithLabelValues("outbound", "not_connected").Inc()
	StorageOperationDurationSeconds.WithLabelValues("save", "memory").Observe(0.01)
	UpdateMemoryMetrics()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestInitEnabled(t *testing.T) {
	reset(true)
	t.Cleanup(func() { reset(false) })

	reg := Init()
	require.NotNil(t, reg)
	assert.Same(t, reg, GetRegistry())

	ReconnectAttemptsTotal.Inc()
	ReconnectAttemptsTotal.Inc()
	StateTransitionsTotal.WithLabelValues("connecting", "connected").Inc()

	count, err := testutil.GatherAndCount(reg, "trackam_live_reconnect_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "trackam_live_reconnect_attempts_total" {
			assert.Equal(t, 2.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
}

func TestServerHandler(t *testing.T) {
	reset(true)
	t.Cleanup(func() { reset(false) })
	gin.SetMode(gin.TestMode)

	state, healthy := "connected", true
	srv := NewServer(&config.MetricsConfig{Enabled: true, Port: 0}, func() (string, bool) {
		return state, healthy
	}, zap.NewNop())
	Up.Set(1)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "trackam_live_up"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","connection":"connected"}`, rec.Body.String())

	state, healthy = "error", false
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy","connection":"error"}`, rec.Body.String())
}

func TestServerHealthWithoutReporter(t *testing.T) {
	reset(false)
	gin.SetMode(gin.TestMode)

	srv := NewServer(&config.MetricsConfig{Port: 0}, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","connection":"unknown"}`, rec.Body.String())
}
