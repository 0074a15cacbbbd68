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

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parallelscore/trackam-live/pkg/api/middleware"
	"github.com/parallelscore/trackam-live/pkg/models"
	"github.com/parallelscore/trackam-live/pkg/realtime"
	"github.com/parallelscore/trackam-live/pkg/storage"
	"github.com/parallelscore/trackam-live/pkg/tracking"
)

// ConnectionController is the connection surface exposed over HTTP.
type ConnectionController interface {
	Connect()
	Disconnect()
	Status() realtime.Status
}

// DeliveryTracker is the tracking surface exposed over HTTP.
type DeliveryTracker interface {
	Watch(deliveryID string) error
	Unwatch(deliveryID string) error
	Watched() []string
	Latest(ctx context.Context, deliveryID string) (*models.LocationUpdate, error)
	Trail(ctx context.Context, deliveryID string, limit int) ([]models.LocationUpdate, error)
}

// APIServer serves the local status API
type APIServer struct {
	conn    ConnectionController
	tracker DeliveryTracker
	logger  *zap.Logger
}

// NewAPIServer creates a new API server with dependencies
func NewAPIServer(conn ConnectionController, tracker DeliveryTracker, logger *zap.Logger) *APIServer {
	return &APIServer{
		conn:    conn,
		tracker: tracker,
		logger:  logger,
	}
}

// RegisterRoutes mounts every endpoint on router.
func (s *APIServer) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", s.HealthCheck)

	v1 := router.Group("/api/v1")
	v1.GET("/connection", s.GetConnection)
	v1.POST("/connection/connect", s.Connect)
	v1.POST("/connection/disconnect", s.Disconnect)

	v1.GET("/deliveries", s.ListDeliveries)
	v1.PUT("/deliveries/:id/watch", s.WatchDelivery)
	v1.DELETE("/deliveries/:id/watch", s.UnwatchDelivery)
	v1.GET("/deliveries/:id/location", s.GetLocation)
	v1.GET("/deliveries/:id/trail", s.GetTrail)
}

// NewRouter builds a gin engine with the standard middleware chain and all routes.
func NewRouter(s *APIServer, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(middleware.CorrelationIDMiddleware(logger))
	router.Use(middleware.ErrorHandlingMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())
	s.RegisterRoutes(router)
	return router
}

// HealthCheck (GET /health)
func (s *APIServer) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"connection": s.conn.Status().State,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

// GetConnection (GET /api/v1/connection)
func (s *APIServer) GetConnection(c *gin.Context) {
	c.JSON(http.StatusOK, s.conn.Status())
}

// Connect (POST /api/v1/connection/connect)
func (s *APIServer) Connect(c *gin.Context) {
	middleware.GetLogger(c, s.logger).Info("Manual connect requested")
	s.conn.Connect()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "action": "connect"})
}

// Disconnect (POST /api/v1/connection/disconnect)
func (s *APIServer) Disconnect(c *gin.Context) {
	middleware.GetLogger(c, s.logger).Info("Manual disconnect requested")
	s.conn.Disconnect()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "action": "disconnect"})
}

// ListDeliveries (GET /api/v1/deliveries)
func (s *APIServer) ListDeliveries(c *gin.Context) {
	watched := s.tracker.Watched()
	c.JSON(http.StatusOK, gin.H{
		"count":      len(watched),
		"deliveries": watched,
	})
}

// WatchDelivery (PUT /api/v1/deliveries/:id/watch)
func (s *APIServer) WatchDelivery(c *gin.Context) {
	id := c.Param("id")
	if err := s.tracker.Watch(id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "deliveryId": id, "watching": true})
}

// UnwatchDelivery (DELETE /api/v1/deliveries/:id/watch)
func (s *APIServer) UnwatchDelivery(c *gin.Context) {
	id := c.Param("id")
	if err := s.tracker.Unwatch(id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "deliveryId": id, "watching": false})
}

// GetLocation (GET /api/v1/deliveries/:id/location)
func (s *APIServer) GetLocation(c *gin.Context) {
	location, err := s.tracker.Latest(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, location)
}

// GetTrail (GET /api/v1/deliveries/:id/trail?limit=N)
func (s *APIServer) GetTrail(c *gin.Context) {
	limit := storage.DefaultTrailLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > storage.MaxTrailLimit {
			c.JSON(http.StatusBadRequest, middleware.ErrorResponse{
				Status:  "error",
				Message: "limit must be an integer between 1 and " + strconv.Itoa(storage.MaxTrailLimit),
			})
			return
		}
		limit = n
	}

	id := c.Param("id")
	trail, err := s.tracker.Trail(c.Request.Context(), id, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deliveryId": id,
		"count":      len(trail),
		"points":     trail,
	})
}

// respondError maps domain errors to status codes.
func (s *APIServer) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, tracking.ErrEmptyDeliveryID):
		status, message = http.StatusBadRequest, err.Error()
	case storage.IsNotFoundError(err):
		status, message = http.StatusNotFound, "No location recorded for delivery"
	case storage.IsDatabaseUnavailableError(err):
		status, message = http.StatusServiceUnavailable, "Location store is unavailable"
	default:
		middleware.GetLogger(c, s.logger).Error("Request failed", zap.Error(err))
	}

	c.JSON(status, middleware.ErrorResponse{Status: "error", Message: message})
}
