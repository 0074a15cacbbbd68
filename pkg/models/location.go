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

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Realtime event names exchanged with the tracking backend.
const (
	EventLocationUpdate = "location:update"
	EventTrackingJoin   = "tracking:join"
	EventTrackingLeave  = "tracking:leave"
)

var (
	ErrMissingDeliveryID = errors.New("delivery id is required")
	ErrInvalidCoordinate = errors.New("coordinate out of range")
	ErrMissingTimestamp  = errors.New("recorded timestamp is required")
)

// LocationUpdate is one rider position report for a delivery.
type LocationUpdate struct {
	DeliveryID string    `json:"deliveryId" db:"delivery_id"`
	RiderID    string    `json:"riderId,omitempty" db:"rider_id"`
	Latitude   float64   `json:"latitude" db:"latitude"`
	Longitude  float64   `json:"longitude" db:"longitude"`
	Heading    *float64  `json:"heading,omitempty" db:"heading"`   // Degrees from north
	Speed      *float64  `json:"speed,omitempty" db:"speed"`       // Metres per second
	Accuracy   *float64  `json:"accuracy,omitempty" db:"accuracy"` // Metres
	RecordedAt time.Time `json:"recordedAt" db:"recorded_at"`
}

// Validate checks the update before it is stored or forwarded.
func (u *LocationUpdate) Validate() error {
	if strings.TrimSpace(u.DeliveryID) == "" {
		return ErrMissingDeliveryID
	}
	if u.Latitude < -90 || u.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v not in [-90, 90]", ErrInvalidCoordinate, u.Latitude)
	}
	if u.Longitude < -180 || u.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v not in [-180, 180]", ErrInvalidCoordinate, u.Longitude)
	}
	if u.RecordedAt.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}

// WatchRequest is the payload of tracking:join and tracking:leave.
type WatchRequest struct {
	DeliveryID string `json:"deliveryId"`
}
