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

package storage

import "errors"

// Common storage errors - implementation agnostic
var (
	// ErrNotFound is returned when no location is stored for a delivery
	ErrNotFound = errors.New("location not found")

	// ErrDatabaseUnavailable is returned when the store is closed or unreachable
	ErrDatabaseUnavailable = errors.New("database storage is unavailable")

	// ErrInvalidLocation is returned when an update fails validation
	ErrInvalidLocation = errors.New("invalid location update")
)

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsDatabaseUnavailableError(err error) bool {
	return errors.Is(err, ErrDatabaseUnavailable)
}

// IsInvalidLocationError checks if an error was caused by a rejected update
func IsInvalidLocationError(err error) bool {
	return errors.Is(err, ErrInvalidLocation)
}
