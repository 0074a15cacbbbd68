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

// Package realtime implements the live tracking connection manager.
//
// A Manager owns at most one transport connection to a fixed address and moves through
// disconnected, connecting, connected, reconnecting and error. Failures are retried at a fixed
// interval up to a bounded number of attempts; once the budget is spent the manager settles in
// error until Connect is called again. An epoch counter invalidates retry timers, dial results
// and inbound frames that belong to a connection cycle that has since been reset.
package realtime
