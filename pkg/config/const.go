/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package config

import "time"

const (
	ConfigDir  = ".go-hostport"
	ConfigFile = "config"
	DBFile     = "state.db"

	DefaultLogLevel = "info"

	DefaultApiIP   = "127.0.0.1"
	DefaultApiPort = 8010

	DefaultProbeAddress = "127.0.0.1"
	DefaultProbePort    = 33310
	DefaultProbeTimeout = 500 * time.Millisecond
	DefaultProbeRetries = 3

	// Attach modes for a worker that starts against an already running program.
	AttachNone       = ""
	AttachBuffered   = "buffered"
	AttachUnbuffered = "unbuffered"

	DefaultPollInterval = time.Millisecond
	DefaultReplyTimeout = 5 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultReadyTimeout = 10 * time.Second
	DefaultStaleTimeout = 5 * time.Second

	DefaultMqttTopic    = "go-hostport/notifications"
	DefaultMqttClientID = "go-hostport"

	DefaultSimListen        = "127.0.0.1:33310"
	DefaultSimFirstSourceID = 7
)
