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

package broker

import (
	"fmt"
	"time"

	"jinr.ru/greenlab/go-hostport/pkg/layers"
)

// ErrReplyTimeout returned when the device does not reply in time
type ErrReplyTimeout struct {
	Op      string
	Timeout time.Duration
}

func (e ErrReplyTimeout) Error() string {
	return fmt.Sprintf("No reply to %s within %s", e.Op, e.Timeout)
}

// ErrDeviceError returned when the device answers with the error function code
type ErrDeviceError struct {
	Op    string
	Reply *layers.Message
}

func (e ErrDeviceError) Error() string {
	return fmt.Sprintf("Device rejected %s: %s", e.Op, e.Reply)
}

// ErrUnexpectedReply returned when the reply does not belong to the request
type ErrUnexpectedReply struct {
	Op       string
	Expected layers.FunctionCode
	Reply    *layers.Message
}

func (e ErrUnexpectedReply) Error() string {
	return fmt.Sprintf("Unexpected reply to %s: expected %s, got %s", e.Op, e.Expected, e.Reply)
}

// ErrRejected returned when the device replies but reports failure
type ErrRejected struct {
	Op string
}

func (e ErrRejected) Error() string {
	return fmt.Sprintf("Device reported failure of %s", e.Op)
}
