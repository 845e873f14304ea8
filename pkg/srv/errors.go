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

package srv

import (
	"fmt"
	"time"
)

// ErrGetAddr returned when we can not get the address and port of the peer that sent a packet
type ErrGetAddr struct{}

func (e ErrGetAddr) Error() string {
	return "Error while getting peer address and port"
}

// ErrNotAvailable returned when the bridge is shut down or faulted
type ErrNotAvailable struct {
	What string
}

func (e ErrNotAvailable) Error() string {
	return fmt.Sprintf("Bridge not available: %s", e.What)
}

// ErrPollTimeout returned when a polled condition did not become true in time
type ErrPollTimeout struct {
	Timeout time.Duration
}

func (e ErrPollTimeout) Error() string {
	return fmt.Sprintf("Condition not met within %s", e.Timeout)
}

// ErrPollStopped returned when polling was interrupted by the stop condition
type ErrPollStopped struct{}

func (e ErrPollStopped) Error() string {
	return "Polling stopped"
}
