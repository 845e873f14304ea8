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

package udp

import (
	"fmt"
	"time"

	"jinr.ru/greenlab/go-hostport/pkg/layers"
)

// ErrProbeTimeout returned when the probe did not answer any of the attempts
type ErrProbeTimeout struct {
	Op       layers.ProbeOpCode
	Attempts int
	Timeout  time.Duration
}

func (e ErrProbeTimeout) Error() string {
	return fmt.Sprintf("Probe did not answer %s in %d attempts of %s", e.Op, e.Attempts, e.Timeout)
}

// ErrProbeStatus returned when the probe answered with the error status
type ErrProbeStatus struct {
	Op   layers.ProbeOpCode
	What string
}

func (e ErrProbeStatus) Error() string {
	return fmt.Sprintf("Probe failed %s: %s", e.Op, e.What)
}

type ErrShortResponse struct {
	Op layers.ProbeOpCode
}

func (e ErrShortResponse) Error() string {
	return fmt.Sprintf("Probe response to %s carries no data", e.Op)
}
