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

import "time"

// Poller waits for conditions on a ticker. Every wait of the bridge goes
// through it since the host port has no interrupt delivery.
type Poller struct {
	Interval time.Duration
	// Flags switches timeouts off when set and disabled
	Flags *Flags
}

func NewPoller(interval time.Duration, flags *Flags) *Poller {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Poller{Interval: interval, Flags: flags}
}

func (p *Poller) timeoutsEnabled() bool {
	return p.Flags == nil || p.Flags.Timeouts()
}

// Until polls cond until it is true. It returns ErrPollStopped when stop
// (which may be nil) becomes true and ErrPollTimeout after timeout.
// A zero timeout waits forever.
func (p *Poller) Until(timeout time.Duration, cond func() bool, stop func() bool) error {
	if cond() {
		return nil
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	start := time.Now()
	for {
		if stop != nil && stop() {
			return ErrPollStopped{}
		}
		if timeout > 0 && p.timeoutsEnabled() && time.Since(start) > timeout {
			return ErrPollTimeout{Timeout: timeout}
		}
		<-ticker.C
		if cond() {
			return nil
		}
	}
}

// Sleep waits one poll interval
func (p *Poller) Sleep() {
	time.Sleep(p.Interval)
}
