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
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPollUntil(t *testing.T) {
	p := NewPoller(time.Millisecond, NewFlags(true))
	var n atomic.Int32
	err := p.Until(time.Second, func() bool { return n.Add(1) > 5 }, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	err = p.Until(50*time.Millisecond, func() bool { return false }, nil)
	if !errors.As(err, &ErrPollTimeout{}) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond || elapsed > time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}

	flags := NewFlags(true)
	p = NewPoller(time.Millisecond, flags)
	go func() {
		time.Sleep(10 * time.Millisecond)
		flags.Fault()
	}()
	err = p.Until(0, func() bool { return false }, flags.Halted)
	if !errors.As(err, &ErrPollStopped{}) {
		t.Fatalf("expected ErrPollStopped, got %v", err)
	}
}

func TestPollTimeoutsDisabled(t *testing.T) {
	flags := NewFlags(false)
	p := NewPoller(time.Millisecond, flags)
	var n atomic.Int32
	err := p.Until(5*time.Millisecond, func() bool { return n.Add(1) > 30 }, nil)
	if err != nil {
		t.Fatalf("timeouts are disabled, got %v", err)
	}
}

func TestFlags(t *testing.T) {
	f := NewFlags(true)
	if f.Paused() || f.Halted() || !f.Timeouts() {
		t.Fatalf("unexpected initial flags")
	}
	f.Pause()
	f.SetTimeouts(false)
	if !f.Paused() || f.Timeouts() {
		t.Fatalf("flags not set")
	}
	f.Resume()
	f.SetClosing()
	if f.Paused() || !f.Halted() {
		t.Fatalf("unexpected flags after closing")
	}
}
