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

package watchdog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingPinger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPinger) Ping() error {
	p.calls.Add(1)
	return p.err
}

func TestSchedule(t *testing.T) {
	w, err := NewWatchdog("*/5 * * * * * *", &countingPinger{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	if next := w.Next(base); !next.Equal(base.Add(4 * time.Second)) {
		t.Fatalf("unexpected next ping %s", next)
	}
	if _, err := NewWatchdog("not a schedule", &countingPinger{}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCheckFailure(t *testing.T) {
	p := &countingPinger{err: errors.New("timeout")}
	w, err := NewWatchdog("@hourly", p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var failures atomic.Int32
	w.OnFailure = func(error) { failures.Add(1) }
	if err := w.Check(); err == nil {
		t.Fatalf("expected error")
	}
	if failures.Load() != 1 {
		t.Fatalf("failure callback not called")
	}
}

func TestRun(t *testing.T) {
	p := &countingPinger{}
	w, err := NewWatchdog("* * * * * * *", p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if p.calls.Load() < 2 {
		t.Fatalf("expected at least 2 pings, got %d", p.calls.Load())
	}
}
