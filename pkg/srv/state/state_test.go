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

package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"jinr.ru/greenlab/go-hostport/pkg/srv/broker"
)

func newState(t *testing.T) *State {
	t.Helper()
	s, err := NewState(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestRegisters(t *testing.T) {
	s := newState(t)
	if _, err := s.GetRegister(7, 1); !errors.As(err, &ErrNotFound{}) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, r := range []Register{{7, 0x20, 1}, {7, 0x10, 2}, {7, 0x20, 3}, {8, 0x10, 4}} {
		if err := s.PutRegister(r.Target, r.Reg, r.Value); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	v, err := s.GetRegister(7, 0x20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected the last value 3, got %d", v)
	}
	regs, err := s.GetRegisters(7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(regs) != 2 || regs[0].Reg != 0x10 || regs[1].Reg != 0x20 {
		t.Fatalf("unexpected registers %+v", regs)
	}
}

func TestNotifications(t *testing.T) {
	s := newState(t)
	now := time.Now().UTC().Truncate(time.Second)
	for i := uint32(0); i < MaxNotifications+5; i++ {
		if err := s.PutNotification(&broker.Notification{Target: 7, Reg: i, Value: i, Time: now}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	all, err := s.GetNotifications(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != MaxNotifications {
		t.Fatalf("expected %d notifications, got %d", MaxNotifications, len(all))
	}
	if all[0].Reg != 5 {
		t.Fatalf("oldest notifications must be dropped, first is %d", all[0].Reg)
	}

	last, err := s.GetNotifications(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(last) != 2 || last[0].Reg != MaxNotifications+3 || last[1].Reg != MaxNotifications+4 {
		t.Fatalf("unexpected latest notifications %v", last)
	}
	if !last[1].Time.Equal(now) {
		t.Fatalf("time not kept: %s", last[1].Time)
	}
}

func TestSession(t *testing.T) {
	s := newState(t)
	if _, err := s.GetSession(); !errors.As(err, &ErrNotFound{}) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	rec := &SessionRecord{Program: "prog.elf", Target: "sim 1", LoadedAt: time.Now().UTC().Truncate(time.Second)}
	if err := s.SetSession(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.GetSession()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Program != rec.Program || got.Target != rec.Target || !got.LoadedAt.Equal(rec.LoadedAt) {
		t.Fatalf("unexpected session record %+v", got)
	}
}
