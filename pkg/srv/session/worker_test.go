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

package session

import (
	"errors"
	"testing"
	"time"

	"jinr.ru/greenlab/go-hostport/pkg/config"
	"jinr.ru/greenlab/go-hostport/pkg/device/sim"
	"jinr.ru/greenlab/go-hostport/pkg/layers"
	"jinr.ru/greenlab/go-hostport/pkg/srv"
	"jinr.ru/greenlab/go-hostport/pkg/srv/queue"
)

type fixture struct {
	dev      *sim.Device
	worker   *Worker
	flags    *srv.Flags
	outbound *queue.Queue[*layers.Message]
	inbound  *queue.Queue[*layers.Message]
}

func newFixture(t *testing.T, dev *sim.Device, attach string) *fixture {
	t.Helper()
	cfg := config.DefaultSessionConfig()
	cfg.Attach = attach
	cfg.ReadyTimeout = 200 * time.Millisecond
	cfg.WriteTimeout = 200 * time.Millisecond
	flags := srv.NewFlags(true)
	f := &fixture{
		dev:      dev,
		flags:    flags,
		outbound: queue.New[*layers.Message](),
		inbound:  queue.New[*layers.Message](),
	}
	f.worker = NewWorker(dev, cfg, flags, srv.NewPoller(cfg.PollInterval, flags), f.outbound, f.inbound)
	return f
}

func (f *fixture) start(t *testing.T) {
	f.worker.Start()
	t.Cleanup(func() {
		f.worker.Stop()
		f.worker.Wait()
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fixture) next(t *testing.T) *layers.Message {
	t.Helper()
	var m *layers.Message
	waitFor(t, "inbound message", func() bool {
		var ok bool
		m, ok = f.inbound.Pop()
		return ok
	})
	return m
}

func expectedBuffers() Buffers {
	return Buffers{
		Host: layers.BufferWindowBase + 3*sim.HostBufferPtr,
		User: layers.BufferWindowBase + 3*sim.UserBufferPtr,
	}
}

func TestAttachUnbuffered(t *testing.T) {
	dev := sim.NewDevice(nil)
	dev.StartProgram(true)
	f := newFixture(t, dev, config.AttachUnbuffered)
	f.start(t)

	m := f.next(t)
	if m.Function != layers.FuncReady {
		t.Fatalf("expected the ready message first, got %s", m)
	}
	waitFor(t, "steady state", func() bool { return f.worker.State() == StateSteady })
	if b, ok := f.worker.Buffers(); !ok || b != expectedBuffers() {
		t.Fatalf("unexpected buffers %+v", b)
	}
	// the configuration ack is consumed by the worker
	if f.inbound.Len() != 0 {
		t.Fatalf("unexpected inbound messages: %d", f.inbound.Len())
	}
}

func TestAttachBufferedBusy(t *testing.T) {
	dev := sim.NewDevice(&sim.Config{FirstSourceID: 1, BusyProbes: 5})
	dev.StartProgram(false)
	f := newFixture(t, dev, config.AttachBuffered)
	f.start(t)

	waitFor(t, "buffers", func() bool {
		_, ok := f.worker.Buffers()
		return ok
	})
	if b, _ := f.worker.Buffers(); b != expectedBuffers() {
		t.Fatalf("unexpected buffers %+v", b)
	}
}

func TestPump(t *testing.T) {
	dev := sim.NewDevice(nil)
	dev.StartProgram(false)
	f := newFixture(t, dev, config.AttachBuffered)
	f.start(t)

	f.outbound.Push(layers.NewSetReg(0, 7, 1, 10))
	f.outbound.Push(layers.NewGetReg(1, 7, 1))
	first := f.next(t)
	second := f.next(t)
	if first.Seq != 0 || second.Seq != 1 {
		t.Fatalf("replies out of order: %s, %s", first, second)
	}
	if v, _ := second.PayloadWord(1); v != 10 {
		t.Fatalf("expected 10, got %d", v)
	}

	dev.InjectAsync(7, 2, 3)
	if m := f.next(t); !m.IsAsync() {
		t.Fatalf("expected async message, got %s", m)
	}
}

func TestAttachTimeout(t *testing.T) {
	dev := sim.NewDevice(nil)
	f := newFixture(t, dev, config.AttachUnbuffered)
	f.start(t)

	waitFor(t, "attach failure", func() bool { return f.worker.LastError() != nil })
	if err := f.worker.LastError(); !errors.As(err, &ErrReadyTimeout{}) {
		t.Fatalf("expected ErrReadyTimeout, got %v", err)
	}
	waitFor(t, "idle state", func() bool { return f.worker.State() == StateIdle })
}

func TestLoad(t *testing.T) {
	dev := sim.NewDevice(nil)
	f := newFixture(t, dev, config.AttachNone)
	f.start(t)

	if err := f.worker.Load("prog.elf", sim.DefaultTargetID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m := f.next(t); m.Function != layers.FuncReady {
		t.Fatalf("expected ready message, got %s", m)
	}
	if !dev.Running() {
		t.Fatalf("program is not running")
	}
	if st := f.worker.State(); st != StateSteady {
		t.Fatalf("expected steady state, got %s", st)
	}

	targets, err := f.worker.ListTargets()
	if err != nil || len(targets) != 1 {
		t.Fatalf("unexpected targets %v %v", targets, err)
	}
	if err := f.worker.UseTarget("unknown"); !errors.As(err, &sim.ErrUnknownTarget{}) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestLoadFailureState(t *testing.T) {
	dev := sim.NewDevice(nil)
	f := newFixture(t, dev, config.AttachNone)
	f.start(t)

	dev.SetRunError(errors.New("locked"))
	err := f.worker.Load("prog.elf", "")
	var loadErr ErrLoadFailed
	if !errors.As(err, &loadErr) || loadErr.Stage != "run" {
		t.Fatalf("expected ErrLoadFailed at run, got %v", err)
	}
	if st := f.worker.State(); st != StateIdle {
		t.Fatalf("expected idle state after reset, got %s", st)
	}
	if _, ok := f.worker.Buffers(); ok {
		t.Fatalf("buffers must be forgotten after reset")
	}
}

func TestReadOverlongMessage(t *testing.T) {
	dev := sim.NewDevice(nil)
	dev.StartProgram(false)
	f := newFixture(t, dev, config.AttachNone)
	b := expectedBuffers()
	f.worker.buffers.Store(&b)

	if err := dev.WriteWord(b.User, 5000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := f.worker.readBuffered()
	if !errors.As(err, &layers.ErrMalformedFrame{}) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestWriteTimeout(t *testing.T) {
	dev := sim.NewDevice(nil)
	dev.StartProgram(false)
	f := newFixture(t, dev, config.AttachNone)
	b := expectedBuffers()
	f.worker.buffers.Store(&b)

	dev.SetStall(true)
	err := f.worker.writeMessage(layers.NewPing(0))
	if !errors.As(err, &ErrWriteTimeout{}) {
		t.Fatalf("expected ErrWriteTimeout, got %v", err)
	}
	if n := len(dev.Requests()); n != 0 {
		t.Fatalf("message must not be announced, device got %d requests", n)
	}
}

func TestStop(t *testing.T) {
	dev := sim.NewDevice(nil)
	dev.StartProgram(false)
	f := newFixture(t, dev, config.AttachBuffered)
	f.flags.Pause()
	f.worker.Start()
	waitFor(t, "paused state", func() bool { return f.worker.State() == StatePaused })

	f.outbound.Push(layers.NewPing(0))
	f.worker.Stop()
	f.worker.Wait()
	if f.outbound.Len() != 0 {
		t.Fatalf("outbound must be dropped on close")
	}
	if st := f.worker.State(); st != StateTerminated {
		t.Fatalf("expected terminated state, got %s", st)
	}
	if err := f.worker.Load("prog.elf", ""); !errors.As(err, &ErrClosing{}) {
		t.Fatalf("expected ErrClosing, got %v", err)
	}
}
