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

// Package broker turns the host port word protocol into synchronous calls
// which many goroutines can make at once.
package broker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"jinr.ru/greenlab/go-hostport/pkg/config"
	"jinr.ru/greenlab/go-hostport/pkg/layers"
	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/regio"
	"jinr.ru/greenlab/go-hostport/pkg/srv"
	"jinr.ru/greenlab/go-hostport/pkg/srv/metrics"
	"jinr.ru/greenlab/go-hostport/pkg/srv/queue"
	"jinr.ru/greenlab/go-hostport/pkg/srv/sequencer"
	"jinr.ru/greenlab/go-hostport/pkg/srv/session"
)

// Notification is an unsolicited register push
type Notification struct {
	Target uint32    `json:"target"`
	Reg    uint32    `json:"reg"`
	Value  uint32    `json:"value"`
	Time   time.Time `json:"time"`
}

func (n *Notification) String() string {
	return fmt.Sprintf("target %d reg 0x%x = 0x%x", n.Target, n.Reg, n.Value)
}

func newNotification(m *layers.Message) *Notification {
	n := &Notification{Target: m.Target, Time: time.Now()}
	n.Reg, _ = m.PayloadWord(0)
	n.Value, _ = m.PayloadWord(1)
	return n
}

// RegisterCache keeps the last known register values
type RegisterCache interface {
	PutRegister(target, reg, value uint32) error
}

type Status struct {
	State          string           `json:"state"`
	Paused         bool             `json:"paused"`
	Closing        bool             `json:"closing"`
	Faulted        bool             `json:"faulted"`
	Timeouts       bool             `json:"timeouts"`
	Buffers        *session.Buffers `json:"buffers,omitempty"`
	CurrentToken   string           `json:"current_token"`
	PendingCallers int              `json:"pending_callers"`
	Outbound       int              `json:"outbound"`
	Inbound        int              `json:"inbound"`
	Async          int              `json:"async"`
	LastError      string           `json:"last_error,omitempty"`
}

type Broker struct {
	cfg    *config.SessionConfig
	flags  *srv.Flags
	poller *srv.Poller
	seq    *sequencer.Sequencer
	worker *session.Worker
	cache  RegisterCache

	outbound *queue.Queue[*layers.Message]
	inbound  *queue.Queue[*layers.Message]
	async    *queue.Queue[*Notification]
	// asyncMu orders async pushes taken from inbound into the async queue
	asyncMu sync.Mutex

	seqID        atomic.Uint32
	shutdownOnce sync.Once
}

// NewBroker wires the worker and the sequencer around the register interface.
// The cache may be nil.
func NewBroker(reg regio.RegisterInterface, cfg *config.SessionConfig, cache RegisterCache) *Broker {
	flags := srv.NewFlags(cfg.TimeoutsEnabled)
	poller := srv.NewPoller(cfg.PollInterval, flags)
	outbound := queue.New[*layers.Message]()
	inbound := queue.New[*layers.Message]()
	return &Broker{
		cfg:      cfg,
		flags:    flags,
		poller:   poller,
		seq:      sequencer.NewSequencer(flags, poller, cfg.StaleTimeout),
		worker:   session.NewWorker(reg, cfg, flags, poller, outbound, inbound),
		cache:    cache,
		outbound: outbound,
		inbound:  inbound,
		async:    queue.New[*Notification](),
	}
}

// Start runs the sequencer and the worker. When attaching to a program which
// still holds its ready message, Start returns once the message is consumed.
func (b *Broker) Start() error {
	log.Info("Starting broker")
	b.seq.Start()
	b.worker.Start()
	if b.cfg.Attach != config.AttachUnbuffered {
		return nil
	}
	reply, err := b.awaitReply("attach", b.cfg.ReadyTimeout)
	if err != nil {
		return err
	}
	if reply.Function != layers.FuncReady {
		return ErrUnexpectedReply{Op: "attach", Expected: layers.FuncReady, Reply: reply}
	}
	logLost(reply)
	return nil
}

func (b *Broker) Worker() *session.Worker {
	return b.worker
}

func (b *Broker) nextSeq() uint32 {
	for {
		cur := b.seqID.Load()
		if b.seqID.CompareAndSwap(cur, (cur+1)%layers.SeqLimit) {
			return cur
		}
	}
}

func (b *Broker) remember(target, reg, value uint32) {
	if b.cache == nil {
		return
	}
	if err := b.cache.PutRegister(target, reg, value); err != nil {
		log.Warning("Can not cache register 0x%x of target %d: %s", reg, target, err)
	}
}

// divertLocked moves an async message to the notification queue, asyncMu must be held
func (b *Broker) divertLocked(m *layers.Message) *Notification {
	n := newNotification(m)
	log.Debug("Async: %s", n)
	metrics.RecordAsync()
	b.async.Push(n)
	return n
}

// nextInbound pops the next inbound message. An async push is diverted
// and returned as a notification to be cached by the caller.
func (b *Broker) nextInbound() (*layers.Message, *Notification, bool) {
	b.asyncMu.Lock()
	defer b.asyncMu.Unlock()
	m, ok := b.inbound.Pop()
	if !ok {
		return nil, nil, false
	}
	if m.IsAsync() {
		return nil, b.divertLocked(m), true
	}
	return m, nil, true
}

// awaitReply waits for the next solicited message. The timeout starts over
// after every async message diverted on the way.
func (b *Broker) awaitReply(op string, timeout time.Duration) (*layers.Message, error) {
	for {
		var m *layers.Message
		var n *Notification
		err := b.poller.Until(timeout, func() bool {
			var ok bool
			m, n, ok = b.nextInbound()
			return ok
		}, b.flags.Halted)
		switch err.(type) {
		case nil:
		case srv.ErrPollTimeout:
			return nil, ErrReplyTimeout{Op: op, Timeout: timeout}
		default:
			return nil, srv.ErrNotAvailable{What: "bridge is closing"}
		}
		if n != nil {
			b.remember(n.Target, n.Reg, n.Value)
			continue
		}
		return m, nil
	}
}

// call is the pattern shared by every request: admission, one message out,
// one reply back, release.
func (b *Broker) call(op string, expect layers.FunctionCode, build func(seq uint32) *layers.Message) (reply *layers.Message, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = fmt.Sprintf("%T", err)
		}
		metrics.RecordCall(op, result, time.Since(start))
	}()

	if b.flags.Halted() {
		return nil, srv.ErrNotAvailable{What: "bridge is closing"}
	}
	tok, err := b.seq.Acquire()
	if err != nil {
		return nil, err
	}
	defer b.seq.Release(tok)

	m := build(b.nextSeq())
	if err := m.Validate(); err != nil {
		return nil, err
	}
	log.Debug("Token %s: %s", tok, m)
	b.outbound.Push(m)

	reply, err = b.awaitReply(op, b.cfg.ReplyTimeout)
	if err != nil {
		return nil, err
	}
	if reply.Function == layers.FuncError {
		return nil, ErrDeviceError{Op: op, Reply: reply}
	}
	if reply.Function != expect {
		return nil, ErrUnexpectedReply{Op: op, Expected: expect, Reply: reply}
	}
	return reply, nil
}

func logLost(reply *layers.Message) {
	if lost, _ := reply.PayloadWord(0); lost != 0 {
		log.Warning("Async messages lost since last ready message: %d", lost)
	}
}

func (b *Broker) Ping() error {
	reply, err := b.call("ping", layers.FuncReady, layers.NewPing)
	if err != nil {
		return err
	}
	logLost(reply)
	return nil
}

// Activate opens a logical channel and returns its source id
func (b *Broker) Activate(demodID, channelID uint32) (uint32, error) {
	reply, err := b.call("activate", layers.FuncActivated, func(seq uint32) *layers.Message {
		return layers.NewActivate(seq, demodID, channelID)
	})
	if err != nil {
		return 0, err
	}
	if reply.Source == 0 {
		return 0, ErrRejected{Op: "activate"}
	}
	log.Info("Activated demod %d channel %d: source id %d", demodID, channelID, reply.Source)
	return reply.Source, nil
}

func (b *Broker) Deactivate(targetID uint32) (bool, error) {
	reply, err := b.call("deactivate", layers.FuncDeactivated, func(seq uint32) *layers.Message {
		return layers.NewDeactivate(seq, targetID)
	})
	if err != nil {
		return false, err
	}
	return reply.Source != 0, nil
}

func (b *Broker) registerCall(op string, targetID, reg uint32, build func(seq uint32) *layers.Message) (uint32, error) {
	reply, err := b.call(op, layers.FuncRegValue, build)
	if err != nil {
		return 0, err
	}
	value, ok := reply.PayloadWord(1)
	if !ok {
		return 0, ErrUnexpectedReply{Op: op, Expected: layers.FuncRegValue, Reply: reply}
	}
	b.remember(targetID, reg, value)
	return value, nil
}

func (b *Broker) SetRegister(targetID, reg, value uint32) (uint32, error) {
	return b.registerCall("setreg", targetID, reg, func(seq uint32) *layers.Message {
		return layers.NewSetReg(seq, targetID, reg, value)
	})
}

func (b *Broker) GetRegister(targetID, reg uint32) (uint32, error) {
	return b.registerCall("getreg", targetID, reg, func(seq uint32) *layers.Message {
		return layers.NewGetReg(seq, targetID, reg)
	})
}

// EnableAutoNotify asks the device to push the register whenever it changes
func (b *Broker) EnableAutoNotify(targetID, reg uint32) (uint32, error) {
	return b.registerCall("auto_on", targetID, reg, func(seq uint32) *layers.Message {
		return layers.NewAutoOn(seq, targetID, reg)
	})
}

func (b *Broker) DisableAutoNotify(targetID, reg uint32) (uint32, error) {
	return b.registerCall("auto_off", targetID, reg, func(seq uint32) *layers.Message {
		return layers.NewAutoOff(seq, targetID, reg)
	})
}

// nextNotification prefers the async queue, everything in it arrived
// before the async pushes still sitting in inbound.
func (b *Broker) nextNotification() (*Notification, bool) {
	b.asyncMu.Lock()
	if n, ok := b.async.Pop(); ok {
		b.asyncMu.Unlock()
		return n, true
	}
	m, ok := b.inbound.RemoveFirst((*layers.Message).IsAsync)
	b.asyncMu.Unlock()
	if !ok {
		return nil, false
	}
	n := newNotification(m)
	metrics.RecordAsync()
	b.remember(n.Target, n.Reg, n.Value)
	return n, true
}

// Notifications blocks until an async push is available. Solicited replies
// found on the way stay in place for the call waiting for them.
func (b *Broker) Notifications() (*Notification, error) {
	var n *Notification
	err := b.poller.Until(0, func() bool {
		var ok bool
		n, ok = b.nextNotification()
		return ok
	}, b.flags.Halted)
	if err != nil {
		if n, ok := b.nextNotification(); ok {
			return n, nil
		}
		return nil, srv.ErrNotAvailable{What: "bridge is closing"}
	}
	return n, nil
}

// Pause stops the worker touching the host port until Resume
func (b *Broker) Pause() {
	log.Info("Pausing host port traffic")
	b.flags.Pause()
}

func (b *Broker) Resume() {
	log.Info("Resuming host port traffic")
	b.flags.Resume()
}

func (b *Broker) ToggleTimeouts(enabled bool) {
	log.Info("Timeouts enabled: %v", enabled)
	b.flags.SetTimeouts(enabled)
}

// Fault poisons the bridge, every call fails from now on
func (b *Broker) Fault() {
	log.Error("Bridge faulted")
	b.flags.Fault()
	b.seq.Terminate()
}

func (b *Broker) ListTargets() ([]regio.TargetInfo, error) {
	if b.flags.Faulted() {
		return nil, srv.ErrNotAvailable{What: "bridge is faulted"}
	}
	return b.worker.ListTargets()
}

// drainInbound empties the inbound queue, replies are discarded and async pushes kept
func (b *Broker) drainInbound(reason string) {
	discarded := 0
	var kept []*Notification
	b.asyncMu.Lock()
	for _, m := range b.inbound.Drain() {
		if m.IsAsync() {
			kept = append(kept, b.divertLocked(m))
			continue
		}
		log.Warning("Discarding reply on %s: %s", reason, m)
		discarded++
	}
	b.asyncMu.Unlock()
	for _, n := range kept {
		b.remember(n.Target, n.Reg, n.Value)
	}
	if discarded > 0 {
		metrics.RecordDiscarded(discarded)
	}
}

// LoadProgram holds the host port for the whole load and returns once
// the program has reported ready. An empty target keeps the configured one.
func (b *Broker) LoadProgram(path, target string) error {
	if b.flags.Halted() {
		return srv.ErrNotAvailable{What: "bridge is closing"}
	}
	tok, err := b.seq.AcquireExclusive()
	if err != nil {
		return err
	}
	defer b.seq.Release(tok)

	b.drainInbound("load")
	if err := b.worker.Load(path, target); err != nil {
		return err
	}
	reply, err := b.awaitReply("load", b.cfg.ReadyTimeout)
	if err != nil {
		return err
	}
	if reply.Function != layers.FuncReady {
		return ErrUnexpectedReply{Op: "load", Expected: layers.FuncReady, Reply: reply}
	}
	logLost(reply)
	return nil
}

// Shutdown stops the worker and the sequencer. Callers waiting for admission
// or for a reply fail with ErrNotAvailable.
func (b *Broker) Shutdown() error {
	b.shutdownOnce.Do(func() {
		log.Info("Shutting down broker")
		b.flags.SetClosing()
		b.seq.Terminate()
		b.drainInbound("shutdown")
		b.worker.Stop()
		b.worker.Wait()
		b.drainInbound("shutdown")
		b.seq.Wait()
		log.Info("Broker is shut down")
	})
	return nil
}

func (b *Broker) Status() *Status {
	st := &Status{
		State:          b.worker.State().String(),
		Paused:         b.flags.Paused(),
		Closing:        b.flags.Closing(),
		Faulted:        b.flags.Faulted(),
		Timeouts:       b.flags.Timeouts(),
		CurrentToken:   b.seq.Current().String(),
		PendingCallers: b.seq.Pending(),
		Outbound:       b.outbound.Len(),
		Inbound:        b.inbound.Len(),
		Async:          b.async.Len(),
	}
	if buffers, ok := b.worker.Buffers(); ok {
		st.Buffers = &buffers
	}
	if err := b.worker.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}
