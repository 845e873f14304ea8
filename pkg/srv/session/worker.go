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

// Package session runs the session worker, the only goroutine which talks
// to the register interface. It pumps messages between the host port
// buffers and the broker queues and runs the program load handshake.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	"jinr.ru/greenlab/go-hostport/pkg/config"
	"jinr.ru/greenlab/go-hostport/pkg/layers"
	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/regio"
	"jinr.ru/greenlab/go-hostport/pkg/srv"
	"jinr.ru/greenlab/go-hostport/pkg/srv/metrics"
	"jinr.ru/greenlab/go-hostport/pkg/srv/queue"
)

type State int32

const (
	StateIdle State = iota
	StateBufferDiscovery
	StateSteady
	StatePaused
	StateLoadHandshake
	StateClosing
	StateTerminated
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateBufferDiscovery: "buffer_discovery",
	StateSteady:          "steady",
	StatePaused:          "paused",
	StateLoadHandshake:   "load_handshake",
	StateClosing:         "closing",
	StateTerminated:      "terminated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Buffers are the host port buffer addresses found by discovery
type Buffers struct {
	Host uint32 `json:"host"`
	User uint32 `json:"user"`
}

type controlKind int

const (
	controlLoad controlKind = iota
	controlEnumerate
	controlUseTarget
)

// controlRequest is a register interface call the worker makes on behalf of another goroutine
type controlRequest struct {
	kind    controlKind
	path    string
	target  string
	targets []regio.TargetInfo
	done    chan error
}

type Worker struct {
	reg      regio.RegisterInterface
	cfg      *config.SessionConfig
	flags    *srv.Flags
	poller   *srv.Poller
	outbound *queue.Queue[*layers.Message]
	inbound  *queue.Queue[*layers.Message]
	control  *queue.Queue[*controlRequest]

	state      atomic.Int32
	stop       atomic.Bool
	buffers    atomic.Pointer[Buffers]
	configured bool
	decoder    *layers.ControlDecoder

	mu      sync.Mutex
	lastErr error

	exited chan struct{}
	wg     sync.WaitGroup
}

func NewWorker(reg regio.RegisterInterface, cfg *config.SessionConfig, flags *srv.Flags, poller *srv.Poller,
	outbound, inbound *queue.Queue[*layers.Message]) *Worker {
	return &Worker{
		reg:      reg,
		cfg:      cfg,
		flags:    flags,
		poller:   poller,
		outbound: outbound,
		inbound:  inbound,
		control:  queue.New[*controlRequest](),
		decoder:  layers.NewControlDecoder(),
		exited:   make(chan struct{}),
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
}

// Stop asks the worker to close, queued outbound messages are dropped
func (w *Worker) Stop() {
	w.stop.Store(true)
}

func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	if old := State(w.state.Swap(int32(s))); old != s {
		log.Debug("Session worker: %s -> %s", old, s)
	}
}

// Buffers returns the discovered buffer pair, false before discovery
func (w *Worker) Buffers() (Buffers, bool) {
	b := w.buffers.Load()
	if b == nil {
		return Buffers{}, false
	}
	return *b, true
}

func (w *Worker) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Worker) fail(kind string, err error) {
	log.Error("Session worker: %s", err)
	metrics.RecordWorkerError(kind)
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

func (w *Worker) halted() bool {
	return w.flags.Faulted() || w.stop.Load()
}

func (w *Worker) status() (layers.Snapshot, error) {
	word, err := w.reg.ReadWord(layers.RegDeviceStatus)
	return layers.Snapshot(word), err
}

func (w *Worker) ack() error {
	return w.reg.WriteWord(layers.RegIntAck, layers.IntAckValue)
}

// waitErr converts a polling failure to the error of the stage that was waited for
func (w *Worker) waitErr(err error, stage string) error {
	switch err.(type) {
	case srv.ErrPollTimeout:
		return ErrReadyTimeout{Stage: stage, Timeout: w.cfg.ReadyTimeout}
	case srv.ErrPollStopped:
		if w.flags.Faulted() {
			return ErrFaulted{}
		}
		return ErrClosing{}
	}
	return err
}

func (w *Worker) run() {
	defer close(w.exited)
	defer w.failControl()
	defer w.setState(StateTerminated)

	log.Info("Session worker started, attach mode: %q", w.cfg.Attach)
	switch w.cfg.Attach {
	case config.AttachUnbuffered:
		if err := w.attach(true); err != nil {
			w.fail("attach", err)
			w.setState(StateIdle)
		}
	case config.AttachBuffered:
		if err := w.attach(false); err != nil {
			w.fail("attach", err)
			w.setState(StateIdle)
		}
	default:
		w.setState(StateIdle)
	}

	for {
		if w.flags.Faulted() {
			log.Warning("Session worker is faulted, exiting")
			return
		}
		if w.stop.Load() {
			w.close()
			return
		}
		w.serviceControl()
		if _, ok := w.Buffers(); !ok {
			w.setState(StateIdle)
			w.poller.Sleep()
			continue
		}
		if w.flags.Paused() {
			w.setState(StatePaused)
			w.poller.Sleep()
			continue
		}
		if w.flags.Closing() {
			w.setState(StateClosing)
		} else {
			w.setState(StateSteady)
		}
		if err := w.pumpInbound(); err != nil {
			w.fail("register", err)
		}
		if !w.flags.Closing() {
			w.pumpOutbound()
		}
		w.poller.Sleep()
	}
}

// attach connects to a program which is already running. A program which
// has not been talked to yet still holds its ready message in the control framing.
func (w *Worker) attach(unbuffered bool) error {
	w.setState(StateBufferDiscovery)
	if unbuffered {
		m, err := w.decodeControl("latched control message")
		if err != nil {
			return err
		}
		w.publish(m)
	}
	return w.discover(unbuffered && !w.configured)
}

func (w *Worker) close() {
	w.setState(StateClosing)
	for _, m := range w.outbound.Drain() {
		log.Warning("Dropping outbound message on close: %s", m)
	}
	log.Info("Session worker closed")
}

func (w *Worker) publish(m *layers.Message) {
	debugFrame("Inbound", m)
	metrics.RecordInbound()
	w.inbound.Push(m)
}

// decodeControl collects one control framed message from the device status register
func (w *Worker) decodeControl(stage string) (*layers.Message, error) {
	w.decoder.Reset()
	var ioErr error
	err := w.poller.Until(w.cfg.ReadyTimeout, func() bool {
		s, err := w.status()
		if err != nil {
			ioErr = err
			return true
		}
		p, err := w.decoder.Feed(s)
		if err != nil {
			log.Debug("%s, polling again", err)
			metrics.RecordWorkerError("malformed_frame")
			return false
		}
		if p == layers.ProgressIdle {
			return false
		}
		if err := w.ack(); err != nil {
			ioErr = err
			return true
		}
		return p == layers.ProgressComplete
	}, w.halted)
	if ioErr != nil {
		return nil, ioErr
	}
	if err != nil {
		return nil, w.waitErr(err, stage)
	}
	return layers.DecodeMessage(w.decoder.Words())
}

// probeBuffer asks for a buffer pointer until the device answers with it.
// Interrupt serviced is asserted on every probe so the device never stalls.
func (w *Worker) probeBuffer(tag layers.Tag, ready func(layers.Snapshot) bool) (uint32, error) {
	var found layers.Snapshot
	var ioErr error
	probes := 0
	err := w.poller.Until(w.cfg.ReadyTimeout, func() bool {
		probes++
		if err := w.reg.WriteWord(layers.RegHostControl, uint32(tag)); err != nil {
			ioErr = err
			return true
		}
		s, err := w.status()
		if err != nil {
			ioErr = err
			return true
		}
		if err := w.ack(); err != nil {
			ioErr = err
			return true
		}
		if ready(s) {
			found = s
			return true
		}
		return false
	}, w.halted)
	if ioErr != nil {
		return 0, ioErr
	}
	if err != nil {
		return 0, w.waitErr(err, "buffer discovery")
	}
	log.Debug("Buffer %s found after %d probes: %s", tag, probes, found)
	return found.BufferAddr(), nil
}

func (w *Worker) discover(configAck bool) error {
	w.setState(StateBufferDiscovery)
	host, err := w.probeBuffer(layers.TagBufBaseH, layers.Snapshot.HostBufferReady)
	if err != nil {
		return err
	}
	user, err := w.probeBuffer(layers.TagBufBaseU, layers.Snapshot.UserBufferReady)
	if err != nil {
		return err
	}
	w.buffers.Store(&Buffers{Host: host, User: user})
	log.Info("Host port buffers: host 0x%08x user 0x%08x", host, user)

	if !configAck {
		return nil
	}
	if err := w.reg.WriteWord(layers.RegHostControl, uint32(layers.TagBufReady)); err != nil {
		return err
	}
	if err := w.waitPending("configuration ack"); err != nil {
		return err
	}
	m, err := w.readBuffered()
	if err != nil {
		return err
	}
	log.Debug("Configuration acknowledged: %s", m)
	w.configured = true
	return nil
}

func (w *Worker) waitPending(stage string) error {
	var ioErr error
	err := w.poller.Until(w.cfg.ReadyTimeout, func() bool {
		s, err := w.status()
		if err != nil {
			ioErr = err
			return true
		}
		return s.Pending()
	}, w.halted)
	if ioErr != nil {
		return ioErr
	}
	if err != nil {
		return w.waitErr(err, stage)
	}
	return nil
}

// readBuffered reads the message the device put to the user buffer and acknowledges it.
// A length word over MaxMessageBytes is read up to the maximum and reported malformed.
func (w *Worker) readBuffered() (*layers.Message, error) {
	b, ok := w.Buffers()
	if !ok {
		return nil, ErrNoBuffers{}
	}
	length, err := w.reg.ReadWord(b.User)
	if err != nil {
		return nil, err
	}
	n := length
	if n > layers.MaxMessageBytes {
		n = layers.MaxMessageBytes
	}
	words := make([]uint32, 0, layers.MessageWordCount(n))
	for i := uint32(0); i <= n; i += layers.WordBytes {
		word, err := w.reg.ReadWord(b.User + i)
		if err != nil {
			return nil, err
		}
		words = append(words, word)
	}
	if err := w.ack(); err != nil {
		return nil, err
	}
	if length != n {
		return nil, layers.ErrMalformedFrame{What: fmt.Sprintf("message length %d over %d", length, layers.MaxMessageBytes)}
	}
	return layers.DecodeMessage(words)
}

func (w *Worker) pumpInbound() error {
	s, err := w.status()
	if err != nil {
		return err
	}
	for s.Pending() {
		if w.halted() || w.flags.Paused() {
			return nil
		}
		m, err := w.readBuffered()
		switch err.(type) {
		case nil:
			w.publish(m)
		case layers.ErrMalformedFrame:
			w.fail("malformed_frame", err)
		default:
			return err
		}
		if s, err = w.status(); err != nil {
			return err
		}
	}
	return nil
}

// pumpOutbound writes at most one message per iteration,
// the device has room for a single message in flight.
func (w *Worker) pumpOutbound() {
	m, ok := w.outbound.Pop()
	if !ok {
		return
	}
	err := w.writeMessage(m)
	switch err.(type) {
	case nil:
	case ErrWriteTimeout:
		w.fail("write_timeout", err)
	case ErrClosing:
		log.Warning("Dropping outbound message on close: %s", m)
	case layers.ErrInvalidMessageShape:
		w.fail("invalid_message", err)
	default:
		w.fail("register", err)
	}
}

func (w *Worker) writeMessage(m *layers.Message) error {
	words, cmd, err := layers.EncodeOutboundMessage(m)
	if err != nil {
		return err
	}
	b, ok := w.Buffers()
	if !ok {
		return ErrNoBuffers{}
	}
	for i, word := range words {
		if err := w.reg.WriteWord(b.Host+uint32(i)*layers.WordBytes, word); err != nil {
			return err
		}
	}
	var ioErr error
	err = w.poller.Until(w.cfg.WriteTimeout, func() bool {
		ctl, err := w.reg.ReadWord(layers.RegHostControl)
		if err != nil {
			ioErr = err
			return true
		}
		return ctl&layers.IntPendingBit == 0
	}, w.halted)
	if ioErr != nil {
		return ioErr
	}
	switch err.(type) {
	case nil:
	case srv.ErrPollTimeout:
		return ErrWriteTimeout{Timeout: w.cfg.WriteTimeout, Message: m}
	default:
		return w.waitErr(err, "write")
	}
	if err := w.reg.WriteWord(layers.RegHostControl, uint32(cmd)); err != nil {
		return err
	}
	debugFrame("Outbound", m)
	metrics.RecordOutbound()
	return nil
}

// debugFrame logs the message with its raw little endian frame
func debugFrame(direction string, m *layers.Message) {
	if log.Level() < log.DebugLevel {
		return
	}
	data, err := layers.MessageToBytes(m)
	if err != nil {
		log.Debug("%s: %s", direction, m)
		return
	}
	log.Debug("%s: %s frame: %x", direction, m, data)
}
