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

// Package sim emulates the device side of the host port. It implements
// the register interface so the bridge can be run and tested without hardware.
package sim

import (
	"sync"

	"jinr.ru/greenlab/go-hostport/pkg/layers"
	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/regio"
)

const (
	DefaultTargetID             = "sim 1"
	DefaultFirstSourceID uint32 = 7
	// HostBufferPtr and UserBufferPtr are the pointers reported during buffer discovery
	HostBufferPtr uint32 = 0x1000
	UserBufferPtr uint32 = 0x2000
	// MaxOutbox bounds the queue of undelivered messages, async pushes over it are lost
	MaxOutbox                     = 64
	MainThread regio.ThreadHandle = 1
)

type Config struct {
	FirstSourceID uint32
	// BusyProbes is the number of host buffer probes answered with the busy pattern
	BusyProbes int
	Targets    []regio.TargetInfo
}

func DefaultConfig() *Config {
	return &Config{
		FirstSourceID: DefaultFirstSourceID,
		Targets: []regio.TargetInfo{
			{ID: DefaultTargetID, Description: "simulated host port device"},
		},
	}
}

// Request is one message the device received from the host.
// Counter increases monotonically in the order the device processed requests.
type Request struct {
	Counter uint64
	*layers.Message
}

// Device is safe for concurrent use: the bridge worker drives the register
// interface while tests inject async pushes and inspect the request log.
type Device struct {
	mu  sync.Mutex
	cfg *Config

	target  string
	loaded  string
	running bool

	// latch holds the words the device status register shows one after another,
	// each acknowledged word is replaced by the next one
	latch   []uint32
	hostCtl uint32
	memory  map[uint32]uint32
	outbox  []*layers.Message

	hostReady  bool
	userReady  bool
	busyLeft   int
	sourceID   uint32
	lostAsync  uint32
	counter    uint64
	requests   []Request
	active     map[uint32]bool
	registers  map[uint32]map[uint32]uint32
	autoNotify map[uint32]map[uint32]bool

	silent    bool
	stall     bool
	loadErr   error
	runErr    error
	readyWord uint32
}

var _ regio.RegisterInterface = &Device{}

func NewDevice(cfg *Config) *Device {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = DefaultConfig().Targets
	}
	d := &Device{
		cfg:        cfg,
		target:     cfg.Targets[0].ID,
		registers:  map[uint32]map[uint32]uint32{},
		autoNotify: map[uint32]map[uint32]bool{},
		readyWord:  layers.TagReady.Word(0),
	}
	d.reset()
	return d
}

func (d *Device) reset() {
	d.running = false
	d.latch = nil
	d.hostCtl = 0
	d.memory = map[uint32]uint32{}
	d.outbox = nil
	d.hostReady = false
	d.userReady = false
	d.busyLeft = d.cfg.BusyProbes
	d.sourceID = d.cfg.FirstSourceID
	d.lostAsync = 0
	d.active = map[uint32]bool{}
}

// StartProgram puts the device in the state of a program which is already
// running. With latchReady the ready message is left latched in the control
// framing as it is after boot, otherwise the device looks configured.
func (d *Device) StartProgram(latchReady bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
	d.loaded = "attached"
	d.running = true
	if latchReady {
		d.latchControl(d.readyMessage())
	}
}

func (d *Device) readyMessage() *layers.Message {
	lost := d.lostAsync
	d.lostAsync = 0
	return layers.NewReply(0, 0, 0, layers.FuncReady, lost)
}

func (d *Device) latchControl(m *layers.Message) {
	for _, s := range layers.EncodeControlFrame(m.Words()) {
		d.latch = append(d.latch, uint32(s))
	}
}

func (d *Device) status() uint32 {
	if len(d.latch) == 0 {
		d.deliver()
	}
	if len(d.latch) == 0 {
		return 0
	}
	return d.latch[0]
}

// deliver copies the next outbound message to the user buffer and latches its ready word
func (d *Device) deliver() {
	if !d.running || !d.userReady || len(d.outbox) == 0 {
		return
	}
	m := d.outbox[0]
	d.outbox = d.outbox[1:]
	base := layers.BufferWindowBase + 3*UserBufferPtr
	for i, w := range m.Words() {
		d.memory[base+uint32(i)*layers.WordBytes] = w
	}
	d.latch = append(d.latch, uint32(layers.CommandWord(m.Length)))
}

func (d *Device) send(m *layers.Message) {
	if d.silent {
		return
	}
	if len(d.outbox) >= MaxOutbox {
		if m.IsAsync() {
			d.lostAsync++
			return
		}
	}
	d.outbox = append(d.outbox, m)
}

func (d *Device) ReadWord(addr uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch addr {
	case layers.RegDeviceStatus:
		return d.status(), nil
	case layers.RegHostControl:
		if d.stall {
			return d.hostCtl | layers.IntPendingBit, nil
		}
		return d.hostCtl, nil
	case layers.RegIntAck, layers.RegSpare:
		return 0, nil
	}
	return d.memory[addr], nil
}

func (d *Device) WriteWord(addr, word uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch addr {
	case layers.RegIntAck:
		if word == layers.IntAckValue && len(d.latch) > 0 {
			d.latch = d.latch[1:]
		}
	case layers.RegHostControl:
		d.hostCtl = word &^ layers.IntPendingBit
		if d.running {
			d.command(layers.Snapshot(word))
		}
	case layers.RegDeviceStatus, layers.RegSpare:
	default:
		d.memory[addr] = word
	}
	return nil
}

// command handles a word the host wrote to the host control register
func (d *Device) command(s layers.Snapshot) {
	switch s.Tag() {
	case layers.TagBufBaseH:
		if d.busyLeft > 0 {
			d.busyLeft--
			d.latch = append(d.latch, uint32(layers.TagBufReady))
			return
		}
		d.hostReady = true
		d.latch = append(d.latch, layers.TagBufBaseH.Word(HostBufferPtr))
	case layers.TagBufBaseU:
		d.userReady = true
		d.latch = append(d.latch, layers.TagBufBaseU.Word(UserBufferPtr))
	case layers.TagBufReady:
		if s.Length() == 0 {
			// configuration probe, acknowledged ahead of anything queued
			if !d.silent {
				d.outbox = append([]*layers.Message{layers.NewReply(0, 0, 0, layers.FuncReady, 0)}, d.outbox...)
			}
			d.deliverNow()
			return
		}
		if !d.hostReady {
			log.Warning("sim: message announced before host buffer discovery")
			return
		}
		d.receive(s.Length())
	default:
		log.Debug("sim: ignoring host control word %s", s)
	}
}

func (d *Device) deliverNow() {
	if len(d.latch) == 0 {
		d.deliver()
	}
}

func (d *Device) receive(length uint32) {
	base := layers.BufferWindowBase + 3*HostBufferPtr
	count := int(length / layers.WordBytes)
	words := make([]uint32, count)
	for i := range words {
		words[i] = d.memory[base+uint32(i)*layers.WordBytes]
	}
	m, err := layers.DecodeMessage(words)
	if err != nil {
		log.Warning("sim: dropping host message: %s", err)
		return
	}
	d.counter++
	d.requests = append(d.requests, Request{Counter: d.counter, Message: m})
	log.Debug("sim: request #%d %s", d.counter, m)
	d.process(m)
}

func (d *Device) process(m *layers.Message) {
	reg, _ := m.PayloadWord(0)
	switch m.Function {
	case layers.FuncPing:
		lost := d.lostAsync
		d.lostAsync = 0
		d.send(layers.NewReply(0, 0, m.Seq, layers.FuncReady, lost))
	case layers.FuncActivate:
		src := d.sourceID
		d.sourceID++
		d.active[src] = true
		d.send(layers.NewReply(src, src, m.Seq, layers.FuncActivated))
	case layers.FuncDeactivate:
		var ok uint32
		if d.active[m.Target] {
			delete(d.active, m.Target)
			ok = 1
		}
		d.send(layers.NewReply(ok, m.Target, m.Seq, layers.FuncDeactivated))
	case layers.FuncSetReg:
		value, _ := m.PayloadWord(1)
		d.setRegister(m.Target, reg, value)
		if d.autoNotify[m.Target][reg] {
			d.send(layers.NewAsync(m.Target, reg, value))
		}
		d.send(layers.NewReply(0, m.Target, m.Seq, layers.FuncRegValue, reg, value))
	case layers.FuncGetReg:
		d.send(layers.NewReply(0, m.Target, m.Seq, layers.FuncRegValue, reg, d.registers[m.Target][reg]))
	case layers.FuncAutoOn, layers.FuncAutoOff:
		if d.autoNotify[m.Target] == nil {
			d.autoNotify[m.Target] = map[uint32]bool{}
		}
		if m.Function == layers.FuncAutoOn {
			d.autoNotify[m.Target][reg] = true
		} else {
			delete(d.autoNotify[m.Target], reg)
		}
		d.send(layers.NewReply(0, m.Target, m.Seq, layers.FuncRegValue, reg, d.registers[m.Target][reg]))
	default:
		d.send(layers.NewReply(0, m.Target, m.Seq, layers.FuncError))
	}
}

func (d *Device) setRegister(target, reg, value uint32) {
	if d.registers[target] == nil {
		d.registers[target] = map[uint32]uint32{}
	}
	d.registers[target][reg] = value
}

func (d *Device) LoadProgram(path string, showProgress bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loadErr != nil {
		return d.loadErr
	}
	log.Info("sim: loading %s to %s", path, d.target)
	d.loaded = path
	return nil
}

func (d *Device) HardReset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	log.Info("sim: hard reset of %s", d.target)
	d.reset()
	d.loaded = ""
	return nil
}

func (d *Device) UseTarget(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.cfg.Targets {
		if t.ID == id {
			d.target = id
			return nil
		}
	}
	return ErrUnknownTarget{ID: id}
}

func (d *Device) FirstThread() (regio.ThreadHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded == "" {
		return 0, ErrNotLoaded{What: "no threads"}
	}
	return MainThread, nil
}

// Run boots the loaded program: the ready word is latched followed by
// the ready message in the control framing.
func (d *Device) Run(thread regio.ThreadHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runErr != nil {
		return d.runErr
	}
	if d.loaded == "" {
		return ErrNotLoaded{What: "can not run"}
	}
	d.running = true
	if !d.silent {
		d.latch = append(d.latch, d.readyWord)
		d.latchControl(d.readyMessage())
	}
	return nil
}

func (d *Device) EnumerateTargets() ([]regio.TargetInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]regio.TargetInfo(nil), d.cfg.Targets...), nil
}

// InjectAsync queues an unsolicited register push
func (d *Device) InjectAsync(target, reg, value uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.send(layers.NewAsync(target, reg, value))
}

// SetRegister presets a register without a host request
func (d *Device) SetRegister(target, reg, value uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setRegister(target, reg, value)
}

func (d *Device) Register(target, reg uint32) (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	value, ok := d.registers[target][reg]
	return value, ok
}

// Requests returns a copy of the request log
func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.requests...)
}

// SetSilent makes the device swallow requests without replying
func (d *Device) SetSilent(silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = silent
}

// SetStall keeps the interrupt bit of the host control register set
func (d *Device) SetStall(stall bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stall = stall
}

func (d *Device) SetLoadError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadErr = err
}

func (d *Device) SetRunError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runErr = err
}

// SetReadyWord replaces the word latched when the program starts
func (d *Device) SetReadyWord(word uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readyWord = word
}

func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}
