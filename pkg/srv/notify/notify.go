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

// Package notify fans the async register pushes out to the state store,
// the WebSocket clients and MQTT.
package notify

import (
	"sync"

	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/srv/broker"
	"jinr.ru/greenlab/go-hostport/pkg/srv/metrics"
)

// Source is implemented by the broker
type Source interface {
	Notifications() (*broker.Notification, error)
}

type Sink interface {
	Name() string
	Publish(n *broker.Notification) error
}

type funcSink struct {
	name string
	fn   func(n *broker.Notification) error
}

func (s *funcSink) Name() string {
	return s.name
}

func (s *funcSink) Publish(n *broker.Notification) error {
	return s.fn(n)
}

// SinkFunc wraps a function as a named sink
func SinkFunc(name string, fn func(n *broker.Notification) error) Sink {
	return &funcSink{name: name, fn: fn}
}

// Dispatcher is the single consumer of the broker notifications
type Dispatcher struct {
	src   Source
	mu    sync.Mutex
	sinks []Sink
	wg    sync.WaitGroup
}

func NewDispatcher(src Source, sinks ...Sink) *Dispatcher {
	return &Dispatcher{src: src, sinks: sinks}
}

func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Run()
	}()
}

// Wait returns after the source stopped delivering
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Run delivers notifications until the source is closed
func (d *Dispatcher) Run() {
	log.Debug("Notification dispatcher started")
	for {
		n, err := d.src.Notifications()
		if err != nil {
			log.Debug("Notification dispatcher stopped: %s", err)
			return
		}
		d.dispatch(n)
	}
}

func (d *Dispatcher) dispatch(n *broker.Notification) {
	d.mu.Lock()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.Unlock()
	for _, s := range sinks {
		if err := s.Publish(n); err != nil {
			log.Warning("Notification sink %s: %s", s.Name(), err)
			metrics.RecordSinkError(s.Name())
		}
	}
}
