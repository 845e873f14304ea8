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

package command

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"jinr.ru/greenlab/go-hostport/pkg/config"
	"jinr.ru/greenlab/go-hostport/pkg/device/sim"
	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/regio"
	"jinr.ru/greenlab/go-hostport/pkg/regio/udp"
	"jinr.ru/greenlab/go-hostport/pkg/srv/api"
	"jinr.ru/greenlab/go-hostport/pkg/srv/broker"
	"jinr.ru/greenlab/go-hostport/pkg/srv/mqtt"
	"jinr.ru/greenlab/go-hostport/pkg/srv/notify"
	"jinr.ru/greenlab/go-hostport/pkg/srv/state"
	"jinr.ru/greenlab/go-hostport/pkg/srv/watchdog"
)

// Bridge is a running bridge with its supporting services
type Bridge struct {
	Broker     *broker.Broker
	Store      *state.State
	Hub        *notify.Hub
	Api        *api.ApiServer
	dispatcher *notify.Dispatcher
	publisher  *mqtt.Publisher
	closeOnce  sync.Once
}

// NewRegisterInterface connects to the probe, or builds a simulated device in process
func NewRegisterInterface(cfg *config.Config, inProcessSim bool) (regio.RegisterInterface, error) {
	if inProcessSim {
		dev := sim.NewDevice(simConfig(cfg.Sim))
		if cfg.Session.Attach != config.AttachNone {
			dev.StartProgram(cfg.Session.Attach == config.AttachUnbuffered)
		}
		return dev, nil
	}
	return udp.NewClient(cfg.Probe)
}

// NewBridge opens the state store, starts the broker and wires the notification sinks.
// The program is loaded when the session config names one and does not attach.
func NewBridge(ctx context.Context, cfg *config.Config, reg regio.RegisterInterface) (*Bridge, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, err
	}
	store, err := state.NewState(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		Broker: broker.NewBroker(reg, cfg.Session, store),
		Store:  store,
		Hub:    notify.NewHub(),
	}
	if err := b.Broker.Start(); err != nil {
		b.Close()
		return nil, err
	}

	b.dispatcher = notify.NewDispatcher(b.Broker, notify.SinkFunc("store", store.PutNotification), b.Hub)
	if cfg.Mqtt.Broker != "" {
		publisher, err := mqtt.NewPublisher(cfg.Mqtt)
		if err != nil {
			log.Error("Notifications are not published to MQTT: %s", err)
		} else {
			b.publisher = publisher
			b.dispatcher.AddSink(publisher)
		}
	}
	b.dispatcher.Start()

	if cfg.Session.Attach == config.AttachNone && cfg.Session.ProgramPath != "" {
		if err := b.Load(cfg.Session.ProgramPath, cfg.Session.TargetID); err != nil {
			b.Close()
			return nil, err
		}
	}

	b.Api, err = api.NewApiServer(ctx, cfg.Api, b.Broker, store, b.Hub)
	if err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// Load loads the program and records the session
func (b *Bridge) Load(path, target string) error {
	if err := b.Broker.LoadProgram(path, target); err != nil {
		return err
	}
	return b.Store.SetSession(&state.SessionRecord{Program: path, Target: target, LoadedAt: time.Now()})
}

// Close shuts the broker down and waits for the notification sinks to drain
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.Broker.Shutdown()
		if b.dispatcher != nil {
			b.dispatcher.Wait()
		}
		if b.publisher != nil {
			b.publisher.Close()
		}
		b.Store.Close()
	})
}

// StartBridge runs the bridge and its API until the context is done
func StartBridge(ctx context.Context, cfg *config.Config, inProcessSim bool) error {
	reg, err := NewRegisterInterface(cfg, inProcessSim)
	if err != nil {
		return err
	}
	if c, ok := reg.(*udp.Client); ok {
		defer c.Close()
	}

	b, err := NewBridge(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer b.Close()

	if cfg.Watchdog.Schedule != "" {
		w, err := watchdog.NewWatchdog(cfg.Watchdog.Schedule, b.Broker)
		if err != nil {
			return err
		}
		go w.Run(ctx)
	}

	err = b.Api.Run()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServeBridge serves the API of the bridge on a bound listener until the context is done
func ServeBridge(ctx context.Context, b *Bridge, listener net.Listener) error {
	err := b.Api.Serve(listener)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
