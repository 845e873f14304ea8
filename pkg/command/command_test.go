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
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"jinr.ru/greenlab/go-hostport/pkg/config"
	"jinr.ru/greenlab/go-hostport/pkg/device/sim"
	"jinr.ru/greenlab/go-hostport/pkg/srv/broker"
)

func newClient(t *testing.T, attach, program string) (*ApiClient, *Bridge) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "state.db")
	cfg.Session.Attach = attach
	cfg.Session.ProgramPath = program
	cfg.Session.ReplyTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	reg, err := NewRegisterInterface(cfg, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewBridge(ctx, cfg, reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- ServeBridge(ctx, b, listener) }()
	t.Cleanup(func() {
		cancel()
		<-done
		b.Close()
	})

	c := NewApiClient(cfg)
	c.ApiPrefix = fmt.Sprintf("http://%s/api", listener.Addr())
	return c, b
}

func TestClient(t *testing.T) {
	c, _ := newClient(t, config.AttachUnbuffered, "")

	if err := c.Ping(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src, err := c.Activate(0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src != sim.DefaultFirstSourceID {
		t.Fatalf("expected source id %d, got %d", sim.DefaultFirstSourceID, src)
	}
	reg, err := c.RegSet("7", "0x20", "0x99")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Value != "0x99" {
		t.Fatalf("unexpected register %+v", reg)
	}
	if reg, err = c.RegGet("7", "0x20"); err != nil || reg.Value != "0x99" {
		t.Fatalf("unexpected register %+v %v", reg, err)
	}
	regs, err := c.RegList("7")
	if err != nil || len(regs) != 1 {
		t.Fatalf("unexpected registers %v %v", regs, err)
	}
	if _, err := c.RegList("nine"); !errors.As(err, &ErrApi{}) {
		t.Fatalf("expected ErrApi, got %v", err)
	}
	ok, err := c.Deactivate("7")
	if err != nil || !ok {
		t.Fatalf("unexpected deactivate result %v %v", ok, err)
	}

	targets, err := c.Targets()
	if err != nil || len(targets) != 1 {
		t.Fatalf("unexpected targets %v %v", targets, err)
	}
	if err := c.Timeouts(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.SessionAction("pause"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.SessionAction("resume"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	session, err := c.Session()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Status.Paused {
		t.Fatalf("bridge must be resumed")
	}
}

func TestLoadAtStart(t *testing.T) {
	c, _ := newClient(t, config.AttachNone, "prog.elf")
	session, err := c.Session()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Record == nil || session.Record.Program != "prog.elf" {
		t.Fatalf("unexpected session record %+v", session.Record)
	}
	if err := c.Load("prog2.elf", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Ping(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWatchNotifications(t *testing.T) {
	c, b := newClient(t, config.AttachUnbuffered, "")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	got := make(chan *broker.Notification, 1)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- c.WatchNotifications(ctx, func(n *broker.Notification) error {
			got <- n
			return errors.New("enough")
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for b.Hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("watcher did not connect")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := c.Auto("on", "7", "0x21"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.RegSet("7", "0x21", "3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case n := <-got:
		if n.Target != 7 || n.Reg != 0x21 || n.Value != 3 {
			t.Fatalf("unexpected notification %s", n)
		}
	case <-ctx.Done():
		t.Fatalf("no notification received")
	}
	if err := <-watchErr; err == nil || err.Error() != "enough" {
		t.Fatalf("unexpected watch result %v", err)
	}

	logged, err := c.Notifications(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logged) != 1 || logged[0].Reg != 0x21 {
		t.Fatalf("unexpected logged notifications %v", logged)
	}
}
