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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jinr.ru/greenlab/go-hostport/pkg/config"
	"jinr.ru/greenlab/go-hostport/pkg/device/sim"
	"jinr.ru/greenlab/go-hostport/pkg/srv/broker"
	"jinr.ru/greenlab/go-hostport/pkg/srv/notify"
	"jinr.ru/greenlab/go-hostport/pkg/srv/state"
)

type fixture struct {
	dev    *sim.Device
	bridge *broker.Broker
	store  *state.State
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := state.NewState(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dev := sim.NewDevice(nil)
	dev.StartProgram(true)
	cfg := config.DefaultSessionConfig()
	cfg.Attach = config.AttachUnbuffered
	cfg.ReplyTimeout = 300 * time.Millisecond
	cfg.ReadyTimeout = time.Second
	bridge := broker.NewBroker(dev, cfg, store)
	if err := bridge.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hub := notify.NewHub()
	dispatcher := notify.NewDispatcher(bridge, notify.SinkFunc("store", store.PutNotification), hub)
	dispatcher.Start()

	s, err := NewApiServer(ctx, &config.ApiConfig{IP: "127.0.0.1"}, bridge, store, hub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	server := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		server.Close()
		bridge.Shutdown()
		dispatcher.Wait()
		store.Close()
	})
	return &fixture{dev: dev, bridge: bridge, store: store, server: server}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return resp.StatusCode
}

func TestRegisters(t *testing.T) {
	f := newFixture(t)

	src := &SourceResp{}
	if code := f.do(t, "POST", "/api/activate", &ActivateReq{DemodID: 1, ChannelID: 2}, src); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if src.SourceID != 7 {
		t.Fatalf("expected source id 7, got %d", src.SourceID)
	}

	reg := &RegHex{}
	if code := f.do(t, "POST", "/api/reg/7/0x20", &ValueReq{Value: "0x99"}, reg); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	reg = &RegHex{}
	if code := f.do(t, "GET", "/api/reg/7/0x20", nil, reg); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if reg.Value != "0x99" || reg.Reg != "0x20" || reg.Target != 7 {
		t.Fatalf("unexpected register %+v", reg)
	}

	var cached []*RegHex
	if code := f.do(t, "GET", "/api/reg/7", nil, &cached); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if len(cached) != 1 || cached[0].Value != "0x99" {
		t.Fatalf("unexpected cached registers %+v", cached)
	}
	if code := f.do(t, "GET", "/api/reg/8", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for uncached target, got %d", code)
	}

	deact := &DeactivatedResp{}
	if code := f.do(t, "POST", "/api/deactivate/7", nil, deact); code != http.StatusOK || !deact.Deactivated {
		t.Fatalf("unexpected deactivate result %d %+v", code, deact)
	}
}

func TestBadArguments(t *testing.T) {
	f := newFixture(t)
	if code := f.do(t, "GET", "/api/reg/7/zz", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if code := f.do(t, "POST", "/api/reg/7/1", &ValueReq{Value: "nope"}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if code := f.do(t, "POST", "/api/session/load", &LoadReq{}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if code := f.do(t, "GET", "/api/notifications?limit=x", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	if code := f.do(t, "POST", "/api/auto/on/7/0x21", nil, &RegHex{}); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if code := f.do(t, "POST", "/api/reg/7/0x21", &ValueReq{Value: "5"}, &RegHex{}); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}

	var notifications []*broker.Notification
	deadline := time.Now().Add(2 * time.Second)
	for len(notifications) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("notification was not logged")
		}
		time.Sleep(10 * time.Millisecond)
		if code := f.do(t, "GET", "/api/notifications?limit=10", nil, &notifications); code != http.StatusOK {
			t.Fatalf("unexpected status %d", code)
		}
	}
	if n := notifications[0]; n.Target != 7 || n.Reg != 0x21 || n.Value != 5 {
		t.Fatalf("unexpected notification %s", n)
	}
	if code := f.do(t, "POST", "/api/auto/off/7/0x21", nil, &RegHex{}); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
}

func TestSession(t *testing.T) {
	f := newFixture(t)

	if code := f.do(t, "POST", "/api/session/load", &LoadReq{Path: "prog.elf", Target: sim.DefaultTargetID}, nil); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	resp := &SessionResp{}
	if code := f.do(t, "GET", "/api/session", nil, resp); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if resp.Record == nil || resp.Record.Program != "prog.elf" {
		t.Fatalf("session record not stored: %+v", resp.Record)
	}
	if resp.Status.State != "steady" {
		t.Fatalf("unexpected state %s", resp.Status.State)
	}

	if code := f.do(t, "POST", "/api/session/pause", nil, nil); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if !f.bridge.Status().Paused {
		t.Fatalf("bridge not paused")
	}
	if code := f.do(t, "POST", "/api/session/resume", nil, nil); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if code := f.do(t, "POST", "/api/session/timeouts", &TimeoutsReq{Enabled: false}, nil); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if f.bridge.Status().Timeouts {
		t.Fatalf("timeouts not disabled")
	}
	f.do(t, "POST", "/api/session/timeouts", &TimeoutsReq{Enabled: true}, nil)

	var targets []map[string]string
	if code := f.do(t, "GET", "/api/targets", nil, &targets); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if len(targets) != 1 || targets[0]["id"] != sim.DefaultTargetID {
		t.Fatalf("unexpected targets %v", targets)
	}

	if code := f.do(t, "POST", "/api/session/shutdown", nil, nil); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if code := f.do(t, "GET", "/api/ping", nil, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got %d", code)
	}
}

func TestReplyTimeout(t *testing.T) {
	f := newFixture(t)
	f.dev.SetSilent(true)
	if code := f.do(t, "GET", "/api/ping", nil, nil); code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", code)
	}
}

func TestDocs(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/swagger.json", "/docs", "/metrics"} {
		resp, err := http.Get(f.server.URL + path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", path, resp.StatusCode)
		}
		if path == "/docs" && !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
			t.Fatalf("docs is not html: %s", resp.Header.Get("Content-Type"))
		}
	}
}
