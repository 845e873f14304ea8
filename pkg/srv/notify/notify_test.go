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

package notify

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"jinr.ru/greenlab/go-hostport/pkg/srv"
	"jinr.ru/greenlab/go-hostport/pkg/srv/broker"
)

type chanSource chan *broker.Notification

func (s chanSource) Notifications() (*broker.Notification, error) {
	n, ok := <-s
	if !ok {
		return nil, srv.ErrNotAvailable{What: "closed"}
	}
	return n, nil
}

type recorder struct {
	mu  sync.Mutex
	got []*broker.Notification
}

func (r *recorder) publish(n *broker.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func TestDispatcher(t *testing.T) {
	src := make(chanSource)
	rec := &recorder{}
	failing := SinkFunc("failing", func(*broker.Notification) error { return errors.New("down") })
	d := NewDispatcher(src, failing, SinkFunc("recorder", rec.publish))
	d.Start()

	for i := uint32(0); i < 3; i++ {
		src <- &broker.Notification{Target: 1, Reg: i}
	}
	close(src)
	d.Wait()

	if len(rec.got) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(rec.got))
	}
	for i, n := range rec.got {
		if n.Reg != uint32(i) {
			t.Fatalf("notification %d out of order: %s", i, n)
		}
	}
}

func TestHub(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client was not registered")
		}
		time.Sleep(time.Millisecond)
	}

	if err := hub.Publish(&broker.Notification{Target: 7, Reg: 0x21, Value: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var n broker.Notification
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := c.ReadJSON(&n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Target != 7 || n.Reg != 0x21 || n.Value != 5 {
		t.Fatalf("unexpected notification %s", &n)
	}
}
