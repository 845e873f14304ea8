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
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/srv/broker"
)

const clientBuffer = 32

// Hub streams notifications to WebSocket clients as JSON text messages.
// A client which does not keep up loses notifications.
type Hub struct {
	upgrader websocket.Upgrader
	conns    sync.Map
	nextID   atomic.Uint64
}

var _ Sink = &Hub{}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) Name() string {
	return "websocket"
}

func (h *Hub) Publish(n *broker.Notification) error {
	h.conns.Range(func(k, v interface{}) bool {
		c := v.(chan *broker.Notification)
		select {
		case c <- n:
		default:
			log.Warning("WebSocket client %v is blocked, dropping %s", k, n)
		}
		return true
	})
	return nil
}

// Clients is the number of connected clients
func (h *Hub) Clients() int {
	count := 0
	h.conns.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("WebSocket upgrade error: %s", err)
		return
	}
	defer c.Close()

	id := fmt.Sprintf("%s#%d", r.RemoteAddr, h.nextID.Add(1))
	ch := make(chan *broker.Notification, clientBuffer)
	h.conns.Store(id, ch)
	defer h.conns.Delete(id)
	log.Debug("WebSocket client %s connected", id)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				log.Debug("WebSocket client %s: %s", id, err)
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case n := <-ch:
			if err := c.WriteJSON(n); err != nil {
				log.Debug("WebSocket client %s write: %s", id, err)
				return
			}
		}
	}
}
