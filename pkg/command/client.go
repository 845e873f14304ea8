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
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/imroc/req"

	"jinr.ru/greenlab/go-hostport/pkg/config"
	"jinr.ru/greenlab/go-hostport/pkg/regio"
	"jinr.ru/greenlab/go-hostport/pkg/srv/api"
	"jinr.ru/greenlab/go-hostport/pkg/srv/broker"
)

type ApiClient struct {
	*config.Config
	ApiPrefix string
}

func NewApiClient(cfg *config.Config) *ApiClient {
	return &ApiClient{
		Config:    cfg,
		ApiPrefix: fmt.Sprintf("http://%s/api", cfg.Api.Addr()),
	}
}

func (c *ApiClient) url(format string, v ...interface{}) string {
	return c.ApiPrefix + fmt.Sprintf(format, v...)
}

// check turns a non 200 response into ErrApi carrying the server message
func check(r *req.Resp) error {
	if r.Response().StatusCode != http.StatusOK {
		return ErrApi{Status: r.Response().Status, Message: strings.TrimSpace(r.String())}
	}
	return nil
}

func (c *ApiClient) get(out interface{}, u string, v ...interface{}) error {
	r, err := req.Get(u, v...)
	if err != nil {
		return err
	}
	if err := check(r); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return r.ToJSON(out)
}

func (c *ApiClient) post(out interface{}, u string, body interface{}) error {
	var r *req.Resp
	var err error
	if body != nil {
		r, err = req.Post(u, req.BodyJSON(body))
	} else {
		r, err = req.Post(u)
	}
	if err != nil {
		return err
	}
	if err := check(r); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return r.ToJSON(out)
}

// Ping sends request to ping the device through the bridge
func (c *ApiClient) Ping() error {
	return c.get(nil, c.url("/ping"))
}

func (c *ApiClient) Activate(demodID, channelID uint32) (uint32, error) {
	resp := &api.SourceResp{}
	err := c.post(resp, c.url("/activate"), &api.ActivateReq{DemodID: demodID, ChannelID: channelID})
	return resp.SourceID, err
}

func (c *ApiClient) Deactivate(target string) (bool, error) {
	resp := &api.DeactivatedResp{}
	err := c.post(resp, c.url("/deactivate/%s", target), nil)
	return resp.Deactivated, err
}

// RegGet sends request to read a register, target and reg are decimal or 0x prefixed
func (c *ApiClient) RegGet(target, reg string) (*api.RegHex, error) {
	resp := &api.RegHex{}
	if err := c.get(resp, c.url("/reg/%s/%s", target, reg)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ApiClient) RegSet(target, reg, value string) (*api.RegHex, error) {
	resp := &api.RegHex{}
	if err := c.post(resp, c.url("/reg/%s/%s", target, reg), &api.ValueReq{Value: value}); err != nil {
		return nil, err
	}
	return resp, nil
}

// RegList returns the cached registers of a target
func (c *ApiClient) RegList(target string) ([]*api.RegHex, error) {
	var regs []*api.RegHex
	if err := c.get(&regs, c.url("/reg/%s", target)); err != nil {
		return nil, err
	}
	return regs, nil
}

// Auto sends request to switch register change notifications, mode is on or off
func (c *ApiClient) Auto(mode, target, reg string) (*api.RegHex, error) {
	resp := &api.RegHex{}
	if err := c.post(resp, c.url("/auto/%s/%s/%s", mode, target, reg), nil); err != nil {
		return nil, err
	}
	return resp, nil
}

// SessionAction is one of pause, resume or shutdown
func (c *ApiClient) SessionAction(action string) error {
	return c.post(nil, c.url("/session/%s", action), nil)
}

func (c *ApiClient) Load(path, target string) error {
	return c.post(nil, c.url("/session/load"), &api.LoadReq{Path: path, Target: target})
}

func (c *ApiClient) Timeouts(enabled bool) error {
	return c.post(nil, c.url("/session/timeouts"), &api.TimeoutsReq{Enabled: enabled})
}

func (c *ApiClient) Session() (*api.SessionResp, error) {
	resp := &api.SessionResp{}
	if err := c.get(resp, c.url("/session")); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ApiClient) Targets() ([]regio.TargetInfo, error) {
	var targets []regio.TargetInfo
	if err := c.get(&targets, c.url("/targets")); err != nil {
		return nil, err
	}
	return targets, nil
}

// Notifications returns up to limit latest logged notifications, zero means all
func (c *ApiClient) Notifications(limit int) ([]*broker.Notification, error) {
	var notifications []*broker.Notification
	if err := c.get(&notifications, c.url("/notifications"), req.QueryParam{"limit": limit}); err != nil {
		return nil, err
	}
	return notifications, nil
}

// WatchNotifications streams notifications to fn until the context is done,
// fn returning an error or the connection is closed.
func (c *ApiClient) WatchNotifications(ctx context.Context, fn func(n *broker.Notification) error) error {
	u, err := url.Parse(c.url("/notifications/ws"))
	if err != nil {
		return err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		n := &broker.Notification{}
		if err := conn.ReadJSON(n); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(n); err != nil {
			return err
		}
	}
}
