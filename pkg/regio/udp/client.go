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

// Package udp implements the register interface over the UDP debug probe proxy.
package udp

import (
	"errors"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-hostport/pkg/config"
	"jinr.ru/greenlab/go-hostport/pkg/layers"
	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/regio"
)

type Client struct {
	conn    *net.UDPConn
	timeout time.Duration
	retries int
	seq     uint16
	buffer  []byte
}

var _ regio.RegisterInterface = &Client{}

// NewClient connects to the probe proxy. The client is not safe for concurrent use.
func NewClient(cfg *config.ProbeConfig) (*Client, error) {
	log.Debug("Connecting to probe at %s", cfg.Addr())
	raddr, err := net.ResolveUDPAddr("udp", cfg.Addr())
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultProbeTimeout
	}
	return &Client{
		conn:    conn,
		timeout: timeout,
		retries: retries,
		buffer:  make([]byte, 65536),
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) nextSeq() uint16 {
	seq := c.seq
	c.seq++
	return seq
}

// request sends the op and waits for the response with the same sequence number.
// Responses to earlier attempts are dropped.
func (c *Client) request(op *layers.ProbeOp) (*layers.ProbeOp, error) {
	seq := c.nextSeq()
	data, err := layers.ProbeOpToBytes(op, layers.ProbeTypeRequest, seq, layers.ProbeHostAddr, layers.ProbeDeviceAddr)
	if err != nil {
		return nil, err
	}
	attempts := c.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			log.Debug("Probe request %s seq %d: retry %d", op.Op, seq, attempt)
		}
		if _, err := c.conn.Write(data); err != nil {
			return nil, err
		}
		resp, err := c.receive(op.Op, seq)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if resp.Status != layers.ProbeStatusOk {
			return nil, ErrProbeStatus{Op: op.Op, What: string(resp.Blob)}
		}
		return resp, nil
	}
	return nil, ErrProbeTimeout{Op: op.Op, Attempts: attempts, Timeout: c.timeout}
}

func (c *Client) receive(op layers.ProbeOpCode, seq uint16) (*layers.ProbeOp, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	for {
		length, err := c.conn.Read(c.buffer)
		if err != nil {
			return nil, err
		}
		packet := gopacket.NewPacket(c.buffer[:length], layers.ProbeLayerType, gopacket.Default)
		pl, resp, err := layers.ProbeOpFromPacket(packet)
		if err != nil {
			log.Debug("Drop probe packet: %s", err)
			continue
		}
		if pl.Type != layers.ProbeTypeResponse || pl.Seq != seq || resp.Op != op.Response() {
			log.Debug("Drop probe packet: %s seq %d while waiting for seq %d", resp.Op, pl.Seq, seq)
			continue
		}
		return resp, nil
	}
}

func firstWord(op layers.ProbeOpCode, resp *layers.ProbeOp) (uint32, error) {
	if len(resp.Data) == 0 {
		return 0, ErrShortResponse{Op: op}
	}
	return resp.Data[0], nil
}

func (c *Client) ReadWord(addr uint32) (uint32, error) {
	resp, err := c.request(&layers.ProbeOp{Op: layers.ProbeOpRead, Addr: addr})
	if err != nil {
		return 0, err
	}
	return firstWord(layers.ProbeOpRead, resp)
}

func (c *Client) WriteWord(addr, word uint32) error {
	_, err := c.request(&layers.ProbeOp{Op: layers.ProbeOpWrite, Addr: addr, Data: []uint32{word}})
	return err
}

func (c *Client) LoadProgram(path string, showProgress bool) error {
	var progress uint32
	if showProgress {
		progress = 1
	}
	_, err := c.request(&layers.ProbeOp{Op: layers.ProbeOpLoad, Data: []uint32{progress}, Blob: []byte(path)})
	return err
}

func (c *Client) HardReset() error {
	_, err := c.request(&layers.ProbeOp{Op: layers.ProbeOpReset})
	return err
}

func (c *Client) UseTarget(id string) error {
	_, err := c.request(&layers.ProbeOp{Op: layers.ProbeOpUseTarget, Blob: []byte(id)})
	return err
}

func (c *Client) FirstThread() (regio.ThreadHandle, error) {
	resp, err := c.request(&layers.ProbeOp{Op: layers.ProbeOpFirstThread})
	if err != nil {
		return 0, err
	}
	thread, err := firstWord(layers.ProbeOpFirstThread, resp)
	return regio.ThreadHandle(thread), err
}

func (c *Client) Run(thread regio.ThreadHandle) error {
	_, err := c.request(&layers.ProbeOp{Op: layers.ProbeOpRun, Data: []uint32{uint32(thread)}})
	return err
}

// EnumerateTargets returns the targets the probe reports as a YAML list
func (c *Client) EnumerateTargets() ([]regio.TargetInfo, error) {
	resp, err := c.request(&layers.ProbeOp{Op: layers.ProbeOpEnumerate})
	if err != nil {
		return nil, err
	}
	var targets []regio.TargetInfo
	if err := yaml.Unmarshal(resp.Blob, &targets); err != nil {
		return nil, err
	}
	return targets, nil
}
