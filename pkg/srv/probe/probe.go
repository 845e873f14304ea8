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

// Package probe serves a register interface to the network as the UDP
// debug probe proxy. It is used to expose the simulated device.
package probe

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-hostport/pkg/layers"
	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/regio"
	"jinr.ru/greenlab/go-hostport/pkg/srv"
)

type ProbeServer struct {
	srv.Server
	reg  regio.RegisterInterface
	mu   sync.Mutex
	conn *net.UDPConn
}

// NewProbeServer ...
func NewProbeServer(ctx context.Context, listen string, reg regio.RegisterInterface) (*ProbeServer, error) {
	log.Debug("Initializing probe server with address: %s", listen)
	uaddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, err
	}
	return &ProbeServer{
		Server: srv.Server{
			Context: ctx,
			UDPAddr: uaddr,
			ChIn:    make(chan srv.InPacket),
			ChOut:   make(chan srv.OutPacket),
		},
		reg: reg,
	}, nil
}

// Listen binds the socket, Run calls it when it was not called before
func (s *ProbeServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	conn, err := net.ListenUDP("udp", s.UDPAddr)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// Addr is the bound address, it differs from the configured one for port 0
func (s *ProbeServer) Addr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return s.UDPAddr
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *ProbeServer) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}
	conn := s.conn
	defer conn.Close()
	log.Info("Probe server listening on %s", conn.LocalAddr())

	errChan := make(chan error, 1)

	// Read UDP packets from wire and put them to input queue
	go func() {
		buffer := make([]byte, 65536)
		for {
			length, udpAddr, readErr := conn.ReadFromUDP(buffer)
			if readErr != nil {
				errChan <- readErr
				return
			}
			captureInfo := gopacket.CaptureInfo{
				Length:        length,
				CaptureLength: length,
				Timestamp:     time.Now(),
				AncillaryData: []interface{}{udpAddr},
			}
			data := append([]byte(nil), buffer[:length]...)
			select {
			case s.ChIn <- srv.InPacket{Data: data, CaptureInfo: captureInfo}:
			case <-s.Context.Done():
				return
			}
		}
	}()

	// Read captured packets from input queue, run the ops and queue responses
	go func() {
		source := gopacket.NewPacketSource(s, layers.ProbeLayerType)
		for packet := range source.Packets() {
			udpAddr, err := srv.GetAddrPort(packet)
			if err != nil {
				log.Error(err.Error())
				continue
			}
			pl, op, err := layers.ProbeOpFromPacket(packet)
			if err != nil {
				log.Debug("Drop packet from %s: %s", udpAddr, err)
				continue
			}
			if pl.Type != layers.ProbeTypeRequest || op.Op.IsResponse() {
				log.Debug("Drop packet from %s: not a request", udpAddr)
				continue
			}
			resp := s.handle(op)
			data, err := layers.ProbeOpToBytes(resp, layers.ProbeTypeResponse, pl.Seq, layers.ProbeDeviceAddr, pl.Src)
			if err != nil {
				log.Error("Error while serializing %s response to %s: %s", op.Op, udpAddr, err)
				continue
			}
			select {
			case s.ChOut <- srv.OutPacket{Data: data, UDPAddr: udpAddr}:
			case <-s.Context.Done():
				return
			}
		}
	}()

	// Read packets from output queue and send them to wire
	go func() {
		for {
			select {
			case outPacket := <-s.ChOut:
				if _, sendErr := conn.WriteToUDP(outPacket.Data, outPacket.UDPAddr); sendErr != nil {
					log.Error("Error while sending data to %s", outPacket.UDPAddr)
					errChan <- sendErr
					return
				}
			case <-s.Context.Done():
				return
			}
		}
	}()

	select {
	case <-s.Context.Done():
		return s.Context.Err()
	case err := <-errChan:
		return err
	}
}

func failed(resp *layers.ProbeOp, err error) *layers.ProbeOp {
	resp.Status = layers.ProbeStatusError
	resp.Data = nil
	resp.Blob = []byte(err.Error())
	return resp
}

// handle runs the op against the register interface
func (s *ProbeServer) handle(op *layers.ProbeOp) *layers.ProbeOp {
	resp := &layers.ProbeOp{Op: op.Op.Response(), Addr: op.Addr}
	arg := func() uint32 {
		if len(op.Data) == 0 {
			return 0
		}
		return op.Data[0]
	}

	var err error
	switch op.Op {
	case layers.ProbeOpRead:
		var word uint32
		word, err = s.reg.ReadWord(op.Addr)
		resp.Data = []uint32{word}
	case layers.ProbeOpWrite:
		err = s.reg.WriteWord(op.Addr, arg())
	case layers.ProbeOpLoad:
		err = s.reg.LoadProgram(string(op.Blob), arg() != 0)
	case layers.ProbeOpReset:
		err = s.reg.HardReset()
	case layers.ProbeOpUseTarget:
		err = s.reg.UseTarget(string(op.Blob))
	case layers.ProbeOpFirstThread:
		var thread regio.ThreadHandle
		thread, err = s.reg.FirstThread()
		resp.Data = []uint32{uint32(thread)}
	case layers.ProbeOpRun:
		err = s.reg.Run(regio.ThreadHandle(arg()))
	case layers.ProbeOpEnumerate:
		var targets []regio.TargetInfo
		if targets, err = s.reg.EnumerateTargets(); err == nil {
			resp.Blob, err = yaml.Marshal(targets)
		}
	default:
		err = ErrUnknownOp{Op: op.Op}
	}
	if err != nil {
		log.Debug("Probe op %s failed: %s", op.Op, err)
		return failed(resp, err)
	}
	return resp
}
