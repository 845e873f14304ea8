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

package srv

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/google/gopacket"
)

type InPacket struct {
	Data []byte
	gopacket.CaptureInfo
}

type OutPacket struct {
	Data []byte
	*net.UDPAddr
}

// GetAddrPort returns the UDPAddr of the peer that sent the packet
func GetAddrPort(packet gopacket.Packet) (*net.UDPAddr, error) {
	meta := packet.Metadata()
	if len(meta.CaptureInfo.AncillaryData) >= 1 {
		ancillary := meta.CaptureInfo.AncillaryData[0]
		udpAddr, ok := ancillary.(*net.UDPAddr)
		if !ok {
			return nil, ErrGetAddr{}
		}
		return udpAddr, nil
	}
	return nil, ErrGetAddr{}
}

// Server is the base of the UDP servers. Received packets are put to ChIn
// and read back through ReadPacketData by a gopacket.PacketSource.
type Server struct {
	context.Context
	*net.UDPAddr
	ChIn  chan InPacket
	ChOut chan OutPacket
}

// ReadPacketData reads ChIn and returns packet data and metadata.
// This method is from PacketDataSource interface.
func (s *Server) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case p := <-s.ChIn:
		return p.Data, p.CaptureInfo, nil
	case <-s.Context.Done():
		return nil, gopacket.CaptureInfo{}, s.Context.Err()
	}
}

// Flags is the state shared by the session worker, the sequencer and the broker.
type Flags struct {
	paused   atomic.Bool
	closing  atomic.Bool
	faulted  atomic.Bool
	timeouts atomic.Bool
}

func NewFlags(timeouts bool) *Flags {
	f := &Flags{}
	f.timeouts.Store(timeouts)
	return f
}

func (f *Flags) Pause()       { f.paused.Store(true) }
func (f *Flags) Resume()      { f.paused.Store(false) }
func (f *Flags) Paused() bool { return f.paused.Load() }

func (f *Flags) SetClosing()   { f.closing.Store(true) }
func (f *Flags) Closing() bool { return f.closing.Load() }

// Fault poisons the bridge, it is never cleared
func (f *Flags) Fault()        { f.faulted.Store(true) }
func (f *Flags) Faulted() bool { return f.faulted.Load() }

func (f *Flags) SetTimeouts(enabled bool) { f.timeouts.Store(enabled) }
func (f *Flags) Timeouts() bool           { return f.timeouts.Load() }

// Halted is true once the bridge is closing or faulted
func (f *Flags) Halted() bool {
	return f.Closing() || f.Faulted()
}
