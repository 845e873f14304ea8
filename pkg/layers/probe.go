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

package layers

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"jinr.ru/greenlab/go-hostport/pkg/log"
)

const (
	// ProbeLayerNum identifies the layer
	ProbeLayerNum = 2002
	// ProbeOpLayerNum identifies the layer
	ProbeOpLayerNum = 2003
	// ProbeSync is a magic number in the beginning of each probe frame
	ProbeSync = 0x4850
	// ProbeHeaderSize is the size of the probe frame header in bytes
	ProbeHeaderSize = 12
	// ProbeMaxFrameSize is the max size of a probe frame including header and CRC
	ProbeMaxFrameSize = 1400

	ProbeHostAddr   = 1
	ProbeDeviceAddr = 0xfefe
)

type ProbeType uint16

const (
	ProbeTypeRequest  ProbeType = 0x0201
	ProbeTypeResponse ProbeType = 0x0202
)

func (t ProbeType) String() string {
	switch t {
	case ProbeTypeRequest:
		return "request"
	case ProbeTypeResponse:
		return "response"
	}
	return fmt.Sprintf("probe_type(0x%04x)", uint16(t))
}

type ProbeHeader struct {
	Type ProbeType
	Sync uint16
	Seq  uint16
	Len  uint16 // length of the frame including header, payload and CRC in 4-byte words
	Src  uint16
	Dst  uint16
}

// ProbeLayer is the frame of the debug probe UDP transport.
// The CRC trailer is crc32 over the header and the payload.
type ProbeLayer struct {
	layers.BaseLayer
	ProbeHeader
	Crc uint32
}

var ProbeLayerType = gopacket.RegisterLayerType(ProbeLayerNum,
	gopacket.LayerTypeMetadata{Name: "ProbeLayerType", Decoder: gopacket.DecodeFunc(decodeProbeLayer)})

func (pl *ProbeLayer) LayerType() gopacket.LayerType {
	return ProbeLayerType
}

// SerializeHeader serializes only the header, the CRC is calculated
// by the caller over the serialized header and payload.
func (pl *ProbeLayer) SerializeHeader(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(pl.Type))
	binary.LittleEndian.PutUint16(buf[2:4], pl.Sync)
	binary.LittleEndian.PutUint16(buf[4:6], pl.Seq)
	binary.LittleEndian.PutUint16(buf[6:8], pl.Len)
	binary.LittleEndian.PutUint16(buf[8:10], pl.Src)
	binary.LittleEndian.PutUint16(buf[10:12], pl.Dst)
}

// SerializeTo serializes the layer into bytes and writes the bytes to the SerializeBuffer
func (pl *ProbeLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	headerBytes, err := b.PrependBytes(ProbeHeaderSize)
	if err != nil {
		return err
	}
	pl.SerializeHeader(headerBytes)

	tailBytes, err := b.AppendBytes(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(tailBytes[0:4], pl.Crc)
	return nil
}

// DecodeFromBytes attempts to decode the byte slice as a probe frame
func (pl *ProbeLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < ProbeHeaderSize+4 {
		df.SetTruncated()
		return errors.New("Probe frame too short")
	}

	if binary.LittleEndian.Uint16(data[2:4]) != ProbeSync {
		log.Debug("Probe sync is invalid")
		return fmt.Errorf("Wrong probe sync. Must be 0x%04x", ProbeSync)
	}

	pl.BaseLayer = layers.BaseLayer{
		Contents: data[0:ProbeHeaderSize],
		Payload:  data[ProbeHeaderSize : len(data)-4],
	}

	pl.Type = ProbeType(binary.LittleEndian.Uint16(data[0:2]))
	pl.Sync = binary.LittleEndian.Uint16(data[2:4])
	pl.Seq = binary.LittleEndian.Uint16(data[4:6])
	pl.Len = binary.LittleEndian.Uint16(data[6:8])
	pl.Src = binary.LittleEndian.Uint16(data[8:10])
	pl.Dst = binary.LittleEndian.Uint16(data[10:12])
	pl.Crc = binary.LittleEndian.Uint32(data[len(data)-4:])

	if int(pl.Len)*4 != len(data) {
		return fmt.Errorf("Wrong probe frame length: header says %d words, got %d bytes", pl.Len, len(data))
	}
	if crc := crc32.ChecksumIEEE(data[:len(data)-4]); crc != pl.Crc {
		return ErrBadCRC{Expected: crc, Actual: pl.Crc}
	}
	return nil
}

func (pl *ProbeLayer) NextLayerType() gopacket.LayerType {
	return ProbeOpLayerType
}

func decodeProbeLayer(data []byte, p gopacket.PacketBuilder) error {
	pl := &ProbeLayer{}
	err := pl.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(pl)
	return p.NextDecoder(pl.NextLayerType())
}

type ProbeOpCode uint8

// Request op codes are odd, the response to a request carries op+1
const (
	ProbeOpRead        ProbeOpCode = 0x01
	ProbeOpWrite       ProbeOpCode = 0x03
	ProbeOpLoad        ProbeOpCode = 0x05
	ProbeOpReset       ProbeOpCode = 0x07
	ProbeOpUseTarget   ProbeOpCode = 0x09
	ProbeOpFirstThread ProbeOpCode = 0x0B
	ProbeOpRun         ProbeOpCode = 0x0D
	ProbeOpEnumerate   ProbeOpCode = 0x0F
)

var probeOpNames = map[ProbeOpCode]string{
	ProbeOpRead:        "read",
	ProbeOpWrite:       "write",
	ProbeOpLoad:        "load",
	ProbeOpReset:       "reset",
	ProbeOpUseTarget:   "use_target",
	ProbeOpFirstThread: "first_thread",
	ProbeOpRun:         "run",
	ProbeOpEnumerate:   "enumerate",
}

func (op ProbeOpCode) String() string {
	if op.IsResponse() {
		return op.Request().String() + "_resp"
	}
	if name, ok := probeOpNames[op]; ok {
		return name
	}
	return fmt.Sprintf("probe_op(0x%02x)", uint8(op))
}

func (op ProbeOpCode) IsResponse() bool {
	return op != 0 && op%2 == 0
}

func (op ProbeOpCode) Response() ProbeOpCode {
	return op + 1
}

func (op ProbeOpCode) Request() ProbeOpCode {
	if op.IsResponse() {
		return op - 1
	}
	return op
}

const (
	ProbeStatusOk    uint8 = 0
	ProbeStatusError uint8 = 1
)

// ProbeOp is one register interface call or its result.
// Blob carries strings: the program path, the target id, the error text
// or the enumerated targets.
type ProbeOp struct {
	Op     ProbeOpCode
	Status uint8
	Addr   uint32
	Data   []uint32
	Blob   []byte
}

// Size is the number of bytes the op occupies in a frame
func (op *ProbeOp) Size() int {
	return 12 + len(op.Data)*4 + (len(op.Blob)+3)/4*4
}

type ProbeOpLayer struct {
	layers.BaseLayer
	*ProbeOp
}

var ProbeOpLayerType = gopacket.RegisterLayerType(ProbeOpLayerNum,
	gopacket.LayerTypeMetadata{Name: "ProbeOpLayerType", Decoder: gopacket.DecodeFunc(DecodeProbeOpLayer)})

func (pol *ProbeOpLayer) LayerType() gopacket.LayerType {
	return ProbeOpLayerType
}

// Serialize serializes the op to a buffer of op.Size() bytes.
// The probe frame CRC depends on these bytes.
func (pol *ProbeOpLayer) Serialize(buf []byte) {
	op := pol.ProbeOp
	binary.LittleEndian.PutUint32(buf[0:4],
		uint32(op.Op)<<24|uint32(op.Status)<<16|uint32(len(op.Data))&0xffff)
	binary.LittleEndian.PutUint32(buf[4:8], op.Addr)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(op.Blob)))
	offset := 12
	for _, word := range op.Data {
		binary.LittleEndian.PutUint32(buf[offset:offset+4], word)
		offset += 4
	}
	copy(buf[offset:], op.Blob)
}

func (pol *ProbeOpLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.AppendBytes(pol.ProbeOp.Size())
	if err != nil {
		return err
	}
	pol.Serialize(bytes)
	return nil
}

func (pol *ProbeOpLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 12 {
		df.SetTruncated()
		return errors.New("Probe op too short")
	}
	hdr := binary.LittleEndian.Uint32(data[0:4])
	op := &ProbeOp{
		Op:     ProbeOpCode(hdr >> 24),
		Status: uint8(hdr >> 16),
		Addr:   binary.LittleEndian.Uint32(data[4:8]),
	}
	count := int(hdr & 0xffff)
	blobLen := int(binary.LittleEndian.Uint32(data[8:12]))
	if 12+count*4+blobLen > len(data) {
		df.SetTruncated()
		return fmt.Errorf("Probe op truncated: %d data words and %d blob bytes do not fit %d bytes",
			count, blobLen, len(data))
	}
	offset := 12
	for i := 0; i < count; i++ {
		op.Data = append(op.Data, binary.LittleEndian.Uint32(data[offset:offset+4]))
		offset += 4
	}
	if blobLen > 0 {
		op.Blob = append([]byte(nil), data[offset:offset+blobLen]...)
	}
	pol.BaseLayer = layers.BaseLayer{
		Contents: data[:],
		Payload:  []byte{},
	}
	pol.ProbeOp = op
	return nil
}

func (pol *ProbeOpLayer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeZero
}

func DecodeProbeOpLayer(data []byte, p gopacket.PacketBuilder) error {
	pol := &ProbeOpLayer{}
	err := pol.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(pol)
	return nil
}

// ProbeOpToBytes builds a complete probe frame carrying the op
func ProbeOpToBytes(op *ProbeOp, t ProbeType, seq, src, dst uint16) ([]byte, error) {
	if ProbeHeaderSize+op.Size()+4 > ProbeMaxFrameSize {
		return nil, fmt.Errorf("Probe op %s of %d bytes does not fit a frame", op.Op, op.Size())
	}
	pl := &ProbeLayer{}
	pl.Type = t
	pl.Sync = ProbeSync
	pl.Seq = seq
	// 3 words header + op words + 1 word CRC
	pl.Len = uint16(3 + op.Size()/4 + 1)
	pl.Src = src
	pl.Dst = dst

	headerBytes := make([]byte, ProbeHeaderSize)
	pl.SerializeHeader(headerBytes)

	pol := &ProbeOpLayer{ProbeOp: op}
	opBytes := make([]byte, op.Size())
	pol.Serialize(opBytes)

	pl.Crc = crc32.ChecksumIEEE(append(headerBytes, opBytes...))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	err := gopacket.SerializeLayers(buf, opts, pl, pol)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ProbeOpFromPacket returns the frame header and the op carried by a decoded packet
func ProbeOpFromPacket(packet gopacket.Packet) (*ProbeLayer, *ProbeOp, error) {
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return nil, nil, errLayer.Error()
	}
	pl := packet.Layer(ProbeLayerType)
	pol := packet.Layer(ProbeOpLayerType)
	if pl == nil || pol == nil {
		return nil, nil, errors.New("Not a probe frame")
	}
	return pl.(*ProbeLayer), pol.(*ProbeOpLayer).ProbeOp, nil
}
