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
	"errors"
	"reflect"
	"testing"

	"github.com/google/gopacket"
)

func TestHostPortLayer(t *testing.T) {
	m := NewReply(7, 7, 3, FuncRegValue, 0x20, 0x99)
	data, err := MessageToBytes(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 8*4 {
		t.Fatalf("expected 32 bytes, got %d", len(data))
	}
	if data[0] != 0x1c || data[4] != 7 {
		t.Fatalf("expected little endian words, got % x", data[:8])
	}
	decoded, err := MessageFromBytes(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(decoded.Words(), m.Words()) {
		t.Fatalf("expected %x, got %x", m.Words(), decoded.Words())
	}
	if _, err := MessageFromBytes(data[:10]); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
}

func TestProbeFrame(t *testing.T) {
	op := &ProbeOp{
		Op:   ProbeOpLoad,
		Data: []uint32{1},
		Blob: []byte("prog.elf"),
	}
	data, err := ProbeOpToBytes(op, ProbeTypeRequest, 42, ProbeHostAddr, ProbeDeviceAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data)%4 != 0 {
		t.Fatalf("frame must be word aligned, got %d bytes", len(data))
	}

	packet := gopacket.NewPacket(data, ProbeLayerType, gopacket.Default)
	pl, decoded, err := ProbeOpFromPacket(packet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pl.Seq != 42 || pl.Type != ProbeTypeRequest {
		t.Fatalf("unexpected header %+v", pl.ProbeHeader)
	}
	if decoded.Op != ProbeOpLoad || string(decoded.Blob) != "prog.elf" || !reflect.DeepEqual(decoded.Data, []uint32{1}) {
		t.Fatalf("unexpected op %+v", decoded)
	}

	data[ProbeHeaderSize+4] ^= 0xff
	packet = gopacket.NewPacket(data, ProbeLayerType, gopacket.Default)
	_, _, err = ProbeOpFromPacket(packet)
	var crcErr ErrBadCRC
	if !errors.As(err, &crcErr) {
		t.Fatalf("expected ErrBadCRC, got %v", err)
	}
}

func TestProbeOpCodes(t *testing.T) {
	for op := range probeOpNames {
		if op.IsResponse() {
			t.Fatalf("request op %s must be odd", op)
		}
		if op.Response().Request() != op {
			t.Fatalf("response of %s does not map back", op)
		}
	}
	if ProbeOpRead.Response().String() != "read_resp" {
		t.Fatalf("unexpected name %s", ProbeOpRead.Response())
	}
}
