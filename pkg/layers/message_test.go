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
)

func TestRequestShapes(t *testing.T) {
	tests := []struct {
		name  string
		msg   *Message
		words []uint32
	}{
		{"ping", NewPing(3), []uint32{0x14, 0, 0, 3, 0x00, 0}},
		{"activate", NewActivate(4, 1, 2), []uint32{0x1c, 0, 0, 4, 0x02, 8, 1, 2}},
		{"deactivate", NewDeactivate(5, 7), []uint32{0x14, 0, 7, 5, 0x04, 0}},
		{"setreg", NewSetReg(6, 7, 0x20, 0x99), []uint32{0x1c, 0, 7, 6, 0x06, 8, 0x20, 0x99}},
		{"getreg", NewGetReg(7, 7, 0x20), []uint32{0x18, 0, 7, 7, 0x08, 4, 0x20}},
		{"auto_on", NewAutoOn(8, 7, 0x21), []uint32{0x18, 0, 7, 8, 0x0A, 4, 0x21}},
		{"auto_off", NewAutoOff(9, 7, 0x21), []uint32{0x18, 0, 7, 9, 0x0C, 4, 0x21}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words, cmd, err := EncodeOutboundMessage(tt.msg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(words, tt.words) {
				t.Fatalf("words: expected %x, got %x", tt.words, words)
			}
			if want := Snapshot(0x86000000 | (tt.words[0] + 4)); cmd != want {
				t.Fatalf("command word: expected %s, got %s", want, cmd)
			}
		})
	}
}

func TestEncodeRejectsBadShape(t *testing.T) {
	m := NewSetReg(0, 7, 0x20, 0x99)
	m.PayloadLength = 4
	_, _, err := EncodeOutboundMessage(m)
	var shapeErr ErrInvalidMessageShape
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected ErrInvalidMessageShape, got %v", err)
	}

	m = NewPing(0)
	m.Length = 0x18
	if _, _, err := EncodeOutboundMessage(m); !errors.As(err, &shapeErr) {
		t.Fatalf("expected ErrInvalidMessageShape for wrong total length, got %v", err)
	}

	if _, _, err := EncodeOutboundMessage(nil); !errors.As(err, &shapeErr) {
		t.Fatalf("expected ErrInvalidMessageShape for nil message, got %v", err)
	}
}

func TestDecodeMessage(t *testing.T) {
	m, err := DecodeMessage([]uint32{0x1c, 0, 7, 0x10000, 7, 8, 0x21, 0x55})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.IsAsync() {
		t.Fatalf("expected async message")
	}
	if m.Function != FuncRegValue || m.Target != 7 {
		t.Fatalf("unexpected header: %s", m)
	}
	if v, ok := m.PayloadWord(1); !ok || v != 0x55 {
		t.Fatalf("expected payload[1] = 0x55, got 0x%x %v", v, ok)
	}
	if _, ok := m.PayloadWord(2); ok {
		t.Fatalf("payload[2] must not exist")
	}

	var frameErr ErrMalformedFrame
	if _, err := DecodeMessage([]uint32{0x14, 0, 0}); !errors.As(err, &frameErr) {
		t.Fatalf("expected ErrMalformedFrame for short message, got %v", err)
	}
	if _, err := DecodeMessage([]uint32{0x1c, 0, 7, 1, 7, 8, 0x21}); !errors.As(err, &frameErr) {
		t.Fatalf("expected ErrMalformedFrame for short payload, got %v", err)
	}
}

func TestMessageWordCount(t *testing.T) {
	// the buffered read covers offsets 0..length inclusive in steps of 4
	if n := MessageWordCount(0x1c); n != 8 {
		t.Fatalf("expected 8 words, got %d", n)
	}
	if n := MessageWordCount(0x14); n != 6 {
		t.Fatalf("expected 6 words, got %d", n)
	}
}

func TestSnapshot(t *testing.T) {
	s := Snapshot(0x85000010)
	if !s.Pending() || s.Tag() != TagBufBaseU || s.Length() != 0x10 {
		t.Fatalf("unexpected classification of %s", s)
	}
	if s.BufferAddr() != 0xB7000030 {
		t.Fatalf("unexpected buffer address 0x%08x", s.BufferAddr())
	}
	if !Snapshot(0x86000000).Busy() || !Snapshot(0x86123456).Busy() {
		t.Fatalf("expected busy pattern")
	}
	if Snapshot(0x84000000).Busy() {
		t.Fatalf("host buffer pointer must not be busy")
	}
	if !Snapshot(0x84000040).HostBufferReady() {
		t.Fatalf("expected host buffer ready")
	}
	if Snapshot(0x86000040).HostBufferReady() {
		t.Fatalf("busy pattern must not count as host buffer ready")
	}
	if Snapshot(0x0).Latched() || !Snapshot(0x10000000).Latched() {
		t.Fatalf("wrong latched classification")
	}
}
