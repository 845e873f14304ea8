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
	"fmt"
	"strings"
)

const (
	// HeaderWords is the number of words before the payload, length word included
	HeaderWords = 6
	WordBytes   = 4
	// AsyncFlag is set in the sequence word of messages the device sends on its own
	AsyncFlag uint32 = 0x10000
	// SeqLimit bounds the caller assigned sequence id, it cycles through 0..SeqLimit-1
	SeqLimit = 27
	// MaxMessageBytes bounds the length word of a message read from the user buffer
	MaxMessageBytes = 1024
)

type FunctionCode uint32

const (
	FuncPing        FunctionCode = 0x00
	FuncReady       FunctionCode = 0x01
	FuncActivate    FunctionCode = 0x02
	FuncActivated   FunctionCode = 0x03
	FuncDeactivate  FunctionCode = 0x04
	FuncDeactivated FunctionCode = 0x05
	FuncSetReg      FunctionCode = 0x06
	FuncRegValue    FunctionCode = 0x07
	FuncGetReg      FunctionCode = 0x08
	FuncAutoOn      FunctionCode = 0x0A
	FuncAutoOff     FunctionCode = 0x0C
	FuncError       FunctionCode = 0xFFFFFFFF
)

var functionNames = map[FunctionCode]string{
	FuncPing:        "ping",
	FuncReady:       "ready",
	FuncActivate:    "activate",
	FuncActivated:   "activated",
	FuncDeactivate:  "deactivate",
	FuncDeactivated: "deactivated",
	FuncSetReg:      "setreg",
	FuncRegValue:    "regvalue",
	FuncGetReg:      "getreg",
	FuncAutoOn:      "auto_on",
	FuncAutoOff:     "auto_off",
	FuncError:       "error",
}

func (f FunctionCode) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("func(0x%x)", uint32(f))
}

// Message is the fixed shape word sequence exchanged through the host port buffers:
// [totalLength, reserved, targetId, sequenceId, functionCode, payloadLength, payload...]
// Lengths are in bytes and exclude the length word itself.
type Message struct {
	Length        uint32
	Source        uint32 // reserved on requests, source id on activate/deactivate replies
	Target        uint32
	Seq           uint32 // sequence id on requests, AsyncFlag on device pushes
	Function      FunctionCode
	PayloadLength uint32
	Payload       []uint32
}

func newRequest(target, seq uint32, fn FunctionCode, payload ...uint32) *Message {
	m := &Message{
		Target:   target,
		Seq:      seq,
		Function: fn,
		Payload:  payload,
	}
	m.PayloadLength = uint32(len(payload) * WordBytes)
	m.Length = uint32((HeaderWords - 1 + len(payload)) * WordBytes)
	return m
}

func NewPing(seq uint32) *Message {
	return newRequest(0, seq, FuncPing)
}

func NewActivate(seq, demodID, channelID uint32) *Message {
	return newRequest(0, seq, FuncActivate, demodID, channelID)
}

func NewDeactivate(seq, target uint32) *Message {
	return newRequest(target, seq, FuncDeactivate)
}

func NewSetReg(seq, target, reg, value uint32) *Message {
	return newRequest(target, seq, FuncSetReg, reg, value)
}

func NewGetReg(seq, target, reg uint32) *Message {
	return newRequest(target, seq, FuncGetReg, reg)
}

func NewAutoOn(seq, target, reg uint32) *Message {
	return newRequest(target, seq, FuncAutoOn, reg)
}

func NewAutoOff(seq, target, reg uint32) *Message {
	return newRequest(target, seq, FuncAutoOff, reg)
}

// NewReply builds a device side message, used by the simulated device
func NewReply(source, target, seq uint32, fn FunctionCode, payload ...uint32) *Message {
	m := newRequest(target, seq, fn, payload...)
	m.Source = source
	return m
}

// NewAsync builds an unsolicited register push
func NewAsync(target, reg, value uint32) *Message {
	return newRequest(target, AsyncFlag, FuncRegValue, reg, value)
}

// IsAsync reports whether the device sent the message on its own
func (m *Message) IsAsync() bool {
	return m.Seq&AsyncFlag != 0
}

// Validate checks that the lengths agree with the words actually carried
func (m *Message) Validate() error {
	if m == nil {
		return ErrInvalidMessageShape{What: "nil message"}
	}
	if m.PayloadLength != uint32(len(m.Payload)*WordBytes) {
		return ErrInvalidMessageShape{What: fmt.Sprintf("payload length %d does not match %d payload words",
			m.PayloadLength, len(m.Payload))}
	}
	if m.Length != uint32((HeaderWords-1+len(m.Payload))*WordBytes) {
		return ErrInvalidMessageShape{What: fmt.Sprintf("total length %d does not match %d words",
			m.Length, HeaderWords+len(m.Payload))}
	}
	if m.Length+WordBytes > MaxMessageBytes {
		return ErrInvalidMessageShape{What: fmt.Sprintf("message of %d bytes is too long", m.Length)}
	}
	return nil
}

// Words flattens the message in wire order
func (m *Message) Words() []uint32 {
	words := make([]uint32, 0, HeaderWords+len(m.Payload))
	words = append(words, m.Length, m.Source, m.Target, m.Seq, uint32(m.Function), m.PayloadLength)
	return append(words, m.Payload...)
}

// PayloadWord returns the payload word i or false when the payload is shorter
func (m *Message) PayloadWord(i int) (uint32, bool) {
	if i < 0 || i >= len(m.Payload) {
		return 0, false
	}
	return m.Payload[i], true
}

func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s target=%d seq=0x%x src=%d", m.Function, m.Target, m.Seq, m.Source)
	if len(m.Payload) > 0 {
		b.WriteString(" payload=[")
		for i, w := range m.Payload {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "0x%x", w)
		}
		b.WriteString("]")
	}
	return b.String()
}

// EncodeOutboundMessage returns the words to copy into the host buffer
// and the command word announcing them in the host control register.
func EncodeOutboundMessage(m *Message) ([]uint32, Snapshot, error) {
	if err := m.Validate(); err != nil {
		return nil, 0, err
	}
	return m.Words(), CommandWord(m.Length), nil
}

// CommandWord announces a message of length bytes (length word excluded)
func CommandWord(length uint32) Snapshot {
	return Snapshot(TagBufReady.Word(length + WordBytes))
}

// MessageWordCount is the number of words to read from the user buffer for the given length word
func MessageWordCount(length uint32) int {
	return int(length/WordBytes) + 1
}

// DecodeMessage builds a message from the words read from the user buffer
// or collected from a control frame.
func DecodeMessage(words []uint32) (*Message, error) {
	if len(words) < HeaderWords {
		return nil, ErrMalformedFrame{What: fmt.Sprintf("message of %d words is shorter than header", len(words))}
	}
	m := &Message{
		Length:        words[0],
		Source:        words[1],
		Target:        words[2],
		Seq:           words[3],
		Function:      FunctionCode(words[4]),
		PayloadLength: words[5],
	}
	n := int(m.PayloadLength / WordBytes)
	if n > len(words)-HeaderWords {
		return nil, ErrMalformedFrame{What: fmt.Sprintf("payload length %d exceeds %d available words",
			m.PayloadLength, len(words)-HeaderWords)}
	}
	m.Payload = append([]uint32(nil), words[HeaderWords:HeaderWords+n]...)
	return m, nil
}
