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

import "fmt"

// Host port register window. The host writes commands to RegHostControl,
// the device latches words into RegDeviceStatus and the host acknowledges
// each latched word by writing IntAckValue to RegIntAck.
const (
	RegHostControl  uint32 = 0x02000430
	RegDeviceStatus uint32 = 0x02000434
	RegIntAck       uint32 = 0x02000438
	RegSpare        uint32 = 0x0200043C

	IntAckValue uint32 = 0x80000000

	// BufferWindowBase + 3*pointer gives the address of a message buffer
	BufferWindowBase uint32 = 0xB7000000

	ErrorWord uint32 = 0xDEADDEAD
)

const (
	IntPendingBit uint32 = 0x80000000
	TagMask       uint32 = 0xFF000000
	TypeMask      uint32 = 0x7F000000
	LengthMask    uint32 = 0x00FFFFFF
	BusyMask      uint32 = 0x8F000000
	// FlushMask selects the bits which are non zero while anything is latched
	FlushMask uint32 = 0xF0000000
)

// Tag is the upper byte of a latched word, interrupt bit included.
type Tag uint32

const (
	TagNone      Tag = 0
	TagStart     Tag = 0x81000000
	TagData      Tag = 0x82000000
	TagReady     Tag = 0x83000000
	TagBufBaseH  Tag = 0x84000000
	TagBufBaseU  Tag = 0x85000000
	TagBufReady  Tag = 0x86000000
	TagErrorWord Tag = Tag(ErrorWord & TagMask)
)

var tagNames = map[Tag]string{
	TagNone:     "none",
	TagStart:    "start",
	TagData:     "data",
	TagReady:    "ready",
	TagBufBaseH: "bufbaseh",
	TagBufBaseU: "bufbaseu",
	TagBufReady: "bufready",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tag(0x%02x)", uint32(t)>>24)
}

// Word builds a latched word with the given tag and length field
func (t Tag) Word(length uint32) uint32 {
	return uint32(t) | (length & LengthMask)
}

// Snapshot is the instantaneous value of a host port status/control register
type Snapshot uint32

func (s Snapshot) Pending() bool {
	return uint32(s)&IntPendingBit != 0
}

func (s Snapshot) Tag() Tag {
	return Tag(uint32(s) & TagMask)
}

func (s Snapshot) Type() uint32 {
	return (uint32(s) & TypeMask) >> 24
}

func (s Snapshot) Length() uint32 {
	return uint32(s) & LengthMask
}

// Busy reports the transient pattern the device shows while it prepares a buffer pointer
func (s Snapshot) Busy() bool {
	return uint32(s)&BusyMask == uint32(TagBufReady)
}

// Latched is true while the device holds anything the host has not acknowledged
func (s Snapshot) Latched() bool {
	return uint32(s)&FlushMask != 0
}

// HostBufferReady is the exit condition of the host buffer probe loop
func (s Snapshot) HostBufferReady() bool {
	return uint32(s)&uint32(TagBufBaseH) == uint32(TagBufBaseH) && !s.Busy()
}

// UserBufferReady is the exit condition of the user buffer probe loop
func (s Snapshot) UserBufferReady() bool {
	return uint32(s)&uint32(TagBufBaseU) == uint32(TagBufBaseU)
}

// BufferAddr converts the pointer carried in the length field to a buffer address
func (s Snapshot) BufferAddr() uint32 {
	return BufferWindowBase + 3*s.Length()
}

func (s Snapshot) String() string {
	return fmt.Sprintf("0x%08x(%s len=%d)", uint32(s), s.Tag(), s.Length())
}
