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

// ControlBytesPerWord is the number of payload bytes one control data word carries
const ControlBytesPerWord = 3

type Progress int

const (
	// ProgressIdle means nothing was consumed, the caller polls again without acknowledging
	ProgressIdle Progress = iota
	// ProgressConsumed means the snapshot was taken, the caller acknowledges it
	ProgressConsumed
	// ProgressComplete means the last word was taken, the caller acknowledges it and reads Words
	ProgressComplete
)

func (p Progress) String() string {
	switch p {
	case ProgressIdle:
		return "idle"
	case ProgressConsumed:
		return "consumed"
	case ProgressComplete:
		return "complete"
	}
	return fmt.Sprintf("progress(%d)", int(p))
}

// ControlDecoder collects a control framed message from successive device status snapshots.
// A frame is a start word carrying the payload length in bytes followed by data words,
// each carrying one 24 bit message word.
type ControlDecoder struct {
	started bool
	length  uint32
	words   []uint32
}

func NewControlDecoder() *ControlDecoder {
	return &ControlDecoder{}
}

// Feed consumes one snapshot. A snapshot which is not the expected
// continuation returns ErrMalformedFrame and must not be acknowledged.
func (d *ControlDecoder) Feed(s Snapshot) (Progress, error) {
	if !d.started {
		if s.Tag() != TagStart {
			return ProgressIdle, nil
		}
		d.started = true
		d.length = s.Length()
		d.words = d.words[:0]
		if d.length == 0 {
			return ProgressComplete, nil
		}
		return ProgressConsumed, nil
	}
	if s.Tag() != TagData {
		return ProgressIdle, ErrMalformedFrame{What: fmt.Sprintf("expected data word, got %s", s)}
	}
	d.words = append(d.words, s.Length())
	if uint32(len(d.words))*ControlBytesPerWord >= d.length {
		return ProgressComplete, nil
	}
	return ProgressConsumed, nil
}

// Done reports whether a whole frame has been collected
func (d *ControlDecoder) Done() bool {
	return d.started && uint32(len(d.words))*ControlBytesPerWord >= d.length
}

// Words returns a copy of the collected words
func (d *ControlDecoder) Words() []uint32 {
	return append([]uint32(nil), d.words...)
}

func (d *ControlDecoder) Reset() {
	d.started = false
	d.length = 0
	d.words = d.words[:0]
}

// EncodeControlFrame is the device side of the control framing: the start word
// followed by one data word per message word. Words wider than 24 bits are truncated.
func EncodeControlFrame(words []uint32) []Snapshot {
	frame := make([]Snapshot, 0, len(words)+1)
	frame = append(frame, Snapshot(TagStart.Word(uint32(len(words))*ControlBytesPerWord)))
	for _, w := range words {
		frame = append(frame, Snapshot(TagData.Word(w)))
	}
	return frame
}
