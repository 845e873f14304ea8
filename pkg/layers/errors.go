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

// ErrMalformedFrame is returned when latched words do not follow the expected framing
type ErrMalformedFrame struct {
	What string
}

func (e ErrMalformedFrame) Error() string {
	return fmt.Sprintf("Malformed frame: %s", e.What)
}

// ErrInvalidMessageShape is returned when an outbound message is not well formed
type ErrInvalidMessageShape struct {
	What string
}

func (e ErrInvalidMessageShape) Error() string {
	return fmt.Sprintf("Invalid message shape: %s", e.What)
}

type ErrBadCRC struct {
	Expected uint32
	Actual   uint32
}

func (e ErrBadCRC) Error() string {
	return fmt.Sprintf("Wrong CRC: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}
