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

package session

import (
	"fmt"
	"time"

	"jinr.ru/greenlab/go-hostport/pkg/layers"
)

// ErrWriteTimeout returned when the device does not take an outbound message in time
type ErrWriteTimeout struct {
	Timeout time.Duration
	Message *layers.Message
}

func (e ErrWriteTimeout) Error() string {
	return fmt.Sprintf("Host control interrupt not cleared within %s, dropping %s", e.Timeout, e.Message)
}

// ErrReadyTimeout returned when the device does not get ready in time
type ErrReadyTimeout struct {
	Stage   string
	Timeout time.Duration
}

func (e ErrReadyTimeout) Error() string {
	return fmt.Sprintf("Timeout waiting for %s after %s", e.Stage, e.Timeout)
}

// ErrLoadFailed returned when the register interface fails to load or run the program
type ErrLoadFailed struct {
	Path  string
	Stage string
	Err   error
}

func (e ErrLoadFailed) Error() string {
	return fmt.Sprintf("Loading program %s failed at %s: %s", e.Path, e.Stage, e.Err)
}

func (e ErrLoadFailed) Unwrap() error {
	return e.Err
}

// ErrUnexpectedReadyPayload returned when the word latched after run is not the ready word
type ErrUnexpectedReadyPayload struct {
	Snapshot layers.Snapshot
}

func (e ErrUnexpectedReadyPayload) Error() string {
	return fmt.Sprintf("Expected ready word, got %s", e.Snapshot)
}

type ErrFaulted struct{}

func (e ErrFaulted) Error() string {
	return "Session worker is faulted"
}

type ErrClosing struct{}

func (e ErrClosing) Error() string {
	return "Session worker is closing"
}

// ErrNoBuffers returned when traffic is requested before buffer discovery
type ErrNoBuffers struct{}

func (e ErrNoBuffers) Error() string {
	return "Host port buffers are not discovered, load a program first"
}
