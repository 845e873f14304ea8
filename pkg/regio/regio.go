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

// Package regio defines the register interface of the debug probe
// the host port is reached through.
package regio

import "fmt"

// ThreadHandle identifies a hardware thread of the target
type ThreadHandle uint32

type TargetInfo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

func (t TargetInfo) String() string {
	return fmt.Sprintf("%s (%s)", t.ID, t.Description)
}

// RegisterInterface is implemented by the probe transports and the simulated device.
// Implementations need not be safe for concurrent use, the session worker
// is the only caller.
type RegisterInterface interface {
	ReadWord(addr uint32) (uint32, error)
	WriteWord(addr, word uint32) error
	LoadProgram(path string, showProgress bool) error
	HardReset() error
	UseTarget(id string) error
	FirstThread() (ThreadHandle, error)
	Run(thread ThreadHandle) error
	EnumerateTargets() ([]TargetInfo, error)
}
