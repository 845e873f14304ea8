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

package probe

import (
	"context"
	"testing"

	"jinr.ru/greenlab/go-hostport/pkg/device/sim"
	"jinr.ru/greenlab/go-hostport/pkg/layers"
)

func TestHandle(t *testing.T) {
	s, err := NewProbeServer(context.Background(), "127.0.0.1:0", sim.NewDevice(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		op     *layers.ProbeOp
		status uint8
	}{
		{"write", &layers.ProbeOp{Op: layers.ProbeOpWrite, Addr: 0x10, Data: []uint32{5}}, layers.ProbeStatusOk},
		{"read", &layers.ProbeOp{Op: layers.ProbeOpRead, Addr: 0x10}, layers.ProbeStatusOk},
		{"run before load", &layers.ProbeOp{Op: layers.ProbeOpRun, Data: []uint32{1}}, layers.ProbeStatusError},
		{"unknown target", &layers.ProbeOp{Op: layers.ProbeOpUseTarget, Blob: []byte("x")}, layers.ProbeStatusError},
		{"response op", &layers.ProbeOp{Op: layers.ProbeOpRead.Response()}, layers.ProbeStatusError},
	}
	for _, test := range tests {
		resp := s.handle(test.op)
		if resp.Op != test.op.Op.Response() {
			t.Fatalf("%s: unexpected response op %s", test.name, resp.Op)
		}
		if resp.Status != test.status {
			t.Fatalf("%s: expected status %d, got %d (%s)", test.name, test.status, resp.Status, resp.Blob)
		}
	}

	resp := s.handle(&layers.ProbeOp{Op: layers.ProbeOpRead, Addr: 0x10})
	if len(resp.Data) != 1 || resp.Data[0] != 5 {
		t.Fatalf("unexpected read response %+v", resp)
	}
}
