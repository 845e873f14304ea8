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

package command

import (
	"context"
	"errors"

	"jinr.ru/greenlab/go-hostport/pkg/config"
	"jinr.ru/greenlab/go-hostport/pkg/device/sim"
	"jinr.ru/greenlab/go-hostport/pkg/srv/probe"
)

func simConfig(cfg *config.SimConfig) *sim.Config {
	simCfg := sim.DefaultConfig()
	if cfg == nil {
		return simCfg
	}
	if cfg.FirstSourceID != 0 {
		simCfg.FirstSourceID = cfg.FirstSourceID
	}
	simCfg.BusyProbes = cfg.BusyProbes
	return simCfg
}

// StartSim serves a simulated device as the UDP probe until the context is done.
// With running the program is started and holds its ready message.
func StartSim(ctx context.Context, cfg *config.Config, running bool) error {
	dev := sim.NewDevice(simConfig(cfg.Sim))
	if running {
		dev.StartProgram(true)
	}
	s, err := probe.NewProbeServer(ctx, cfg.Sim.Listen, dev)
	if err != nil {
		return err
	}
	err = s.Run()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
