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

package sim

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-hostport/pkg/command"
	"jinr.ru/greenlab/go-hostport/pkg/config"
)

const (
	ListenOptionName  = "listen"
	RunningOptionName = "running"
	BusyOptionName    = "busy-probes"
)

func NewCommand() *cobra.Command {
	var listen string
	var running bool
	var busyProbes int
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Serve a simulated device behind the UDP probe protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				cfg.Sim.Listen = listen
			}
			if cmd.Flags().Changed(BusyOptionName) {
				cfg.Sim.BusyProbes = busyProbes
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return command.StartSim(ctx, cfg, running)
		},
	}
	cmd.Flags().StringVar(&listen, ListenOptionName, "", fmt.Sprintf("Address to listen on. E.g. %s", config.DefaultSimListen))
	cmd.Flags().BoolVar(&running, RunningOptionName, false, "Start with a running program for unbuffered attach")
	cmd.Flags().IntVar(&busyProbes, BusyOptionName, 0, "Number of busy reads before each buffer pointer")

	return cmd
}
