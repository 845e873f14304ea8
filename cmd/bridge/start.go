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

package bridge

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

func NewStartCommand() *cobra.Command {
	var ip, attach, program, target, db string
	var inProcessSim bool
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bridge and its API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ip != "" {
				cfg.Api.IP = ip
			}
			if cmd.Flags().Changed(AttachOptionName) {
				cfg.Session.Attach = attach
			}
			if program != "" {
				cfg.Session.ProgramPath = program
			}
			if target != "" {
				cfg.Session.TargetID = target
			}
			if db != "" {
				cfg.DBPath = db
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return command.StartBridge(ctx, cfg, inProcessSim)
		},
	}
	cmd.Flags().StringVar(&ip, IPOptionName, "", fmt.Sprintf("IP to bind. E.g. %s", config.DefaultApiIP))
	cmd.Flags().BoolVar(&inProcessSim, SimOptionName, false, "Use a simulated device in process instead of the probe")
	cmd.Flags().StringVar(&attach, AttachOptionName, "",
		fmt.Sprintf("Attach to a running program instead of loading one. One of: %s, %s",
			config.AttachBuffered, config.AttachUnbuffered))
	cmd.Flags().StringVar(&program, ProgramOptionName, "", "Program to load at start")
	cmd.Flags().StringVar(&target, TargetOptionName, "", "Target to load the program on")
	cmd.Flags().StringVar(&db, DBOptionName, "", "Path to the state database")

	return cmd
}
