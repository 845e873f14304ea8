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

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-hostport/pkg/command"
	"jinr.ru/greenlab/go-hostport/pkg/config"
)

const (
	ProgramOptionName = "program"
	TargetOptionName  = "target"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Control the bridge session",
	}
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewLoadCommand())
	for _, action := range []string{"pause", "resume", "shutdown"} {
		cmd.AddCommand(NewActionCommand(action))
	}
	cmd.AddCommand(NewTimeoutsCommand())
	return cmd
}

func NewStatusCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			session, err := apiClient.Session()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(session)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	return cmd
}

func NewLoadCommand() *cobra.Command {
	var program, target string
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Reset the device, load and run a program",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			return apiClient.Load(program, target)
		},
	}
	cmd.Flags().StringVar(&program, ProgramOptionName, "", "Program path")
	cmd.MarkFlagRequired(ProgramOptionName)
	cmd.Flags().StringVar(&target, TargetOptionName, "", "Target id, the current one when empty")

	return cmd
}

var actionShort = map[string]string{
	"pause":    "Stop pumping messages until resumed",
	"resume":   "Resume a paused session",
	"shutdown": "Terminate the session, queued requests are dropped",
}

// NewActionCommand is one of pause, resume or shutdown
func NewActionCommand(action string) *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   action,
		Short: actionShort[action],
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			return apiClient.SessionAction(action)
		},
	}
	return cmd
}

func NewTimeoutsCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:       "timeouts on|off",
		Short:     "Enable or disable all bridge timeouts",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			return apiClient.Timeouts(args[0] == "on")
		},
	}
	return cmd
}
