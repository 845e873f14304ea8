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

package reg

import (
	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-hostport/pkg/command"
	"jinr.ru/greenlab/go-hostport/pkg/config"
)

func NewAutoCommand() *cobra.Command {
	var target, regNum string
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:       "auto on|off",
		Short:     "Enable or disable change notifications for a register",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			reg, err := apiClient.Auto(args[0], target, regNum)
			if err != nil {
				return err
			}
			printReg(cmd.OutOrStdout(), reg)
			return nil
		},
	}
	addTargetRegFlags(cmd, &target, &regNum)

	return cmd
}
