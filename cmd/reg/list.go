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

func NewListCommand() *cobra.Command {
	var target string
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the last known register values of a target",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			regs, err := apiClient.RegList(target)
			if err != nil {
				return err
			}
			for _, reg := range regs {
				printReg(cmd.OutOrStdout(), reg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, TargetOptionName, "", "Target (source id of an active channel)")
	cmd.MarkFlagRequired(TargetOptionName)

	return cmd
}
