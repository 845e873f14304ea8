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
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-hostport/pkg/srv/api"
)

const (
	TargetOptionName = "target"
	RegOptionName    = "reg"
	ValueOptionName  = "value"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reg",
		Short: "Read and write registers of an active channel",
	}
	cmd.AddCommand(NewGetCommand())
	cmd.AddCommand(NewSetCommand())
	cmd.AddCommand(NewListCommand())
	cmd.AddCommand(NewAutoCommand())
	return cmd
}

func printReg(out io.Writer, reg *api.RegHex) {
	fmt.Fprintf(out, "target: %d reg: %s value: %s\n", reg.Target, reg.Reg, reg.Value)
}

func addTargetRegFlags(cmd *cobra.Command, target, reg *string) {
	cmd.Flags().StringVar(target, TargetOptionName, "", "Target (source id of an active channel)")
	cmd.MarkFlagRequired(TargetOptionName)
	cmd.Flags().StringVar(reg, RegOptionName, "", "Register address (decimal or 0x prefixed)")
	cmd.MarkFlagRequired(RegOptionName)
}
