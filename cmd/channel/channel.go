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

package channel

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-hostport/pkg/command"
	"jinr.ru/greenlab/go-hostport/pkg/config"
)

const (
	DemodOptionName   = "demod"
	ChannelOptionName = "channel"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Activate and deactivate channels",
	}
	cmd.AddCommand(NewActivateCommand())
	cmd.AddCommand(NewDeactivateCommand())
	return cmd
}

func NewActivateCommand() *cobra.Command {
	var demod, channel string
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate a channel and print its source id",
		RunE: func(cmd *cobra.Command, args []string) error {
			demodID, err := strconv.ParseUint(demod, 0, 32)
			if err != nil {
				return err
			}
			channelID, err := strconv.ParseUint(channel, 0, 32)
			if err != nil {
				return err
			}
			apiClient := command.NewApiClient(cfg)
			src, err := apiClient.Activate(uint32(demodID), uint32(channelID))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), src)
			return nil
		},
	}
	cmd.Flags().StringVar(&demod, DemodOptionName, "", "Demodulator id")
	cmd.MarkFlagRequired(DemodOptionName)
	cmd.Flags().StringVar(&channel, ChannelOptionName, "", "Channel id")
	cmd.MarkFlagRequired(ChannelOptionName)

	return cmd
}

func NewDeactivateCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "deactivate SOURCE",
		Short: "Deactivate the channel with the given source id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			ok, err := apiClient.Deactivate(args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Source %s was not active\n", args[0])
			}
			return nil
		},
	}
	return cmd
}
