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

package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-hostport/pkg/command"
	"jinr.ru/greenlab/go-hostport/pkg/config"
	"jinr.ru/greenlab/go-hostport/pkg/srv/broker"
)

const (
	LimitOptionName = "limit"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Show register change notifications",
	}
	cmd.AddCommand(NewListCommand())
	cmd.AddCommand(NewWatchCommand())
	return cmd
}

func NewListCommand() *cobra.Command {
	var limit int
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List logged notifications, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			notifications, err := apiClient.Notifications(limit)
			if err != nil {
				return err
			}
			for _, n := range notifications {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", n.Time.Format("15:04:05.000"), n)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, LimitOptionName, 20, "Number of latest notifications, 0 for all")

	return cmd
}

func NewWatchCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print notifications as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			apiClient := command.NewApiClient(cfg)
			err := apiClient.WatchNotifications(ctx, func(n *broker.Notification) error {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", n.Time.Format("15:04:05.000"), n)
				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	return cmd
}
