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

package control

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-osi/pkg/command"
	"jinr.ru/greenlab/go-osi/pkg/config"
)

// NewApiCommand groups the clients of a running serve command
func NewApiCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Query a running API server",
	}
	cmd.AddCommand(NewConversationsCommand(cfg))
	cmd.AddCommand(NewFrameCommand(cfg))
	cmd.AddCommand(NewPendingCommand(cfg))
	cmd.AddCommand(NewReplayCommand(cfg))
	return cmd
}

func printYAML(cmd *cobra.Command, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func NewConversationsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations [KEY]",
		Short: "Print all conversation summaries or the one with the given key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			if len(args) == 1 {
				summary, err := apiClient.Conversation(args[0])
				if err != nil {
					return err
				}
				return printYAML(cmd, summary)
			}
			summaries, err := apiClient.Conversations()
			if err != nil {
				return err
			}
			for _, s := range summaries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s frames %d-%d, %d invocations (%d unanswered)\n",
					s.Key, s.FirstFrame, s.LastFrame, len(s.Invocations), len(s.Unanswered()))
			}
			return nil
		},
	}
	return cmd
}

func NewFrameCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frame NUMBER",
		Short: "Print the dispatch results of a frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			results, err := command.NewApiClient(cfg).Frame(number)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, res := range results {
				fmt.Fprintf(out, "%s %s %s\n", res.Status, res.Kind, res.Protocol)
				res.Tree.Print(out)
			}
			return nil
		},
	}
	return cmd
}

func NewPendingCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Print unanswered invocations and incomplete units",
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := command.NewApiClient(cfg).Pending()
			if err != nil {
				return err
			}
			return printYAML(cmd, pending)
		},
	}
	return cmd
}

func NewReplayCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Ask the server to replay a capture file from its capture directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := command.NewApiClient(cfg).Replay(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %s: %d packets\n", resp.Path, resp.Packets)
			return nil
		},
	}
	return cmd
}
