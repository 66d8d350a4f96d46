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

package replay

import (
	"context"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-osi/pkg/command"
	"jinr.ru/greenlab/go-osi/pkg/config"
	"jinr.ru/greenlab/go-osi/pkg/store"
)

const (
	YAMLOptionName    = "yaml"
	SaveOptionName    = "save"
	SummaryOptionName = "summary"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	var asYAML, save, summaryOnly bool
	cmd := &cobra.Command{
		Use:   "replay FILE...",
		Short: "Dissect pcap or pcapng files and print the decoded frames",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, packets, err := command.Replay(cfg, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !summaryOnly {
				if err := command.PrintPackets(out, packets, asYAML); err != nil {
					return err
				}
			}
			command.PrintSummary(out, r.Dispatcher(), packets)
			if !save {
				return nil
			}
			s, err := store.Open(context.Background(), cfg.DBPath)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Clear(); err != nil {
				return err
			}
			return s.Save(r.Dispatcher())
		},
	}
	cmd.Flags().BoolVar(&asYAML, YAMLOptionName, false, "Print frames as YAML documents")
	cmd.Flags().BoolVar(&save, SaveOptionName, false, "Replace the stored results with this replay")
	cmd.Flags().BoolVar(&summaryOnly, SummaryOptionName, false, "Print the conversation summary only")
	return cmd
}
