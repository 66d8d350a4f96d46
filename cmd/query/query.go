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

package query

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-osi/pkg/config"
	"jinr.ru/greenlab/go-osi/pkg/store"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query the result store",
	}
	cmd.AddCommand(NewPendingCommand(cfg))
	return cmd
}

func NewPendingCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List unanswered invocations and incomplete units of the last stored replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(context.Background(), cfg.DBPath)
			if err != nil {
				return err
			}
			defer s.Close()
			pending, err := s.Pending()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, inv := range pending.Invocations {
				fmt.Fprintf(out, "%s: invoke %d %s since frame %d\n", inv.Conversation, inv.InvokeID, inv.Opcode, inv.RequestFrame)
			}
			for _, unit := range pending.Units {
				fmt.Fprintf(out, "%s: unit %s %d bytes in %d fragments\n", unit.Conversation, unit.ID, unit.Length, len(unit.Frames))
			}
			return nil
		},
	}
	return cmd
}
