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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-osi/pkg/command"
	"jinr.ru/greenlab/go-osi/pkg/config"
)

const (
	AddressOptionName    = "address"
	PortOptionName       = "port"
	CaptureDirOptionName = "capture-dir"
)

func NewServeCommand(cfg *config.Config) *cobra.Command {
	var address, captureDir string
	var port int
	cmd := &cobra.Command{
		Use:   "serve [FILE...]",
		Short: "Replay capture files into the result store and serve the query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if address != "" {
				cfg.Api.Address = address
			}
			if port != 0 {
				cfg.Api.Port = port
			}
			if captureDir != "" {
				cfg.Capture.Dir = captureDir
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return command.StartApiServer(ctx, cfg, args)
		},
	}
	cmd.Flags().StringVar(&address, AddressOptionName, "", fmt.Sprintf("Address to bind. E.g. %s", config.DefaultApiAddress))
	cmd.Flags().IntVar(&port, PortOptionName, 0, fmt.Sprintf("Port to bind. E.g. %d", config.DefaultApiPort))
	cmd.Flags().StringVar(&captureDir, CaptureDirOptionName, "", fmt.Sprintf("Directory the API may replay files from. Default is %s", config.DefaultCaptureDir()))
	return cmd
}
