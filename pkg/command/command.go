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

package command

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-osi/pkg/capture"
	"jinr.ru/greenlab/go-osi/pkg/config"
	"jinr.ru/greenlab/go-osi/pkg/decoders"
	"jinr.ru/greenlab/go-osi/pkg/dissect"
	"jinr.ru/greenlab/go-osi/pkg/log"
)

// NewReplayer builds the dispatcher from the config and wraps it into a replayer
func NewReplayer(cfg *config.Config) (*capture.Replayer, error) {
	d, err := decoders.NewDispatcher(cfg)
	if err != nil {
		return nil, err
	}
	return capture.NewReplayer(d, cfg.Capture.Ports), nil
}

// Replay replays capture files one after another through the same dispatcher,
// frames are numbered continuously across the files
func Replay(cfg *config.Config, paths []string) (*capture.Replayer, []*capture.Packet, error) {
	r, err := NewReplayer(cfg)
	if err != nil {
		return nil, nil, err
	}
	var packets []*capture.Packet
	for _, path := range paths {
		log.Info("Replaying %s", path)
		filePackets, err := r.ReadFile(path)
		if err != nil {
			return r, packets, fmt.Errorf("%s: %w", path, err)
		}
		packets = append(packets, filePackets...)
	}
	return r, packets, nil
}

// PrintPackets writes the packets either as YAML documents or as indented trees
func PrintPackets(out io.Writer, packets []*capture.Packet, asYAML bool) error {
	for _, p := range packets {
		if asYAML {
			data, err := yaml.Marshal(p)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "---\n%s", data)
			continue
		}
		fmt.Fprintf(out, "Frame %d %s %s (%s)\n", p.Number, p.Timestamp.Format("15:04:05.000000"), p.Conversation, p.Direction)
		p.Transport.Print(out)
		for _, node := range p.Presentation {
			node.Print(out)
		}
		for _, res := range p.Results {
			fmt.Fprintf(out, "%s %s %s\n", res.Status, res.Kind, res.Protocol)
			res.Tree.Print(out)
		}
		fmt.Fprintln(out)
	}
	return nil
}

// PrintSummary writes per conversation counters and the result status totals
func PrintSummary(out io.Writer, d *dissect.Dispatcher, packets []*capture.Packet) {
	for _, conv := range d.Conversations() {
		s := conv.Summary()
		fmt.Fprintf(out, "%s frames %d-%d, %d payloads, %d contexts, %d invocations (%d unanswered), %d incomplete units\n",
			s.Key, s.FirstFrame, s.LastFrame, s.Frames, len(s.Contexts), len(s.Invocations), len(s.Unanswered()), len(s.PendingUnits))
	}
	counts := capture.Summary(packets)
	var parts []string
	for status, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", status, n))
	}
	sort.Strings(parts)
	fmt.Fprintf(out, "%d packets, results: %s\n", len(packets), strings.Join(parts, " "))
}

// PrintRegistry lists the decoders the config registers
func PrintRegistry(out io.Writer, cfg *config.Config) error {
	r, err := decoders.NewRegistry(cfg.Syntaxes)
	if err != nil {
		return err
	}
	for _, entry := range r.Entries() {
		kinds := "any"
		if len(entry.Kinds) > 0 {
			names := make([]string, 0, len(entry.Kinds))
			for _, kind := range entry.Kinds {
				names = append(names, kind.String())
			}
			kinds = strings.Join(names, ",")
		}
		fmt.Fprintf(out, "%-24s %-8s %s\n", entry.OID, entry.Protocol, kinds)
	}
	for _, ctx := range cfg.Contexts {
		fmt.Fprintf(out, "static context %d -> %s\n", ctx.ID, ctx.OID)
	}
	return nil
}
