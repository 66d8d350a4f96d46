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
	"bytes"
	"context"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"jinr.ru/greenlab/go-osi/pkg/api"
	"jinr.ru/greenlab/go-osi/pkg/config"
	"jinr.ru/greenlab/go-osi/pkg/store"
)

func TestPrintRegistry(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Contexts = []*config.StaticContext{{ID: 3, OID: config.DAPAbstractSyntax}}
	var out bytes.Buffer
	if err := PrintRegistry(&out, cfg); err != nil {
		t.Fatalf("registry: %v", err)
	}
	text := out.String()
	for _, want := range []string{config.ACSEAbstractSyntax, config.DAPAbstractSyntax, "static context 3"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in\n%s", want, text)
		}
	}
}

func writeEmptyCapture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "empty.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := pcapgo.NewWriter(f).WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("header: %v", err)
	}
	return path
}

func TestReplayEmptyCapture(t *testing.T) {
	cfg := config.NewDefaultConfig()
	r, packets, err := Replay(cfg, []string{writeEmptyCapture(t)})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(packets) != 0 {
		t.Fatalf("expected no packets, got %d", len(packets))
	}
	var out bytes.Buffer
	PrintSummary(&out, r.Dispatcher(), packets)
	if !strings.Contains(out.String(), "0 packets") {
		t.Fatalf("summary: %s", out.String())
	}
}

func TestReplayMissingFile(t *testing.T) {
	cfg := config.NewDefaultConfig()
	if _, _, err := Replay(cfg, []string{filepath.Join(t.TempDir(), "missing.pcap")}); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestApiClient(t *testing.T) {
	cfg := config.NewDefaultConfig()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	capturePath := writeEmptyCapture(t)
	cfg.Capture.Dir = filepath.Dir(capturePath)
	server := api.NewApiServer(context.Background(), cfg, s, func(path string) (int, error) {
		return ReplayToStore(cfg, s, []string{path})
	})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	cfg.Api.Address = u.Hostname()
	cfg.Api.Port, _ = strconv.Atoi(u.Port())
	client := NewApiClient(cfg)

	resp, err := client.Replay(capturePath)
	if err != nil || resp.Packets != 0 || resp.Path != capturePath {
		t.Fatalf("replay: %v %+v", err, resp)
	}
	summaries, err := client.Conversations()
	if err != nil || len(summaries) != 0 {
		t.Fatalf("conversations: %v %v", err, summaries)
	}
	pending, err := client.Pending()
	if err != nil || len(pending.Invocations) != 0 {
		t.Fatalf("pending: %v %+v", err, pending)
	}
	if _, err := client.Frame(1); err == nil {
		t.Fatal("expected an error for a missing frame")
	}
	if _, err := client.Conversation("unknown"); err == nil {
		t.Fatal("expected an error for an unknown conversation")
	}
}
