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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"golang.org/x/time/rate"

	"jinr.ru/greenlab/go-osi/pkg/config"
	"jinr.ru/greenlab/go-osi/pkg/dissect"
	"jinr.ru/greenlab/go-osi/pkg/roc"
	"jinr.ru/greenlab/go-osi/pkg/store"
)

const key = "10.0.0.1:1024-10.0.0.2:102"

type fakeSource struct {
	summaries []*dissect.Summary
	frames    map[uint64][]*dissect.Result
}

func (f *fakeSource) Conversations() ([]*dissect.Summary, error) {
	return f.summaries, nil
}

func (f *fakeSource) Conversation(k string) (*dissect.Summary, error) {
	for _, s := range f.summaries {
		if s.Key == k {
			return s, nil
		}
	}
	return nil, store.ErrNotFound{What: k}
}

func (f *fakeSource) Frame(number uint64) ([]*dissect.Result, error) {
	results, ok := f.frames[number]
	if !ok {
		return nil, store.ErrNotFound{What: "frame"}
	}
	return results, nil
}

func (f *fakeSource) Pending() (*store.Pending, error) {
	return &store.Pending{}, errors.New("broken")
}

func newServer(t *testing.T, replay ReplayFunc) (*ApiServer, *httptest.Server) {
	t.Helper()
	source := &fakeSource{
		summaries: []*dissect.Summary{{
			Key:         key,
			Frames:      2,
			Invocations: []*roc.Invocation{{InvokeID: 1, Opcode: "read", State: roc.StatePending}},
		}},
		frames: map[uint64][]*dissect.Result{
			3: {{Frame: 3, Protocol: "rose", Status: dissect.StatusDecoded}},
		},
	}
	cfg := config.NewDefaultConfig()
	s := NewApiServer(context.Background(), cfg, source, replay)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode
}

func TestConversationRoutes(t *testing.T) {
	_, ts := newServer(t, nil)
	var summaries []*dissect.Summary
	if code := get(t, ts.URL+"/api/conversations", &summaries); code != http.StatusOK || len(summaries) != 1 {
		t.Fatalf("conversations: %d %v", code, summaries)
	}
	var summary dissect.Summary
	if code := get(t, ts.URL+"/api/conversations/"+key, &summary); code != http.StatusOK || summary.Frames != 2 {
		t.Fatalf("conversation: %d %+v", code, summary)
	}
	if code := get(t, ts.URL+"/api/conversations/unknown", nil); code != http.StatusNotFound {
		t.Fatalf("unknown conversation: %d", code)
	}
}

func TestFrameRoute(t *testing.T) {
	_, ts := newServer(t, nil)
	var results []*dissect.Result
	if code := get(t, ts.URL+"/api/frames/3", &results); code != http.StatusOK || len(results) != 1 || results[0].Status != dissect.StatusDecoded {
		t.Fatalf("frame: %d %+v", code, results)
	}
	if code := get(t, ts.URL+"/api/frames/4", nil); code != http.StatusNotFound {
		t.Fatalf("missing frame: %d", code)
	}
	if code := get(t, ts.URL+"/api/frames/abc", nil); code != http.StatusNotFound {
		t.Fatalf("non numeric frame: %d", code)
	}
	if code := get(t, ts.URL+"/api/pending", nil); code != http.StatusInternalServerError {
		t.Fatalf("failing source: %d", code)
	}
}

func postReplay(t *testing.T, url, path string) (int, *ReplayResponse) {
	t.Helper()
	body, _ := json.Marshal(&ReplayRequest{Path: path})
	resp, err := http.Post(url+"/api/replay", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	out := &ReplayResponse{}
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode, out
}

func TestReplayRoute(t *testing.T) {
	var replayed string
	s, ts := newServer(t, func(path string) (int, error) {
		replayed = path
		return 7, nil
	})
	dir := t.TempDir()
	s.Config.Capture.Dir = dir
	for _, path := range []string{"x.pcap", filepath.Join(dir, "x.pcap"), "sub/../x.pcap"} {
		replayed = ""
		code, out := postReplay(t, ts.URL, path)
		want := filepath.Join(dir, "x.pcap")
		if code != http.StatusOK || out.Packets != 7 || out.Path != want || replayed != want {
			t.Fatalf("replay %s: %d %+v %q", path, code, out, replayed)
		}
	}
}

func TestReplayOutsideCaptureDir(t *testing.T) {
	called := false
	s, ts := newServer(t, func(path string) (int, error) {
		called = true
		return 0, nil
	})
	dir := t.TempDir()
	s.Config.Capture.Dir = filepath.Join(dir, "captures")
	for _, path := range []string{"../secret.pcap", filepath.Join(dir, "secret.pcap"), "/etc/passwd", "."} {
		if code, _ := postReplay(t, ts.URL, path); code != http.StatusForbidden {
			t.Fatalf("%s: status %d", path, code)
		}
	}
	if called {
		t.Fatal("replay called for a path outside the capture directory")
	}
}

func TestRateLimit(t *testing.T) {
	s, ts := newServer(t, nil)
	s.limiter = rate.NewLimiter(rate.Limit(0.001), 1)
	first := get(t, ts.URL+"/api/conversations", nil)
	second := get(t, ts.URL+"/api/conversations", nil)
	if first != http.StatusOK || second != http.StatusTooManyRequests {
		t.Fatalf("statuses %d %d", first, second)
	}
}

func TestMetricsRoute(t *testing.T) {
	_, ts := newServer(t, nil)
	get(t, ts.URL+"/api/conversations", nil)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
}
