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

package dissect

import (
	encodingasn1 "encoding/asn1"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"jinr.ru/greenlab/go-osi/pkg/ber"
	"jinr.ru/greenlab/go-osi/pkg/pctx"
	"jinr.ru/greenlab/go-osi/pkg/roc"
)

const (
	testOpsOID   = "2.2.1.0.1"
	testOtherOID = "1.3.9999.1"
	testFallback = "1.3.9999.2"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testKey(port byte) ConversationKey {
	net := gopacket.NewFlow(layers.EndpointIPv4, []byte{10, 0, 0, 1}, []byte{10, 0, 0, 2})
	transport := gopacket.NewFlow(layers.EndpointTCPPort, []byte{0xc0, port}, []byte{0, 102})
	key, _ := NewConversationKey(net, transport)
	return key
}

func pdu(tag uint8, id int64) []byte {
	var b cryptobyte.Builder
	b.AddASN1(asn1.Tag(tag).Constructed().ContextSpecific(), func(b *cryptobyte.Builder) {
		b.AddASN1Int64(id)
	})
	return b.BytesOrPanic()
}

// opsDecoder understands [1] invoke, [2] result and [3] error PDUs holding an invoke id
func opsDecoder(name string, tagged *string) DecoderFunc {
	return func(data []byte, ctx *Context) (int, error) {
		if tagged != nil {
			*tagged = name
		}
		node, _, err := ber.ReadNode(data)
		if err != nil {
			return 0, err
		}
		children, err := node.Children()
		if err != nil || len(children) == 0 {
			return 0, ber.ErrMalformed{What: "empty pdu"}
		}
		id, err := children[0].Int64()
		if err != nil {
			return 0, err
		}
		ctx.Node.Addf("invokeID", "%d", id)
		switch node.Tag {
		case 1:
			ctx.Invoke(id, name)
		case 2:
			ctx.Respond(id, roc.OutcomeResult)
		case 3:
			ctx.Respond(id, roc.OutcomeError)
		}
		return node.Len(), nil
	}
}

func newTestDispatcher(t *testing.T, used *string) *Dispatcher {
	t.Helper()
	r := NewRegistry()
	if err := r.Register(testOpsOID, opsDecoder("ops", used), "ops"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(testOtherOID, opsDecoder("other", used), "other"); err != nil {
		t.Fatalf("register: %v", err)
	}
	return NewDispatcher(r)
}

func frame(number uint64, key ConversationKey, ctxID int64, data []byte, offset time.Duration) *Frame {
	f := &Frame{
		Number: number,
		Session: SessionDescriptor{
			Conversation: key,
			Kind:         UnitData,
			ContextID:    ContextID(ctxID),
		},
		Data: data,
	}
	f.Timestamp = t0.Add(offset)
	return f
}

func TestResponseCrossReferences(t *testing.T) {
	var used string
	d := newTestDispatcher(t, &used)
	k1 := testKey(1)
	d.Bind(k1, 3, testOpsOID)

	req := d.HandleFrame(frame(10, k1, 3, pdu(1, 7), 0))
	if used != "ops" || req.OID != testOpsOID || req.Protocol != "ops" {
		t.Fatalf("request dispatched to %q (%+v)", used, req)
	}
	used = ""
	resp := d.HandleFrame(frame(14, k1, 3, pdu(2, 7), 250*time.Millisecond))
	if used != "ops" {
		t.Fatalf("response dispatched to %q", used)
	}
	if !resp.Tree.HasAnnotation("Response To: 10") {
		t.Fatalf("frame 14 lacks back reference:\n%s", resp.Tree)
	}
	if !resp.Tree.HasAnnotation("Time: 250ms") {
		t.Fatalf("frame 14 lacks elapsed time:\n%s", resp.Tree)
	}
	if !d.Results(10)[0].Tree.HasAnnotation("Response In: 14") {
		t.Fatalf("frame 10 lacks forward reference:\n%s", d.Results(10)[0].Tree)
	}
	if req.Status != StatusDecoded || resp.Status != StatusDecoded {
		t.Fatalf("status: %s %s", req.Status, resp.Status)
	}

	refs := d.Conversation(k1).Operations.References(10)
	if len(refs) != 1 || !refs[0].RequestSide() || refs[0].Frame != 14 || refs[0].Elapsed != 250*time.Millisecond {
		t.Fatalf("references of frame 10: %+v", refs)
	}
}

func TestOrphanResponse(t *testing.T) {
	d := newTestDispatcher(t, nil)
	key := testKey(1)
	d.Bind(key, 3, testOpsOID)
	for _, tag := range []uint8{2, 3} {
		res := d.HandleFrame(frame(uint64(tag), key, 3, pdu(tag, 5), 0))
		if len(res.Tree.XRefs()) != 0 || len(res.Tree.Diagnostics()) != 0 {
			t.Fatalf("orphan response annotated:\n%s", res.Tree)
		}
		if res.Status != StatusDecoded {
			t.Fatalf("orphan response status %s", res.Status)
		}
	}
}

func TestInvokeIDReuse(t *testing.T) {
	d := newTestDispatcher(t, nil)
	key := testKey(1)
	d.Bind(key, 1, testOpsOID)
	d.HandleFrame(frame(1, key, 1, pdu(1, 9), 0))
	second := d.HandleFrame(frame(2, key, 1, pdu(1, 9), time.Second))
	d.HandleFrame(frame(3, key, 1, pdu(2, 9), 2*time.Second))
	if d.Results(1)[0].Tree.HasAnnotation("Response In: 3") {
		t.Fatalf("evicted request got matched")
	}
	if !second.Tree.HasAnnotation("Response In: 3") {
		t.Fatalf("fresh request not matched:\n%s", second.Tree)
	}
	if !d.Results(3)[0].Tree.HasAnnotation("Response To: 2") {
		t.Fatalf("response points to wrong request:\n%s", d.Results(3)[0].Tree)
	}
	// matched is terminal, a later invoke starts a new record
	d.HandleFrame(frame(4, key, 1, pdu(1, 9), 3*time.Second))
	pending := d.Conversation(key).Operations.Pending()
	if len(pending) != 1 || pending[0].RequestFrame != 4 {
		t.Fatalf("pending: %v", pending)
	}
}

func TestConversationsAreIndependent(t *testing.T) {
	d := newTestDispatcher(t, nil)
	a, b := testKey(1), testKey(2)
	d.Bind(a, 1, testOpsOID)
	d.Bind(b, 1, testOpsOID)
	d.HandleFrame(frame(1, a, 1, pdu(1, 1), 0))
	res := d.HandleFrame(frame(2, b, 1, pdu(2, 1), 0))
	if len(res.Tree.XRefs()) != 0 {
		t.Fatalf("response matched across conversations")
	}
	if len(d.Conversations()) != 2 {
		t.Fatalf("conversations: %d", len(d.Conversations()))
	}
}

func TestDirectReferenceWins(t *testing.T) {
	var used string
	d := newTestDispatcher(t, &used)
	key := testKey(1)
	d.Bind(key, 3, testOpsOID)
	f := frame(1, key, 3, pdu(1, 1), 0)
	f.Session.DirectOID = testOtherOID
	res := d.HandleFrame(f)
	if used != "other" || res.OID != testOtherOID {
		t.Fatalf("decoded by %q, oid %s", used, res.OID)
	}
}

func TestUnboundContext(t *testing.T) {
	d := newTestDispatcher(t, nil)
	res := d.HandleFrame(frame(1, testKey(1), 42, pdu(1, 1), 0))
	if res.Status != StatusUnresolved || res.Consumed != len(pdu(1, 1)) {
		t.Fatalf("result: %+v", res)
	}
	if !res.Tree.HasAnnotation("Presentation context 42 is not bound") {
		t.Fatalf("missing diagnostic:\n%s", res.Tree)
	}
}

func TestSeedsAreOverwrittenByAnnouncements(t *testing.T) {
	var used string
	d := newTestDispatcher(t, &used)
	d.Seeds = []pctx.Binding{{ID: 1, OID: testOtherOID}}
	key := testKey(1)
	d.HandleFrame(frame(1, key, 1, pdu(1, 1), 0))
	if used != "other" {
		t.Fatalf("seed not used: %q", used)
	}
	d.Bind(key, 1, testOpsOID)
	d.HandleFrame(frame(2, key, 1, pdu(1, 2), 0))
	if used != "ops" {
		t.Fatalf("announcement not used: %q", used)
	}
}

func TestDispatchAlwaysProgresses(t *testing.T) {
	r := NewRegistry()
	stuck := DecoderFunc(func(data []byte, ctx *Context) (int, error) {
		return 0, nil
	})
	failing := DecoderFunc(func(data []byte, ctx *Context) (int, error) {
		return 0, errors.New("bad")
	})
	greedy := DecoderFunc(func(data []byte, ctx *Context) (int, error) {
		return len(data) + 100, nil
	})
	panicking := DecoderFunc(func(data []byte, ctx *Context) (int, error) {
		var m map[string]int
		m["x"]++
		return 1, nil
	})
	for oid, dec := range map[string]Decoder{"1.1": stuck, "1.2": failing, "1.3": greedy, "1.4": panicking} {
		if err := r.Register(oid, dec, "test"+oid); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	d := NewDispatcher(r)
	key := testKey(1)
	payloads := [][]byte{{0x00}, {0x30, 0x00}, pdu(1, 1), make([]byte, 1000)}
	var number uint64
	for _, oid := range []string{"1.1", "1.2", "1.3", "1.4", "9.9.9"} {
		for _, data := range payloads {
			number++
			f := frame(number, key, 0, data, 0)
			f.Session.ContextID = nil
			f.Session.DirectOID = oid
			res := d.HandleFrame(f)
			if res.Consumed <= 0 || res.Consumed > len(data) {
				t.Fatalf("oid %s: consumed %d of %d", oid, res.Consumed, len(data))
			}
		}
	}
}

func TestNoProgressDiagnostic(t *testing.T) {
	r := NewRegistry()
	r.Register("1.1", DecoderFunc(func(data []byte, ctx *Context) (int, error) {
		ctx.Node.Add("partial", "x")
		return 0, nil
	}), "stuck")
	d := NewDispatcher(r)
	f := frame(1, testKey(1), 0, []byte{1, 2, 3}, 0)
	f.Session.ContextID = nil
	f.Session.DirectOID = "1.1"
	res := d.HandleFrame(f)
	if res.Status != StatusMalformed || res.Consumed != 3 {
		t.Fatalf("result: %+v", res)
	}
	if !res.Tree.HasAnnotation(DiagNoProgress) || res.Tree.Find("partial") == nil {
		t.Fatalf("tree:\n%s", res.Tree)
	}
	if !res.Tree.HasAnnotation(ErrNoProgress{OID: "1.1"}.Error()) {
		t.Fatalf("missing decoder note:\n%s", res.Tree)
	}
}

func TestUnresolvedOID(t *testing.T) {
	d := newTestDispatcher(t, nil)
	key := testKey(1)
	d.Bind(key, 5, "1.2.3.4")
	res := d.HandleFrame(frame(1, key, 5, []byte{0xde, 0xad}, 0))
	if res.Consumed != 2 || res.Status != StatusUnresolved {
		t.Fatalf("result: %+v", res)
	}
	if !res.Tree.HasAnnotation("no decoder for OID 1.2.3.4") {
		t.Fatalf("tree:\n%s", res.Tree)
	}
	if res.Tree.Find("Data (1.2.3.4)").Value != "dead" {
		t.Fatalf("raw rendering:\n%s", res.Tree)
	}
}

func TestWrongUnitKind(t *testing.T) {
	r := NewRegistry()
	r.Register(testOpsOID, opsDecoder("ops", nil), "ops", UnitConnect)
	picky := DecoderFunc(func(data []byte, ctx *Context) (int, error) {
		return 0, ErrWrongUnitKind{Protocol: "picky", Kind: ctx.UnitKind()}
	})
	r.Register(testOtherOID, picky, "picky")
	r.Register(testFallback, DecoderFunc(func(data []byte, ctx *Context) (int, error) {
		ctx.Node.Add("fallback", "")
		return len(data), nil
	}), "fallback", UnitData)
	d := NewDispatcher(r)
	key := testKey(1)
	d.Bind(key, 1, testOpsOID)
	d.Bind(key, 2, testOtherOID)

	res := d.HandleFrame(frame(1, key, 1, pdu(1, 1), 0))
	if res.Status != StatusRejected || !res.Tree.HasAnnotation(DiagWrongUnitKind) {
		t.Fatalf("rejected unit:\n%s", res.Tree)
	}
	if res.Tree.Find("ops") != nil {
		t.Fatalf("rejected decoder rendered:\n%s", res.Tree)
	}
	if len(d.Conversation(key).Operations.Records()) != 0 {
		t.Fatalf("rejected unit recorded an invocation")
	}

	d.Fallbacks = []string{testOpsOID, testFallback}
	res = d.HandleFrame(frame(2, key, 2, pdu(1, 1), 0))
	if res.Status != StatusDecoded || res.Protocol != "fallback" || res.Tree.Find("fallback") == nil {
		t.Fatalf("fallback result %+v:\n%s", res, res.Tree)
	}
}

func TestSegmentedFrames(t *testing.T) {
	var used string
	d := newTestDispatcher(t, &used)
	key := testKey(1)
	d.Bind(key, 3, testOpsOID)
	whole := pdu(1, 300)
	var frames []*Frame
	for i := 0; i < len(whole); i++ {
		f := frame(uint64(i+1), key, 3, whole[i:i+1], 0)
		f.Session.Segment = &Segment{Unit: "ses/0", Last: i == len(whole)-1}
		frames = append(frames, f)
	}
	for _, f := range frames[:len(frames)-1] {
		res := d.HandleFrame(f)
		if res.Status != StatusIncomplete || used != "" {
			t.Fatalf("frame %d: %s decoded by %q", f.Number, res.Status, used)
		}
	}
	if pending := d.Conversation(key).Segments.Pending(); len(pending) != 1 {
		t.Fatalf("pending units: %v", pending)
	}
	res := d.HandleFrame(frames[len(frames)-1])
	if used != "ops" || res.Status != StatusDecoded || res.Consumed != len(whole) {
		t.Fatalf("final segment %+v", res)
	}
	if res.Unit == nil || res.Unit.Segments() != len(whole) {
		t.Fatalf("unit: %+v", res.Unit)
	}
	if len(d.Conversation(key).Operations.Pending()) != 1 {
		t.Fatalf("invoke of reassembled unit not recorded")
	}
}

func mustOID(dotted string) encodingasn1.ObjectIdentifier {
	var oid encodingasn1.ObjectIdentifier
	for _, part := range strings.Split(dotted, ".") {
		v, err := strconv.Atoi(part)
		if err != nil {
			panic(err)
		}
		oid = append(oid, v)
	}
	return oid
}

func external(direct string, indirect *int64, value []byte) []byte {
	var b cryptobyte.Builder
	b.AddASN1(asn1.Tag(8).Constructed(), func(b *cryptobyte.Builder) {
		if direct != "" {
			b.AddASN1ObjectIdentifier(mustOID(direct))
		}
		if indirect != nil {
			b.AddASN1Int64(*indirect)
		}
		b.AddASN1(asn1.Tag(0).Constructed().ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddBytes(value)
		})
	})
	return b.BytesOrPanic()
}

func TestExternalFinalSegment(t *testing.T) {
	var used string
	d := newTestDispatcher(t, &used)
	key := testKey(1)
	d.Bind(key, 3, testOpsOID)
	value := external(testOtherOID, ContextID(3), pdu(1, 4))

	first := frame(1, key, 0, value[:3], 0)
	first.Session.Segment = &Segment{Unit: "ses/0"}
	last := frame(2, key, 0, value[3:], 0)
	last.Session.Segment = &Segment{Unit: "ses/0", Last: true, External: true}
	d.HandleFrame(first)
	res := d.HandleFrame(last)
	if used != "other" || res.Consumed != len(value) || res.Status != StatusDecoded {
		t.Fatalf("decoded by %q: %+v\n%s", used, res, res.Tree)
	}

	broken := frame(3, key, 0, []byte{0x28, 0x05, 0x02}, 0)
	broken.Session.Segment = &Segment{Unit: "ses/1", Last: true, External: true}
	res = d.HandleFrame(broken)
	if res.Status != StatusMalformed || !res.Tree.HasAnnotation(DiagMalformedExt) {
		t.Fatalf("malformed external:\n%s", res.Tree)
	}
}

func TestNestedDispatchDepth(t *testing.T) {
	r := NewRegistry()
	r.Register("1.1", DecoderFunc(func(data []byte, ctx *Context) (int, error) {
		return ctx.Dispatch("1.1", data), nil
	}), "loop")
	d := NewDispatcher(r)
	d.MaxDepth = 4
	f := frame(1, testKey(1), 0, []byte{1, 2}, 0)
	f.Session.ContextID = nil
	f.Session.DirectOID = "1.1"
	res := d.HandleFrame(f)
	if res.Consumed != 2 || res.Status != StatusMalformed {
		t.Fatalf("result: %+v", res)
	}
	if !res.Tree.HasAnnotation("nesting deeper than 4 levels") {
		t.Fatalf("tree:\n%s", res.Tree)
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	d := newTestDispatcher(t, nil)
	key := testKey(1)
	var frames []*Frame
	for i := 0; i < 6; i++ {
		f := frame(uint64(2*i+1), key, 3, pdu(1, int64(i%3)), time.Duration(i)*time.Second)
		frames = append(frames, f)
		frames = append(frames, frame(uint64(2*i+2), key, 3, pdu(2, int64(i%3)), time.Duration(i)*time.Second+time.Millisecond))
	}
	d.Seeds = []pctx.Binding{{ID: 3, OID: testOpsOID}}
	render := func() string {
		out := ""
		for _, res := range d.Replay(frames) {
			out += res.Tree.String()
		}
		return out
	}
	first := render()
	second := render()
	if first != second {
		t.Fatalf("replay differs:\n%s\n---\n%s", first, second)
	}
	if len(d.Conversation(key).Operations.Matched()) != 6 {
		t.Fatalf("matched: %d", len(d.Conversation(key).Operations.Matched()))
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("1.2", opsDecoder("a", nil), "a")
	r.Register("1.2", opsDecoder("b", nil), "b")
	r.Register("1.1", opsDecoder("c", nil), "c")
	entry, err := r.Lookup("1.2")
	if err != nil || entry.Protocol != "b" {
		t.Fatalf("lookup: %v %v", entry, err)
	}
	_, err = r.Lookup("9")
	var unresolved ErrUnresolvedOID
	if !errors.As(err, &unresolved) || unresolved.OID != "9" {
		t.Fatalf("lookup error: %v", err)
	}
	entries := r.Entries()
	if len(entries) != 2 || entries[0].OID != "1.1" {
		t.Fatalf("entries: %v", entries)
	}
	NewDispatcher(r)
	var frozen ErrRegistryFrozen
	if err := r.Register("1.3", opsDecoder("d", nil), "d"); !errors.As(err, &frozen) {
		t.Fatalf("frozen registry accepted %v", err)
	}
}

func TestConversationKeyDirection(t *testing.T) {
	net := gopacket.NewFlow(layers.EndpointIPv4, []byte{10, 0, 0, 1}, []byte{10, 0, 0, 2})
	transport := gopacket.NewFlow(layers.EndpointTCPPort, []byte{0xc0, 1}, []byte{0, 102})
	fwd, dirF := NewConversationKey(net, transport)
	rev, dirR := NewConversationKey(net.Reverse(), transport.Reverse())
	if fwd != rev {
		t.Fatalf("keys differ: %s %s", fwd, rev)
	}
	if dirF != DirectionForward || dirR != DirectionReverse {
		t.Fatalf("directions: %s %s", dirF, dirR)
	}
	if fwd.String() != "10.0.0.1:49153-10.0.0.2:102" {
		t.Fatalf("key: %s", fwd)
	}
}
