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

package acse

import (
	encodingasn1 "encoding/asn1"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"jinr.ru/greenlab/go-osi/pkg/dissect"
)

const bindOID = "2.5.9.1"

func application(n uint8) asn1.Tag {
	return asn1.Tag(0x60 | n)
}

func context(n uint8) asn1.Tag {
	return asn1.Tag(n).Constructed().ContextSpecific()
}

type fixture struct {
	d     *dissect.Dispatcher
	key   dissect.ConversationKey
	binds int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	r := dissect.NewRegistry()
	if err := Register(r); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Register(bindOID, dissect.DecoderFunc(func(data []byte, ctx *dissect.Context) (int, error) {
		f.binds++
		ctx.Node.Add("bind", "")
		return len(data), nil
	}), "bind")
	f.d = dissect.NewDispatcher(r)
	f.key, _ = dissect.NewConversationKey(
		gopacket.NewFlow(layers.EndpointIPv4, []byte{10, 1, 1, 1}, []byte{10, 1, 1, 2}),
		gopacket.NewFlow(layers.EndpointTCPPort, []byte{0x30, 0x39}, []byte{0, 102}),
	)
	f.d.Bind(f.key, 1, OID)
	f.d.Bind(f.key, 3, bindOID)
	return f
}

func (f *fixture) handle(number uint64, kind dissect.UnitKind, data []byte) *dissect.Result {
	return f.d.HandleFrame(&dissect.Frame{
		Number: number,
		Session: dissect.SessionDescriptor{
			Conversation: f.key,
			Kind:         kind,
			ContextID:    dissect.ContextID(1),
		},
		Data: data,
	})
}

func userInfoField(b *cryptobyte.Builder, externals ...func(b *cryptobyte.Builder)) {
	b.AddASN1(context(30), func(b *cryptobyte.Builder) {
		for _, ext := range externals {
			ext(b)
		}
	})
}

func bindExternal(b *cryptobyte.Builder) {
	b.AddASN1(asn1.Tag(8).Constructed(), func(b *cryptobyte.Builder) {
		b.AddASN1Int64(3)
		b.AddASN1(context(0), func(b *cryptobyte.Builder) {
			b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {})
		})
	})
}

func aarq(user ...func(b *cryptobyte.Builder)) []byte {
	var b cryptobyte.Builder
	b.AddASN1(application(0), func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.Tag(0).ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddBytes([]byte{0x07, 0x80})
		})
		b.AddASN1(context(1), func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(encodingasn1.ObjectIdentifier{2, 5, 3, 1})
		})
		b.AddASN1(context(6), func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(encodingasn1.ObjectIdentifier{1, 3, 9999, 1, 1})
		})
		b.AddASN1(context(12), func(b *cryptobyte.Builder) {
			b.AddASN1(asn1.Tag(0).ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddBytes([]byte("secret"))
			})
		})
		if len(user) > 0 {
			userInfoField(b, user...)
		}
	})
	return b.BytesOrPanic()
}

func TestAssociationRequest(t *testing.T) {
	f := newFixture(t)
	data := aarq(bindExternal)
	res := f.handle(1, dissect.UnitConnect, data)
	if res.Status != dissect.StatusDecoded || res.Protocol != Protocol || res.Consumed != len(data) {
		t.Fatalf("result %+v:\n%s", res, res.Tree)
	}
	want := map[string]string{
		"protocol-version":             "version1",
		"aSO-context-name":             "2.5.3.1",
		"calling-AP-title":             "1.3.9999.1.1",
		"calling-authentication-value": "charstring (6 bytes)",
	}
	for label, value := range want {
		if node := res.Tree.Find(label); node == nil || node.Value != value {
			t.Fatalf("%s: %+v\n%s", label, node, res.Tree)
		}
	}
	if f.binds != 1 || res.Tree.Find("bind") == nil {
		t.Fatalf("user information not dispatched:\n%s", res.Tree)
	}
	if ext := res.Tree.Find("EXTERNAL"); ext == nil || ext.Value != bindOID {
		t.Fatalf("external:\n%s", res.Tree)
	}
}

func TestAssociationRejected(t *testing.T) {
	f := newFixture(t)
	var b cryptobyte.Builder
	b.AddASN1(application(1), func(b *cryptobyte.Builder) {
		b.AddASN1(context(1), func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(encodingasn1.ObjectIdentifier{2, 5, 3, 1})
		})
		b.AddASN1(context(2), func(b *cryptobyte.Builder) {
			b.AddASN1Int64(1)
		})
		b.AddASN1(context(3), func(b *cryptobyte.Builder) {
			b.AddASN1(context(1), func(b *cryptobyte.Builder) {
				b.AddASN1Int64(2)
			})
		})
	})
	res := f.handle(2, dissect.UnitRefuse, b.BytesOrPanic())
	result := res.Tree.Find("result")
	if result == nil || result.Value != "rejected-permanent (1)" || !res.Tree.HasAnnotation("association rejected") {
		t.Fatalf("result:\n%s", res.Tree)
	}
	diag := res.Tree.Find("result-source-diagnostic (acse-service-user)")
	if diag == nil || diag.Value != "application-context-name-not-supported (2)" {
		t.Fatalf("diagnostic:\n%s", res.Tree)
	}
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	var b cryptobyte.Builder
	b.AddASN1(application(2), func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.Tag(0).ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddBytes([]byte{0x00})
		})
	})
	res := f.handle(3, dissect.UnitFinish, b.BytesOrPanic())
	if reason := res.Tree.Find("reason"); reason == nil || reason.Value != "normal (0)" {
		t.Fatalf("release:\n%s", res.Tree)
	}
	if res.Tree.Find("rlrq") == nil || len(res.Tree.Diagnostics()) != 0 {
		t.Fatalf("release:\n%s", res.Tree)
	}
}

func TestApduInUnexpectedUnit(t *testing.T) {
	f := newFixture(t)
	res := f.handle(1, dissect.UnitAbort, aarq())
	if res.Status != dissect.StatusDecoded || !res.Tree.HasAnnotation("aarq carried in abort unit") {
		t.Fatalf("tree:\n%s", res.Tree)
	}
	res = f.handle(2, dissect.UnitData, aarq())
	if res.Status != dissect.StatusRejected || !res.Tree.HasAnnotation(dissect.DiagWrongUnitKind) {
		t.Fatalf("data unit accepted:\n%s", res.Tree)
	}
}

func TestMalformedUserInformation(t *testing.T) {
	f := newFixture(t)
	broken := func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.Tag(8).Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1Int64(3)
		})
	}
	res := f.handle(1, dissect.UnitConnect, aarq(broken, bindExternal))
	if !res.Tree.HasAnnotation(dissect.DiagMalformedExt) || res.Status != dissect.StatusMalformed {
		t.Fatalf("tree:\n%s", res.Tree)
	}
	if f.binds != 1 {
		t.Fatalf("following EXTERNAL skipped")
	}
}
