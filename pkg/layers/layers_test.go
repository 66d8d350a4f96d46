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

package layers

import (
	"bytes"
	"testing"

	"github.com/google/gopacket"

	"jinr.ru/greenlab/go-osi/pkg/dissect"
)

func serialize(t *testing.T, l ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, l...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func decodeSession(t *testing.T, data []byte) *SessionLayer {
	t.Helper()
	p := gopacket.NewPacket(data, SessionLayerType, gopacket.Default)
	if e := p.ErrorLayer(); e != nil {
		t.Fatalf("session: %v", e.Error())
	}
	return p.Layer(SessionLayerType).(*SessionLayer)
}

func TestDataTSDU(t *testing.T) {
	user := []byte{0x61, 0x03, 0x02, 0x01, 0x07}
	data := serialize(t,
		&TPKTLayer{},
		&COTPLayer{Type: COTPTypeDT, EOT: true},
		&SessionLayer{SPDUs: []*SPDU{{Type: SPDUTypeDT}, {Type: SPDUTypeDT, UserInformation: user}}},
	)
	if len(data) != 4+3+4+len(user) || int(data[3]) != len(data) {
		t.Fatalf("encoded % x", data)
	}

	p := gopacket.NewPacket(data, TPKTLayerType, gopacket.Default)
	if e := p.ErrorLayer(); e != nil {
		t.Fatalf("decode: %v", e.Error())
	}
	cotp, ok := p.Layer(COTPLayerType).(*COTPLayer)
	if !ok || cotp.Type != COTPTypeDT || !cotp.EOT || cotp.LengthIndicator != 2 {
		t.Fatalf("cotp: %+v", cotp)
	}

	s := decodeSession(t, cotp.LayerPayload())
	if len(s.SPDUs) != 2 || s.UnitKind() != dissect.UnitData {
		t.Fatalf("spdus: %d kind %s", len(s.SPDUs), s.UnitKind())
	}
	if s.SPDUs[0].UserInformation != nil || !bytes.Equal(s.Main().UserData(), user) {
		t.Fatalf("user data % x", s.Main().UserData())
	}
	if present, _, _ := s.Main().Enclosure(); present {
		t.Fatalf("unsegmented SSDU reports enclosure")
	}
}

func TestConnectSPDU(t *testing.T) {
	user := bytes.Repeat([]byte{0xAB}, 300)
	data := serialize(t, &SessionLayer{SPDUs: []*SPDU{{
		Type: SPDUTypeCN,
		Parameters: []*SessionParameter{
			{Code: SessionPGIConnectAccept, Children: []*SessionParameter{
				{Code: SessionPIProtocolOptions, Value: []byte{0x00}},
				{Code: SessionPIVersion, Value: []byte{0x02}},
			}},
			{Code: SessionPIRequirements, Value: []byte{0x00, 0x02}},
			{Code: SessionPICalledSSel, Value: []byte{0x00, 0x01}},
			{Code: SessionPGIUserData, Value: user},
		},
	}}})

	s := decodeSession(t, data)
	main := s.Main()
	if s.UnitKind() != dissect.UnitConnect || main.Type != SPDUTypeCN {
		t.Fatalf("kind %s type %s", s.UnitKind(), main.Type)
	}
	version := main.Parameter(SessionPIVersion)
	if version == nil || version.Value[0] != 0x02 {
		t.Fatalf("version inside connect accept item not found")
	}
	if !main.Parameters[0].Group() || len(main.Parameters[0].Children) != 2 {
		t.Fatalf("group: %+v", main.Parameters[0])
	}
	if !bytes.Equal(main.UserData(), user) || !bytes.Equal(s.LayerPayload(), user) {
		t.Fatalf("user data %d bytes", len(main.UserData()))
	}
}

func TestSegmentedData(t *testing.T) {
	enclosure := func(bits byte) []*SessionParameter {
		return []*SessionParameter{{Code: SessionPIEnclosure, Value: []byte{bits}}}
	}
	first := decodeSession(t, serialize(t, &SessionLayer{SPDUs: []*SPDU{
		{Type: SPDUTypeDT},
		{Type: SPDUTypeDT, Parameters: enclosure(SessionEnclosureBeginning), UserInformation: []byte{1, 2}},
	}}))
	present, beginning, end := first.Main().Enclosure()
	if !present || !beginning || end {
		t.Fatalf("first segment: %v %v %v", present, beginning, end)
	}
	last := decodeSession(t, serialize(t, &SessionLayer{SPDUs: []*SPDU{
		{Type: SPDUTypeDT},
		{Type: SPDUTypeDT, Parameters: enclosure(SessionEnclosureEnd), UserInformation: []byte{3}},
	}}))
	present, beginning, end = last.Main().Enclosure()
	if !present || beginning || !end || !bytes.Equal(last.Main().UserData(), []byte{3}) {
		t.Fatalf("last segment: %v %v %v", present, beginning, end)
	}
}

func TestAbortAndRefuseKinds(t *testing.T) {
	for typ, kind := range map[SPDUType]dissect.UnitKind{
		SPDUTypeAB: dissect.UnitAbort,
		SPDUTypeRF: dissect.UnitRefuse,
		SPDUTypeFN: dissect.UnitFinish,
		SPDUTypeNF: dissect.UnitDisconnect,
		SPDUTypeAC: dissect.UnitAccept,
	} {
		s := decodeSession(t, serialize(t, &SessionLayer{SPDUs: []*SPDU{{Type: typ}}}))
		if s.UnitKind() != kind {
			t.Errorf("%s: %s, want %s", typ, s.UnitKind(), kind)
		}
	}
	s := decodeSession(t, []byte{0x07, 0x00})
	if s.UnitKind() != dissect.UnitUnknown {
		t.Errorf("unknown SPDU mapped to %s", s.UnitKind())
	}
}

func TestConnectionRequest(t *testing.T) {
	data := serialize(t, &TPKTLayer{}, &COTPLayer{
		Type:   COTPTypeCR,
		SrcRef: 0x0001,
		Parameters: []COTPParameter{
			{Code: COTPParamTPDUSize, Value: []byte{0x0A}},
			{Code: COTPParamCallingTSAP, Value: []byte{0x00, 0x01}},
		},
	})
	p := gopacket.NewPacket(data, TPKTLayerType, gopacket.Default)
	cotp, ok := p.Layer(COTPLayerType).(*COTPLayer)
	if !ok || cotp.Type != COTPTypeCR || cotp.SrcRef != 1 || len(cotp.Parameters) != 2 {
		t.Fatalf("cotp: %+v", cotp)
	}
	if v, ok := cotp.Parameter(COTPParamCallingTSAP); !ok || !bytes.Equal(v, []byte{0x00, 0x01}) {
		t.Fatalf("calling tsap % x", v)
	}
	if cotp.Parameters[0].Name() != "tpdu-size" {
		t.Fatalf("name %s", cotp.Parameters[0].Name())
	}
}

func TestTruncated(t *testing.T) {
	p := gopacket.NewPacket([]byte{0x03, 0x00, 0x00, 0x20, 0x02, 0xF0}, TPKTLayerType, gopacket.Default)
	if p.ErrorLayer() == nil {
		t.Fatalf("truncated TPKT decoded")
	}
	p = gopacket.NewPacket([]byte{0x06, 0xF0, 0x80}, COTPLayerType, gopacket.Default)
	if p.ErrorLayer() == nil {
		t.Fatalf("truncated COTP decoded")
	}
	p = gopacket.NewPacket([]byte{0x0D, 0x05, 0x14}, SessionLayerType, gopacket.Default)
	if p.ErrorLayer() == nil {
		t.Fatalf("truncated SPDU decoded")
	}
}

func TestNextTPKT(t *testing.T) {
	stream := []byte{
		0x03, 0x00, 0x00, 0x07, 0x02, 0xF0, 0x80,
		0x03, 0x00, 0x00, 0x08, 0x02, 0xF0, 0x80, 0x01,
		0x03, 0x00, 0x00,
	}
	one, rest, ok, err := NextTPKT(stream)
	if !ok || err != nil || len(one) != 7 {
		t.Fatalf("first: %v %v %d", ok, err, len(one))
	}
	two, rest, ok, _ := NextTPKT(rest)
	if !ok || len(two) != 8 || two[7] != 0x01 {
		t.Fatalf("second: % x", two)
	}
	_, rest, ok, err = NextTPKT(rest)
	if ok || err != nil || len(rest) != 3 {
		t.Fatalf("partial: %v %v %d", ok, err, len(rest))
	}
	if _, _, _, err = NextTPKT([]byte{0x45, 0x00, 0x00, 0x10}); err == nil {
		t.Fatalf("garbage accepted")
	}
}
