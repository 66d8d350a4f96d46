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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"jinr.ru/greenlab/go-osi/pkg/dissect"
	"jinr.ru/greenlab/go-osi/pkg/log"
)

const (
	// SessionLayerNum identifies the layer
	SessionLayerNum = 2002
	// sessionLongLength introduces a two byte length
	sessionLongLength = 0xFF
)

// SPDUType is the session SPDU identifier (SI)
type SPDUType uint8

const (
	SPDUTypeDT SPDUType = 1 // data transfer, also give tokens
	SPDUTypePT SPDUType = 2 // please tokens
	SPDUTypeEX SPDUType = 5
	SPDUTypeNF SPDUType = 8
	SPDUTypeFN SPDUType = 9
	SPDUTypeDN SPDUType = 10
	SPDUTypeRF SPDUType = 12
	SPDUTypeCN SPDUType = 13
	SPDUTypeAC SPDUType = 14
	SPDUTypeAB SPDUType = 25
	SPDUTypeAA SPDUType = 26
	SPDUTypeTD SPDUType = 33
	SPDUTypeCD SPDUType = 61
)

var spduTypeNames = map[SPDUType]string{
	SPDUTypeDT: "DATA TRANSFER (DT)",
	SPDUTypePT: "PLEASE TOKENS (PT)",
	SPDUTypeEX: "EXPEDITED (EX)",
	SPDUTypeNF: "NOT FINISHED (NF)",
	SPDUTypeFN: "FINISH (FN)",
	SPDUTypeDN: "DISCONNECT (DN)",
	SPDUTypeRF: "REFUSE (RF)",
	SPDUTypeCN: "CONNECT (CN)",
	SPDUTypeAC: "ACCEPT (AC)",
	SPDUTypeAB: "ABORT (AB)",
	SPDUTypeAA: "ABORT ACCEPT (AA)",
	SPDUTypeTD: "TYPED DATA (TD)",
	SPDUTypeCD: "CAPABILITY DATA (CD)",
}

func (t SPDUType) String() string {
	if name, ok := spduTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SPDU %d", uint8(t))
}

var spduUnitKinds = map[SPDUType]dissect.UnitKind{
	SPDUTypeCN: dissect.UnitConnect,
	SPDUTypeAC: dissect.UnitAccept,
	SPDUTypeRF: dissect.UnitRefuse,
	SPDUTypeFN: dissect.UnitFinish,
	SPDUTypeDN: dissect.UnitDisconnect,
	SPDUTypeNF: dissect.UnitDisconnect,
	SPDUTypeAB: dissect.UnitAbort,
	SPDUTypeAA: dissect.UnitAbort,
	SPDUTypeDT: dissect.UnitData,
	SPDUTypeCD: dissect.UnitData,
	SPDUTypeEX: dissect.UnitExpedited,
	SPDUTypeTD: dissect.UnitTyped,
}

// Session parameter and parameter group identifiers
const (
	SessionPGIConnectionID    uint8 = 1
	SessionPGIConnectAccept   uint8 = 5
	SessionPITransportDisc    uint8 = 17
	SessionPIProtocolOptions  uint8 = 19
	SessionPIRequirements     uint8 = 20
	SessionPITSDUMaximum      uint8 = 21
	SessionPIVersion          uint8 = 22
	SessionPIEnclosure        uint8 = 25
	SessionPITokenItem        uint8 = 26
	SessionPIReasonCode       uint8 = 50
	SessionPICallingSSel      uint8 = 51
	SessionPICalledSSel       uint8 = 52
	SessionPGIUserData        uint8 = 193
	SessionPGIExtendedUser    uint8 = 194
	SessionEnclosureBeginning uint8 = 0x01
	SessionEnclosureEnd       uint8 = 0x02
)

var sessionParamNames = map[uint8]string{
	SessionPGIConnectionID:   "Connection Identifier",
	SessionPGIConnectAccept:  "Connect Accept Item",
	SessionPITransportDisc:   "Transport Disconnect",
	SessionPIProtocolOptions: "Protocol Options",
	SessionPIRequirements:    "Session Requirement",
	SessionPITSDUMaximum:     "TSDU Maximum Size",
	SessionPIVersion:         "Version Number",
	SessionPIEnclosure:       "Enclosure Item",
	SessionPITokenItem:       "Token Item",
	SessionPIReasonCode:      "Reason Code",
	SessionPICallingSSel:     "Calling Session Selector",
	SessionPICalledSSel:      "Called Session Selector",
	SessionPGIUserData:       "Session user data",
	SessionPGIExtendedUser:   "Extended User Data",
}

// groups holds the PGIs whose value is a list of parameters
var groups = map[uint8]bool{
	SessionPGIConnectionID:  true,
	SessionPGIConnectAccept: true,
}

type SessionParameter struct {
	Code     uint8
	Value    []byte
	Children []*SessionParameter
}

func (p *SessionParameter) Name() string {
	if name, ok := sessionParamNames[p.Code]; ok {
		return name
	}
	return fmt.Sprintf("Parameter %d", p.Code)
}

// Group reports whether the parameter is a PGI with nested parameters
func (p *SessionParameter) Group() bool {
	return groups[p.Code]
}

type SPDU struct {
	Type       SPDUType
	Parameters []*SessionParameter
	// UserInformation follows the parameters of DT, EX and TD
	UserInformation []byte
}

// Parameter looks the code up among the parameters and inside groups
func (s *SPDU) Parameter(code uint8) *SessionParameter {
	for _, p := range s.Parameters {
		if p.Code == code {
			return p
		}
		for _, c := range p.Children {
			if c.Code == code {
				return c
			}
		}
	}
	return nil
}

// UserData returns the SS-user data carried by the SPDU
func (s *SPDU) UserData() []byte {
	if s.UserInformation != nil {
		return s.UserInformation
	}
	for _, code := range []uint8{SessionPGIUserData, SessionPGIExtendedUser} {
		if p := s.Parameter(code); p != nil {
			return p.Value
		}
	}
	return nil
}

// Enclosure returns the enclosure item bits, present is false for unsegmented SSDUs
func (s *SPDU) Enclosure() (present, beginning, end bool) {
	p := s.Parameter(SessionPIEnclosure)
	if p == nil || len(p.Value) == 0 {
		return false, false, false
	}
	return true, p.Value[0]&SessionEnclosureBeginning != 0, p.Value[0]&SessionEnclosureEnd != 0
}

func trailingUserInformation(t SPDUType) bool {
	return t == SPDUTypeDT || t == SPDUTypeEX || t == SPDUTypeTD
}

// SessionLayer is one TSDU, a concatenation of SPDUs
type SessionLayer struct {
	layers.BaseLayer
	SPDUs []*SPDU
}

var SessionLayerType = gopacket.RegisterLayerType(SessionLayerNum,
	gopacket.LayerTypeMetadata{Name: "Session", Decoder: gopacket.DecodeFunc(decodeSessionLayer)})

func (s *SessionLayer) LayerType() gopacket.LayerType {
	return SessionLayerType
}

func (s *SessionLayer) CanDecode() gopacket.LayerClass {
	return SessionLayerType
}

func (s *SessionLayer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

// Main returns the SPDU that carries the service, a leading give tokens is skipped
func (s *SessionLayer) Main() *SPDU {
	if len(s.SPDUs) == 0 {
		return nil
	}
	return s.SPDUs[len(s.SPDUs)-1]
}

// UnitKind maps the main SPDU to the session unit kind of its user data
func (s *SessionLayer) UnitKind() dissect.UnitKind {
	main := s.Main()
	if main == nil {
		return dissect.UnitUnknown
	}
	if kind, ok := spduUnitKinds[main.Type]; ok {
		return kind
	}
	return dissect.UnitUnknown
}

func (s *SessionLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	var out []byte
	for _, spdu := range s.SPDUs {
		encoded, err := encodeSPDU(spdu)
		if err != nil {
			return err
		}
		out = append(out, encoded...)
	}
	bytes, err := b.PrependBytes(len(out))
	if err != nil {
		return err
	}
	copy(bytes, out)
	return nil
}

func encodeLength(n int) ([]byte, error) {
	if n > 0xFFFF {
		return nil, fmt.Errorf("Session length %d too large", n)
	}
	if n < sessionLongLength {
		return []byte{byte(n)}, nil
	}
	return []byte{sessionLongLength, byte(n >> 8), byte(n)}, nil
}

func encodeParameters(params []*SessionParameter) ([]byte, error) {
	var out []byte
	for _, p := range params {
		value := p.Value
		if len(p.Children) > 0 {
			var err error
			if value, err = encodeParameters(p.Children); err != nil {
				return nil, err
			}
		}
		length, err := encodeLength(len(value))
		if err != nil {
			return nil, err
		}
		out = append(out, p.Code)
		out = append(out, length...)
		out = append(out, value...)
	}
	return out, nil
}

func encodeSPDU(spdu *SPDU) ([]byte, error) {
	params, err := encodeParameters(spdu.Parameters)
	if err != nil {
		return nil, err
	}
	length, err := encodeLength(len(params))
	if err != nil {
		return nil, err
	}
	out := append([]byte{byte(spdu.Type)}, length...)
	out = append(out, params...)
	return append(out, spdu.UserInformation...), nil
}

// decodeLength reads a one or three byte length
func decodeLength(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, errors.New("missing length")
	}
	if data[0] != sessionLongLength {
		return int(data[0]), 1, nil
	}
	if len(data) < 3 {
		return 0, 0, errors.New("truncated extended length")
	}
	return int(binary.BigEndian.Uint16(data[1:3])), 3, nil
}

func decodeParameters(data []byte, nested bool) ([]*SessionParameter, error) {
	var params []*SessionParameter
	for len(data) > 0 {
		code := data[0]
		length, n, err := decodeLength(data[1:])
		if err != nil {
			return params, fmt.Errorf("parameter %d: %w", code, err)
		}
		start := 1 + n
		if start+length > len(data) {
			return params, fmt.Errorf("parameter %d: length %d exceeds %d bytes", code, length, len(data)-start)
		}
		p := &SessionParameter{Code: code, Value: data[start : start+length]}
		if !nested && groups[code] {
			if p.Children, err = decodeParameters(p.Value, true); err != nil {
				return params, err
			}
		}
		params = append(params, p)
		data = data[start+length:]
	}
	return params, nil
}

func (s *SessionLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 2 {
		df.SetTruncated()
		return errors.New("Session SPDU too short")
	}
	s.SPDUs = nil
	rest := data
	for len(rest) > 0 {
		if len(rest) < 2 {
			df.SetTruncated()
			return fmt.Errorf("Session SPDU %d truncated", len(s.SPDUs))
		}
		spdu := &SPDU{Type: SPDUType(rest[0])}
		length, n, err := decodeLength(rest[1:])
		if err != nil {
			df.SetTruncated()
			return fmt.Errorf("Session %s: %w", spdu.Type, err)
		}
		start := 1 + n
		if start+length > len(rest) {
			df.SetTruncated()
			return fmt.Errorf("Session %s length %d exceeds %d bytes", spdu.Type, length, len(rest)-start)
		}
		if spdu.Parameters, err = decodeParameters(rest[start:start+length], false); err != nil {
			return fmt.Errorf("Session %s: %w", spdu.Type, err)
		}
		rest = rest[start+length:]
		// a leading category 0 SPDU is followed by the category 2 one in the same TSDU
		category0 := len(s.SPDUs) == 0 && (spdu.Type == SPDUTypeDT || spdu.Type == SPDUTypePT) && len(rest) > 0
		if !category0 && trailingUserInformation(spdu.Type) {
			spdu.UserInformation = rest
			rest = nil
		}
		s.SPDUs = append(s.SPDUs, spdu)
	}
	s.BaseLayer = layers.BaseLayer{
		Contents: data[:len(data)-len(s.Main().UserInformation)],
		Payload:  s.Main().UserData(),
	}
	return nil
}

func decodeSessionLayer(data []byte, p gopacket.PacketBuilder) error {
	s := &SessionLayer{}
	err := s.DecodeFromBytes(data, p)
	if err != nil {
		log.Debug("Error while decoding Session layer: %s", err)
		return err
	}
	p.AddLayer(s)
	return p.NextDecoder(s.NextLayerType())
}
