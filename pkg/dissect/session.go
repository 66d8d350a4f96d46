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
	"fmt"

	"github.com/google/gopacket"

	"jinr.ru/greenlab/go-osi/pkg/reassembly"
)

// ConversationKey identifies a bidirectional flow. Both directions of a flow
// map to the same key.
type ConversationKey struct {
	net       gopacket.Flow
	transport gopacket.Flow
}

type Direction uint8

const (
	DirectionForward Direction = iota
	DirectionReverse
)

func (d Direction) String() string {
	if d == DirectionReverse {
		return "reverse"
	}
	return "forward"
}

// NewConversationKey normalises the flows of a packet and returns the key
// together with the direction of the packet within the conversation.
func NewConversationKey(net, transport gopacket.Flow) (ConversationKey, Direction) {
	src, dst := net.Endpoints()
	tsrc, tdst := transport.Endpoints()
	if dst.LessThan(src) || (src == dst && tdst.LessThan(tsrc)) {
		return ConversationKey{net: net.Reverse(), transport: transport.Reverse()}, DirectionReverse
	}
	return ConversationKey{net: net, transport: transport}, DirectionForward
}

func (k ConversationKey) String() string {
	src, dst := k.net.Endpoints()
	tsrc, tdst := k.transport.Endpoints()
	return fmt.Sprintf("%s:%s-%s:%s", src, tsrc, dst, tdst)
}

// UnitKind is the session service unit a payload arrived in
type UnitKind int

const (
	UnitUnknown UnitKind = iota
	UnitConnect
	UnitAccept
	UnitRefuse
	UnitData
	UnitExpedited
	UnitTyped
	UnitFinish
	UnitDisconnect
	UnitAbort
)

var unitKindNames = map[UnitKind]string{
	UnitUnknown:    "unknown",
	UnitConnect:    "connect",
	UnitAccept:     "accept",
	UnitRefuse:     "refuse",
	UnitData:       "data",
	UnitExpedited:  "expedited",
	UnitTyped:      "typed-data",
	UnitFinish:     "finish",
	UnitDisconnect: "disconnect",
	UnitAbort:      "abort",
}

func (k UnitKind) String() string {
	if name, ok := unitKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unit(%d)", int(k))
}

func (k UnitKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *UnitKind) UnmarshalText(text []byte) error {
	for kind, name := range unitKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown session unit kind %q", text)
}

// Segment marks a payload as one segment of a larger unit
type Segment struct {
	Unit reassembly.UnitID
	Last bool
	// External means the completed unit is one EXTERNAL value carrying its own reference
	External bool
}

// SessionDescriptor is supplied by the session layer with every payload
type SessionDescriptor struct {
	Conversation ConversationKey
	Direction    Direction
	Kind         UnitKind
	// ContextID is the presentation context of the payload, nil when absent
	ContextID *int64
	// DirectOID names the abstract syntax directly and takes precedence over ContextID
	DirectOID string
	Segment   *Segment
}

// Frame is one payload handed to the entry dispatcher
type Frame struct {
	Number uint64
	gopacket.CaptureInfo
	Session SessionDescriptor
	Data    []byte
}

// ContextID is a helper for building descriptors
func ContextID(id int64) *int64 {
	return &id
}
