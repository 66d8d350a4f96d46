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

package capture

import (
	"encoding/binary"

	osi "jinr.ru/greenlab/go-osi/pkg/layers"
	"jinr.ru/greenlab/go-osi/pkg/tree"
)

var disconnectReasons = map[uint8]string{
	0x00: "Reason not specified",
	0x01: "Congestion at TSAP",
	0x02: "Session entity not attached to TSAP",
	0x03: "Address unknown",
	0x80: "Normal disconnect initiated by the session entity",
	0x81: "Remote transport entity congestion at connect request time",
	0x82: "Connection negotiation failed",
	0x83: "Duplicate source reference",
	0x84: "Mismatched references",
	0x85: "Protocol error",
	0x87: "Reference overflow",
	0x88: "Connection request refused on this network connection",
	0x8A: "Header or parameter length invalid",
}

func renderTPKT(parent *tree.Node, tpkt *osi.TPKTLayer) *tree.Node {
	node := parent.Addf("TPKT", "version %d, length %d", tpkt.Version, tpkt.Length)
	node.Length = int(tpkt.Length)
	return node
}

func renderCOTP(parent *tree.Node, cotp *osi.COTPLayer) *tree.Node {
	node := parent.Add("COTP", cotp.Type.String())
	node.Length = len(cotp.Contents)
	node.Addf("Length indicator", "%d", cotp.LengthIndicator)
	switch cotp.Type {
	case osi.COTPTypeDT, osi.COTPTypeED:
		node.Addf("TPDU number", "%d", cotp.TPDUNumber)
		node.Addf("Last data unit", "%t", cotp.EOT)
	case osi.COTPTypeCR, osi.COTPTypeCC:
		node.Addf("Destination reference", "0x%04x", cotp.DstRef)
		node.Addf("Source reference", "0x%04x", cotp.SrcRef)
		node.Addf("Class", "%d", cotp.Class>>4)
	case osi.COTPTypeDR:
		node.Addf("Destination reference", "0x%04x", cotp.DstRef)
		node.Addf("Source reference", "0x%04x", cotp.SrcRef)
		reason, ok := disconnectReasons[cotp.Reason]
		if !ok {
			reason = "unknown"
		}
		node.Addf("Reason", "%s (0x%02x)", reason, cotp.Reason)
	case osi.COTPTypeDC:
		node.Addf("Destination reference", "0x%04x", cotp.DstRef)
		node.Addf("Source reference", "0x%04x", cotp.SrcRef)
	}
	for _, p := range cotp.Parameters {
		if p.Code == osi.COTPParamTPDUSize && len(p.Value) == 1 {
			node.Addf(p.Name(), "%d", 1<<p.Value[0])
			continue
		}
		node.Raw(p.Name(), p.Value)
	}
	return node
}

func renderSession(parent *tree.Node, session *osi.SessionLayer) *tree.Node {
	node := parent.Add("Session", session.Main().Type.String())
	node.Length = len(session.Contents)
	for i, spdu := range session.SPDUs {
		label := spdu.Type.String()
		if i == 0 && len(session.SPDUs) > 1 && spdu.Type == osi.SPDUTypeDT {
			label = "GIVE TOKENS (GT)"
		}
		item := node.Add("SPDU", label)
		renderParameters(item, spdu.Parameters)
		if len(spdu.UserInformation) > 0 {
			item.Addf("User information", "%d bytes", len(spdu.UserInformation))
		}
	}
	return node
}

func renderParameters(parent *tree.Node, params []*osi.SessionParameter) {
	for _, p := range params {
		switch {
		case len(p.Children) > 0:
			renderParameters(parent.Add(p.Name(), ""), p.Children)
		case p.Code == osi.SessionPGIUserData || p.Code == osi.SessionPGIExtendedUser:
			parent.Addf(p.Name(), "%d bytes", len(p.Value))
		case p.Code == osi.SessionPIEnclosure && len(p.Value) == 1:
			parent.Addf(p.Name(), "beginning %t, end %t",
				p.Value[0]&osi.SessionEnclosureBeginning != 0, p.Value[0]&osi.SessionEnclosureEnd != 0)
		case p.Code == osi.SessionPIRequirements && len(p.Value) == 2:
			parent.Addf(p.Name(), "0x%04x", binary.BigEndian.Uint16(p.Value))
		case p.Code == osi.SessionPIVersion && len(p.Value) == 1:
			parent.Addf(p.Name(), "0x%02x", p.Value[0])
		default:
			parent.Raw(p.Name(), p.Value)
		}
	}
}
