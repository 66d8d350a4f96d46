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

package ber

import (
	"fmt"

	"jinr.ru/greenlab/go-osi/pkg/tree"
)

var universalNames = map[uint32]string{
	TagBoolean:          "BOOLEAN",
	TagInteger:          "INTEGER",
	TagBitString:        "BIT STRING",
	TagOctetString:      "OCTET STRING",
	TagNull:             "NULL",
	TagOID:              "OBJECT IDENTIFIER",
	TagObjectDescriptor: "ObjectDescriptor",
	TagExternal:         "EXTERNAL",
	TagEnumerated:       "ENUMERATED",
	TagSequence:         "SEQUENCE",
	TagSet:              "SET",
	TagPrintableString:  "PrintableString",
	TagIA5String:        "IA5String",
	TagGraphicString:    "GraphicString",
	12:                  "UTF8String",
	20:                  "TeletexString",
	23:                  "UTCTime",
	24:                  "GeneralizedTime",
	26:                  "VisibleString",
	30:                  "BMPString",
}

// maxRenderDepth bounds the generic rendering of nested values
const maxRenderDepth = 16

// Label names the node by its universal type or its tag
func (n Node) Label() string {
	if n.Class == ClassUniversal {
		if name, ok := universalNames[n.Tag]; ok {
			return name
		}
	}
	return n.String()
}

// Render shows data as a generic tree of BER values without knowing the
// grammar. It returns the number of bytes that parsed as BER.
func Render(parent *tree.Node, data []byte) int {
	return render(parent, data, 0, 0)
}

func render(parent *tree.Node, data []byte, offset, depth int) int {
	consumed := 0
	for len(data) > 0 {
		value, rest, err := ReadNode(data)
		if err != nil {
			parent.Raw("Data", data).Warn("%v", err)
			return consumed
		}
		node := RenderValue(parent, value.Label(), value).Span(offset+consumed, value.Len())
		if value.Constructed {
			if depth < maxRenderDepth {
				render(node, value.Content, offset+consumed+value.HeaderLen(), depth+1)
			} else {
				node.Raw("Data", value.Content)
			}
		}
		consumed += value.Len()
		data = rest
	}
	return consumed
}

// RenderValue adds a node for a single value, primitives get a readable value
func RenderValue(parent *tree.Node, label string, value Node) *tree.Node {
	if value.Constructed {
		return parent.Add(label, "")
	}
	if value.Class != ClassUniversal {
		return parent.Raw(label, value.Content)
	}
	switch value.Tag {
	case TagBoolean:
		return parent.Add(label, fmt.Sprintf("%t", len(value.Content) > 0 && value.Content[0] != 0))
	case TagInteger, TagEnumerated:
		if v, err := value.Int64(); err == nil {
			return parent.Addf(label, "%d", v)
		}
	case TagNull:
		return parent.Add(label, "")
	case TagOID:
		if oid, err := value.OID(); err == nil {
			return parent.Add(label, oid)
		}
	case TagObjectDescriptor, TagPrintableString, TagIA5String, TagGraphicString, 12, 20, 23, 24, 26:
		return parent.Add(label, value.Text())
	}
	return parent.Raw(label, value.Content)
}
