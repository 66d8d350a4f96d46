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
	"jinr.ru/greenlab/go-osi/pkg/ber"
	"jinr.ru/greenlab/go-osi/pkg/metrics"
	"jinr.ru/greenlab/go-osi/pkg/pctx"
	"jinr.ru/greenlab/go-osi/pkg/tree"
)

/*
 EXTERNAL ::= [UNIVERSAL 8] IMPLICIT SEQUENCE {
     direct-reference      OBJECT IDENTIFIER OPTIONAL,
     indirect-reference    INTEGER OPTIONAL,
     data-value-descriptor ObjectDescriptor OPTIONAL,
     encoding CHOICE {
         single-ASN1-type [0] ANY,
         octet-aligned    [1] IMPLICIT OCTET STRING,
         arbitrary        [2] IMPLICIT BIT STRING } }
*/

const (
	encodingSingleASN1   = 0
	encodingOctetAligned = 1
	encodingArbitrary    = 2
)

// DispatchExternal decodes one EXTERNAL value at the start of data, resolves
// its reference and dispatches the encoding. It returns the length of the
// EXTERNAL value, or the whole input when the value is malformed.
func (c *Context) DispatchExternal(data []byte) int {
	n, _ := c.dispatchExternal(data)
	return n
}

func (c *Context) dispatchExternal(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	value, _, err := ber.ReadNode(data)
	if err == nil && (!value.IsUniversal(ber.TagExternal) || !value.Constructed) {
		err = ber.ErrMalformed{What: "expected EXTERNAL, got " + value.String()}
	}
	if err != nil {
		c.malformedExternal(c.Node.Raw("EXTERNAL", data), err)
		return len(data), err
	}
	node := c.Node.Add("EXTERNAL", "").Span(0, value.Len())
	children, err := value.Children()
	if err != nil {
		c.malformedExternal(node, err)
		node.Raw("Data", value.Content)
		return value.Len(), err
	}
	var ref pctx.Reference
	var encoding *ber.Node
	for i := range children {
		child := children[i]
		switch {
		case child.IsUniversal(ber.TagOID):
			oid, err := child.OID()
			if err != nil {
				node.Warn("direct-reference: %v", err)
				continue
			}
			ref.Direct = oid
			node.Add("direct-reference", oid)
		case child.IsUniversal(ber.TagInteger):
			id, err := child.Int64()
			if err != nil {
				node.Warn("indirect-reference: %v", err)
				continue
			}
			ref.Indirect = &id
			node.Addf("indirect-reference", "%d", id)
		case child.IsUniversal(ber.TagObjectDescriptor):
			node.Add("data-value-descriptor", child.Text())
		case child.Class == ber.ClassContext && child.Tag <= encodingArbitrary && encoding == nil:
			encoding = &child
		default:
			node.Warn("unexpected %s in EXTERNAL", child)
		}
	}
	if encoding == nil {
		err := ber.ErrMalformed{What: "EXTERNAL without encoding"}
		c.malformedExternal(node, err)
		return value.Len(), err
	}
	oid, err := c.conv.Contexts.ResolveReference(ref)
	if err != nil {
		node.Warn("%v", err)
		node.Raw("Data", encoding.Content)
		metrics.RecordDiagnostic(metrics.DiagNotBound)
		c.result.degrade(StatusUnresolved)
		return value.Len(), nil
	}
	node.Value = oid
	payload := encoding.Content
	switch encoding.Tag {
	case encodingSingleASN1:
		node.Add("encoding", "single-ASN1-type")
	case encodingOctetAligned:
		node.Add("encoding", "octet-aligned")
	case encodingArbitrary:
		node.Add("encoding", "arbitrary")
		if len(payload) > 0 {
			// leading octet counts the unused bits
			payload = payload[1:]
		}
	}
	if len(payload) == 0 {
		node.Note("empty encoding")
		return value.Len(), nil
	}
	c.WithNode(node).Dispatch(oid, payload)
	return value.Len(), nil
}

func (c *Context) malformedExternal(node *tree.Node, err error) {
	node.Error(DiagMalformedExt)
	node.Note("%v", err)
	metrics.RecordDiagnostic(metrics.DiagMalformed)
	c.result.degrade(StatusMalformed)
}
