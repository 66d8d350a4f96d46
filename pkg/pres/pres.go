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

// Package pres decodes presentation PPDUs (ISO 8823 / X.226). Context
// definitions are bound into the conversation and every presentation data
// value is handed to the entry dispatcher.
package pres

import (
	"fmt"

	"jinr.ru/greenlab/go-osi/pkg/ber"
	"jinr.ru/greenlab/go-osi/pkg/dissect"
	"jinr.ru/greenlab/go-osi/pkg/tree"
)

const Protocol = "pres"

// DefaultContextID is the table slot of the default context, used for simply encoded data
const DefaultContextID int64 = -1

const (
	tagSimplyEncoded = 0
	tagFullyEncoded  = 1
)

// normal mode parameter tags
const (
	tagProtocolVersion       = 0
	tagCallingSelector       = 1
	tagCalledSelector        = 2
	tagRespondingSelector    = 3
	tagContextDefinitionList = 4
	tagContextResultList     = 5
	tagDefaultContextName    = 6
	tagDefaultContextResult  = 7
	tagPresRequirements      = 8
	tagSessionRequirements   = 9
	tagProviderReason        = 10
)

var parameterNames = map[uint32]string{
	tagProtocolVersion:       "protocol-version",
	tagCallingSelector:       "calling-presentation-selector",
	tagCalledSelector:        "called-presentation-selector",
	tagRespondingSelector:    "responding-presentation-selector",
	tagContextDefinitionList: "presentation-context-definition-list",
	tagContextResultList:     "presentation-context-definition-result-list",
	tagDefaultContextName:    "default-context-name",
	tagDefaultContextResult:  "default-context-result",
	tagPresRequirements:      "presentation-requirements",
	tagSessionRequirements:   "user-session-requirements",
	tagProviderReason:        "provider-reason",
}

var (
	modes = map[int64]string{
		0: "x410-1984-mode",
		1: "normal-mode",
	}
	contextResults = map[int64]string{
		0: "acceptance",
		1: "user-rejection",
		2: "provider-rejection",
	}
	providerReasons = map[int64]string{
		0: "reason-not-specified",
		1: "temporary-congestion",
		2: "local-limit-exceeded",
		3: "called-presentation-address-unknown",
		4: "protocol-version-not-supported",
		5: "default-context-not-supported",
		6: "user-data-not-readable",
		7: "no-PSAP-available",
	}
	abortReasons = map[int64]string{
		0: "reason-not-specified",
		1: "unrecognized-ppdu",
		2: "unexpected-ppdu",
		3: "unexpected-session-service-primitive",
		4: "unrecognized-ppdu-parameter",
		5: "unexpected-ppdu-parameter",
		6: "invalid-ppdu-parameter-value",
	}
)

// Layer decodes the PPDUs of all conversations of one dispatcher
type Layer struct {
	dispatcher *dissect.Dispatcher
}

func NewLayer(d *dissect.Dispatcher) *Layer {
	return &Layer{dispatcher: d}
}

// ppdu is the decode state of one presentation PDU
type ppdu struct {
	layer   *Layer
	frame   *dissect.Frame
	results []*dissect.Result
}

// Decode decodes the PPDU carried as f.Data in the session unit f.Session.Kind.
// It returns the presentation tree and the results of the dispatched data values.
func (l *Layer) Decode(f *dissect.Frame) (*tree.Node, []*dissect.Result) {
	node := tree.New("Presentation")
	node.Length = len(f.Data)
	if len(f.Data) == 0 {
		return node, nil
	}
	value, rest, err := ber.ReadNode(f.Data)
	if err != nil {
		node.Raw("Data", f.Data).Warn("%v", err)
		return node, nil
	}
	p := &ppdu{layer: l, frame: f}
	switch f.Session.Kind {
	case dissect.UnitConnect:
		node.Value = "CP-type"
		p.connect(node, value)
	case dissect.UnitAccept:
		node.Value = "CPA-PPDU"
		p.accept(node, value)
	case dissect.UnitRefuse:
		node.Value = "CPR-PPDU"
		p.refuse(node, value)
	case dissect.UnitAbort:
		p.abort(node, value)
	default:
		p.userData(node, value)
	}
	if len(rest) > 0 {
		node.Raw("Trailing data", rest).Warn("%d bytes after PPDU", len(rest))
	}
	return node, p.results
}

func (p *ppdu) key() dissect.ConversationKey {
	return p.frame.Session.Conversation
}

// connect decodes CP-type ::= SET { mode-selector [0], normal-mode-parameters [2] }
func (p *ppdu) connect(node *tree.Node, value ber.Node) {
	children, err := setChildren(node, value)
	if err != nil {
		return
	}
	for _, child := range children {
		switch {
		case child.IsContext(0):
			p.modeSelector(node, child)
		case child.IsContext(1):
			node.Raw("x410-mode-parameters", child.Content)
		case child.IsContext(2):
			p.parameters(node.Add("normal-mode-parameters", ""), child)
		default:
			node.Raw(child.String(), child.Content).Warn("unexpected element")
		}
	}
}

// accept decodes CPA-PPDU, laid out as CP-type
func (p *ppdu) accept(node *tree.Node, value ber.Node) {
	p.connect(node, value)
}

// refuse decodes CPR-PPDU ::= CHOICE { x400-mode-parameters SET, normal-mode-parameters SEQUENCE }
func (p *ppdu) refuse(node *tree.Node, value ber.Node) {
	switch {
	case value.IsUniversal(ber.TagSequence):
		p.parameters(node.Add("normal-mode-parameters", ""), value)
	case value.IsUniversal(ber.TagSet):
		node.Raw("x400-mode-parameters", value.Content)
	default:
		node.Raw(value.String(), value.Content).Warn("unexpected CPR-PPDU")
	}
}

// abort decodes ARU-PPDU (normal mode [0] or x400 SET) and ARP-PPDU (SEQUENCE)
func (p *ppdu) abort(node *tree.Node, value ber.Node) {
	switch {
	case value.IsContext(0):
		node.Value = "ARU-PPDU"
		params := node.Add("normal-mode-parameters", "")
		children, err := value.Children()
		if err != nil {
			params.Raw("Data", value.Content).Warn("%v", err)
			return
		}
		for _, child := range children {
			switch {
			case child.IsContext(0):
				p.contextIdentifiers(params, child)
			case child.Class == ber.ClassApplication:
				p.userData(params, child)
			default:
				params.Raw(child.String(), child.Content).Warn("unexpected element")
			}
		}
	case value.IsUniversal(ber.TagSet):
		node.Value = "ARU-PPDU"
		node.Raw("x400-mode-parameters", value.Content)
	case value.IsUniversal(ber.TagSequence):
		node.Value = "ARP-PPDU"
		children, err := value.Children()
		if err != nil {
			node.Raw("Data", value.Content).Warn("%v", err)
			return
		}
		for _, child := range children {
			switch {
			case child.IsContext(0):
				renderEnum(node, "provider-reason", child, abortReasons)
			case child.IsContext(1):
				renderEnum(node, "event-identifier", child, nil)
			default:
				node.Raw(child.String(), child.Content)
			}
		}
	default:
		p.userData(node, value)
	}
}

// modeSelector is [0] IMPLICIT SET { mode-value [0] IMPLICIT INTEGER }
func (p *ppdu) modeSelector(node *tree.Node, value ber.Node) {
	mode, err := value.Explicit()
	if err != nil {
		node.Raw("mode-selector", value.Content).Warn("%v", err)
		return
	}
	renderEnum(node, "mode-value", mode, modes)
}

// parameters walks the normal mode parameters shared by CP, CPA and CPR
func (p *ppdu) parameters(node *tree.Node, value ber.Node) {
	children, err := value.Children()
	if err != nil {
		node.Raw("Data", value.Content).Warn("%v", err)
		return
	}
	for _, child := range children {
		if child.Class == ber.ClassApplication {
			p.userData(node, child)
			continue
		}
		name, ok := parameterNames[child.Tag]
		if child.Class != ber.ClassContext || !ok {
			node.Raw(child.String(), child.Content).Warn("unexpected parameter")
			continue
		}
		switch child.Tag {
		case tagContextDefinitionList:
			p.definitions(node.Add(name, ""), child)
		case tagContextResultList:
			p.definitionResults(node.Add(name, ""), child)
		case tagDefaultContextName:
			p.defaultContext(node.Add(name, ""), child)
		case tagDefaultContextResult:
			renderEnum(node, name, child, contextResults)
		case tagProviderReason:
			renderEnum(node, name, child, providerReasons)
		default:
			node.Raw(name, child.Content)
		}
	}
}

// definitions binds every SEQUENCE { identifier INTEGER, abstract-syntax-name OID, transfer-syntax-name-list }
func (p *ppdu) definitions(node *tree.Node, value ber.Node) {
	items, err := value.Children()
	if err != nil {
		node.Warn("%v", err)
		return
	}
	for _, item := range items {
		fields, err := item.Children()
		if err != nil || len(fields) < 2 {
			node.Raw("Context-list item", item.Content).Warn("malformed context definition")
			continue
		}
		id, err := fields[0].Int64()
		if err != nil {
			node.Raw("Context-list item", item.Content).Warn("%v", err)
			continue
		}
		abstract, err := fields[1].OID()
		if err != nil {
			node.Raw("Context-list item", item.Content).Warn("%v", err)
			continue
		}
		entry := node.Addf("presentation-context", "%d: %s", id, abstract)
		if len(fields) > 2 {
			if syntaxes, err := fields[2].Children(); err == nil {
				for _, syntax := range syntaxes {
					if oid, err := syntax.OID(); err == nil {
						entry.Add("transfer-syntax-name", oid)
					}
				}
			}
		}
		p.layer.dispatcher.Bind(p.key(), id, abstract)
	}
}

// definitionResults renders SEQUENCE { result [0], transfer-syntax-name [1], provider-reason [2] }
func (p *ppdu) definitionResults(node *tree.Node, value ber.Node) {
	items, err := value.Children()
	if err != nil {
		node.Warn("%v", err)
		return
	}
	for i, item := range items {
		entry := node.Addf("result", "#%d", i+1)
		fields, err := item.Children()
		if err != nil {
			entry.Raw("Data", item.Content).Warn("%v", err)
			continue
		}
		for _, field := range fields {
			switch {
			case field.IsContext(0):
				renderEnum(entry, "result", field, contextResults)
				if v, err := field.Int64(); err == nil && v != 0 {
					entry.Note("context #%d rejected", i+1)
				}
			case field.IsContext(1):
				if oid, err := field.OID(); err == nil {
					entry.Add("transfer-syntax-name", oid)
				}
			case field.IsContext(2):
				renderEnum(entry, "provider-reason", field, providerReasons)
			}
		}
	}
}

// defaultContext is [6] IMPLICIT SEQUENCE { abstract [0] IMPLICIT OID, transfer [1] IMPLICIT OID }
func (p *ppdu) defaultContext(node *tree.Node, value ber.Node) {
	fields, err := value.Children()
	if err != nil {
		node.Warn("%v", err)
		return
	}
	for _, field := range fields {
		oid, err := field.OID()
		if err != nil {
			continue
		}
		if field.IsContext(0) {
			node.Add("abstract-syntax-name", oid)
			p.layer.dispatcher.Bind(p.key(), DefaultContextID, oid)
		} else {
			node.Add("transfer-syntax-name", oid)
		}
	}
}

// contextIdentifiers renders the context list of an abort
func (p *ppdu) contextIdentifiers(node *tree.Node, value ber.Node) {
	list := node.Add("presentation-context-identifier-list", "")
	items, err := value.Children()
	if err != nil {
		list.Warn("%v", err)
		return
	}
	for _, item := range items {
		fields, err := item.Children()
		if err != nil || len(fields) == 0 {
			continue
		}
		if id, err := fields[0].Int64(); err == nil {
			list.Addf("presentation-context-identifier", "%d", id)
		}
	}
}

// userData decodes User-data ::= CHOICE { simply-encoded-data [APPLICATION 0], fully-encoded-data [APPLICATION 1] }
func (p *ppdu) userData(node *tree.Node, value ber.Node) {
	switch {
	case value.IsApplication(tagSimplyEncoded):
		data := node.Add("simply-encoded-data", "")
		data.Length = len(value.Content)
		p.dispatch(data, DefaultContextID, value.Content)
	case value.IsApplication(tagFullyEncoded):
		data := node.Add("fully-encoded-data", "")
		items, err := value.Children()
		if err != nil {
			data.Raw("Data", value.Content).Warn("%v", err)
			return
		}
		for _, item := range items {
			p.pdv(data, item)
		}
	default:
		node.Raw(value.String(), value.Content).Warn("unexpected user data")
	}
}

// pdv decodes PDV-list ::= SEQUENCE { transfer-syntax-name OID OPTIONAL,
// presentation-context-identifier INTEGER, presentation-data-values CHOICE }
func (p *ppdu) pdv(node *tree.Node, value ber.Node) {
	pdv := node.Add("PDV-list", "").Span(0, value.Len())
	fields, err := value.Children()
	if err != nil {
		pdv.Raw("Data", value.Content).Warn("%v", err)
		return
	}
	var id *int64
	for _, field := range fields {
		switch {
		case field.IsUniversal(ber.TagOID):
			if oid, err := field.OID(); err == nil {
				pdv.Add("transfer-syntax-name", oid)
			}
		case field.IsUniversal(ber.TagInteger):
			v, err := field.Int64()
			if err != nil {
				pdv.Warn("%v", err)
				continue
			}
			id = &v
			pdv.Addf("presentation-context-identifier", "%d", v)
		case field.Class == ber.ClassContext && field.Tag <= 2:
			if id == nil {
				pdv.Raw("presentation-data-values", field.Content).Warn("missing presentation-context-identifier")
				continue
			}
			payload := field.Content
			if field.Tag == 2 && len(payload) > 0 {
				payload = payload[1:]
			}
			p.dispatch(pdv, *id, payload)
		default:
			pdv.Raw(field.String(), field.Content).Warn("unexpected element")
		}
	}
}

// dispatch hands one presentation data value to the entry dispatcher
func (p *ppdu) dispatch(node *tree.Node, id int64, payload []byte) {
	f := *p.frame
	f.Session.ContextID = dissect.ContextID(id)
	f.Session.DirectOID = ""
	f.Session.Segment = nil
	f.Data = payload
	res := p.layer.dispatcher.HandleFrame(&f)
	p.results = append(p.results, res)
	label := res.Protocol
	if label == "" {
		label = res.Status.String()
	}
	node.Addf("presentation-data-values", "%d bytes, %s", len(payload), label)
}

func setChildren(node *tree.Node, value ber.Node) ([]ber.Node, error) {
	if !value.IsUniversal(ber.TagSet) {
		err := ber.ErrMalformed{What: fmt.Sprintf("expected SET, got %s", value)}
		node.Raw("Data", value.Raw).Warn("%v", err)
		return nil, err
	}
	children, err := value.Children()
	if err != nil {
		node.Raw("Data", value.Content).Warn("%v", err)
	}
	return children, err
}

func renderEnum(node *tree.Node, name string, value ber.Node, names map[int64]string) {
	v, err := value.Int64()
	if err != nil {
		node.Raw(name, value.Content).Warn("%v", err)
		return
	}
	if label, ok := names[v]; ok {
		node.Addf(name, "%s (%d)", label, v)
		return
	}
	node.Addf(name, "%d", v)
}
