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

// Package rose decodes remote operation PDUs (X.880) and feeds the
// invocations into the correlator of the conversation.
package rose

import (
	"fmt"

	"jinr.ru/greenlab/go-osi/pkg/ber"
	"jinr.ru/greenlab/go-osi/pkg/dissect"
	"jinr.ru/greenlab/go-osi/pkg/roc"
	"jinr.ru/greenlab/go-osi/pkg/tree"
)

const Protocol = "rose"

type PduType uint32

const (
	PduInvoke       PduType = 1
	PduReturnResult PduType = 2
	PduReturnError  PduType = 3
	PduReject       PduType = 4
)

var pduNames = map[PduType]string{
	PduInvoke:       "invoke",
	PduReturnResult: "returnResult",
	PduReturnError:  "returnError",
	PduReject:       "reject",
}

func (t PduType) String() string {
	if name, ok := pduNames[t]; ok {
		return name
	}
	return fmt.Sprintf("pdu(%d)", uint32(t))
}

// Kinds are the session units remote operations travel in at top level
var Kinds = []dissect.UnitKind{
	dissect.UnitData,
	dissect.UnitTyped,
	dissect.UnitExpedited,
}

const tagLinkedID = 0

// reject problem CHOICE, one table per alternative
var problems = map[uint32]struct {
	name  string
	codes map[int64]string
}{
	0: {"general", map[int64]string{
		0: "unrecognizedPDU",
		1: "mistypedPDU",
		2: "badlyStructuredPDU",
	}},
	1: {"invoke", map[int64]string{
		0: "duplicateInvocation",
		1: "unrecognizedOperation",
		2: "mistypedArgument",
		3: "resourceLimitation",
		4: "releaseInProgress",
		5: "unrecognizedLinkedId",
		6: "linkedResponseUnexpected",
		7: "unexpectedLinkedOperation",
	}},
	2: {"returnResult", map[int64]string{
		0: "unrecognizedInvocation",
		1: "resultResponseUnexpected",
		2: "mistypedResult",
	}},
	3: {"returnError", map[int64]string{
		0: "unrecognizedInvocation",
		1: "errorResponseUnexpected",
		2: "unrecognizedError",
		3: "unexpectedError",
		4: "mistypedParameter",
	}},
}

type Decoder struct {
	Set *OperationSet
}

func NewDecoder(set *OperationSet) *Decoder {
	if set == nil {
		set = Generic
	}
	return &Decoder{Set: set}
}

func (d *Decoder) Decode(data []byte, ctx *dissect.Context) (int, error) {
	pdu, _, err := ber.ReadNode(data)
	if err != nil {
		return 0, err
	}
	if pdu.Class != ber.ClassContext || !pdu.Constructed {
		return 0, ber.ErrMalformed{What: fmt.Sprintf("%s is not a ROSE PDU", pdu)}
	}
	kind := PduType(pdu.Tag)
	ctx.Node.Value = kind.String()
	children, err := pdu.Children()
	if err != nil {
		ctx.Node.Raw(kind.String(), pdu.Content)
		return pdu.Len(), err
	}
	switch kind {
	case PduInvoke:
		err = d.invoke(ctx, children)
	case PduReturnResult:
		err = d.returnResult(ctx, children)
	case PduReturnError:
		err = d.returnError(ctx, children)
	case PduReject:
		err = d.reject(ctx, children)
	default:
		ctx.Node.Raw(kind.String(), pdu.Content).Warn("unknown ROSE PDU")
	}
	return pdu.Len(), err
}

// invokeID reads the leading InvokeId, absent ids (NULL) give ok == false
func invokeID(node *tree.Node, children []ber.Node) (int64, bool, []ber.Node, error) {
	if len(children) == 0 {
		return 0, false, nil, ber.ErrMalformed{What: "missing invokeId"}
	}
	first := children[0]
	if first.IsUniversal(ber.TagNull) {
		node.Add("invokeId", "absent")
		return 0, false, children[1:], nil
	}
	if !first.IsUniversal(ber.TagInteger) {
		return 0, false, children, ber.ErrMalformed{What: fmt.Sprintf("invokeId is %s", first)}
	}
	id, err := first.Int64()
	if err != nil {
		return 0, false, children, err
	}
	node.Addf("invokeId", "%d", id)
	return id, true, children[1:], nil
}

// opcode reads a local (INTEGER) or global (OID) code
func (d *Decoder) opcode(code ber.Node) (*Operation, string, error) {
	switch {
	case code.IsUniversal(ber.TagInteger):
		v, err := code.Int64()
		if err != nil {
			return nil, "", err
		}
		return d.Set.Operations[v], d.Set.OperationName(v), nil
	case code.IsUniversal(ber.TagOID):
		oid, err := code.OID()
		if err != nil {
			return nil, "", err
		}
		if op, ok := d.Set.Global[oid]; ok {
			return op, op.Name, nil
		}
		return nil, oid, nil
	}
	return nil, "", ber.ErrMalformed{What: fmt.Sprintf("code is %s", code)}
}

func (d *Decoder) invoke(ctx *dissect.Context, children []ber.Node) error {
	id, ok, rest, err := invokeID(ctx.Node, children)
	if err != nil {
		return err
	}
	if !ok {
		return ber.ErrMalformed{What: "invoke without invokeId"}
	}
	if len(rest) > 0 && rest[0].IsContext(tagLinkedID) {
		if linked, err := rest[0].Int64(); err == nil {
			ctx.Node.Addf("linkedId", "%d", linked)
		}
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return ber.ErrMalformed{What: "invoke without opcode"}
	}
	op, name, err := d.opcode(rest[0])
	if err != nil {
		return err
	}
	ctx.Node.Add("opcode", name)
	ctx.Opcode = name
	ctx.Invoke(id, name)
	if len(rest) > 1 {
		d.nested(ctx, "argument", op, rest[1], true)
	}
	return nil
}

func (d *Decoder) returnResult(ctx *dissect.Context, children []ber.Node) error {
	id, ok, rest, err := invokeID(ctx.Node, children)
	if err != nil {
		return err
	}
	var inv *roc.Invocation
	if ok {
		inv = ctx.Respond(id, roc.OutcomeResult)
	}
	if len(rest) == 0 {
		d.matchedOpcode(ctx, inv)
		return nil
	}
	// result SEQUENCE { opcode, result }
	parts, err := rest[0].Children()
	if err != nil || len(parts) == 0 {
		ctx.Node.Raw("result", rest[0].Content)
		return err
	}
	op, name, err := d.opcode(parts[0])
	if err != nil {
		return err
	}
	ctx.Node.Add("opcode", name)
	ctx.Opcode = name
	if len(parts) > 1 {
		d.nested(ctx, "result", op, parts[1], false)
	}
	return nil
}

// matchedOpcode shows the opcode of a result without one, taken from its invocation
func (d *Decoder) matchedOpcode(ctx *dissect.Context, inv *roc.Invocation) {
	if inv == nil || inv.Opcode == "" {
		return
	}
	ctx.Node.Add("opcode", inv.Opcode).Note("from invocation in frame %d", inv.RequestFrame)
	ctx.Opcode = inv.Opcode
}

func (d *Decoder) returnError(ctx *dissect.Context, children []ber.Node) error {
	id, ok, rest, err := invokeID(ctx.Node, children)
	if err != nil {
		return err
	}
	var inv *roc.Invocation
	if ok {
		inv = ctx.Respond(id, roc.OutcomeError)
	}
	d.matchedOpcode(ctx, inv)
	if len(rest) == 0 {
		return ber.ErrMalformed{What: "returnError without errcode"}
	}
	code := rest[0]
	switch {
	case code.IsUniversal(ber.TagInteger):
		v, err := code.Int64()
		if err != nil {
			return err
		}
		ctx.Node.Add("errcode", d.Set.ErrorName(v))
	case code.IsUniversal(ber.TagOID):
		oid, err := code.OID()
		if err != nil {
			return err
		}
		ctx.Node.Add("errcode", oid)
	default:
		return ber.ErrMalformed{What: fmt.Sprintf("errcode is %s", code)}
	}
	if len(rest) > 1 {
		param := ber.RenderValue(ctx.Node, "parameter", rest[1])
		if rest[1].Constructed {
			ber.Render(param, rest[1].Content)
		}
	}
	return nil
}

// reject is never correlated, a rejected invocation stays pending
func (d *Decoder) reject(ctx *dissect.Context, children []ber.Node) error {
	_, _, rest, err := invokeID(ctx.Node, children)
	if err != nil {
		return err
	}
	if len(rest) == 0 || rest[0].Class != ber.ClassContext {
		return ber.ErrMalformed{What: "reject without problem"}
	}
	problem, ok := problems[rest[0].Tag]
	if !ok {
		ctx.Node.Raw("problem", rest[0].Content).Warn("unknown problem type")
		return nil
	}
	v, err := rest[0].Int64()
	if err != nil {
		return err
	}
	name, ok := problem.codes[v]
	if !ok {
		name = fmt.Sprintf("%d", v)
	}
	ctx.Node.Addf("problem", "%s: %s", problem.name, name).Warn("operation rejected")
	return nil
}

// nested dispatches an argument or result by the abstract syntax of the operation
func (d *Decoder) nested(ctx *dissect.Context, label string, op *Operation, value ber.Node, argument bool) {
	oid := ""
	if op != nil {
		oid = op.Result
		if argument {
			oid = op.Argument
		}
	}
	node := ctx.Node.Add(label, "")
	if oid == "" {
		ber.Render(node, value.Raw)
		return
	}
	node.Value = oid
	ctx.WithNode(node).Dispatch(oid, value.Raw)
}

// Register adds a decoder for every OID using the operation set
func Register(r *dissect.Registry, set *OperationSet, oids ...string) error {
	decoder := NewDecoder(set)
	for _, oid := range oids {
		if err := r.Register(oid, decoder, Protocol, Kinds...); err != nil {
			return err
		}
	}
	return nil
}
