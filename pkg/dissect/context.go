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
	"errors"
	"fmt"
	"time"

	"jinr.ru/greenlab/go-osi/pkg/log"
	"jinr.ru/greenlab/go-osi/pkg/metrics"
	"jinr.ru/greenlab/go-osi/pkg/roc"
	"jinr.ru/greenlab/go-osi/pkg/tree"
)

// Context is the parse context of one PDU. Each decoder invocation gets its
// own context, nested payloads get a child context one level deeper, so
// sibling decode steps never share the current OID or opcode.
type Context struct {
	dispatcher *Dispatcher
	conv       *Conversation
	frame      *Frame
	result     *Result
	depth      int

	// Node is where the decoder renders
	Node     *tree.Node
	OID      string
	Protocol string
	// Opcode is the operation of the PDU, nested values start without one
	Opcode string
}

func (c *Context) Conversation() *Conversation {
	return c.conv
}

func (c *Context) Frame() *Frame {
	return c.frame
}

func (c *Context) FrameNumber() uint64 {
	return c.frame.Number
}

func (c *Context) Timestamp() time.Time {
	return c.frame.Timestamp
}

// UnitKind is the session unit the frame arrived in
func (c *Context) UnitKind() UnitKind {
	return c.frame.Session.Kind
}

func (c *Context) Depth() int {
	return c.depth
}

// WithNode returns a copy of the context rendering into node at the same depth
func (c *Context) WithNode(node *tree.Node) *Context {
	inner := *c
	inner.Node = node
	return &inner
}

// Bind records a presentation context announced inside the payload
func (c *Context) Bind(id int64, oid string) {
	c.conv.Contexts.Bind(id, oid)
}

// ResolveOID resolves an indirect reference against the conversation's contexts
func (c *Context) ResolveOID(id int64) (string, error) {
	return c.conv.Contexts.Resolve(id)
}

// Dispatch hands a nested opaque value to the decoder registered for the OID
// and returns the number of bytes consumed. It never fails: unknown OIDs and
// decoders making no progress are rendered raw and consume the whole value.
// The result is positive for every non-empty payload.
func (c *Context) Dispatch(oid string, data []byte) int {
	if len(data) == 0 {
		return 0
	}
	if c.depth >= c.dispatcher.MaxDepth {
		raw := c.Node.Raw("Nested value", data)
		raw.Error(DiagNestingTooDeep, c.dispatcher.MaxDepth)
		metrics.RecordDiagnostic(metrics.DiagTooDeep)
		c.result.degrade(StatusMalformed)
		return len(data)
	}
	entry, err := c.dispatcher.registry.Lookup(oid)
	if err != nil {
		return c.unresolved(oid, data)
	}
	n, wrongKind := c.decode(entry, data)
	if wrongKind {
		raw := c.Node.Raw(entry.Protocol, data)
		raw.Error(DiagWrongUnitKind)
		metrics.RecordDiagnostic(metrics.DiagWrongUnitKind)
		c.result.degrade(StatusRejected)
		return len(data)
	}
	return n
}

func (c *Context) unresolved(oid string, data []byte) int {
	raw := c.Node.Raw(fmt.Sprintf("Data (%s)", oid), data)
	raw.Warn(DiagNoDecoder, oid)
	metrics.RecordDiagnostic(metrics.DiagUnresolvedOID)
	c.result.degrade(StatusUnresolved)
	return len(data)
}

// child returns a fresh context rendering into node one level deeper
func (c *Context) child(entry *Entry, node *tree.Node) *Context {
	return &Context{
		dispatcher: c.dispatcher,
		conv:       c.conv,
		frame:      c.frame,
		result:     c.result,
		depth:      c.depth + 1,
		Node:       node,
		OID:        entry.OID,
		Protocol:   entry.Protocol,
	}
}

// decode runs the decoder of the entry on data. The rendered node is only
// attached when the decoder accepted the payload; on ErrWrongUnitKind nothing
// is rendered, nothing is consumed and true is returned.
func (c *Context) decode(entry *Entry, data []byte) (int, bool) {
	node := tree.New(entry.Protocol)
	node.Length = len(data)
	n, err := c.child(entry, node).run(entry.Decoder, data)
	var wrongKind ErrWrongUnitKind
	if errors.As(err, &wrongKind) && n == 0 {
		log.Debug("Frame %d: %v", c.frame.Number, err)
		return 0, true
	}
	c.Node.Attach(node)
	metrics.RecordDispatch(entry.Protocol)
	if n <= 0 {
		node.Error(DiagNoProgress)
		node.Note("%v", ErrNoProgress{OID: entry.OID})
		if err != nil {
			node.Note("%v", err)
		}
		node.Raw("Data", data)
		metrics.RecordDiagnostic(metrics.DiagNoProgress)
		c.result.degrade(StatusMalformed)
		return len(data), false
	}
	if n > len(data) {
		log.Debug("Frame %d: decoder %s reported %d of %d bytes", c.frame.Number, entry.Protocol, n, len(data))
		n = len(data)
	}
	if err != nil {
		node.Warn("%v", err)
		metrics.RecordDiagnostic(metrics.DiagMalformed)
	}
	return n, false
}

// run calls the decoder, a panic on hostile input is turned into an error
func (c *Context) run(decoder Decoder, data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Frame %d: decoder %s panicked: %v", c.frame.Number, c.Protocol, r)
			n, err = 0, fmt.Errorf("decoder failure: %v", r)
		}
	}()
	return decoder.Decode(data, c)
}

// Invoke records an invocation carried by the current frame
func (c *Context) Invoke(id int64, opcode string) *roc.Invocation {
	inv, evicted := c.conv.Operations.Invoke(id, opcode, c.frame.Number, c.frame.Timestamp)
	metrics.RecordInvocation(metrics.EventInvoke)
	if evicted != nil {
		c.Node.Note("invoke id %d reused, request in frame %d never answered", id, evicted.RequestFrame)
		delete(c.conv.requestNodes, evicted)
		metrics.RecordInvocation(metrics.EventEvicted)
	}
	c.conv.requestNodes[inv] = c.Node
	return inv
}

// Respond matches a result or error of the current frame with its invocation
// and annotates both frames. Responses without a pending invocation return nil.
func (c *Context) Respond(id int64, outcome roc.Outcome) *roc.Invocation {
	inv, ok := c.conv.Operations.Respond(id, outcome, c.frame.Number, c.frame.Timestamp)
	if !ok {
		metrics.RecordInvocation(metrics.EventOrphan)
		return nil
	}
	metrics.RecordInvocation(metrics.EventMatched)
	c.Node.XRef("%s", roc.CrossReference{Kind: roc.RefResponseTo, InvokeID: id, Frame: inv.RequestFrame})
	c.Node.XRef("Time: %s", inv.Elapsed())
	if req, ok := c.conv.requestNodes[inv]; ok {
		req.XRef("%s", roc.CrossReference{Kind: roc.RefResponseIn, InvokeID: id, Frame: inv.ResponseFrame})
		delete(c.conv.requestNodes, inv)
	}
	return inv
}
