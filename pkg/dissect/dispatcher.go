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

// Package dissect is the entry dispatcher of the upper layer decoder. Per
// payload it reassembles segmented units, resolves the abstract syntax of
// the payload (direct OID first, presentation context otherwise), hands it to
// the registered decoder and annotates remote-operation correlations.
package dissect

import (
	"fmt"
	"time"

	"jinr.ru/greenlab/go-osi/pkg/config"
	"jinr.ru/greenlab/go-osi/pkg/log"
	"jinr.ru/greenlab/go-osi/pkg/metrics"
	"jinr.ru/greenlab/go-osi/pkg/pctx"
	"jinr.ru/greenlab/go-osi/pkg/reassembly"
	"jinr.ru/greenlab/go-osi/pkg/tree"
)

type Status int

// Ordered by severity, a result keeps the worst status seen while decoding
const (
	StatusDecoded Status = iota
	StatusIncomplete
	StatusUnresolved
	StatusRejected
	StatusMalformed
)

var statusNames = map[Status]string{
	StatusDecoded:    "decoded",
	StatusIncomplete: "incomplete",
	StatusUnresolved: "unresolved",
	StatusRejected:   "rejected",
	StatusMalformed:  "malformed",
}

func (s Status) String() string {
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Result is the outcome of one payload handed to HandleFrame
type Result struct {
	Frame        uint64           `json:"frame"`
	Timestamp    time.Time        `json:"timestamp"`
	Conversation string           `json:"conversation"`
	Kind         UnitKind         `json:"kind"`
	OID          string           `json:"oid,omitempty"`
	Protocol     string           `json:"protocol,omitempty"`
	Consumed     int              `json:"consumed"`
	Status       Status           `json:"status"`
	Unit         *reassembly.Unit `json:"unit,omitempty"`
	Tree         *tree.Node       `json:"tree"`
}

func (r *Result) degrade(status Status) {
	if status > r.Status {
		r.Status = status
	}
}

type Dispatcher struct {
	registry      *Registry
	conversations *Conversations
	// Fallbacks are tried in order when the resolved decoder rejects the unit kind
	Fallbacks []string
	MaxDepth  int
	// Seeds are bound into every new conversation before its first frame
	Seeds   []pctx.Binding
	results map[uint64][]*Result
	order   []*Result
}

// NewDispatcher freezes the registry, it stays read-only from now on
func NewDispatcher(registry *Registry) *Dispatcher {
	registry.Freeze()
	return &Dispatcher{
		registry:      registry,
		conversations: NewConversations(),
		MaxDepth:      config.DefaultMaxDepth,
		results:       make(map[uint64][]*Result),
	}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Conversation returns the state of the flow, creating it on first use
func (d *Dispatcher) Conversation(key ConversationKey) *Conversation {
	return d.conversations.GetOrCreate(key, d.Seeds)
}

func (d *Dispatcher) Conversations() []*Conversation {
	return d.conversations.All()
}

// Bind records a presentation context binding negotiated by the presentation layer
func (d *Dispatcher) Bind(key ConversationKey, id int64, oid string) {
	d.Conversation(key).Contexts.Bind(id, oid)
}

func (d *Dispatcher) ResolveOID(key ConversationKey, id int64) (string, error) {
	return d.Conversation(key).Contexts.Resolve(id)
}

// Reassemble appends a segment to a unit of the conversation on behalf of a lower layer
func (d *Dispatcher) Reassemble(key ConversationKey, id reassembly.UnitID, frame uint64, data []byte, last bool) (*reassembly.Unit, bool) {
	unit, done := d.Conversation(key).Segments.Add(id, frame, data, last)
	if done {
		metrics.RecordUnit()
	}
	return unit, done
}

// HandleFrame dispatches one payload. It never fails: every fault is reported
// as a diagnostic in the result tree.
func (d *Dispatcher) HandleFrame(f *Frame) *Result {
	desc := f.Session
	conv := d.Conversation(desc.Conversation)
	conv.touch(f.Number)

	root := tree.New("Application Data")
	root.Length = len(f.Data)
	result := &Result{
		Frame:        f.Number,
		Timestamp:    f.Timestamp,
		Conversation: desc.Conversation.String(),
		Kind:         desc.Kind,
		Tree:         root,
	}
	d.results[f.Number] = append(d.results[f.Number], result)
	d.order = append(d.order, result)
	defer func() {
		metrics.RecordFrame(desc.Kind.String(), result.Status.String())
	}()

	data := f.Data
	if seg := desc.Segment; seg != nil {
		unit, done := d.Reassemble(desc.Conversation, seg.Unit, f.Number, data, seg.Last)
		if !done {
			root.Note("segment of unit %s, %d bytes", seg.Unit, len(data))
			result.Consumed = len(data)
			result.Status = StatusIncomplete
			return result
		}
		result.Unit = unit
		root.Addf("Reassembled", "%d bytes in %d segments, frames %v", unit.Length, unit.Segments(), unit.Frames)
		root.Length = unit.Length
		data = unit.Bytes()
	}
	if len(data) == 0 {
		root.Note("empty payload")
		return result
	}

	ctx := &Context{
		dispatcher: d,
		conv:       conv,
		frame:      f,
		result:     result,
		Node:       root,
	}
	if desc.Segment != nil && desc.Segment.External {
		result.Consumed = ctx.DispatchExternal(data)
		d.trailing(root, data, result.Consumed)
		return result
	}

	oid, err := d.resolve(conv, desc)
	if err != nil {
		root.Warn("%v", err)
		root.Raw("Data", data)
		metrics.RecordDiagnostic(metrics.DiagNotBound)
		result.Consumed = len(data)
		result.degrade(StatusUnresolved)
		return result
	}
	result.OID = oid
	entry, err := d.registry.Lookup(oid)
	if err != nil {
		result.Consumed = ctx.unresolved(oid, data)
		return result
	}

	n, wrongKind := 0, true
	if entry.Accepts(desc.Kind) {
		n, wrongKind = ctx.decode(entry, data)
	}
	if wrongKind {
		log.Debug("Frame %d: %s does not accept %s units", f.Number, entry.Protocol, desc.Kind)
		entry, n, wrongKind = d.fallback(ctx, entry, data)
	}
	if wrongKind {
		raw := root.Raw("Data", data)
		raw.Error(DiagWrongUnitKind)
		raw.Note("%s in %s unit", entry.Protocol, desc.Kind)
		metrics.RecordDiagnostic(metrics.DiagWrongUnitKind)
		result.Protocol = entry.Protocol
		result.Consumed = len(data)
		result.degrade(StatusRejected)
		return result
	}
	result.Protocol = entry.Protocol
	result.Consumed = n
	d.trailing(root, data, n)
	return result
}

// resolve picks the abstract syntax of the payload, a direct OID wins over the context id
func (d *Dispatcher) resolve(conv *Conversation, desc SessionDescriptor) (string, error) {
	return conv.Contexts.ResolveReference(pctx.Reference{Direct: desc.DirectOID, Indirect: desc.ContextID})
}

// fallback retries a payload rejected for its unit kind with the configured
// fallback syntaxes. The original entry is returned when none accepts it.
func (d *Dispatcher) fallback(ctx *Context, rejected *Entry, data []byte) (*Entry, int, bool) {
	kind := ctx.UnitKind()
	for _, oid := range d.Fallbacks {
		entry, err := d.registry.Lookup(oid)
		if err != nil || entry == rejected || !entry.Accepts(kind) {
			continue
		}
		n, wrongKind := ctx.decode(entry, data)
		if wrongKind {
			continue
		}
		ctx.Node.Note("%s does not accept %s units, decoded as %s", rejected.Protocol, kind, entry.Protocol)
		return entry, n, false
	}
	return rejected, 0, true
}

func (d *Dispatcher) trailing(root *tree.Node, data []byte, consumed int) {
	if consumed < len(data) {
		raw := root.Raw("Trailing data", data[consumed:])
		raw.Warn("%d bytes not consumed", len(data)-consumed)
	}
}

// Results returns the results of a frame in dispatch order
func (d *Dispatcher) Results(frame uint64) []*Result {
	return d.results[frame]
}

func (d *Dispatcher) AllResults() []*Result {
	return append([]*Result(nil), d.order...)
}

// Reset clears every conversation and result, the registry is kept
func (d *Dispatcher) Reset() {
	d.conversations.Reset()
	d.results = make(map[uint64][]*Result)
	d.order = nil
}

// Replay clears all state and dispatches the frames in order. Replaying the
// same frames yields the same results.
func (d *Dispatcher) Replay(frames []*Frame) []*Result {
	d.Reset()
	for _, f := range frames {
		d.HandleFrame(f)
	}
	return d.AllResults()
}
