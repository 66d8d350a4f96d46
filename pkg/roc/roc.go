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

// Package roc correlates remote-operation invocations with their results and errors.
//
// Each invoke id of a conversation is a small state machine:
//
//	absent  --Invoke-->               pending
//	pending --ReturnResult/Error-->   matched
//	pending --Invoke (id reuse)-->    pending (stale record evicted)
//	matched --Invoke (id reuse)-->    pending (new independent record)
//
// Records are kept in an arena for the lifetime of the conversation so that
// unanswered invocations can still be reported.
package roc

import (
	"fmt"
	"time"

	"jinr.ru/greenlab/go-osi/pkg/log"
)

type State int

const (
	StateAbsent State = iota
	StatePending
	StateMatched
	// StateEvicted marks a pending record replaced by a later Invoke with the same id
	StateEvicted
)

var stateNames = map[State]string{
	StateAbsent:  "absent",
	StatePending: "pending",
	StateMatched: "matched",
	StateEvicted: "evicted",
}

func (s State) String() string {
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown invocation state %q", text)
}

type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeResult
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResult:
		return "returnResult"
	case OutcomeError:
		return "returnError"
	}
	return "none"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "returnResult":
		*o = OutcomeResult
	case "returnError":
		*o = OutcomeError
	case "none":
		*o = OutcomeNone
	default:
		return fmt.Errorf("unknown invocation outcome %q", text)
	}
	return nil
}

type Invocation struct {
	InvokeID      int64     `json:"invokeId"`
	Opcode        string    `json:"opcode,omitempty"`
	State         State     `json:"state"`
	RequestFrame  uint64    `json:"requestFrame"`
	RequestTime   time.Time `json:"requestTime"`
	ResponseFrame uint64    `json:"responseFrame,omitempty"`
	ResponseTime  time.Time `json:"responseTime,omitempty"`
	Outcome       Outcome   `json:"outcome"`
}

// Elapsed is the time between request and response, zero until matched
func (inv *Invocation) Elapsed() time.Duration {
	if inv.State != StateMatched {
		return 0
	}
	return inv.ResponseTime.Sub(inv.RequestTime)
}

func (inv *Invocation) String() string {
	return fmt.Sprintf("invoke %d (%s) request %d response %d", inv.InvokeID, inv.State, inv.RequestFrame, inv.ResponseFrame)
}

type RefKind int

const (
	// RefResponseIn is attached to the request frame and points to the response
	RefResponseIn RefKind = iota
	// RefResponseTo is attached to the response frame and points to the request
	RefResponseTo
)

type CrossReference struct {
	Kind     RefKind
	InvokeID int64
	Frame    uint64
	Elapsed  time.Duration
}

// RequestSide reports whether the reference is attached to the request frame
func (r CrossReference) RequestSide() bool {
	return r.Kind == RefResponseIn
}

func (r CrossReference) String() string {
	if r.Kind == RefResponseIn {
		return fmt.Sprintf("Response In: %d", r.Frame)
	}
	return fmt.Sprintf("Response To: %d", r.Frame)
}

type Correlator struct {
	// slots holds the current record of every invoke id seen
	slots map[int64]*Invocation
	// records is the arena of all records in creation order
	records []*Invocation
	byFrame map[uint64][]*Invocation
}

func New() *Correlator {
	return &Correlator{
		slots:   make(map[int64]*Invocation),
		byFrame: make(map[uint64][]*Invocation),
	}
}

// Invoke records a request. If a pending record already uses the id it is
// evicted and returned as the second value.
func (c *Correlator) Invoke(id int64, opcode string, frame uint64, ts time.Time) (*Invocation, *Invocation) {
	var evicted *Invocation
	if slot, ok := c.slots[id]; ok && slot.State == StatePending {
		log.Debug("Invoke id %d reused in frame %d, evicting pending request of frame %d", id, frame, slot.RequestFrame)
		slot.State = StateEvicted
		evicted = slot
	}
	inv := &Invocation{
		InvokeID:     id,
		Opcode:       opcode,
		State:        StatePending,
		RequestFrame: frame,
		RequestTime:  ts,
	}
	c.slots[id] = inv
	c.records = append(c.records, inv)
	c.byFrame[frame] = append(c.byFrame[frame], inv)
	return inv, evicted
}

// Respond resolves the pending record of the id. Responses without a pending
// request are expected in partial captures and are silently left unmatched.
func (c *Correlator) Respond(id int64, outcome Outcome, frame uint64, ts time.Time) (*Invocation, bool) {
	inv, ok := c.slots[id]
	if !ok || inv.State != StatePending {
		log.Debug("Response for invoke id %d in frame %d has no pending request", id, frame)
		return nil, false
	}
	inv.State = StateMatched
	inv.Outcome = outcome
	inv.ResponseFrame = frame
	inv.ResponseTime = ts
	if frame != inv.RequestFrame {
		c.byFrame[frame] = append(c.byFrame[frame], inv)
	}
	return inv, true
}

// Lookup returns the current record of the id and its state
func (c *Correlator) Lookup(id int64) (*Invocation, State) {
	inv, ok := c.slots[id]
	if !ok {
		return nil, StateAbsent
	}
	return inv, inv.State
}

// References returns the cross references of a frame
func (c *Correlator) References(frame uint64) []CrossReference {
	var refs []CrossReference
	for _, inv := range c.byFrame[frame] {
		if inv.State != StateMatched {
			continue
		}
		if inv.RequestFrame == frame {
			refs = append(refs, CrossReference{Kind: RefResponseIn, InvokeID: inv.InvokeID, Frame: inv.ResponseFrame, Elapsed: inv.Elapsed()})
		}
		if inv.ResponseFrame == frame {
			refs = append(refs, CrossReference{Kind: RefResponseTo, InvokeID: inv.InvokeID, Frame: inv.RequestFrame, Elapsed: inv.Elapsed()})
		}
	}
	return refs
}

// Pending returns the invocations never answered, in request order
func (c *Correlator) Pending() []*Invocation {
	return c.filter(StatePending)
}

func (c *Correlator) Matched() []*Invocation {
	return c.filter(StateMatched)
}

// Records returns every record including evicted ones
func (c *Correlator) Records() []*Invocation {
	return append([]*Invocation(nil), c.records...)
}

func (c *Correlator) filter(state State) []*Invocation {
	var result []*Invocation
	for _, inv := range c.records {
		if inv.State == state {
			result = append(result, inv)
		}
	}
	return result
}

func (c *Correlator) Reset() {
	c.slots = make(map[int64]*Invocation)
	c.records = nil
	c.byFrame = make(map[uint64][]*Invocation)
}
