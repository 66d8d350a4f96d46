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
	"jinr.ru/greenlab/go-osi/pkg/pctx"
	"jinr.ru/greenlab/go-osi/pkg/reassembly"
	"jinr.ru/greenlab/go-osi/pkg/roc"
	"jinr.ru/greenlab/go-osi/pkg/tree"
)

// Conversation owns all state of one bidirectional flow
type Conversation struct {
	Key        ConversationKey
	Contexts   *pctx.Table
	Operations *roc.Correlator
	Segments   *reassembly.Reassembler
	FirstFrame uint64
	LastFrame  uint64
	Frames     int
	// requestNodes remembers where each pending invocation was rendered
	requestNodes map[*roc.Invocation]*tree.Node
}

func newConversation(key ConversationKey, seeds []pctx.Binding) *Conversation {
	c := &Conversation{
		Key:          key,
		Contexts:     pctx.NewTable(),
		Operations:   roc.New(),
		Segments:     reassembly.New(),
		requestNodes: make(map[*roc.Invocation]*tree.Node),
	}
	for _, seed := range seeds {
		c.Contexts.Bind(seed.ID, seed.OID)
	}
	return c
}

func (c *Conversation) touch(frame uint64) {
	if c.Frames == 0 {
		c.FirstFrame = frame
	}
	c.LastFrame = frame
	c.Frames++
}

// Summary is the persisted and served view of a conversation
type Summary struct {
	Key          string             `json:"key"`
	FirstFrame   uint64             `json:"firstFrame"`
	LastFrame    uint64             `json:"lastFrame"`
	Frames       int                `json:"frames"`
	Contexts     []pctx.Binding     `json:"contexts"`
	Invocations  []*roc.Invocation  `json:"invocations"`
	PendingUnits []*reassembly.Unit `json:"pendingUnits"`
}

func (c *Conversation) Summary() *Summary {
	return &Summary{
		Key:          c.Key.String(),
		FirstFrame:   c.FirstFrame,
		LastFrame:    c.LastFrame,
		Frames:       c.Frames,
		Contexts:     c.Contexts.Bindings(),
		Invocations:  c.Operations.Records(),
		PendingUnits: c.Segments.Pending(),
	}
}

// Unanswered returns the invocations of the summary still pending
func (s *Summary) Unanswered() []*roc.Invocation {
	var result []*roc.Invocation
	for _, inv := range s.Invocations {
		if inv.State == roc.StatePending {
			result = append(result, inv)
		}
	}
	return result
}

// Conversations is the arena of conversations in order of appearance
type Conversations struct {
	byKey map[ConversationKey]*Conversation
	order []*Conversation
}

func NewConversations() *Conversations {
	return &Conversations{
		byKey: make(map[ConversationKey]*Conversation),
	}
}

func (cs *Conversations) Get(key ConversationKey) (*Conversation, bool) {
	c, ok := cs.byKey[key]
	return c, ok
}

func (cs *Conversations) GetOrCreate(key ConversationKey, seeds []pctx.Binding) *Conversation {
	if c, ok := cs.byKey[key]; ok {
		return c
	}
	c := newConversation(key, seeds)
	cs.byKey[key] = c
	cs.order = append(cs.order, c)
	return c
}

func (cs *Conversations) All() []*Conversation {
	return append([]*Conversation(nil), cs.order...)
}

func (cs *Conversations) Len() int {
	return len(cs.order)
}

func (cs *Conversations) Reset() {
	cs.byKey = make(map[ConversationKey]*Conversation)
	cs.order = nil
}
