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

package reassembly

import (
	"container/list"
	"sort"

	"jinr.ru/greenlab/go-osi/pkg/log"
)

/*
 Segments are appended strictly in arrival order. Unlike IP or MStream
 defragmentation there are no offsets: a unit is complete when a segment
 flagged as the last one arrives. Nothing is reordered and no size limit
 is enforced here, the decoder of the completed unit deals with that.
*/

// UnitID names an accumulator within a conversation, e.g. "cotp/0"
type UnitID string

type Segment struct {
	Frame uint64
	Data  []byte
}

// Unit is a completed (or, for Pending, still accumulating) data unit
type Unit struct {
	ID       UnitID   `json:"id"`
	Frames   []uint64 `json:"frames"`
	Length   int      `json:"length"`
	Complete bool     `json:"complete"`
	data     []byte
}

// Bytes returns the concatenation of all segments in arrival order
func (u *Unit) Bytes() []byte {
	return u.data
}

func (u *Unit) Segments() int {
	return len(u.Frames)
}

// UnitBuilder holds a linked list which is used to store segments of one unit.
type UnitBuilder struct {
	ID     UnitID
	Parts  *list.List
	Length int
}

func NewUnitBuilder(id UnitID) *UnitBuilder {
	return &UnitBuilder{
		ID:    id,
		Parts: list.New(),
	}
}

func (b *UnitBuilder) Clear() {
	b.Parts = list.New()
	b.Length = 0
}

// Append stores a copy of the segment, the frame buffer may be reused by the caller
func (b *UnitBuilder) Append(frame uint64, data []byte) {
	part := &Segment{Frame: frame, Data: append([]byte(nil), data...)}
	b.Parts.PushBack(part)
	b.Length += len(data)
}

// Assemble concatenates the parts and clears the builder
func (b *UnitBuilder) Assemble() *Unit {
	defer b.Clear()
	unit := &Unit{
		ID:       b.ID,
		Length:   b.Length,
		Complete: true,
		data:     make([]byte, 0, b.Length),
	}
	for e := b.Parts.Front(); e != nil; e = e.Next() {
		// the list contains only segments
		part, _ := e.Value.(*Segment)
		unit.data = append(unit.data, part.Data...)
		unit.Frames = append(unit.Frames, part.Frame)
	}
	log.Debug("Assembled unit %s: segments: %d length: %d", b.ID, len(unit.Frames), unit.Length)
	return unit
}

func (b *UnitBuilder) snapshot() *Unit {
	unit := &Unit{ID: b.ID, Length: b.Length}
	for e := b.Parts.Front(); e != nil; e = e.Next() {
		part, _ := e.Value.(*Segment)
		unit.Frames = append(unit.Frames, part.Frame)
	}
	return unit
}

type Reassembler struct {
	builders map[UnitID]*UnitBuilder
}

func New() *Reassembler {
	return &Reassembler{
		builders: make(map[UnitID]*UnitBuilder),
	}
}

// Add appends a segment to the unit. When last is set the unit is assembled
// and returned with true; a last segment without earlier segments forms a
// one segment unit.
func (r *Reassembler) Add(id UnitID, frame uint64, data []byte, last bool) (*Unit, bool) {
	b, ok := r.builders[id]
	if !ok {
		b = NewUnitBuilder(id)
		r.builders[id] = b
	}
	b.Append(frame, data)
	log.Debug("Segment of unit %s in frame %d: length: %d last: %t total: %d", id, frame, len(data), last, b.Length)
	if !last {
		return nil, false
	}
	delete(r.builders, id)
	return b.Assemble(), true
}

// InProgress reports whether segments of the unit are accumulated
func (r *Reassembler) InProgress(id UnitID) bool {
	_, ok := r.builders[id]
	return ok
}

// Pending returns the units never completed, ordered by id
func (r *Reassembler) Pending() []*Unit {
	result := make([]*Unit, 0, len(r.builders))
	for _, b := range r.builders {
		result = append(result, b.snapshot())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

func (r *Reassembler) Reset() {
	r.builders = make(map[UnitID]*UnitBuilder)
}
