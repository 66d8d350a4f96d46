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

// Package pctx keeps the presentation context bindings of one conversation.
package pctx

import (
	"fmt"
	"sort"

	"jinr.ru/greenlab/go-osi/pkg/log"
)

// Binding maps a negotiated presentation context id to its abstract syntax
type Binding struct {
	ID  int64  `json:"id"`
	OID string `json:"oid"`
}

// Reference is the addressing part of an EXTERNAL value.
// Direct holds the direct-reference OID, Indirect the presentation context id.
type Reference struct {
	Direct   string
	Indirect *int64
}

func (r Reference) String() string {
	switch {
	case r.Direct != "" && r.Indirect != nil:
		return fmt.Sprintf("direct %s, indirect %d", r.Direct, *r.Indirect)
	case r.Direct != "":
		return fmt.Sprintf("direct %s", r.Direct)
	case r.Indirect != nil:
		return fmt.Sprintf("indirect %d", *r.Indirect)
	}
	return "none"
}

type Table struct {
	bindings map[int64]string
}

func NewTable() *Table {
	return &Table{
		bindings: make(map[int64]string),
	}
}

// Bind records the abstract syntax of a context id. The last announcement wins.
func (t *Table) Bind(id int64, oid string) {
	if prev, ok := t.bindings[id]; ok && prev != oid {
		log.Debug("Presentation context %d rebound: %s -> %s", id, prev, oid)
	}
	t.bindings[id] = oid
}

func (t *Table) Resolve(id int64) (string, error) {
	oid, ok := t.bindings[id]
	if !ok {
		return "", ErrNotBound{ID: id}
	}
	return oid, nil
}

// ResolveReference returns the direct reference when present and consults
// the table for the indirect reference otherwise.
func (t *Table) ResolveReference(ref Reference) (string, error) {
	if ref.Direct != "" {
		return ref.Direct, nil
	}
	if ref.Indirect == nil {
		return "", ErrNoReference{}
	}
	return t.Resolve(*ref.Indirect)
}

// Bindings returns the current bindings ordered by context id
func (t *Table) Bindings() []Binding {
	result := make([]Binding, 0, len(t.bindings))
	for id, oid := range t.bindings {
		result = append(result, Binding{ID: id, OID: oid})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

func (t *Table) Len() int {
	return len(t.bindings)
}

func (t *Table) Reset() {
	t.bindings = make(map[int64]string)
}

// ErrNotBound returned when no abstract syntax is bound to a context id
type ErrNotBound struct {
	ID int64
}

func (e ErrNotBound) Error() string {
	return fmt.Sprintf("Presentation context %d is not bound", e.ID)
}

// ErrNoReference returned when a value carries neither a direct nor an indirect reference
type ErrNoReference struct{}

func (e ErrNoReference) Error() string {
	return "Neither direct nor indirect reference present"
}
