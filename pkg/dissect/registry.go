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
	"sort"

	"jinr.ru/greenlab/go-osi/pkg/log"
)

// Decoder interprets a payload of one abstract syntax. It renders into
// ctx.Node and returns the number of bytes consumed. A non-nil error with a
// positive count is a partial decode; the dispatcher keeps the render and
// attaches the error as a warning.
type Decoder interface {
	Decode(data []byte, ctx *Context) (int, error)
}

type DecoderFunc func(data []byte, ctx *Context) (int, error)

func (f DecoderFunc) Decode(data []byte, ctx *Context) (int, error) {
	return f(data, ctx)
}

type Entry struct {
	OID      string
	Protocol string
	Decoder  Decoder
	// Kinds restricts the session units a top level payload may arrive in, empty accepts all
	Kinds []UnitKind
}

func (e *Entry) Accepts(kind UnitKind) bool {
	if len(e.Kinds) == 0 || kind == UnitUnknown {
		return true
	}
	for _, k := range e.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Registry maps abstract syntax OIDs to decoders. It is filled at startup and
// becomes read-only once frozen.
type Registry struct {
	entries map[string]*Entry
	frozen  bool
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Register adds a decoder. A second registration of the same OID replaces the first.
func (r *Registry) Register(oid string, decoder Decoder, protocol string, kinds ...UnitKind) error {
	if r.frozen {
		return ErrRegistryFrozen{OID: oid}
	}
	if prev, ok := r.entries[oid]; ok {
		log.Warning("Decoder for OID %s (%s) replaced by %s", oid, prev.Protocol, protocol)
	}
	r.entries[oid] = &Entry{
		OID:      oid,
		Protocol: protocol,
		Decoder:  decoder,
		Kinds:    kinds,
	}
	log.Debug("Registered decoder for OID %s: %s", oid, protocol)
	return nil
}

func (r *Registry) Freeze() {
	r.frozen = true
}

func (r *Registry) Frozen() bool {
	return r.frozen
}

func (r *Registry) Lookup(oid string) (*Entry, error) {
	entry, ok := r.entries[oid]
	if !ok {
		return nil, ErrUnresolvedOID{OID: oid}
	}
	return entry, nil
}

// Entries returns the registered decoders ordered by OID
func (r *Registry) Entries() []*Entry {
	result := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OID < result[j].OID
	})
	return result
}
