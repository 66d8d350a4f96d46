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
	"fmt"
)

// Diagnostic texts attached to display trees
const (
	DiagNoDecoder      = "no decoder for OID %s"
	DiagNoProgress     = "malformed unit — no progress"
	DiagWrongUnitKind  = "wrong session-unit-kind for this protocol"
	DiagMalformedExt   = "malformed EXTERNAL"
	DiagNestingTooDeep = "nesting deeper than %d levels"
)

// ErrUnresolvedOID returned by Lookup when no decoder is registered for the OID
type ErrUnresolvedOID struct {
	OID string
}

func (e ErrUnresolvedOID) Error() string {
	return fmt.Sprintf("No decoder for OID %s", e.OID)
}

// ErrNoProgress reported when a decoder consumed zero bytes of a non-empty payload
type ErrNoProgress struct {
	OID string
}

func (e ErrNoProgress) Error() string {
	return fmt.Sprintf("Decoder for OID %s made no progress", e.OID)
}

// ErrWrongUnitKind returned by a decoder that does not accept the session unit
// it was handed. The payload counts as not consumed.
type ErrWrongUnitKind struct {
	Protocol string
	Kind     UnitKind
}

func (e ErrWrongUnitKind) Error() string {
	return fmt.Sprintf("Protocol %s does not accept %s units", e.Protocol, e.Kind)
}

// ErrRegistryFrozen returned when registering after the registry was handed to a dispatcher
type ErrRegistryFrozen struct {
	OID string
}

func (e ErrRegistryFrozen) Error() string {
	return fmt.Sprintf("Registry is frozen, unable to register OID %s", e.OID)
}
