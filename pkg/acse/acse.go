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

// Package acse decodes association control APDUs (ISO 8650 / X.227).
package acse

import (
	"fmt"

	"jinr.ru/greenlab/go-osi/pkg/ber"
	"jinr.ru/greenlab/go-osi/pkg/config"
	"jinr.ru/greenlab/go-osi/pkg/dissect"
	"jinr.ru/greenlab/go-osi/pkg/tree"
)

const (
	Protocol = "acse"
	OID      = config.ACSEAbstractSyntax
)

type ApduType uint32

const (
	ApduAARQ ApduType = 0
	ApduAARE ApduType = 1
	ApduRLRQ ApduType = 2
	ApduRLRE ApduType = 3
	ApduABRT ApduType = 4
)

var apduNames = map[ApduType]string{
	ApduAARQ: "aarq",
	ApduAARE: "aare",
	ApduRLRQ: "rlrq",
	ApduRLRE: "rlre",
	ApduABRT: "abrt",
}

func (t ApduType) String() string {
	if name, ok := apduNames[t]; ok {
		return name
	}
	return fmt.Sprintf("apdu(%d)", uint32(t))
}

// Kinds are the session units association control travels in
var Kinds = []dissect.UnitKind{
	dissect.UnitConnect,
	dissect.UnitAccept,
	dissect.UnitRefuse,
	dissect.UnitFinish,
	dissect.UnitDisconnect,
	dissect.UnitAbort,
}

// expected maps each APDU to the session unit that normally carries it
var expected = map[ApduType][]dissect.UnitKind{
	ApduAARQ: {dissect.UnitConnect},
	ApduAARE: {dissect.UnitAccept, dissect.UnitRefuse},
	ApduRLRQ: {dissect.UnitFinish},
	ApduRLRE: {dissect.UnitDisconnect},
	ApduABRT: {dissect.UnitAbort},
}

const tagUserInformation = 30

type field struct {
	name   string
	render func(node *tree.Node, name string, value ber.Node)
}

// fields of each APDU by context tag
var fields = map[ApduType]map[uint32]field{
	ApduAARQ: {
		0:  {"protocol-version", renderBits},
		1:  {"aSO-context-name", renderOID},
		2:  {"called-AP-title", renderTitle},
		3:  {"called-AE-qualifier", renderTitle},
		4:  {"called-AP-invocation-identifier", renderInvocation},
		5:  {"called-AE-invocation-identifier", renderInvocation},
		6:  {"calling-AP-title", renderTitle},
		7:  {"calling-AE-qualifier", renderTitle},
		8:  {"calling-AP-invocation-identifier", renderInvocation},
		9:  {"calling-AE-invocation-identifier", renderInvocation},
		10: {"sender-acse-requirements", renderBits},
		11: {"mechanism-name", renderImplicitOID},
		12: {"calling-authentication-value", renderAuthentication},
		13: {"aSO-context-name-list", renderRaw},
		29: {"implementation-information", renderText},
	},
	ApduAARE: {
		0:  {"protocol-version", renderBits},
		1:  {"aSO-context-name", renderOID},
		2:  {"result", renderResult},
		3:  {"result-source-diagnostic", renderSourceDiagnostic},
		4:  {"responding-AP-title", renderTitle},
		5:  {"responding-AE-qualifier", renderTitle},
		6:  {"responding-AP-invocation-identifier", renderInvocation},
		7:  {"responding-AE-invocation-identifier", renderInvocation},
		8:  {"responder-acse-requirements", renderBits},
		9:  {"mechanism-name", renderImplicitOID},
		10: {"responding-authentication-value", renderAuthentication},
		11: {"aSO-context-name-list", renderRaw},
		29: {"implementation-information", renderText},
	},
	ApduRLRQ: {
		0: {"reason", enumRenderer(releaseRequestReasons)},
	},
	ApduRLRE: {
		0: {"reason", enumRenderer(releaseResponseReasons)},
	},
	ApduABRT: {
		0: {"abort-source", enumRenderer(abortSources)},
		1: {"abort-diagnostic", enumRenderer(abortDiagnostics)},
	},
}

var (
	associateResults = map[int64]string{
		0: "accepted",
		1: "rejected-permanent",
		2: "rejected-transient",
	}
	serviceUserDiagnostics = map[int64]string{
		0:  "null",
		1:  "no-reason-given",
		2:  "application-context-name-not-supported",
		3:  "calling-AP-title-not-recognized",
		4:  "calling-AP-invocation-identifier-not-recognized",
		5:  "calling-AE-qualifier-not-recognized",
		6:  "calling-AE-invocation-identifier-not-recognized",
		7:  "called-AP-title-not-recognized",
		8:  "called-AP-invocation-identifier-not-recognized",
		9:  "called-AE-qualifier-not-recognized",
		10: "called-AE-invocation-identifier-not-recognized",
		11: "authentication-mechanism-name-not-recognized",
		12: "authentication-mechanism-name-required",
		13: "authentication-failure",
		14: "authentication-required",
	}
	serviceProviderDiagnostics = map[int64]string{
		0: "null",
		1: "no-reason-given",
		2: "no-common-acse-version",
	}
	releaseRequestReasons = map[int64]string{
		0:  "normal",
		1:  "urgent",
		30: "user-defined",
	}
	releaseResponseReasons = map[int64]string{
		0:  "normal",
		1:  "not-finished",
		30: "user-defined",
	}
	abortSources = map[int64]string{
		0: "acse-service-user",
		1: "acse-service-provider",
	}
	abortDiagnostics = map[int64]string{
		1: "no-reason-given",
		2: "protocol-error",
		3: "authentication-mechanism-name-not-recognized",
		4: "authentication-mechanism-name-required",
		5: "authentication-failure",
		6: "authentication-required",
	}
)

type Decoder struct{}

func (Decoder) Decode(data []byte, ctx *dissect.Context) (int, error) {
	apdu, _, err := ber.ReadNode(data)
	if err != nil {
		return 0, err
	}
	if apdu.Class != ber.ClassApplication || !apdu.Constructed {
		return 0, ber.ErrMalformed{What: fmt.Sprintf("%s is not an ACSE APDU", apdu)}
	}
	kind := ApduType(apdu.Tag)
	known, ok := fields[kind]
	if !ok {
		ctx.Node.Raw(kind.String(), apdu.Content).Warn("unknown ACSE APDU")
		return apdu.Len(), nil
	}
	node := ctx.Node.Add(kind.String(), "").Span(0, apdu.Len())
	ctx.Node.Value = kind.String()
	if !expectedIn(kind, ctx.UnitKind()) {
		node.Note("%s carried in %s unit", kind, ctx.UnitKind())
	}

	children, err := apdu.Children()
	offset := apdu.HeaderLen()
	for _, child := range children {
		if child.Class != ber.ClassContext {
			node.Raw(child.String(), child.Raw).Warn("unexpected element")
		} else if child.Tag == tagUserInformation {
			userInformation(ctx, node, child, offset)
		} else if f, ok := known[child.Tag]; ok {
			f.render(node, f.name, child)
		} else {
			node.Raw(child.String(), child.Content).Warn("unknown field")
		}
		offset += child.Len()
	}
	if err != nil {
		return apdu.Len(), err
	}
	return apdu.Len(), nil
}

func expectedIn(apdu ApduType, kind dissect.UnitKind) bool {
	if kind == dissect.UnitUnknown {
		return true
	}
	for _, k := range expected[apdu] {
		if k == kind {
			return true
		}
	}
	return false
}

// userInformation is [30] IMPLICIT SEQUENCE OF EXTERNAL, every value goes back to the dispatcher
func userInformation(ctx *dissect.Context, parent *tree.Node, value ber.Node, offset int) {
	node := parent.Add("user-information", "").Span(offset, value.Len())
	inner := ctx.WithNode(node)
	data := value.Content
	for len(data) > 0 {
		n := inner.DispatchExternal(data)
		if n <= 0 {
			break
		}
		data = data[n:]
	}
}

// Register adds the ACSE decoder to the registry
func Register(r *dissect.Registry) error {
	return r.Register(OID, Decoder{}, Protocol, Kinds...)
}
