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

package acse

import (
	"fmt"
	"strings"

	"jinr.ru/greenlab/go-osi/pkg/ber"
	"jinr.ru/greenlab/go-osi/pkg/tree"
)

var (
	versionBits      = []string{"version1"}
	requirementsBits = []string{"authentication", "aSO-context-negotiation", "higher-level-association", "nested-association"}
)

func renderBits(node *tree.Node, name string, value ber.Node) {
	names := versionBits
	if strings.HasSuffix(name, "requirements") {
		names = requirementsBits
	}
	if value.Constructed || len(value.Content) == 0 {
		node.Raw(name, value.Content).Warn("invalid BIT STRING")
		return
	}
	unused := int(value.Content[0])
	bits := value.Content[1:]
	var set []string
	for i := 0; i < len(bits)*8-unused; i++ {
		if bits[i/8]&(0x80>>(i%8)) == 0 {
			continue
		}
		if i < len(names) {
			set = append(set, names[i])
		} else {
			set = append(set, fmt.Sprintf("bit%d", i))
		}
	}
	node.Add(name, strings.Join(set, ","))
}

// renderOID handles an explicitly tagged OBJECT IDENTIFIER
func renderOID(node *tree.Node, name string, value ber.Node) {
	inner, err := value.Explicit()
	if err != nil {
		node.Raw(name, value.Content).Warn("%v", err)
		return
	}
	renderImplicitOID(node, name, inner)
}

func renderImplicitOID(node *tree.Node, name string, value ber.Node) {
	oid, err := value.OID()
	if err != nil {
		node.Raw(name, value.Content).Warn("%v", err)
		return
	}
	node.Add(name, oid)
}

// renderTitle shows form 2 AP titles (OID) and AE qualifiers (INTEGER),
// directory name forms are rendered raw
func renderTitle(node *tree.Node, name string, value ber.Node) {
	inner, err := value.Explicit()
	if err != nil {
		node.Raw(name, value.Content).Warn("%v", err)
		return
	}
	switch {
	case inner.IsUniversal(ber.TagOID):
		renderImplicitOID(node, name, inner)
	case inner.IsUniversal(ber.TagInteger):
		renderInteger(node, name, inner)
	default:
		node.Raw(name, inner.Raw)
	}
}

func renderInvocation(node *tree.Node, name string, value ber.Node) {
	inner, err := value.Explicit()
	if err != nil {
		node.Raw(name, value.Content).Warn("%v", err)
		return
	}
	renderInteger(node, name, inner)
}

func renderInteger(node *tree.Node, name string, value ber.Node) {
	v, err := value.Int64()
	if err != nil {
		node.Raw(name, value.Content).Warn("%v", err)
		return
	}
	node.Addf(name, "%d", v)
}

var authenticationForms = map[uint32]string{
	0: "charstring",
	1: "bitstring",
	2: "external",
	3: "other",
}

// renderAuthentication never shows the credential itself
func renderAuthentication(node *tree.Node, name string, value ber.Node) {
	inner, err := value.Explicit()
	if err != nil {
		node.Raw(name, value.Content).Warn("%v", err)
		return
	}
	form, ok := authenticationForms[inner.Tag]
	if !ok || inner.Class != ber.ClassContext {
		form = inner.String()
	}
	node.Addf(name, "%s (%d bytes)", form, len(inner.Content))
}

func renderRaw(node *tree.Node, name string, value ber.Node) {
	node.Raw(name, value.Content)
}

func renderText(node *tree.Node, name string, value ber.Node) {
	node.Add(name, value.Text())
}

// enumRenderer renders an implicitly tagged INTEGER with named values
func enumRenderer(names map[int64]string) func(*tree.Node, string, ber.Node) {
	return func(node *tree.Node, name string, value ber.Node) {
		if value.Constructed {
			inner, err := value.Explicit()
			if err != nil {
				node.Raw(name, value.Content).Warn("%v", err)
				return
			}
			value = inner
		}
		v, err := value.Int64()
		if err != nil {
			node.Raw(name, value.Content).Warn("%v", err)
			return
		}
		node.Add(name, enumName(names, v))
	}
}

func enumName(names map[int64]string, v int64) string {
	if name, ok := names[v]; ok {
		return fmt.Sprintf("%s (%d)", name, v)
	}
	return fmt.Sprintf("%d", v)
}

// renderResult is [2] EXPLICIT INTEGER, a rejection is flagged on the node
func renderResult(node *tree.Node, name string, value ber.Node) {
	enumRenderer(associateResults)(node, name, value)
	result := node.Children[len(node.Children)-1]
	if !strings.HasPrefix(result.Value, "accepted") {
		result.Note("association rejected")
	}
}

// renderSourceDiagnostic is [3] CHOICE { acse-service-user [1], acse-service-provider [2] }
func renderSourceDiagnostic(node *tree.Node, name string, value ber.Node) {
	inner, err := value.Explicit()
	if err != nil {
		node.Raw(name, value.Content).Warn("%v", err)
		return
	}
	switch {
	case inner.IsContext(1):
		enumRenderer(serviceUserDiagnostics)(node, name+" (acse-service-user)", inner)
	case inner.IsContext(2):
		enumRenderer(serviceProviderDiagnostics)(node, name+" (acse-service-provider)", inner)
	default:
		node.Raw(name, inner.Raw).Warn("unknown diagnostic source")
	}
}
