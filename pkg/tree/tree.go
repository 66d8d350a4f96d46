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

// Package tree holds the display tree that decoders render into.
package tree

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-osi/pkg/log"
)

type Kind string

const (
	KindXRef       Kind = "xref"
	KindDiagnostic Kind = "diagnostic"
)

type Severity string

const (
	SeverityNote    Severity = "note"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// maxRawBytes limits the hex rendering of opaque values
const maxRawBytes = 256

type Annotation struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity,omitempty"`
	Text     string   `json:"text"`
}

type Node struct {
	Label       string        `json:"label"`
	Value       string        `json:"value,omitempty"`
	Offset      int           `json:"offset"`
	Length      int           `json:"length"`
	Annotations []*Annotation `json:"annotations,omitempty"`
	Children    []*Node       `json:"children,omitempty"`
}

func New(label string) *Node {
	return &Node{Label: label}
}

// Add appends a child node and returns it
func (n *Node) Add(label, value string) *Node {
	child := &Node{Label: label, Value: value}
	n.Children = append(n.Children, child)
	return child
}

// Attach appends an already built subtree
func (n *Node) Attach(child *Node) *Node {
	n.Children = append(n.Children, child)
	return child
}

func (n *Node) Addf(label, format string, v ...interface{}) *Node {
	return n.Add(label, fmt.Sprintf(format, v...))
}

// Span records the position of the node relative to the start of the dispatched payload
func (n *Node) Span(offset, length int) *Node {
	n.Offset = offset
	n.Length = length
	return n
}

// Raw renders opaque bytes as hex
func (n *Node) Raw(label string, data []byte) *Node {
	shown := data
	suffix := ""
	if len(shown) > maxRawBytes {
		shown = shown[:maxRawBytes]
		suffix = "..."
	}
	child := n.Add(label, hex.EncodeToString(shown)+suffix)
	child.Length = len(data)
	return child
}

func (n *Node) annotate(kind Kind, severity Severity, text string) *Annotation {
	a := &Annotation{Kind: kind, Severity: severity, Text: text}
	n.Annotations = append(n.Annotations, a)
	return a
}

// XRef attaches a cross-reference annotation such as "Response In: 14"
func (n *Node) XRef(format string, v ...interface{}) {
	n.annotate(KindXRef, "", fmt.Sprintf(format, v...))
}

func (n *Node) Note(format string, v ...interface{}) {
	n.annotate(KindDiagnostic, SeverityNote, fmt.Sprintf(format, v...))
}

func (n *Node) Warn(format string, v ...interface{}) {
	text := fmt.Sprintf(format, v...)
	log.Debug("%s: %s", n.Label, text)
	n.annotate(KindDiagnostic, SeverityWarning, text)
}

func (n *Node) Error(format string, v ...interface{}) {
	text := fmt.Sprintf(format, v...)
	log.Debug("%s: %s", n.Label, text)
	n.annotate(KindDiagnostic, SeverityError, text)
}

// Walk visits the node and all descendants depth first
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Find returns the first node with the given label
func (n *Node) Find(label string) *Node {
	var found *Node
	n.Walk(func(node *Node) {
		if found == nil && node.Label == label {
			found = node
		}
	})
	return found
}

// Diagnostics collects all diagnostic annotations of the subtree
func (n *Node) Diagnostics() []*Annotation {
	return n.collect(KindDiagnostic)
}

// XRefs collects all cross-reference annotations of the subtree
func (n *Node) XRefs() []*Annotation {
	return n.collect(KindXRef)
}

func (n *Node) collect(kind Kind) []*Annotation {
	var result []*Annotation
	n.Walk(func(node *Node) {
		for _, a := range node.Annotations {
			if a.Kind == kind {
				result = append(result, a)
			}
		}
	})
	return result
}

// HasAnnotation reports whether any node of the subtree carries the exact text
func (n *Node) HasAnnotation(text string) bool {
	found := false
	n.Walk(func(node *Node) {
		for _, a := range node.Annotations {
			if a.Text == text {
				found = true
			}
		}
	})
	return found
}

// YAML renders the subtree as a YAML document
func (n *Node) YAML() (string, error) {
	data, err := yaml.Marshal(n)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("---\n%s", string(data)), nil
}

// Print writes an indented text rendering of the subtree
func (n *Node) Print(w io.Writer) {
	if n == nil {
		return
	}
	n.print(w, 0)
}

func (n *Node) print(w io.Writer, depth int) {
	indent := strings.Repeat("  ", depth)
	if n.Value != "" {
		fmt.Fprintf(w, "%s%s: %s\n", indent, n.Label, n.Value)
	} else {
		fmt.Fprintf(w, "%s%s\n", indent, n.Label)
	}
	for _, a := range n.Annotations {
		if a.Kind == KindXRef {
			fmt.Fprintf(w, "%s  [%s]\n", indent, a.Text)
		} else {
			fmt.Fprintf(w, "%s  [%s: %s]\n", indent, a.Severity, a.Text)
		}
	}
	for _, child := range n.Children {
		child.print(w, depth+1)
	}
}

func (n *Node) String() string {
	var b strings.Builder
	n.Print(&b)
	return b.String()
}
