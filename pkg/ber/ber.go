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

// Package ber reads BER tag/length/value nodes.
//
// Definite, minimally encoded elements with low tag numbers are read with
// cryptobyte. Everything else BER allows (indefinite lengths, padded long form
// lengths, high tag numbers) goes through a lenient header reader.
package ber

import (
	encodingasn1 "encoding/asn1"
	"fmt"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

type Class uint8

const (
	ClassUniversal Class = iota
	ClassApplication
	ClassContext
	ClassPrivate
)

var classNames = [...]string{"UNIVERSAL", "APPLICATION", "CONTEXT", "PRIVATE"}

func (c Class) String() string {
	return classNames[c&3]
}

// Universal tag numbers used by the decoders
const (
	TagBoolean          uint32 = 1
	TagInteger          uint32 = 2
	TagBitString        uint32 = 3
	TagOctetString      uint32 = 4
	TagNull             uint32 = 5
	TagOID              uint32 = 6
	TagObjectDescriptor uint32 = 7
	TagExternal         uint32 = 8
	TagEnumerated       uint32 = 10
	TagSequence         uint32 = 16
	TagSet              uint32 = 17
	TagPrintableString  uint32 = 19
	TagIA5String        uint32 = 22
	TagGraphicString    uint32 = 25
)

// maxNodeDepth bounds recursion through nested indefinite length values
const maxNodeDepth = 64

// Node is one BER encoded value. Raw holds the complete encoding including the
// header (and end-of-contents octets for indefinite lengths).
type Node struct {
	Class       Class
	Constructed bool
	Tag         uint32
	Indefinite  bool
	Raw         []byte
	Content     []byte
}

// Len is the number of bytes the node occupies in its parent
func (n Node) Len() int {
	return len(n.Raw)
}

// HeaderLen is the number of identifier and length octets
func (n Node) HeaderLen() int {
	if n.Indefinite {
		return len(n.Raw) - len(n.Content) - 2
	}
	return len(n.Raw) - len(n.Content)
}

func (n Node) Is(class Class, tag uint32) bool {
	return n.Class == class && n.Tag == tag
}

func (n Node) IsUniversal(tag uint32) bool {
	return n.Is(ClassUniversal, tag)
}

func (n Node) IsContext(tag uint32) bool {
	return n.Is(ClassContext, tag)
}

func (n Node) IsApplication(tag uint32) bool {
	return n.Is(ClassApplication, tag)
}

func (n Node) String() string {
	if n.Class == ClassUniversal {
		return fmt.Sprintf("[UNIVERSAL %d]", n.Tag)
	}
	return fmt.Sprintf("[%s %d]", n.Class, n.Tag)
}

// ReadNode reads one node from the beginning of data and returns the rest
func ReadNode(data []byte) (Node, []byte, error) {
	return readNode(data, 0)
}

func readNode(data []byte, depth int) (Node, []byte, error) {
	if len(data) == 0 {
		return Node{}, nil, ErrMalformed{What: "empty input"}
	}
	if node, rest, ok := readStrict(data); ok {
		return node, rest, nil
	}
	return readLenient(data, depth)
}

func readStrict(data []byte) (Node, []byte, bool) {
	s := cryptobyte.String(data)
	var element cryptobyte.String
	var tag asn1.Tag
	if !s.ReadAnyASN1Element(&element, &tag) {
		return Node{}, nil, false
	}
	raw := []byte(element)
	var content cryptobyte.String
	if !element.ReadAnyASN1(&content, &tag) {
		return Node{}, nil, false
	}
	return Node{
		Class:       Class(uint8(tag) >> 6),
		Constructed: uint8(tag)&0x20 != 0,
		Tag:         uint32(uint8(tag) & 0x1f),
		Raw:         raw,
		Content:     []byte(content),
	}, []byte(s), true
}

func readLenient(data []byte, depth int) (Node, []byte, error) {
	if depth > maxNodeDepth {
		return Node{}, nil, ErrMalformed{What: "nesting too deep"}
	}
	node := Node{
		Class:       Class(data[0] >> 6),
		Constructed: data[0]&0x20 != 0,
		Tag:         uint32(data[0] & 0x1f),
	}
	offset := 1
	if node.Tag == 0x1f {
		node.Tag = 0
		for {
			if offset >= len(data) {
				return Node{}, nil, ErrMalformed{What: "truncated tag"}
			}
			if node.Tag > 0x01ffffff {
				return Node{}, nil, ErrMalformed{What: "tag number too large"}
			}
			b := data[offset]
			offset++
			node.Tag = node.Tag<<7 | uint32(b&0x7f)
			if b&0x80 == 0 {
				break
			}
		}
	}
	if offset >= len(data) {
		return Node{}, nil, ErrMalformed{What: "missing length"}
	}
	lengthByte := data[offset]
	offset++
	switch {
	case lengthByte < 0x80:
		return definite(node, data, offset, int(lengthByte))
	case lengthByte == 0x80:
		if !node.Constructed {
			return Node{}, nil, ErrMalformed{What: "indefinite length on primitive value"}
		}
		return indefinite(node, data, offset, depth)
	default:
		count := int(lengthByte & 0x7f)
		if count > 4 || offset+count > len(data) {
			return Node{}, nil, ErrMalformed{What: "bad long form length"}
		}
		length := 0
		for _, b := range data[offset : offset+count] {
			length = length<<8 | int(b)
		}
		return definite(node, data, offset+count, length)
	}
}

func definite(node Node, data []byte, offset, length int) (Node, []byte, error) {
	if length < 0 || offset+length > len(data) {
		return Node{}, nil, ErrMalformed{What: fmt.Sprintf("%s length %d exceeds %d available bytes", node, length, len(data)-offset)}
	}
	node.Content = data[offset : offset+length]
	node.Raw = data[:offset+length]
	return node, data[offset+length:], nil
}

func indefinite(node Node, data []byte, offset, depth int) (Node, []byte, error) {
	node.Indefinite = true
	cursor := offset
	for {
		if cursor+2 > len(data) {
			return Node{}, nil, ErrMalformed{What: "missing end-of-contents"}
		}
		if data[cursor] == 0 && data[cursor+1] == 0 {
			node.Content = data[offset:cursor]
			node.Raw = data[:cursor+2]
			return node, data[cursor+2:], nil
		}
		child, _, err := readNode(data[cursor:], depth+1)
		if err != nil {
			return Node{}, nil, err
		}
		cursor += child.Len()
	}
}

// Children splits the content of a constructed node
func (n Node) Children() ([]Node, error) {
	if !n.Constructed {
		return nil, ErrMalformed{What: fmt.Sprintf("%s is not constructed", n)}
	}
	return ReadAll(n.Content)
}

// ReadAll splits data into consecutive nodes
func ReadAll(data []byte) ([]Node, error) {
	var nodes []Node
	for len(data) > 0 {
		node, rest, err := ReadNode(data)
		if err != nil {
			return nodes, err
		}
		nodes = append(nodes, node)
		data = rest
	}
	return nodes, nil
}

// Explicit returns the single value wrapped by an explicitly tagged node
func (n Node) Explicit() (Node, error) {
	children, err := n.Children()
	if err != nil {
		return Node{}, err
	}
	if len(children) != 1 {
		return Node{}, ErrMalformed{What: fmt.Sprintf("%s wraps %d values", n, len(children))}
	}
	return children[0], nil
}

// Int64 interprets the content octets as an INTEGER regardless of the tag
func (n Node) Int64() (int64, error) {
	if n.Constructed {
		return 0, ErrMalformed{What: fmt.Sprintf("%s: constructed integer", n)}
	}
	var v int64
	s := retag(asn1.INTEGER, n.Content)
	if !s.ReadASN1Integer(&v) {
		return 0, ErrMalformed{What: fmt.Sprintf("%s: invalid integer", n)}
	}
	return v, nil
}

// OID interprets the content octets as an OBJECT IDENTIFIER regardless of the tag
func (n Node) OID() (string, error) {
	if n.Constructed {
		return "", ErrMalformed{What: fmt.Sprintf("%s: constructed object identifier", n)}
	}
	var oid encodingasn1.ObjectIdentifier
	s := retag(asn1.OBJECT_IDENTIFIER, n.Content)
	if !s.ReadASN1ObjectIdentifier(&oid) {
		return "", ErrMalformed{What: fmt.Sprintf("%s: invalid object identifier", n)}
	}
	return oid.String(), nil
}

// Text returns the content of a character string type
func (n Node) Text() string {
	return strings.ToValidUTF8(string(n.Content), "?")
}

func retag(tag asn1.Tag, content []byte) cryptobyte.String {
	var b cryptobyte.Builder
	b.AddASN1(tag, func(child *cryptobyte.Builder) {
		child.AddBytes(content)
	})
	raw, err := b.Bytes()
	if err != nil {
		return nil
	}
	return cryptobyte.String(raw)
}

// ErrMalformed returned when the input is not a valid BER encoding
type ErrMalformed struct {
	What string
}

func (e ErrMalformed) Error() string {
	return fmt.Sprintf("Malformed BER: %s", e.What)
}
