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

package ber

import (
	"bytes"
	encodingasn1 "encoding/asn1"
	"errors"
	"testing"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

func TestReadNodeStrict(t *testing.T) {
	var b cryptobyte.Builder
	b.AddASN1(asn1.Tag(1).Constructed().ContextSpecific(), func(c *cryptobyte.Builder) {
		c.AddASN1Int64(7)
		c.AddASN1ObjectIdentifier(encodingasn1.ObjectIdentifier{2, 2, 1, 0, 1})
	})
	data := b.BytesOrPanic()
	trailer := []byte{0xde, 0xad}

	node, rest, err := ReadNode(append(append([]byte{}, data...), trailer...))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !node.IsContext(1) || !node.Constructed {
		t.Fatalf("unexpected node %s constructed=%t", node, node.Constructed)
	}
	if node.Len() != len(data) || node.HeaderLen() != 2 {
		t.Fatalf("len=%d header=%d", node.Len(), node.HeaderLen())
	}
	if !bytes.Equal(rest, trailer) {
		t.Fatalf("rest mismatch: %x", rest)
	}
	children, err := node.Children()
	if err != nil || len(children) != 2 {
		t.Fatalf("children: %v %d", err, len(children))
	}
	id, err := children[0].Int64()
	if err != nil || id != 7 {
		t.Fatalf("int: %d %v", id, err)
	}
	oid, err := children[1].OID()
	if err != nil || oid != "2.2.1.0.1" {
		t.Fatalf("oid: %q %v", oid, err)
	}
}

func TestImplicitInteger(t *testing.T) {
	// [0] IMPLICIT INTEGER -2
	node, _, err := ReadNode([]byte{0x80, 0x01, 0xfe})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	v, err := node.Int64()
	if err != nil || v != -2 {
		t.Fatalf("int: %d %v", v, err)
	}
}

func TestReadNodeLenient(t *testing.T) {
	cases := []struct {
		name    string
		data    []byte
		class   Class
		tag     uint32
		content []byte
		length  int
	}{
		{
			name:    "padded long form length",
			data:    []byte{0x04, 0x82, 0x00, 0x02, 0xaa, 0xbb},
			class:   ClassUniversal,
			tag:     TagOctetString,
			content: []byte{0xaa, 0xbb},
			length:  6,
		},
		{
			name:    "indefinite length",
			data:    []byte{0x30, 0x80, 0x02, 0x01, 0x05, 0x00, 0x00},
			class:   ClassUniversal,
			tag:     TagSequence,
			content: []byte{0x02, 0x01, 0x05},
			length:  7,
		},
		{
			name:    "high tag number",
			data:    []byte{0x9f, 0x81, 0x00, 0x01, 0x01},
			class:   ClassContext,
			tag:     128,
			content: []byte{0x01},
			length:  5,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node, rest, err := ReadNode(tc.data)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if node.Class != tc.class || node.Tag != tc.tag {
				t.Fatalf("got %s", node)
			}
			if !bytes.Equal(node.Content, tc.content) {
				t.Fatalf("content: %x", node.Content)
			}
			if node.Len() != tc.length || len(rest) != 0 {
				t.Fatalf("len=%d rest=%d", node.Len(), len(rest))
			}
		})
	}
}

func TestReadNodeMalformed(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x30},
		{0x30, 0x05, 0x02},
		{0x04, 0x80, 0x00, 0x00},
		{0x30, 0x80, 0x02, 0x01},
		{0x04, 0x85, 0x01, 0x01, 0x01, 0x01, 0x01},
	}
	for _, in := range inputs {
		_, _, err := ReadNode(in)
		var malformed ErrMalformed
		if !errors.As(err, &malformed) {
			t.Fatalf("input %x: expected ErrMalformed, got %v", in, err)
		}
	}
}

func TestExplicit(t *testing.T) {
	var b cryptobyte.Builder
	b.AddASN1(asn1.Tag(2).Constructed().ContextSpecific(), func(c *cryptobyte.Builder) {
		c.AddASN1Int64(0)
	})
	node, _, err := ReadNode(b.BytesOrPanic())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	inner, err := node.Explicit()
	if err != nil || !inner.IsUniversal(TagInteger) {
		t.Fatalf("explicit: %v %s", err, inner)
	}
	if _, err := inner.Explicit(); err == nil {
		t.Fatalf("primitive node must not unwrap")
	}
}
