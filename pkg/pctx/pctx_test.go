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

package pctx

import (
	"errors"
	"testing"
)

func TestBindResolveLastWriterWins(t *testing.T) {
	table := NewTable()
	table.Bind(3, "2.2.1.0.1")
	table.Bind(5, "2.5.9.1")
	table.Bind(3, "1.0.9506.2.1")

	oid, err := table.Resolve(3)
	if err != nil || oid != "1.0.9506.2.1" {
		t.Fatalf("resolve 3: %q %v", oid, err)
	}
	bindings := table.Bindings()
	if len(bindings) != 2 || bindings[0].ID != 3 || bindings[1].ID != 5 {
		t.Fatalf("bindings: %+v", bindings)
	}

	var notBound ErrNotBound
	if _, err := table.Resolve(7); !errors.As(err, &notBound) || notBound.ID != 7 {
		t.Fatalf("expected ErrNotBound{7}, got %v", err)
	}

	table.Reset()
	if table.Len() != 0 {
		t.Fatalf("reset left %d bindings", table.Len())
	}
}

func TestResolveReferenceDirectPrecedence(t *testing.T) {
	table := NewTable()
	table.Bind(1, "2.2.1.0.1")
	indirect := int64(1)
	missing := int64(9)

	cases := []struct {
		name string
		ref  Reference
		want string
		err  bool
	}{
		{name: "direct only", ref: Reference{Direct: "2.5.9.1"}, want: "2.5.9.1"},
		{name: "indirect only", ref: Reference{Indirect: &indirect}, want: "2.2.1.0.1"},
		{name: "both", ref: Reference{Direct: "2.5.9.1", Indirect: &indirect}, want: "2.5.9.1"},
		{name: "direct with unbound indirect", ref: Reference{Direct: "2.5.9.1", Indirect: &missing}, want: "2.5.9.1"},
		{name: "unbound indirect", ref: Reference{Indirect: &missing}, err: true},
		{name: "none", ref: Reference{}, err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := table.ResolveReference(tc.ref)
			if tc.err {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %q %v, want %q", got, err, tc.want)
			}
		})
	}
}
