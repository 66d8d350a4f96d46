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

package rose

import (
	"fmt"
	"sort"
)

// Operation describes one remote operation. Argument and Result name the
// abstract syntax of the nested values; empty means render generically.
type Operation struct {
	Name     string
	Argument string
	Result   string
}

// OperationSet names the local operation and error codes of an application
type OperationSet struct {
	Name       string
	Operations map[int64]*Operation
	Errors     map[int64]string
	// Global maps operations identified by OID
	Global map[string]*Operation
}

func (s *OperationSet) OperationName(code int64) string {
	if op, ok := s.Operations[code]; ok {
		return op.Name
	}
	return fmt.Sprintf("local(%d)", code)
}

func (s *OperationSet) ErrorName(code int64) string {
	if name, ok := s.Errors[code]; ok {
		return name
	}
	return fmt.Sprintf("local(%d)", code)
}

// directory access protocol (X.511), also used by the system protocol (X.518) chained operations
var DAP = &OperationSet{
	Name: "dap",
	Operations: map[int64]*Operation{
		1: {Name: "read"},
		2: {Name: "compare"},
		3: {Name: "abandon"},
		4: {Name: "list"},
		5: {Name: "search"},
		6: {Name: "addEntry"},
		7: {Name: "removeEntry"},
		8: {Name: "modifyEntry"},
		9: {Name: "modifyDN"},
	},
	Errors: map[int64]string{
		1: "attributeError",
		2: "nameError",
		3: "serviceError",
		4: "referral",
		5: "abandoned",
		6: "securityError",
		7: "abandonFailed",
		8: "updateError",
	},
}

// Generic knows no operations, codes are shown as numbers
var Generic = &OperationSet{
	Name: "generic",
}

var sets = map[string]*OperationSet{
	DAP.Name:     DAP,
	Generic.Name: Generic,
}

// LookupSet returns a built-in operation set, empty name gives the generic set
func LookupSet(name string) (*OperationSet, error) {
	if name == "" {
		return Generic, nil
	}
	set, ok := sets[name]
	if !ok {
		return nil, ErrUnknownOperationSet{Name: name}
	}
	return set, nil
}

func SetNames() []string {
	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrUnknownOperationSet returned for an operation set name without a built-in table
type ErrUnknownOperationSet struct {
	Name string
}

func (e ErrUnknownOperationSet) Error() string {
	return fmt.Sprintf("Unknown operation set: %s", e.Name)
}
