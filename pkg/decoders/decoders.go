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

// Package decoders wires the built-in decoders into a dispatcher as configured.
package decoders

import (
	"fmt"

	"jinr.ru/greenlab/go-osi/pkg/acse"
	"jinr.ru/greenlab/go-osi/pkg/ber"
	"jinr.ru/greenlab/go-osi/pkg/config"
	"jinr.ru/greenlab/go-osi/pkg/dissect"
	"jinr.ru/greenlab/go-osi/pkg/log"
	"jinr.ru/greenlab/go-osi/pkg/pctx"
	"jinr.ru/greenlab/go-osi/pkg/rose"
)

// Raw renders any BER value without knowing its abstract syntax
var Raw = dissect.DecoderFunc(func(data []byte, ctx *dissect.Context) (int, error) {
	return ber.Render(ctx.Node, data), nil
})

// NewRegistry registers a decoder for every configured abstract syntax.
// ACSE is always registered under its own OID.
func NewRegistry(syntaxes []*config.Syntax) (*dissect.Registry, error) {
	r := dissect.NewRegistry()
	if err := acse.Register(r); err != nil {
		return nil, err
	}
	for _, s := range syntaxes {
		var err error
		switch s.Protocol {
		case config.ProtocolACSE:
			if s.OID != acse.OID {
				err = r.Register(s.OID, acse.Decoder{}, acse.Protocol, acse.Kinds...)
			}
		case config.ProtocolROSE:
			var set *rose.OperationSet
			if set, err = rose.LookupSet(s.Operations); err == nil {
				err = rose.Register(r, set, s.OID)
			}
		case config.ProtocolRaw:
			err = r.Register(s.OID, Raw, protocolName(s))
		default:
			err = config.ErrInvalidConfig{What: fmt.Sprintf("unknown protocol %q for %s", s.Protocol, s.OID)}
		}
		if err != nil {
			return nil, err
		}
		log.Debug("Registered %s decoder for %s", s.Protocol, s.OID)
	}
	return r, nil
}

func protocolName(s *config.Syntax) string {
	if s.Name != "" {
		return s.Name
	}
	return s.Protocol
}

// NewDispatcher builds the registry and a dispatcher with the configured
// fallbacks, nesting limit and static context bindings.
func NewDispatcher(cfg *config.Config) (*dissect.Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r, err := NewRegistry(cfg.Syntaxes)
	if err != nil {
		return nil, err
	}
	for _, oid := range cfg.Fallbacks {
		if _, err := r.Lookup(oid); err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
	}
	d := dissect.NewDispatcher(r)
	d.MaxDepth = cfg.Capture.MaxDepth
	d.Fallbacks = cfg.Fallbacks
	for _, c := range cfg.Contexts {
		d.Seeds = append(d.Seeds, pctx.Binding{ID: c.ID, OID: c.OID})
	}
	return d, nil
}
