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

// Package layers holds gopacket layers of the OSI stack over TCP:
// TPKT (RFC 1006), COTP (ISO 8073) and session SPDUs (ISO 8327).
package layers

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"jinr.ru/greenlab/go-osi/pkg/log"
)

const (
	// TPKTLayerNum identifies the layer
	TPKTLayerNum = 2000
	// TPKTVersion is the only version defined by RFC 1006
	TPKTVersion = 3
	// TPKTHeaderSize is version, reserved and two length bytes
	TPKTHeaderSize = 4
	// TPKTMaxSize is the largest length the header can express
	TPKTMaxSize = 65535
)

type TPKTLayer struct {
	layers.BaseLayer
	Version uint8
	// Length of the TPKT including the header
	Length uint16
}

var TPKTLayerType = gopacket.RegisterLayerType(TPKTLayerNum,
	gopacket.LayerTypeMetadata{Name: "TPKT", Decoder: gopacket.DecodeFunc(decodeTPKTLayer)})

func (t *TPKTLayer) LayerType() gopacket.LayerType {
	return TPKTLayerType
}

func (t *TPKTLayer) CanDecode() gopacket.LayerClass {
	return TPKTLayerType
}

func (t *TPKTLayer) NextLayerType() gopacket.LayerType {
	return COTPLayerType
}

// SerializeTo prepends the header, the length covers the already serialized payload
func (t *TPKTLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	length := len(b.Bytes()) + TPKTHeaderSize
	if length > TPKTMaxSize {
		return fmt.Errorf("TPKT payload too large: %d", length)
	}
	headerBytes, err := b.PrependBytes(TPKTHeaderSize)
	if err != nil {
		return err
	}
	if opts.FixLengths {
		t.Version = TPKTVersion
		t.Length = uint16(length)
	}
	headerBytes[0] = t.Version
	headerBytes[1] = 0
	binary.BigEndian.PutUint16(headerBytes[2:4], t.Length)
	return nil
}

func (t *TPKTLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < TPKTHeaderSize {
		df.SetTruncated()
		return errors.New("TPKT packet too short")
	}
	if data[0] != TPKTVersion {
		return fmt.Errorf("Wrong TPKT version %d. Must be %d", data[0], TPKTVersion)
	}
	t.Version = data[0]
	t.Length = binary.BigEndian.Uint16(data[2:4])
	if int(t.Length) < TPKTHeaderSize {
		return fmt.Errorf("Wrong TPKT length %d", t.Length)
	}
	if int(t.Length) > len(data) {
		df.SetTruncated()
		return fmt.Errorf("TPKT length %d exceeds %d available bytes", t.Length, len(data))
	}
	t.BaseLayer = layers.BaseLayer{
		Contents: data[:TPKTHeaderSize],
		Payload:  data[TPKTHeaderSize:t.Length],
	}
	return nil
}

func decodeTPKTLayer(data []byte, p gopacket.PacketBuilder) error {
	t := &TPKTLayer{}
	err := t.DecodeFromBytes(data, p)
	if err != nil {
		log.Debug("Error while decoding TPKT layer: %s", err)
		return err
	}
	p.AddLayer(t)
	return p.NextDecoder(t.NextLayerType())
}

// NextTPKT splits one complete TPKT off the beginning of a TCP byte stream.
// ok is false when more stream data is needed; a buffer that does not start
// with a TPKT header returns an error and should be resynchronised by the caller.
func NextTPKT(stream []byte) (tpkt []byte, rest []byte, ok bool, err error) {
	if len(stream) < TPKTHeaderSize {
		return nil, stream, false, nil
	}
	if stream[0] != TPKTVersion || stream[1] != 0 {
		return nil, stream, false, fmt.Errorf("no TPKT header: % x", stream[:TPKTHeaderSize])
	}
	length := int(binary.BigEndian.Uint16(stream[2:4]))
	if length < TPKTHeaderSize {
		return nil, stream, false, fmt.Errorf("Wrong TPKT length %d", length)
	}
	if len(stream) < length {
		return nil, stream, false, nil
	}
	return stream[:length], stream[length:], true, nil
}
