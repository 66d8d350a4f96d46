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
	// COTPLayerNum identifies the layer
	COTPLayerNum = 2001
	// COTPFixedSize is the length indicator plus the TPDU code
	COTPFixedSize = 2
	// COTPEOT marks the last DT TPDU of a TSDU
	COTPEOT = 0x80
)

type COTPType uint8

const (
	COTPTypeED COTPType = 0x10
	COTPTypeEA COTPType = 0x20
	COTPTypeRJ COTPType = 0x50
	COTPTypeAK COTPType = 0x60
	COTPTypeER COTPType = 0x70
	COTPTypeDR COTPType = 0x80
	COTPTypeDC COTPType = 0xC0
	COTPTypeCC COTPType = 0xD0
	COTPTypeCR COTPType = 0xE0
	COTPTypeDT COTPType = 0xF0
)

var cotpTypeNames = map[COTPType]string{
	COTPTypeED: "ED",
	COTPTypeEA: "EA",
	COTPTypeRJ: "RJ",
	COTPTypeAK: "AK",
	COTPTypeER: "ER",
	COTPTypeDR: "DR",
	COTPTypeDC: "DC",
	COTPTypeCC: "CC",
	COTPTypeCR: "CR",
	COTPTypeDT: "DT",
}

func (t COTPType) String() string {
	if name, ok := cotpTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}

// COTP variable part parameter codes
const (
	COTPParamTPDUSize    uint8 = 0xC0
	COTPParamCallingTSAP uint8 = 0xC1
	COTPParamCalledTSAP  uint8 = 0xC2
	COTPParamChecksum    uint8 = 0xC3
	COTPParamVersion     uint8 = 0xC4
	COTPParamPrefSize    uint8 = 0xF0
)

var cotpParamNames = map[uint8]string{
	COTPParamTPDUSize:    "tpdu-size",
	COTPParamCallingTSAP: "calling-tsap",
	COTPParamCalledTSAP:  "called-tsap",
	COTPParamChecksum:    "checksum",
	COTPParamVersion:     "version",
	COTPParamPrefSize:    "preferred-tpdu-size",
}

type COTPParameter struct {
	Code  uint8
	Value []byte
}

func (p COTPParameter) Name() string {
	if name, ok := cotpParamNames[p.Code]; ok {
		return name
	}
	return fmt.Sprintf("parameter 0x%02x", p.Code)
}

type COTPLayer struct {
	layers.BaseLayer
	// LengthIndicator counts header octets after itself
	LengthIndicator uint8
	Type            COTPType
	// Credit is the low nibble of the CR, CC and AK codes
	Credit uint8
	DstRef uint16
	SrcRef uint16
	// Class and options octet of CR and CC
	Class uint8
	// Reason of DR and cause of ER
	Reason     uint8
	TPDUNumber uint8
	EOT        bool
	Parameters []COTPParameter
}

var COTPLayerType = gopacket.RegisterLayerType(COTPLayerNum,
	gopacket.LayerTypeMetadata{Name: "COTP", Decoder: gopacket.DecodeFunc(decodeCOTPLayer)})

func (c *COTPLayer) LayerType() gopacket.LayerType {
	return COTPLayerType
}

func (c *COTPLayer) CanDecode() gopacket.LayerClass {
	return COTPLayerType
}

// NextLayerType is always payload, the session layer is decoded after DT reassembly
func (c *COTPLayer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

// Parameter returns the value of the first parameter with the code
func (c *COTPLayer) Parameter(code uint8) ([]byte, bool) {
	for _, p := range c.Parameters {
		if p.Code == code {
			return p.Value, true
		}
	}
	return nil, false
}

// SerializeTo supports DT, ED, CR, CC, DR and DC TPDUs
func (c *COTPLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	var header []byte
	switch c.Type {
	case COTPTypeDT, COTPTypeED:
		nr := c.TPDUNumber & 0x7F
		if c.EOT {
			nr |= COTPEOT
		}
		header = []byte{2, byte(c.Type), nr}
	case COTPTypeCR, COTPTypeCC, COTPTypeDR:
		header = make([]byte, 7)
		header[1] = byte(c.Type)
		if c.Type != COTPTypeDR {
			header[1] |= c.Credit & 0x0F
		}
		binary.BigEndian.PutUint16(header[2:4], c.DstRef)
		binary.BigEndian.PutUint16(header[4:6], c.SrcRef)
		if c.Type == COTPTypeDR {
			header[6] = c.Reason
		} else {
			header[6] = c.Class
		}
		for _, p := range c.Parameters {
			header = append(header, p.Code, byte(len(p.Value)))
			header = append(header, p.Value...)
		}
	case COTPTypeDC:
		header = make([]byte, 6)
		header[1] = byte(c.Type)
		binary.BigEndian.PutUint16(header[2:4], c.DstRef)
		binary.BigEndian.PutUint16(header[4:6], c.SrcRef)
	default:
		return fmt.Errorf("Serializing COTP %s is not supported", c.Type)
	}
	if len(header) > 255 {
		return fmt.Errorf("COTP header too long: %d", len(header))
	}
	header[0] = byte(len(header) - 1)
	if opts.FixLengths {
		c.LengthIndicator = header[0]
	}
	bytes, err := b.PrependBytes(len(header))
	if err != nil {
		return err
	}
	copy(bytes, header)
	return nil
}

func (c *COTPLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < COTPFixedSize {
		df.SetTruncated()
		return errors.New("COTP packet too short")
	}
	c.LengthIndicator = data[0]
	end := int(c.LengthIndicator) + 1
	if c.LengthIndicator == 0 || c.LengthIndicator == 255 {
		return fmt.Errorf("Wrong COTP length indicator %d", c.LengthIndicator)
	}
	if end > len(data) {
		df.SetTruncated()
		return fmt.Errorf("COTP length indicator %d exceeds %d available bytes", c.LengthIndicator, len(data))
	}
	code := data[1]
	c.Type = COTPType(code & 0xF0)
	c.Credit = 0
	c.Parameters = nil
	header := data[:end]

	switch c.Type {
	case COTPTypeDT, COTPTypeED:
		if end < 3 {
			return fmt.Errorf("COTP %s header too short", c.Type)
		}
		c.EOT = header[2]&COTPEOT != 0
		c.TPDUNumber = header[2] & 0x7F
	case COTPTypeCR, COTPTypeCC, COTPTypeDR:
		if end < 7 {
			return fmt.Errorf("COTP %s header too short", c.Type)
		}
		c.DstRef = binary.BigEndian.Uint16(header[2:4])
		c.SrcRef = binary.BigEndian.Uint16(header[4:6])
		if c.Type == COTPTypeDR {
			c.Reason = header[6]
		} else {
			c.Credit = code & 0x0F
			c.Class = header[6]
		}
		params, err := decodeCOTPParameters(header[7:])
		if err != nil {
			return err
		}
		c.Parameters = params
	case COTPTypeDC:
		if end < 6 {
			return fmt.Errorf("COTP %s header too short", c.Type)
		}
		c.DstRef = binary.BigEndian.Uint16(header[2:4])
		c.SrcRef = binary.BigEndian.Uint16(header[4:6])
	case COTPTypeAK:
		c.Credit = code & 0x0F
		if end >= 5 {
			c.DstRef = binary.BigEndian.Uint16(header[2:4])
			c.TPDUNumber = header[4] & 0x7F
		}
	case COTPTypeER:
		if end >= 5 {
			c.DstRef = binary.BigEndian.Uint16(header[2:4])
			c.Reason = header[4]
		}
	}

	c.BaseLayer = layers.BaseLayer{
		Contents: header,
		Payload:  data[end:],
	}
	return nil
}

func decodeCOTPParameters(data []byte) ([]COTPParameter, error) {
	var params []COTPParameter
	for len(data) > 0 {
		if len(data) < 2 || int(data[1])+2 > len(data) {
			return params, fmt.Errorf("Truncated COTP parameter 0x%02x", data[0])
		}
		params = append(params, COTPParameter{Code: data[0], Value: data[2 : 2+int(data[1])]})
		data = data[2+int(data[1]):]
	}
	return params, nil
}

func decodeCOTPLayer(data []byte, p gopacket.PacketBuilder) error {
	c := &COTPLayer{}
	err := c.DecodeFromBytes(data, p)
	if err != nil {
		log.Debug("Error while decoding COTP layer: %s", err)
		return err
	}
	p.AddLayer(c)
	return p.NextDecoder(c.NextLayerType())
}
