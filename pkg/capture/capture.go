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

// Package capture replays pcap files through the OSI stack: TPKT framing,
// COTP and session reassembly, presentation and the entry dispatcher.
package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"jinr.ru/greenlab/go-osi/pkg/dissect"
	osi "jinr.ru/greenlab/go-osi/pkg/layers"
	"jinr.ru/greenlab/go-osi/pkg/log"
	"jinr.ru/greenlab/go-osi/pkg/metrics"
	"jinr.ru/greenlab/go-osi/pkg/pres"
	"jinr.ru/greenlab/go-osi/pkg/reassembly"
	"jinr.ru/greenlab/go-osi/pkg/tree"
)

// pcapngMagic is the section header block type
const pcapngMagic = 0x0A0D0D0A

// Packet is one captured TCP segment carrying OSI traffic
type Packet struct {
	Number uint64 `json:"number"`
	gopacket.CaptureInfo
	Conversation string            `json:"conversation"`
	Direction    dissect.Direction `json:"direction"`
	// Transport renders TPKT, COTP and session headers
	Transport    *tree.Node        `json:"transport"`
	Presentation []*tree.Node      `json:"presentation,omitempty"`
	Results      []*dissect.Result `json:"results,omitempty"`
}

// Replayer feeds packets through the stack. It is not safe for concurrent use.
type Replayer struct {
	dispatcher *dissect.Dispatcher
	pres       *pres.Layer
	ports      map[layers.TCPPort]bool
	// streams buffers partial TPKTs per conversation direction
	streams map[string][]byte
	packets []*Packet
	// frames numbers packets across every capture read since the last Reset
	frames uint64
}

func NewReplayer(d *dissect.Dispatcher, ports []int) *Replayer {
	r := &Replayer{
		dispatcher: d,
		pres:       pres.NewLayer(d),
		ports:      make(map[layers.TCPPort]bool),
		streams:    make(map[string][]byte),
	}
	for _, port := range ports {
		r.ports[layers.TCPPort(port)] = true
	}
	return r
}

func (r *Replayer) Dispatcher() *dissect.Dispatcher {
	return r.dispatcher
}

// Packets returns the OSI packets handled so far in capture order
func (r *Replayer) Packets() []*Packet {
	return r.packets
}

// ReadFile replays a pcap or pcapng file
func (r *Replayer) ReadFile(path string) ([]*Packet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return r.Read(f)
}

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func newPacketReader(in io.Reader) (packetReader, error) {
	buffered := bufio.NewReader(in)
	magic, err := buffered.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("reading capture header: %w", err)
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		return pcapgo.NewNgReader(buffered, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(buffered)
}

// Read replays a capture stream and returns the OSI packets it contained.
// Frame numbers continue from the previous capture so that results of several
// files never share a number; TPKT buffers do not carry over.
func (r *Replayer) Read(in io.Reader) ([]*Packet, error) {
	reader, err := newPacketReader(in)
	if err != nil {
		return nil, err
	}
	source := gopacket.NewPacketSource(reader, reader.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{NoCopy: true}
	r.streams = make(map[string][]byte)
	var (
		count  int
		result []*Packet
	)
	for {
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("packet %d: %w", count+1, err)
		}
		count++
		r.frames++
		if p := r.HandlePacket(r.frames, packet); p != nil {
			result = append(result, p)
		}
	}
	log.Info("Replayed %d packets as frames %d-%d, %d carried OSI traffic", count, r.frames-uint64(count)+1, r.frames, len(result))
	return result, nil
}

// HandlePacket runs one decoded packet through the stack. It returns nil for
// packets outside the configured TCP ports or without payload.
func (r *Replayer) HandlePacket(number uint64, packet gopacket.Packet) *Packet {
	network := packet.NetworkLayer()
	tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if network == nil || !ok || !(r.ports[tcp.SrcPort] || r.ports[tcp.DstPort]) {
		metrics.RecordPacket(metrics.PacketSkipped)
		return nil
	}
	key, dir := dissect.NewConversationKey(network.NetworkFlow(), tcp.TransportFlow())
	stream := fmt.Sprintf("%s/%s", key, dir)
	if tcp.RST || tcp.SYN {
		delete(r.streams, stream)
	}
	if len(tcp.Payload) == 0 {
		metrics.RecordPacket(metrics.PacketSkipped)
		return nil
	}

	p := &Packet{
		Number:       number,
		CaptureInfo:  packet.Metadata().CaptureInfo,
		Conversation: key.String(),
		Direction:    dir,
		Transport:    tree.New("Transport"),
	}
	p.Transport.Length = len(tcp.Payload)
	buffer := append(r.streams[stream], tcp.Payload...)
	for {
		tpkt, rest, complete, err := osi.NextTPKT(buffer)
		if err != nil {
			log.Warning("Packet %d: %s, dropping %d buffered bytes", number, err, len(buffer))
			p.Transport.Raw("Data", buffer).Warn("%v", err)
			metrics.RecordPacket(metrics.PacketResync)
			buffer = nil
			break
		}
		if !complete {
			if len(rest) > 0 {
				p.Transport.Note("%d bytes of TPKT continue in a later packet", len(rest))
			}
			buffer = rest
			break
		}
		r.handleTPKT(p, key, dir, tpkt)
		buffer = rest
	}
	if len(buffer) > 0 {
		r.streams[stream] = append([]byte(nil), buffer...)
	} else {
		delete(r.streams, stream)
	}
	metrics.RecordPacket(metrics.PacketOSI)
	r.packets = append(r.packets, p)
	return p
}

func (r *Replayer) handleTPKT(p *Packet, key dissect.ConversationKey, dir dissect.Direction, data []byte) {
	decoded := gopacket.NewPacket(data, osi.TPKTLayerType, gopacket.NoCopy)
	if tpkt, ok := decoded.Layer(osi.TPKTLayerType).(*osi.TPKTLayer); ok {
		renderTPKT(p.Transport, tpkt)
	}
	cotp, ok := decoded.Layer(osi.COTPLayerType).(*osi.COTPLayer)
	if !ok {
		node := p.Transport.Raw("TPKT", data)
		if e := decoded.ErrorLayer(); e != nil {
			node.Warn("%v", e.Error())
		}
		return
	}
	node := renderCOTP(p.Transport, cotp)

	var tsdu []byte
	switch cotp.Type {
	case osi.COTPTypeDT:
		id := reassembly.UnitID(fmt.Sprintf("cotp/%s", dir))
		unit, done := r.dispatcher.Reassemble(key, id, p.Number, cotp.Payload, cotp.EOT)
		if !done {
			node.Note("TSDU fragment, %d bytes", len(cotp.Payload))
			return
		}
		if unit.Segments() > 1 {
			node.Addf("Reassembled TSDU", "%d bytes in %d fragments, frames %v", unit.Length, unit.Segments(), unit.Frames)
		}
		tsdu = unit.Bytes()
	case osi.COTPTypeED:
		tsdu = cotp.Payload
	default:
		if len(cotp.Payload) > 0 {
			node.Raw("User data", cotp.Payload)
		}
		return
	}
	if len(tsdu) == 0 {
		return
	}
	r.handleTSDU(p, key, dir, tsdu)
}

func (r *Replayer) handleTSDU(p *Packet, key dissect.ConversationKey, dir dissect.Direction, tsdu []byte) {
	session := &osi.SessionLayer{}
	if err := session.DecodeFromBytes(tsdu, gopacket.NilDecodeFeedback); err != nil {
		p.Transport.Raw("Session", tsdu).Warn("%v", err)
		return
	}
	node := renderSession(p.Transport, session)
	main := session.Main()
	kind := session.UnitKind()
	data := main.UserData()

	if present, _, end := main.Enclosure(); present {
		id := reassembly.UnitID(fmt.Sprintf("ses/%s", dir))
		unit, done := r.dispatcher.Reassemble(key, id, p.Number, data, end)
		if !done {
			node.Note("SSDU segment, %d bytes", len(data))
			return
		}
		node.Addf("Reassembled SSDU", "%d bytes in %d segments, frames %v", unit.Length, unit.Segments(), unit.Frames)
		data = unit.Bytes()
	}
	if kind == dissect.UnitUnknown || len(data) == 0 {
		return
	}

	frame := &dissect.Frame{
		Number:      p.Number,
		CaptureInfo: p.CaptureInfo,
		Session: dissect.SessionDescriptor{
			Conversation: key,
			Direction:    dir,
			Kind:         kind,
		},
		Data: data,
	}
	presentation, results := r.pres.Decode(frame)
	p.Presentation = append(p.Presentation, presentation)
	p.Results = append(p.Results, results...)
}

// Reset drops buffered stream data, packets and the dispatcher state
func (r *Replayer) Reset() {
	r.streams = make(map[string][]byte)
	r.packets = nil
	r.frames = 0
	r.dispatcher.Reset()
}

// Summary counts results by status over the replayed packets
func Summary(packets []*Packet) map[dissect.Status]int {
	counts := make(map[dissect.Status]int)
	for _, p := range packets {
		for _, res := range p.Results {
			counts[res.Status]++
		}
	}
	return counts
}

// compile time check that both readers fit
var (
	_ packetReader = (*pcapgo.Reader)(nil)
	_ packetReader = (*pcapgo.NgReader)(nil)
)
