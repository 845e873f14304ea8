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

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// HostPortLayerNum identifies the layer
	HostPortLayerNum = 2001
)

// HostPortLayer carries one host port message as little endian words
type HostPortLayer struct {
	layers.BaseLayer
	*Message
}

var HostPortLayerType = gopacket.RegisterLayerType(HostPortLayerNum,
	gopacket.LayerTypeMetadata{Name: "HostPortLayerType", Decoder: gopacket.DecodeFunc(DecodeHostPortLayer)})

func (hp *HostPortLayer) LayerType() gopacket.LayerType {
	return HostPortLayerType
}

func (hp *HostPortLayer) Serialize(buf []byte) {
	for i, word := range hp.Message.Words() {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], word)
	}
}

func (hp *HostPortLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.AppendBytes((HeaderWords + len(hp.Message.Payload)) * WordBytes)
	if err != nil {
		return err
	}
	hp.Serialize(bytes)
	return nil
}

func (hp *HostPortLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < HeaderWords*WordBytes || len(data)%WordBytes != 0 {
		df.SetTruncated()
		return ErrMalformedFrame{What: "host port frame is truncated"}
	}
	words := make([]uint32, len(data)/WordBytes)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4 : i*4+4])
	}
	m, err := DecodeMessage(words)
	if err != nil {
		return err
	}
	hp.BaseLayer = layers.BaseLayer{
		Contents: data[:],
		Payload:  []byte{},
	}
	hp.Message = m
	return nil
}

func (hp *HostPortLayer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeZero
}

func DecodeHostPortLayer(data []byte, p gopacket.PacketBuilder) error {
	hp := &HostPortLayer{}
	err := hp.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(hp)
	return nil
}

// MessageToBytes serializes a message to the raw frame logged at debug level
func MessageToBytes(m *Message) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	err := gopacket.SerializeLayers(buf, opts, &HostPortLayer{Message: m})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MessageFromBytes is the reverse of MessageToBytes
func MessageFromBytes(data []byte) (*Message, error) {
	packet := gopacket.NewPacket(data, HostPortLayerType, gopacket.Default)
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return nil, errLayer.Error()
	}
	layer := packet.Layer(HostPortLayerType)
	if layer == nil {
		return nil, ErrMalformedFrame{What: "no host port layer"}
	}
	return layer.(*HostPortLayer).Message, nil
}
