package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cuemby/enkf/pkg/types"
)

// Cell layout: uint32 key length, key bytes, uint32 element count, then
// each element as its IEEE 754 bits, all little endian. NaN and infinities
// survive unchanged.

func encodeNode(node *types.Node) []byte {
	buf := make([]byte, 0, 8+len(node.Key)+8*len(node.Data))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(node.Key)))
	buf = append(buf, node.Key...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(node.Data)))
	for _, v := range node.Data {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

// decodeNode copies out of raw, which bbolt only keeps valid for the
// transaction
func decodeNode(raw []byte) (*types.Node, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("cell too short: %d bytes", len(raw))
	}
	keyLen := int(binary.LittleEndian.Uint32(raw))
	raw = raw[4:]
	if len(raw) < keyLen+4 {
		return nil, fmt.Errorf("cell truncated in key")
	}
	node := &types.Node{Key: string(raw[:keyLen])}
	raw = raw[keyLen:]

	n := int(binary.LittleEndian.Uint32(raw))
	raw = raw[4:]
	if len(raw) != 8*n {
		return nil, fmt.Errorf("cell holds %d bytes for %d elements", len(raw), n)
	}
	node.Data = make([]float64, n)
	for i := range node.Data {
		node.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return node, nil
}
