package crdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// StateVector summarizes, per origin node, the highest operation counter a
// replica has observed. It is the compact snapshot exchanged during a sync
// round so a peer can compute what it is missing.
type StateVector map[string]uint64

// Clone returns a deep copy.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}

// Merge returns the component-wise maximum of sv and other.
func (sv StateVector) Merge(other StateVector) StateVector {
	out := sv.Clone()
	for node, counter := range other {
		if counter > out[node] {
			out[node] = counter
		}
	}
	return out
}

// Covers reports whether sv has observed at least as much of node's history
// as the given counter.
func (sv StateVector) Covers(node string, counter uint64) bool {
	return sv[node] >= counter
}

// Encode serializes the state vector to a deterministic byte payload:
// a count, followed by (nodeID length, nodeID bytes, counter) tuples sorted
// by nodeID so equal state vectors always encode identically.
func (sv StateVector) Encode() []byte {
	nodes := make([]string, 0, len(sv))
	for node := range sv {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	var buf bytes.Buffer
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(nodes)))
	buf.Write(countBuf[:])

	for _, node := range nodes {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(node)))
		buf.Write(lenBuf[:])
		buf.WriteString(node)

		var counterBuf [8]byte
		binary.BigEndian.PutUint64(counterBuf[:], sv[node])
		buf.Write(counterBuf[:])
	}
	return buf.Bytes()
}

// DecodeStateVector parses bytes produced by Encode. An empty payload
// decodes to an empty, non-nil state vector.
func DecodeStateVector(b []byte) (StateVector, error) {
	if len(b) < 4 {
		if len(b) == 0 {
			return StateVector{}, nil
		}
		return nil, fmt.Errorf("crdt: state vector too short: %d bytes", len(b))
	}

	count := binary.BigEndian.Uint32(b[:4])
	rest := b[4:]
	sv := make(StateVector, count)

	for i := uint32(0); i < count; i++ {
		if len(rest) < 2 {
			return nil, fmt.Errorf("crdt: truncated state vector entry %d", i)
		}
		nameLen := int(binary.BigEndian.Uint16(rest[:2]))
		rest = rest[2:]
		if len(rest) < nameLen+8 {
			return nil, fmt.Errorf("crdt: truncated state vector entry %d", i)
		}
		node := string(rest[:nameLen])
		rest = rest[nameLen:]
		counter := binary.BigEndian.Uint64(rest[:8])
		rest = rest[8:]
		sv[node] = counter
	}
	return sv, nil
}
