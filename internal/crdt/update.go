package crdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Update is an opaque CRDT mutation: an ordered batch of RGA operations
// produced by one client. Updates are associative and commutative to
// merge — applying the same Update twice, or in any order relative to
// other updates, converges to the same document.
type Update struct {
	Ops []Op
}

// StateVector computes the state vector an Update contributes: for each
// origin node, the highest operation counter it carries.
func (u *Update) StateVector() StateVector {
	sv := make(StateVector, len(u.Ops))
	for _, op := range u.Ops {
		if op.ID.Counter > sv[op.ID.NodeID] {
			sv[op.ID.NodeID] = op.ID.Counter
		}
	}
	return sv
}

// Encode serializes the update to bytes: op count, then each op as
// (node length, node bytes, counter, after-node length, after-node bytes,
// after-counter, char, deleted-flag).
func (u *Update) Encode() []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(u.Ops)))
	buf.Write(countBuf[:])

	for _, op := range u.Ops {
		writeOpID(&buf, op.ID)
		writeOpID(&buf, op.InsertAfter)

		var charBuf [4]byte
		binary.BigEndian.PutUint32(charBuf[:], uint32(op.Char))
		buf.Write(charBuf[:])

		if op.Deleted {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

func writeOpID(buf *bytes.Buffer, id OpID) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(id.NodeID)))
	buf.Write(lenBuf[:])
	buf.WriteString(id.NodeID)

	var counterBuf [8]byte
	binary.BigEndian.PutUint64(counterBuf[:], id.Counter)
	buf.Write(counterBuf[:])
}

func readOpID(b []byte) (OpID, []byte, error) {
	if len(b) < 2 {
		return OpID{}, nil, fmt.Errorf("crdt: truncated op id")
	}
	nameLen := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < nameLen+8 {
		return OpID{}, nil, fmt.Errorf("crdt: truncated op id")
	}
	node := string(b[:nameLen])
	b = b[nameLen:]
	counter := binary.BigEndian.Uint64(b[:8])
	b = b[8:]
	return OpID{NodeID: node, Counter: counter}, b, nil
}

// DecodeUpdate parses bytes produced by Encode. A malformed payload
// returns an error; callers must drop (not relay, not store) an update
// that fails to decode.
func DecodeUpdate(b []byte) (*Update, error) {
	if len(b) < 4 {
		if len(b) == 0 {
			return &Update{}, nil
		}
		return nil, fmt.Errorf("crdt: update too short: %d bytes", len(b))
	}

	count := binary.BigEndian.Uint32(b[:4])
	rest := b[4:]
	ops := make([]Op, 0, count)

	for i := uint32(0); i < count; i++ {
		id, next, err := readOpID(rest)
		if err != nil {
			return nil, fmt.Errorf("crdt: op %d: %w", i, err)
		}
		rest = next

		after, next, err := readOpID(rest)
		if err != nil {
			return nil, fmt.Errorf("crdt: op %d: %w", i, err)
		}
		rest = next

		if len(rest) < 5 {
			return nil, fmt.Errorf("crdt: op %d: truncated char/flag", i)
		}
		char := rune(binary.BigEndian.Uint32(rest[:4]))
		deleted := rest[4] != 0
		rest = rest[5:]

		ops = append(ops, Op{ID: id, InsertAfter: after, Char: char, Deleted: deleted})
	}

	return &Update{Ops: ops}, nil
}

// MergeUpdates folds a set of updates into one, deduplicating operations by
// ID (a later tombstone for the same ID wins over an earlier insertion) so
// that re-merging the same update twice is a no-op.
func MergeUpdates(updates []*Update) *Update {
	byID := make(map[OpID]Op)
	order := make([]OpID, 0)

	for _, u := range updates {
		if u == nil {
			continue
		}
		for _, op := range u.Ops {
			if existing, ok := byID[op.ID]; !ok {
				order = append(order, op.ID)
				byID[op.ID] = op
			} else if op.Deleted && !existing.Deleted {
				byID[op.ID] = op
			}
		}
	}

	merged := &Update{Ops: make([]Op, 0, len(order))}
	for _, id := range order {
		merged.Ops = append(merged.Ops, byID[id])
	}
	return merged
}

// Diff returns the encoded bytes of the subset of merged's operations that
// peerSV has not yet observed — i.e. the minimal update the peer is
// missing. An empty merged update or a peer already at or ahead of merged
// yields the encoding of an update with no operations.
func Diff(merged *Update, peerSV StateVector) []byte {
	if merged == nil {
		return (&Update{}).Encode()
	}

	missing := &Update{Ops: make([]Op, 0)}
	for _, op := range merged.Ops {
		if !peerSV.Covers(op.ID.NodeID, op.ID.Counter) {
			missing.Ops = append(missing.Ops, op)
		}
	}
	return missing.Encode()
}
