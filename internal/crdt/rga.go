package crdt

import "sort"

// Document is the materialized view of a merged update history: a
// Replicated Growable Array of characters, walkable into plain text and
// re-diffable against any state vector.
type Document struct {
	merged *Update
	nodes  []Op
	index  map[OpID]int
}

// NewDocument builds a Document from a (possibly already-deduplicated)
// merged Update by applying its operations in ascending counter order
// (ties broken by NodeID), so each node's operations are applied after
// their own predecessors.
func NewDocument(merged *Update) *Document {
	d := &Document{
		merged: merged,
		index:  make(map[OpID]int),
	}
	if merged == nil {
		return d
	}

	pending := make([]Op, len(merged.Ops))
	copy(pending, merged.Ops)
	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i].ID, pending[j].ID
		if a.Counter != b.Counter {
			return a.Counter < b.Counter
		}
		return a.NodeID < b.NodeID
	})

	for _, op := range pending {
		d.apply(op)
	}
	return d
}

func (d *Document) apply(op Op) {
	if existingIdx, ok := d.index[op.ID]; ok {
		if op.Deleted {
			d.nodes[existingIdx].Deleted = true
		}
		return
	}

	pos := 0
	if op.InsertAfter != zeroOpID {
		afterIdx, ok := d.index[op.InsertAfter]
		if !ok {
			// Causal predecessor hasn't arrived; append at the end rather
			// than drop the operation. A later merge carrying the
			// predecessor will not retroactively reposition this node,
			// which is an accepted approximation for out-of-order delivery.
			pos = len(d.nodes)
		} else {
			pos = afterIdx + 1
			for pos < len(d.nodes) && op.ID.Less(d.nodes[pos].ID) {
				pos++
			}
		}
	} else {
		for pos < len(d.nodes) && op.ID.Less(d.nodes[pos].ID) {
			pos++
		}
	}

	d.nodes = append(d.nodes, Op{})
	copy(d.nodes[pos+1:], d.nodes[pos:])
	d.nodes[pos] = op

	for id, idx := range d.index {
		if idx >= pos {
			d.index[id] = idx + 1
		}
	}
	d.index[op.ID] = pos
}

// Text renders the live (non-tombstoned) characters in document order.
func (d *Document) Text() string {
	runes := make([]rune, 0, len(d.nodes))
	for _, n := range d.nodes {
		if !n.Deleted {
			runes = append(runes, n.Char)
		}
	}
	return string(runes)
}

// StateVector returns the state vector of everything this document has
// merged in.
func (d *Document) StateVector() StateVector {
	if d.merged == nil {
		return StateVector{}
	}
	return d.merged.StateVector()
}

// MergedUpdate exposes the underlying merged update, e.g. for Diff.
func (d *Document) MergedUpdate() *Update {
	if d.merged == nil {
		return &Update{}
	}
	return d.merged
}

// Merge folds a batch of updates into a single materialized Document. This
// is the "merge a set of updates" step of the external CRDT contract.
func Merge(updates []*Update) *Document {
	return NewDocument(MergeUpdates(updates))
}
