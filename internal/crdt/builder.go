package crdt

// Builder accumulates operations for a single node into an Update. It is
// the client-side counterpart to Document: a test harness (or a real
// client implementation) uses it to produce the Update bytes that flow
// over the wire, while Document reconstructs state from them.
type Builder struct {
	nodeID  string
	counter uint64
	ops     []Op
	last    OpID
}

// NewBuilder creates a Builder that issues operations as nodeID.
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID}
}

// InsertString appends each rune of s to the end of this builder's prior
// insertions (or to the start of the document if nothing has been
// inserted yet).
func (b *Builder) InsertString(s string) {
	for _, r := range s {
		b.counter++
		id := OpID{NodeID: b.nodeID, Counter: b.counter}
		b.ops = append(b.ops, Op{ID: id, InsertAfter: b.last, Char: r})
		b.last = id
	}
}

// Build returns the accumulated Update.
func (b *Builder) Build() *Update {
	ops := make([]Op, len(b.ops))
	copy(ops, b.ops)
	return &Update{Ops: ops}
}
