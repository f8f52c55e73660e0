// Package crdt implements the conflict-free replicated data type contract
// that the synchronization core depends on: decoding updates, computing
// their state vectors, merging a document's update history, and diffing
// a merged document against a peer's state vector.
//
// The wire format here is a simplified stand-in for a production CRDT
// library (the spec this module implements treats the codec as an
// external dependency); it implements an RGA (Replicated Growable Array)
// over a single text field, which is sufficient to satisfy the
// merge/diff contract the Syncer relies on.
package crdt

import "fmt"

// OpID globally identifies one operation: the Nth operation issued by NodeID.
type OpID struct {
	NodeID  string
	Counter uint64
}

// Less orders two OpIDs for RGA insertion: higher counter first, then
// lexicographically smaller NodeID first. This gives a deterministic total
// order for operations inserted concurrently at the same position.
func (id OpID) Less(other OpID) bool {
	if id.Counter != other.Counter {
		return id.Counter > other.Counter
	}
	return id.NodeID < other.NodeID
}

func (id OpID) String() string {
	return fmt.Sprintf("%s:%d", id.NodeID, id.Counter)
}

// zeroOpID marks "insert at the beginning of the document".
var zeroOpID = OpID{}

// Op is a single RGA operation: either a character insertion (Deleted is
// false at creation time) or, later, a tombstoning of a prior insertion
// (Deleted set to true, Char left at its original value).
type Op struct {
	ID          OpID
	InsertAfter OpID
	Char        rune
	Deleted     bool
}
