package sync

// Event is one protocol event delivered to a Syncer's inbox. Client
// sessions are the only producers; the Syncer goroutine is the only
// consumer, and processes them strictly in arrival order.
type Event interface {
	isSyncEvent()
}

// Connect registers a newly accepted client session with the Syncer.
// Outbound is the session's private outbound queue; the Syncer only
// ever sends to it, never closes or reads from it.
type Connect struct {
	ClientID string
	Outbound chan<- []byte
}

// Disconnect removes a client session. If it leaves the Syncer with no
// clients, the Syncer attempts to terminate (see tryTerminate in syncer.go).
type Disconnect struct {
	ClientID string
}

// Update carries a client's UPDATE or SYNC_STEP_2 frame, tag byte
// included, for broadcast and persistence.
type Update struct {
	SenderID string
	Frame    []byte
}

// GetDiff carries a client's SYNC_STEP_1 frame (a peer state vector,
// tag byte included); the Syncer responds with the peer's missing diff.
type GetDiff struct {
	RequesterID string
	Frame       []byte
}

// UpdateAwareness carries an AWARENESS_UPDATE frame for relay; never
// persisted.
type UpdateAwareness struct {
	SenderID string
	Frame    []byte
}

// GetAwareness asks the Syncer to prod one other peer for its presence
// state.
type GetAwareness struct {
	RequesterID string
}

func (Connect) isSyncEvent()         {}
func (Disconnect) isSyncEvent()      {}
func (Update) isSyncEvent()          {}
func (GetDiff) isSyncEvent()         {}
func (UpdateAwareness) isSyncEvent() {}
func (GetAwareness) isSyncEvent()    {}
