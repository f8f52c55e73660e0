package sync

// Wire message-type tags. The last byte of every binary frame carries
// one of these; the preceding bytes are the payload. A trailing tag is
// O(1) to strip off a byte vector, which is why it sits at the end
// rather than the front.
const (
	TagUpdate    byte = 0
	TagSyncStep1 byte = 1
	TagSyncStep2 byte = 2
	// TagAwareness is shared by AWARENESS_UPDATE and GET_AWARENESS;
	// they are disambiguated by direction and payload length (a
	// GET_AWARENESS frame is exactly one byte: the tag itself).
	TagAwareness byte = 3
)
