package sync

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruvnet/collabsync/internal/crdt"
)

// Registry is the process-wide map from document_id to the Syncer
// currently owning that document, guarded for concurrent get-or-create
// and remove-when-empty.
type Registry struct {
	mu      sync.Mutex
	syncers map[uuid.UUID]*Syncer

	inboxSize int
	store     Store
	logger    *zap.Logger
	metrics   MetricsSink
}

// NewRegistry creates an empty registry. inboxSize bounds every Syncer
// it creates; store and logger are threaded into each one.
func NewRegistry(inboxSize int, store Store, logger *zap.Logger, metrics MetricsSink) *Registry {
	return &Registry{
		syncers:   make(map[uuid.UUID]*Syncer),
		inboxSize: inboxSize,
		store:     store,
		logger:    logger,
		metrics:   metrics,
	}
}

// GetOrCreate returns the inbox of the Syncer owning documentID,
// spawning one seeded from seedStateVector if none exists yet. Per
// §4.5: the lock is held only for the lookup-or-insert, never across
// the Syncer's own goroutine startup.
func (r *Registry) GetOrCreate(documentID uuid.UUID, seedStateVector crdt.StateVector) chan<- Event {
	r.mu.Lock()
	if s, ok := r.syncers[documentID]; ok {
		r.mu.Unlock()
		return s.Inbox()
	}

	s := newSyncer(documentID, seedStateVector, r.inboxSize, r.store, r, r.logger, r.metrics)
	r.syncers[documentID] = s
	r.mu.Unlock()

	go s.run()
	return s.Inbox()
}

// Len reports the number of live Syncers, for tests and metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.syncers)
}
