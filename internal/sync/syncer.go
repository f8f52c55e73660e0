// Package sync implements the per-document Syncer actor: the single
// goroutine that serializes every protocol event for one document,
// owns its canonical in-memory state vector and live client sinks, and
// mediates between the wire protocol and the update-log store.
package sync

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruvnet/collabsync/internal/crdt"
)

// Store is the persistence contract a Syncer depends on: the
// transactional store-update procedure and the diff-computation
// procedure. *store.Store satisfies this; tests supply a fake.
type Store interface {
	StoreUpdate(ctx context.Context, documentID uuid.UUID, currentSV crdt.StateVector, update []byte) (crdt.StateVector, error)
	ComputeDiff(ctx context.Context, documentID uuid.UUID, peerSV crdt.StateVector) ([]byte, error)
}

// MetricsSink receives Syncer observability events. Narrower than
// *metrics.Metrics so tests can supply a no-op.
type MetricsSink interface {
	RecordBroadcast(time.Duration)
	RecordStoreUpdate(time.Duration, error)
	SyncerStarted()
	SyncerStopped()
}

type noopMetrics struct{}

func (noopMetrics) RecordBroadcast(time.Duration)          {}
func (noopMetrics) RecordStoreUpdate(time.Duration, error) {}
func (noopMetrics) SyncerStarted()                         {}
func (noopMetrics) SyncerStopped()                         {}

// Syncer is the per-document actor. All of its fields below belong
// exclusively to its own goroutine; nothing else may touch them.
type Syncer struct {
	documentID  uuid.UUID
	stateVector crdt.StateVector
	clients     map[string]chan<- []byte

	inbox    chan Event
	store    Store
	registry *Registry
	logger   *zap.Logger
	metrics  MetricsSink

	rand *rand.Rand
}

func newSyncer(documentID uuid.UUID, seed crdt.StateVector, inboxSize int, store Store, registry *Registry, logger *zap.Logger, metrics MetricsSink) *Syncer {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if seed == nil {
		seed = crdt.StateVector{}
	}
	return &Syncer{
		documentID:  documentID,
		stateVector: seed,
		clients:     make(map[string]chan<- []byte),
		inbox:       make(chan Event, inboxSize),
		store:       store,
		registry:    registry,
		logger:      logger.With(zap.String("document_id", documentID.String())),
		metrics:     metrics,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Inbox returns the send-only handle client sessions deliver events to.
func (s *Syncer) Inbox() chan<- Event {
	return s.inbox
}

// run is the actor's event loop. It owns every mutation of s's state
// and exits only once it has deregistered itself from the registry.
func (s *Syncer) run() {
	s.metrics.SyncerStarted()
	defer s.metrics.SyncerStopped()

	for ev := range s.inbox {
		if s.handle(ev) && s.tryTerminate() {
			return
		}
	}
}

// handle processes one event and reports whether clients became empty
// as a result (a termination candidate).
func (s *Syncer) handle(ev Event) bool {
	switch e := ev.(type) {
	case Connect:
		s.clients[e.ClientID] = e.Outbound
		return false

	case Disconnect:
		delete(s.clients, e.ClientID)
		return len(s.clients) == 0

	case Update:
		s.onUpdate(e)
		return false

	case GetDiff:
		s.onGetDiff(e)
		return false

	case UpdateAwareness:
		s.broadcastExcept(e.SenderID, e.Frame)
		return false

	case GetAwareness:
		s.onGetAwareness(e)
		return false

	default:
		s.logger.Warn("unknown sync event", zap.Any("event", ev))
		return false
	}
}

func (s *Syncer) onUpdate(e Update) {
	if len(e.Frame) == 0 {
		s.logger.Warn("dropping empty update frame")
		return
	}
	raw := e.Frame[:len(e.Frame)-1]

	if _, err := crdt.DecodeUpdate(raw); err != nil {
		s.logger.Warn("dropping malformed update", zap.Error(err))
		return
	}

	s.broadcastExcept(e.SenderID, e.Frame)

	start := time.Now()
	newSV, err := s.store.StoreUpdate(context.Background(), s.documentID, s.stateVector, raw)
	s.metrics.RecordStoreUpdate(time.Since(start), err)
	if err != nil {
		// Broadcast already happened and is not rolled back: peers
		// keep the update, the log does not. See the design note on
		// broadcast-vs-persist ordering.
		s.logger.Error("store-update failed", zap.Error(err))
		return
	}
	s.stateVector = newSV
}

func (s *Syncer) onGetDiff(e GetDiff) {
	sink, ok := s.clients[e.RequesterID]
	if !ok {
		return
	}
	if len(e.Frame) == 0 {
		s.logger.Warn("dropping empty sync_step_1 frame")
		return
	}
	peerSV, err := crdt.DecodeStateVector(e.Frame[:len(e.Frame)-1])
	if err != nil {
		s.logger.Warn("dropping malformed peer state vector", zap.Error(err))
		return
	}

	diff, err := s.store.ComputeDiff(context.Background(), s.documentID, peerSV)
	if err != nil {
		s.logger.Error("compute diff failed", zap.Error(err))
		return
	}

	sink <- append(append([]byte{}, diff...), TagSyncStep2)
	sink <- append(s.stateVector.Encode(), TagSyncStep1)
}

func (s *Syncer) onGetAwareness(e GetAwareness) {
	var candidates []string
	for id := range s.clients {
		if id != e.RequesterID {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return
	}
	peer := candidates[s.rand.Intn(len(candidates))]
	s.clients[peer] <- []byte{TagAwareness}
}

// broadcastExcept sends frame to every client sink except excludeID,
// waiting for all sends (including onto full, back-pressured queues) to
// land before the Syncer processes its next inbox event.
func (s *Syncer) broadcastExcept(excludeID string, frame []byte) {
	start := time.Now()
	var wg sync.WaitGroup
	for id, sink := range s.clients {
		if id == excludeID {
			continue
		}
		wg.Add(1)
		go func(sink chan<- []byte) {
			defer wg.Done()
			sink <- frame
		}(sink)
	}
	wg.Wait()
	s.metrics.RecordBroadcast(time.Since(start))
}

// tryTerminate implements the registry termination race protocol: while
// holding the registry lock, drain any events that arrived between the
// Disconnect that emptied clients and this check, processing them as if
// they had arrived before the empty check. A Connect in that window
// repopulates clients and the Syncer stays Running; otherwise it
// deregisters and the goroutine returns.
func (s *Syncer) tryTerminate() bool {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()

drain:
	for {
		select {
		case ev := <-s.inbox:
			s.handle(ev)
		default:
			break drain
		}
	}

	if len(s.clients) != 0 {
		return false
	}

	if s.registry.syncers[s.documentID] == s {
		delete(s.registry.syncers, s.documentID)
	}
	return true
}
