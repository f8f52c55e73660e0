// Package session implements the per-socket client session: the
// read/write goroutine pair that translates binary frames to and from
// the Syncer protocol events defined in internal/sync.
package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ruvnet/collabsync/internal/sync"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB; generous for a single CRDT update frame
)

// Session drives one accepted socket to completion: it registers with
// the owning Syncer, translates inbound frames into protocol events,
// and drains an outbound queue the Syncer fills back to the socket.
type Session struct {
	id       string
	userID   uuid.UUID
	conn     *websocket.Conn
	outbound chan []byte
	inbox    chan<- sync.Event
	logger   *zap.Logger
}

// New creates a session bound to syncerInbox for the given accepted
// connection and authenticated user. outboundSize bounds its private
// outbound queue.
func New(conn *websocket.Conn, userID uuid.UUID, syncerInbox chan<- sync.Event, outboundSize int, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		userID:   userID,
		conn:     conn,
		outbound: make(chan []byte, outboundSize),
		inbox:    syncerInbox,
		logger:   logger.With(zap.String("client_id", id), zap.String("user_id", userID.String())),
	}
}

// Run drives the session until the socket closes or an inbound error
// occurs. It blocks until completion; callers invoke it in its own
// goroutine per accepted upgrade.
func (s *Session) Run() {
	s.inbox <- sync.Connect{ClientID: s.id, Outbound: s.outbound}

	done := make(chan struct{})
	go s.writePump(done)
	s.readPump()
	close(done)

	select {
	case s.inbox <- sync.Disconnect{ClientID: s.id}:
	default:
		// The Syncer is gone; nothing to notify.
	}
}

// readPump reads inbound frames and forwards them to the Syncer as
// protocol events, per §4.2 of the wire protocol.
func (s *Session) readPump() {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("session read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if !s.dispatch(frame) {
			return
		}
	}
}

// dispatch translates one inbound binary frame into a Syncer event and
// enqueues it. The send blocks until the inbox accepts the event, and
// dispatch always returns true: a Syncer that has exited is not
// detected here.
func (s *Session) dispatch(frame []byte) bool {
	if len(frame) == 0 {
		s.logger.Warn("dropping empty binary frame")
		return true
	}

	tag := frame[len(frame)-1]
	var ev sync.Event

	switch tag {
	case sync.TagUpdate, sync.TagSyncStep2:
		ev = sync.Update{SenderID: s.id, Frame: frame}
	case sync.TagSyncStep1:
		ev = sync.GetDiff{RequesterID: s.id, Frame: frame}
	case sync.TagAwareness:
		if len(frame) == 1 {
			ev = sync.GetAwareness{RequesterID: s.id}
		} else {
			ev = sync.UpdateAwareness{SenderID: s.id, Frame: frame}
		}
	default:
		s.logger.Warn("dropping frame with unknown tag", zap.Uint8("tag", tag))
		return true
	}

	s.inbox <- ev
	return true
}

// writePump drains the outbound queue to the socket, and pings on
// idle, until the queue is closed or a write fails.
func (s *Session) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.logger.Debug("session write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
