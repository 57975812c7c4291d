package server

import (
	"chatserv/protocol"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
)

// Session owns one connected stream. Two goroutines run for its
// lifetime: readLoop turns inbound frames into dispatched packets,
// writeLoop drains the private outbound queue onto the wire. Neither
// loop ever blocks on another session's queue, so a slow peer
// accumulates backlog only in its own queue.
type Session struct {
	id     int32
	srv    *Server
	conn   io.ReadWriteCloser
	remote string

	queue chan protocol.Packet
	done  chan struct{}
	once  sync.Once

	mu       sync.RWMutex
	closed   bool
	nickname string
	groups   map[int32]*GroupChannel
}

func newSession(srv *Server, id int32, conn io.ReadWriteCloser, remote string) *Session {
	return &Session{
		id:     id,
		srv:    srv,
		conn:   conn,
		remote: remote,
		queue:  make(chan protocol.Packet, srv.cfg.QueueBacklog),
		done:   make(chan struct{}),
		groups: make(map[int32]*GroupChannel),
	}
}

func (s *Session) ID() int32 { return s.id }

func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

func (s *Session) setNickname(nick string) {
	s.mu.Lock()
	s.nickname = nick
	s.mu.Unlock()
}

// DisplayName returns the nickname if one is set, else a default
// derived from the id.
func (s *Session) DisplayName() string {
	if nick := s.Nickname(); nick != "" {
		return nick
	}
	return fmt.Sprintf("User%d", s.id)
}

// Enqueue appends a packet to the outbound queue without ever blocking
// the caller. After close it is a no-op; the caller does not need to
// know. A full backlog means the peer has stopped draining: the
// session is disconnected rather than growing without bound.
func (s *Session) Enqueue(p protocol.Packet) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	select {
	case s.queue <- p:
		s.mu.RUnlock()
	default:
		s.mu.RUnlock()
		log.Printf("session %d: outbound backlog full, disconnecting", s.id)
		go s.Close()
	}
}

// readLoop reads length-delimited frames until the stream fails. The
// packet source is always this session's id, never trusted from the
// wire. Any read error is a terminal disconnect.
func (s *Session) readLoop() {
	defer s.Close()
	for {
		p, err := protocol.ReadFrame(s.conn, s.id, s.srv.cfg.MaxFrameSize)
		if err != nil {
			if !isDisconnect(err) {
				log.Printf("session %d: read: %v", s.id, err)
			}
			return
		}
		s.srv.registry.Dispatch(p)
	}
}

// writeLoop blocks on the private queue and writes each packet to the
// stream. On a write failure the unsent packet is best-effort
// re-enqueued for a still-open alternate drain, then the session
// closes.
func (s *Session) writeLoop() {
	defer s.Close()
	for {
		select {
		case <-s.done:
			return
		case p := <-s.queue:
			if err := protocol.WriteFrame(s.conn, p); err != nil {
				select {
				case s.queue <- p:
				default:
				}
				if !isDisconnect(err) {
					log.Printf("session %d: write: %v", s.id, err)
				}
				return
			}
		}
	}
}

// Close tears the session down exactly once: marks it inactive,
// releases the connection (unblocking the reader), signals the writer,
// evicts the session from every group it belongs to, removes it from
// the registry and notifies lifecycle observers.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		groups := make([]*GroupChannel, 0, len(s.groups))
		for _, g := range s.groups {
			groups = append(groups, g)
		}
		s.groups = make(map[int32]*GroupChannel)
		s.mu.Unlock()

		close(s.done)
		s.conn.Close()
		for _, g := range groups {
			g.dropMember(s)
		}
		s.srv.registry.UnregisterUser(s)
		s.srv.notifyConnection(s.id, false)
		log.Printf("session %d disconnected (%s)", s.id, s.remote)
	})
}

// trackGroup records a membership on the session side. A session that
// already closed refuses and undoes the insert on the group side.
func (s *Session) trackGroup(g *GroupChannel) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		g.dropMember(s)
		return
	}
	s.groups[g.id] = g
	s.mu.Unlock()
}

func (s *Session) untrackGroup(g *GroupChannel) {
	s.mu.Lock()
	delete(s.groups, g.id)
	s.mu.Unlock()
}

// GroupCount reports how many groups the session currently belongs to.
func (s *Session) GroupCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups)
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
