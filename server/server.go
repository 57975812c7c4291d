package server

import (
	"chatserv/protocol"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
)

// Config carries the server knobs. Zero values fall back to generous
// defaults in New.
type Config struct {
	Addr         string
	QueueBacklog int
	MaxFrameSize int32
}

// PacketListener is notified of every packet entering dispatch. It
// must not block; routing runs on the reading session's goroutine.
type PacketListener interface {
	PacketReceived(p protocol.Packet)
}

// ConnectionListener is notified when a session connects or
// disconnects.
type ConnectionListener interface {
	ConnectionEvent(id int32, connected bool)
}

// Server accepts connections, performs the identifier handshake and
// hands each stream to a Session. All shared state lives in the
// injected Registry, never in package globals.
type Server struct {
	cfg      *Config
	registry *Registry

	mu        sync.Mutex
	listener  net.Listener
	packetObs []PacketListener
	connObs   []ConnectionListener
}

func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Addr == "" {
		cfg.Addr = ":1666"
	}
	if cfg.QueueBacklog <= 0 {
		cfg.QueueBacklog = 512
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = 8 << 20
	}
	srv := &Server{
		cfg:      cfg,
		registry: NewRegistry(),
	}
	ctl := &control{srv: srv}
	srv.registry.control = ctl.handle
	srv.registry.observe = srv.notifyPacket
	return srv
}

// Registry exposes the routing state, mainly for the admin surface and
// tests.
func (s *Server) Registry() *Registry { return s.registry }

func (s *Server) AddPacketListener(l PacketListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.packetObs = append(s.packetObs, l)
	s.mu.Unlock()
}

func (s *Server) AddConnectionListener(l ConnectionListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.connObs = append(s.connObs, l)
	s.mu.Unlock()
}

func (s *Server) notifyPacket(p protocol.Packet) {
	s.mu.Lock()
	obs := s.packetObs
	s.mu.Unlock()
	for _, l := range obs {
		l.PacketReceived(p)
	}
}

func (s *Server) notifyConnection(id int32, connected bool) {
	s.mu.Lock()
	obs := s.connObs
	s.mu.Unlock()
	for _, l := range obs {
		l.ConnectionEvent(id, connected)
	}
}

// Listen binds the TCP listener without accepting yet, so tests can
// learn the bound address of an ":0" config.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	log.Printf("chatserv listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until the listener closes.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("server: Serve before Listen")
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if isDisconnect(err) {
				return nil
			}
			log.Printf("accept: %v", err)
			continue
		}
		go s.handleConn(conn, conn.RemoteAddr().String())
	}
}

// Start is Listen followed by Serve.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// handleConn performs the identifier handshake and runs the session
// loops. A client claiming 0 is allocated an id which is echoed back
// before any other traffic; a claimed id is validated against reuse.
func (s *Server) handleConn(conn io.ReadWriteCloser, remote string) {
	claimed, err := protocol.ReadHandshake(conn)
	if err != nil || claimed < 0 {
		conn.Close()
		return
	}
	id := claimed
	if claimed == 0 {
		id = s.registry.AllocateUserID()
	}
	sess := newSession(s, id, conn, remote)
	if err := s.registry.RegisterUser(sess); err != nil {
		log.Printf("handshake from %s: id %d: %v", remote, id, err)
		conn.Close()
		return
	}
	if claimed == 0 {
		if err := protocol.WriteHandshake(conn, id); err != nil {
			sess.Close()
			return
		}
	}
	log.Printf("session %d connected (%s)", id, remote)
	s.notifyConnection(id, true)

	go sess.writeLoop()
	sess.readLoop()
}

// Shutdown notifies every session with a server text packet, then
// closes them and the listener. Delivery of the notice is best effort.
func (s *Server) Shutdown(reason string) {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	notice := []byte("server shutting down")
	if reason != "" {
		notice = []byte("server shutting down: " + reason)
	}
	for _, sess := range s.registry.sessionSnapshot() {
		sess.Enqueue(protocol.Packet{Src: protocol.ServerID, Dest: sess.ID(), Data: notice})
		sess.Close()
	}
}

// Stats returns server statistics as a formatted string for the admin
// socket.
func (s *Server) Stats() string {
	ids := s.registry.UserIDs()
	users := make([]string, 0, len(ids))
	for _, id := range ids {
		users = append(users, strconv.Itoa(int(id)))
	}
	return "connections=" + strconv.Itoa(len(ids)) +
		",groups=" + strconv.Itoa(s.registry.GroupCount()) +
		",users=" + strings.Join(users, ";")
}
