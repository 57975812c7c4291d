package server

import (
	"chatserv/protocol"
	"errors"
	"sort"
	"sync"
)

var (
	ErrUnknownUser = errors.New("unknown user id")
	ErrIDInUse     = errors.New("identifier already in use")
	ErrInvalidID   = errors.New("invalid identifier")
)

// Registry holds every live session and group and is the single
// routing decision point. Users and the nickname index share one lock
// since commands touch them together; groups have their own.
type Registry struct {
	mu        sync.RWMutex
	users     map[int32]*Session
	nicknames map[string]*Session
	lastUser  int32

	gmu       sync.RWMutex
	groups    map[int32]*GroupChannel
	lastGroup int32

	control func(protocol.Packet)
	observe func(protocol.Packet)
}

// NicknameEntry is one row of the nickname index snapshot.
type NicknameEntry struct {
	ID       int32
	Nickname string
}

func NewRegistry() *Registry {
	return &Registry{
		users:     make(map[int32]*Session),
		nicknames: make(map[string]*Session),
		groups:    make(map[int32]*GroupChannel),
	}
}

// AllocateUserID returns a strictly increasing positive identifier.
func (r *Registry) AllocateUserID() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastUser++
	return r.lastUser
}

// RegisterUser makes a session routable. A client-claimed identifier is
// rejected when not positive or already live; accepting one bumps the
// allocation counter past it so served identifiers never collide.
func (r *Registry) RegisterUser(s *Session) error {
	if s.id <= 0 {
		return ErrInvalidID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[s.id]; ok {
		return ErrIDInUse
	}
	r.users[s.id] = s
	if s.id > r.lastUser {
		r.lastUser = s.id
	}
	return nil
}

// UnregisterUser removes the session and any nickname bound to it, so
// no future dispatch or nickname lookup can reach a dead session.
func (r *Registry) UnregisterUser(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.users[s.id]; ok && cur == s {
		delete(r.users, s.id)
	}
	for nick, owner := range r.nicknames {
		if owner == s {
			delete(r.nicknames, nick)
		}
	}
}

func (r *Registry) User(id int32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.users[id]
	return s, ok
}

// UserIDs returns the identifiers of all live sessions, sorted.
func (r *Registry) UserIDs() []int32 {
	r.mu.RLock()
	ids := make([]int32, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) sessionSnapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.users))
	for _, s := range r.users {
		out = append(out, s)
	}
	return out
}

// RegisterNickname binds a nickname to a session. The first claim
// wins; a second claim of the same nickname is refused.
func (r *Registry) RegisterNickname(nick string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.nicknames[nick]; taken {
		return false
	}
	r.nicknames[nick] = s
	return true
}

func (r *Registry) Nickname(nick string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.nicknames[nick]
	return s, ok
}

// NicknameTable returns a snapshot of the nickname index, sorted by
// user id.
func (r *Registry) NicknameTable() []NicknameEntry {
	r.mu.RLock()
	entries := make([]NicknameEntry, 0, len(r.nicknames))
	for nick, s := range r.nicknames {
		entries = append(entries, NicknameEntry{ID: s.id, Nickname: nick})
	}
	r.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// CreateGroup allocates a strictly decreasing negative identifier and
// registers the new group before returning it, so a concurrent
// dispatch never sees the id without the group. The owner becomes an
// implicit member.
func (r *Registry) CreateGroup(ownerID int32) (*GroupChannel, error) {
	owner, ok := r.User(ownerID)
	if !ok {
		return nil, ErrUnknownUser
	}
	r.gmu.Lock()
	r.lastGroup--
	g := &GroupChannel{
		id:      r.lastGroup,
		owner:   owner,
		members: map[int32]*Session{owner.id: owner},
	}
	r.groups[g.id] = g
	r.gmu.Unlock()
	owner.trackGroup(g)
	return g, nil
}

func (r *Registry) Group(id int32) (*GroupChannel, bool) {
	r.gmu.RLock()
	defer r.gmu.RUnlock()
	g, ok := r.groups[id]
	return g, ok
}

// RemoveGroup destroys a group. Once removed its id no longer resolves
// and every member forgets the membership. Reports whether the group
// existed.
func (r *Registry) RemoveGroup(id int32) bool {
	r.gmu.Lock()
	g, ok := r.groups[id]
	if ok {
		delete(r.groups, id)
	}
	r.gmu.Unlock()
	if !ok {
		return false
	}
	g.clear()
	return true
}

// GroupCount reports the number of live groups.
func (r *Registry) GroupCount() int {
	r.gmu.RLock()
	defer r.gmu.RUnlock()
	return len(r.groups)
}

// BroadcastExcept enqueues a server-sourced packet to every live
// session except the given one.
func (r *Registry) BroadcastExcept(except int32, data []byte) {
	for _, s := range r.sessionSnapshot() {
		if s.id == except {
			continue
		}
		s.Enqueue(protocol.Packet{Src: protocol.ServerID, Dest: s.id, Data: data})
	}
}

// Dispatch routes a packet by destination: the server sentinel goes to
// the control protocol, a positive id to that session's queue, a
// negative id to the group fan-out. Unresolvable destinations are
// silently dropped; no delivery guarantee is promised.
func (r *Registry) Dispatch(p protocol.Packet) {
	if r.observe != nil {
		r.observe(p)
	}
	switch {
	case p.Dest == protocol.ServerID:
		if r.control != nil {
			r.control(p)
		}
	case p.Dest > 0:
		if s, ok := r.User(p.Dest); ok {
			s.Enqueue(p)
		}
	default:
		if g, ok := r.Group(p.Dest); ok {
			g.Fanout(p)
		}
	}
}
