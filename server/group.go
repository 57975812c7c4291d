package server

import (
	"chatserv/protocol"
	"sort"
	"sync"
)

// GroupChannel is an owner-controlled membership set. Only the control
// protocol mutates membership; fan-out runs on the sending session's
// read goroutine and must not block.
type GroupChannel struct {
	id    int32
	owner *Session

	mu      sync.RWMutex
	members map[int32]*Session
}

func (g *GroupChannel) ID() int32       { return g.id }
func (g *GroupChannel) Owner() *Session { return g.owner }

// AddMember inserts a session into the group. Idempotent; reports
// whether the session was newly added.
func (g *GroupChannel) AddMember(s *Session) bool {
	if s == nil {
		return false
	}
	g.mu.Lock()
	if _, ok := g.members[s.id]; ok {
		g.mu.Unlock()
		return false
	}
	g.members[s.id] = s
	g.mu.Unlock()
	s.trackGroup(g)
	return true
}

// RemoveMember removes a session and reports whether it was present.
// The control layer uses the result to decide whether to notify.
func (g *GroupChannel) RemoveMember(s *Session) bool {
	if s == nil {
		return false
	}
	g.mu.Lock()
	_, ok := g.members[s.id]
	if ok {
		delete(g.members, s.id)
	}
	g.mu.Unlock()
	if ok {
		s.untrackGroup(g)
	}
	return ok
}

// dropMember removes a dying session without touching the session's
// own bookkeeping. Called from Session.Close.
func (g *GroupChannel) dropMember(s *Session) {
	g.mu.Lock()
	delete(g.members, s.id)
	g.mu.Unlock()
}

// clear detaches every member; used when the group is destroyed.
func (g *GroupChannel) clear() {
	g.mu.Lock()
	members := g.members
	g.members = make(map[int32]*Session)
	g.mu.Unlock()
	for _, s := range members {
		s.untrackGroup(g)
	}
}

// Contains reports whether the user id is currently a member.
func (g *GroupChannel) Contains(id int32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[id]
	return ok
}

// MemberIDs returns the current membership, sorted.
func (g *GroupChannel) MemberIDs() []int32 {
	g.mu.RLock()
	ids := make([]int32, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	g.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Fanout delivers a copy of the packet to every member present at this
// moment. Delivery is computed over a snapshot so concurrent
// membership edits cannot race the iteration. The destination is
// rewritten to the group id so recipients can tell it was a group
// send. The originating sender is excluded from its own fan-out.
func (g *GroupChannel) Fanout(p protocol.Packet) {
	g.mu.RLock()
	snapshot := make([]*Session, 0, len(g.members))
	for _, s := range g.members {
		snapshot = append(snapshot, s)
	}
	g.mu.RUnlock()

	for _, s := range snapshot {
		if s.id == p.Src {
			continue
		}
		s.Enqueue(protocol.Packet{Src: p.Src, Dest: g.id, Data: p.Data})
	}
}
