package server

import (
	"chatserv/protocol"
	"fmt"
	"log"
)

// control interprets packets addressed to the reserved server id. Each
// command tag is decoded once and matched exhaustively; unknown or
// malformed commands are logged and dropped without harming the
// connection. All user-visible feedback travels as ordinary text
// packets from the server id, never as a distinct error frame.
type control struct {
	srv *Server
}

func (c *control) handle(p protocol.Packet) {
	if len(p.Data) == 0 {
		log.Printf("control: empty command payload from %d", p.Src)
		return
	}
	switch p.Data[0] {
	case protocol.TagCreateGroup:
		c.createGroup(p)
	case protocol.TagAddMember:
		c.addMember(p)
	case protocol.TagRemoveMember:
		c.removeMember(p)
	case protocol.TagFileTransfer, protocol.TagImageTransfer:
		c.relayAttachment(p)
	case protocol.TagSetNickname:
		c.setNickname(p)
	default:
		log.Printf("control: unknown command tag %d from %d", p.Data[0], p.Src)
	}
}

// reply sends a server-sourced text packet through the normal dispatch
// path, so a vanished recipient is silently dropped like any other.
func (c *control) reply(dest int32, text string) {
	c.srv.registry.Dispatch(protocol.Packet{
		Src:  protocol.ServerID,
		Dest: dest,
		Data: []byte(text),
	})
}

// createGroup allocates a group owned by the packet source, adds every
// resolvable listed member (unresolvable ids are skipped, not fatal)
// and notifies the owner and each added member.
func (c *control) createGroup(p protocol.Packet) {
	name, members, err := protocol.DecodeCreateGroup(p.Data)
	if err != nil {
		log.Printf("control: malformed create-group from %d: %v", p.Src, err)
		return
	}
	reg := c.srv.registry
	owner, ok := reg.User(p.Src)
	if !ok {
		log.Printf("control: create-group from unknown user %d", p.Src)
		return
	}
	g, err := reg.CreateGroup(p.Src)
	if err != nil {
		log.Printf("control: create-group for %d: %v", p.Src, err)
		return
	}

	label := name
	if label == "" {
		label = fmt.Sprintf("%d", g.ID())
	}
	for _, id := range members {
		if id == p.Src {
			continue
		}
		m, ok := reg.User(id)
		if !ok {
			log.Printf("control: create-group %d: member %d unknown, skipped", g.ID(), id)
			continue
		}
		g.AddMember(m)
		c.reply(id, fmt.Sprintf("%s added you to group %s", owner.DisplayName(), label))
	}
	c.reply(p.Src, fmt.Sprintf("you created group [%s] (id = %d)", name, g.ID()))
	log.Printf("group %d created by %d with members %v", g.ID(), p.Src, g.MemberIDs())
}

// addMember admits a user into a group. Only the owner may do this; a
// non-owner request is logged and rejected with no reply, leaving
// membership unchanged.
func (c *control) addMember(p protocol.Packet) {
	groupID, userID, err := protocol.DecodeMemberChange(p.Data)
	if err != nil {
		log.Printf("control: malformed add-member from %d: %v", p.Src, err)
		return
	}
	reg := c.srv.registry
	g, ok := reg.Group(groupID)
	if !ok {
		log.Printf("control: add-member: group %d not found", groupID)
		return
	}
	if g.Owner().ID() != p.Src {
		log.Printf("control: add-member: %d is not the owner of group %d", p.Src, groupID)
		return
	}
	member, ok := reg.User(userID)
	if !ok {
		log.Printf("control: add-member: user %d unknown", userID)
		return
	}
	g.AddMember(member)
	c.reply(userID, fmt.Sprintf("you have been added to group %d", groupID))
	c.reply(p.Src, fmt.Sprintf("user %d has been added to group %d", userID, groupID))
}

// removeMember evicts a user from a group, owner-only. Removing a user
// who was not a member produces no notifications at all.
func (c *control) removeMember(p protocol.Packet) {
	groupID, userID, err := protocol.DecodeMemberChange(p.Data)
	if err != nil {
		log.Printf("control: malformed remove-member from %d: %v", p.Src, err)
		return
	}
	reg := c.srv.registry
	g, ok := reg.Group(groupID)
	if !ok {
		log.Printf("control: remove-member: group %d not found", groupID)
		return
	}
	if g.Owner().ID() != p.Src {
		log.Printf("control: remove-member: %d is not the owner of group %d", p.Src, groupID)
		return
	}
	member, ok := reg.User(userID)
	if !ok {
		return
	}
	if g.RemoveMember(member) {
		c.reply(userID, fmt.Sprintf("you have been removed from group %d", groupID))
		c.reply(p.Src, fmt.Sprintf("user %d has been removed from group %d", userID, groupID))
	}
}

// setNickname binds a nickname to the source session. The first claim
// wins; a collision is a silent no-op toward the caller. On success
// the session is welcomed, receives the full current nickname table,
// and every other session hears the announcement.
func (c *control) setNickname(p protocol.Packet) {
	nick, err := protocol.DecodeSetNickname(p.Data)
	if err != nil || nick == "" {
		log.Printf("control: malformed set-nickname from %d", p.Src)
		return
	}
	reg := c.srv.registry
	sess, ok := reg.User(p.Src)
	if !ok {
		return
	}
	if !reg.RegisterNickname(nick, sess) {
		log.Printf("control: nickname %q already claimed, ignoring request from %d", nick, p.Src)
		return
	}
	sess.setNickname(nick)
	c.reply(p.Src, fmt.Sprintf("welcome %s! your nickname has been registered", nick))
	for _, e := range reg.NicknameTable() {
		if e.ID == p.Src {
			continue
		}
		c.reply(p.Src, fmt.Sprintf("NICKNAME:%d:%s", e.ID, e.Nickname))
	}
	reg.BroadcastExcept(p.Src, []byte(fmt.Sprintf("NICKNAME:%d:%s", p.Src, nick)))
}

// relayAttachment handles a file or image payload that was addressed
// to the control id. Attachments bound for a user or group never pass
// through here: dispatch routes them opaquely like any other send. A
// transfer addressed to the control id has no recipient, so it is
// logged and dropped. The payload structure beyond the tag is never
// interpreted here; that is the seam to the attachment codec.
func (c *control) relayAttachment(p protocol.Packet) {
	kind := "file"
	if p.Data[0] == protocol.TagImageTransfer {
		kind = "image"
	}
	log.Printf("%s transfer from %d addressed to the control id, dropped (%d bytes)", kind, p.Src, len(p.Data))
}
