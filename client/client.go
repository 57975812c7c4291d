// Package client is a library for talking to a chatserv server: it
// performs the identifier handshake, sends packets, and delivers
// received packets and connection state changes to registered
// listeners. Reception is asynchronous; listeners run on the client's
// receive goroutine and must not block.
package client

import (
	"errors"
	"net"
	"sync"

	"chatserv/protocol"
)

var ErrNotConnected = errors.New("client: not connected")

// MessageListener receives every packet the server delivers.
type MessageListener func(p protocol.Packet)

// ConnectionListener is called with true when the session opens and
// false when it ends.
type ConnectionListener func(connected bool)

type Client struct {
	addr string

	mu        sync.Mutex
	id        int32
	conn      net.Conn
	listeners []MessageListener
	connLis   []ConnectionListener
	writeMu   sync.Mutex
}

// New creates a client that will claim the given identifier, or ask
// the server to allocate one when id is 0.
func New(addr string, id int32) *Client {
	return &Client{addr: addr, id: id}
}

// ID returns the session identifier; valid after Connect.
func (c *Client) ID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) AddMessageListener(l MessageListener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *Client) AddConnectionListener(l ConnectionListener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.connLis = append(c.connLis, l)
	c.mu.Unlock()
}

// Connect dials the server and performs the handshake. When the client
// was created with id 0 the allocated identifier is read back before
// any other traffic.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}

	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := protocol.WriteHandshake(conn, c.id); err != nil {
		conn.Close()
		c.mu.Unlock()
		return err
	}
	if c.id == 0 {
		id, err := protocol.ReadHandshake(conn)
		if err != nil {
			conn.Close()
			c.mu.Unlock()
			return err
		}
		c.id = id
	}
	c.conn = conn
	c.mu.Unlock()

	go c.receiveLoop(conn)
	c.notifyConnection(true)
	return nil
}

func (c *Client) receiveLoop(conn net.Conn) {
	for {
		p, err := protocol.ReadServerFrame(conn, 0)
		if err != nil {
			break
		}
		c.mu.Lock()
		listeners := c.listeners
		c.mu.Unlock()
		for _, l := range listeners {
			l(p)
		}
	}
	c.Close()
}

// Send routes an opaque payload to a user (positive), group (negative)
// or the server control plane (zero).
func (c *Client) Send(dest int32, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteClientFrame(conn, dest, data)
}

// SendText sends a plain text message.
func (c *Client) SendText(dest int32, text string) error {
	return c.Send(dest, []byte(text))
}

// CreateGroup asks the server for a new group containing the given
// members. The name may be empty.
func (c *Client) CreateGroup(name string, members []int32) error {
	payload, err := protocol.EncodeCreateGroup(name, members)
	if err != nil {
		return err
	}
	return c.Send(protocol.ServerID, payload)
}

// AddMember asks the server to admit a user into a group the client
// owns.
func (c *Client) AddMember(groupID, userID int32) error {
	return c.Send(protocol.ServerID, protocol.EncodeMemberChange(protocol.TagAddMember, groupID, userID))
}

// RemoveMember asks the server to evict a user from a group the client
// owns.
func (c *Client) RemoveMember(groupID, userID int32) error {
	return c.Send(protocol.ServerID, protocol.EncodeMemberChange(protocol.TagRemoveMember, groupID, userID))
}

// SetNickname claims a nickname for this session.
func (c *Client) SetNickname(nickname string) error {
	return c.Send(protocol.ServerID, protocol.EncodeSetNickname(nickname))
}

// SendFile sends a named byte blob to a user or group.
func (c *Client) SendFile(dest int32, name string, data []byte) error {
	payload, err := protocol.EncodeFileTransfer(protocol.FileTransfer{Name: name, Data: data})
	if err != nil {
		return err
	}
	return c.Send(dest, payload)
}

// SendImage sends a named image blob to a user or group.
func (c *Client) SendImage(dest int32, name, format string, data []byte) error {
	payload, err := protocol.EncodeImageTransfer(protocol.ImageTransfer{Name: name, Format: format, Data: data})
	if err != nil {
		return err
	}
	return c.Send(dest, payload)
}

// Close ends the session. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Close()
	c.notifyConnection(false)
}

func (c *Client) notifyConnection(connected bool) {
	c.mu.Lock()
	listeners := c.connLis
	c.mu.Unlock()
	for _, l := range listeners {
		l(connected)
	}
}
