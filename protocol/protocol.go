package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ServerID is the reserved destination for control-plane packets.
// Positive identifiers name users, negative identifiers name groups.
const ServerID int32 = 0

// Command tags carried in the first payload byte of a packet addressed
// to ServerID.
const (
	TagCreateGroup   byte = 1
	TagAddMember     byte = 2
	TagRemoveMember  byte = 3
	TagFileTransfer  byte = 5
	TagImageTransfer byte = 6
	TagSetNickname   byte = 7
)

var (
	ErrInvalidFrame  = errors.New("invalid frame")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrTruncated     = errors.New("truncated payload")
	ErrStringTooLong = errors.New("string exceeds uint16 length prefix")
)

// Packet is the atomic routed unit. The payload is opaque to routing;
// only packets addressed to ServerID have their first byte interpreted.
// A Packet is never mutated after construction.
type Packet struct {
	Src  int32
	Dest int32
	Data []byte
}

// ReadHandshake reads the identifier a connecting client claims.
// Zero requests server-side allocation.
func ReadHandshake(r io.Reader) (int32, error) {
	return readInt32(r)
}

// WriteHandshake sends the claimed (client side) or allocated (server
// side) identifier.
func WriteHandshake(w io.Writer, id int32) error {
	return writeInt32(w, id)
}

// ReadFrame reads one client-to-server frame: dest, length, payload.
// The source is never taken from the wire; the caller supplies the
// session's own identifier.
func ReadFrame(r io.Reader, src int32, maxPayload int32) (Packet, error) {
	dest, err := readInt32(r)
	if err != nil {
		return Packet{}, err
	}
	length, err := readInt32(r)
	if err != nil {
		return Packet{}, err
	}
	if length < 0 {
		return Packet{}, ErrInvalidFrame
	}
	if maxPayload > 0 && length > maxPayload {
		return Packet{}, ErrFrameTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return Packet{}, err
	}
	return Packet{Src: src, Dest: dest, Data: data}, nil
}

// WriteFrame writes one server-to-client frame: src, dest, length,
// payload. The frame is assembled first and written in a single call so
// a concurrent failure never leaves a half frame on the wire.
func WriteFrame(w io.Writer, p Packet) error {
	buf := make([]byte, 12+len(p.Data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.Src))
	binary.BigEndian.PutUint32(buf[4:8], uint32(p.Dest))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(p.Data)))
	copy(buf[12:], p.Data)
	_, err := w.Write(buf)
	return err
}

// ReadServerFrame reads one server-to-client frame. Used by the client
// library and by tests observing a session's wire output.
func ReadServerFrame(r io.Reader, maxPayload int32) (Packet, error) {
	src, err := readInt32(r)
	if err != nil {
		return Packet{}, err
	}
	dest, err := readInt32(r)
	if err != nil {
		return Packet{}, err
	}
	length, err := readInt32(r)
	if err != nil {
		return Packet{}, err
	}
	if length < 0 {
		return Packet{}, ErrInvalidFrame
	}
	if maxPayload > 0 && length > maxPayload {
		return Packet{}, ErrFrameTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return Packet{}, err
	}
	return Packet{Src: src, Dest: dest, Data: data}, nil
}

// WriteClientFrame writes one client-to-server frame: dest, length,
// payload. The source is implicit in this direction.
func WriteClientFrame(w io.Writer, dest int32, data []byte) error {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(dest))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(data)))
	copy(buf[8:], data)
	_, err := w.Write(buf)
	return err
}

// EncodeCreateGroup builds a create-group control payload. The group
// name travels as a length-prefixed string; an empty name means the
// group is unnamed.
func EncodeCreateGroup(name string, members []int32) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(TagCreateGroup)
	if err := writeString(&buf, name); err != nil {
		return nil, err
	}
	writeInt32(&buf, int32(len(members)))
	for _, m := range members {
		writeInt32(&buf, m)
	}
	return buf.Bytes(), nil
}

// DecodeCreateGroup parses a create-group payload, tag byte included.
func DecodeCreateGroup(data []byte) (name string, members []int32, err error) {
	r := bytes.NewReader(data)
	if _, err = r.ReadByte(); err != nil {
		return "", nil, ErrTruncated
	}
	name, err = readString(r)
	if err != nil {
		return "", nil, err
	}
	count, err := readInt32(r)
	if err != nil {
		return "", nil, ErrTruncated
	}
	if count < 0 || int(count) > r.Len()/4 {
		return "", nil, ErrTruncated
	}
	members = make([]int32, 0, count)
	for i := int32(0); i < count; i++ {
		id, err := readInt32(r)
		if err != nil {
			return "", nil, ErrTruncated
		}
		members = append(members, id)
	}
	return name, members, nil
}

// EncodeMemberChange builds an add-member or remove-member payload.
func EncodeMemberChange(tag byte, groupID, userID int32) []byte {
	buf := make([]byte, 9)
	buf[0] = tag
	binary.BigEndian.PutUint32(buf[1:5], uint32(groupID))
	binary.BigEndian.PutUint32(buf[5:9], uint32(userID))
	return buf
}

// DecodeMemberChange parses an add-member or remove-member payload.
func DecodeMemberChange(data []byte) (groupID, userID int32, err error) {
	if len(data) < 9 {
		return 0, 0, ErrTruncated
	}
	groupID = int32(binary.BigEndian.Uint32(data[1:5]))
	userID = int32(binary.BigEndian.Uint32(data[5:9]))
	return groupID, userID, nil
}

// EncodeSetNickname builds a set-nickname payload. The nickname is the
// raw UTF-8 remainder of the payload.
func EncodeSetNickname(nickname string) []byte {
	buf := make([]byte, 1+len(nickname))
	buf[0] = TagSetNickname
	copy(buf[1:], nickname)
	return buf
}

// DecodeSetNickname parses a set-nickname payload.
func DecodeSetNickname(data []byte) (string, error) {
	if len(data) < 1 {
		return "", ErrTruncated
	}
	return string(data[1:]), nil
}

func readInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func writeInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

func readInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func writeInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

// Strings inside control and attachment payloads travel as a uint16
// byte length followed by UTF-8 bytes.
func readString(r io.Reader) (string, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", ErrTruncated
	}
	length := int(binary.BigEndian.Uint16(buf[:]))
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", ErrTruncated
	}
	return string(data), nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return ErrStringTooLong
	}
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(len(s)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}
