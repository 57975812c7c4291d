package protocol

import (
	"bytes"
	"testing"
)

func TestClientFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello there")
	if err := WriteClientFrame(&buf, 42, payload); err != nil {
		t.Fatalf("WriteClientFrame: %v", err)
	}

	// The reader stamps the session's own id as the source; nothing on
	// the wire can override it.
	p, err := ReadFrame(&buf, 7, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if p.Src != 7 {
		t.Errorf("expected source 7, got %d", p.Src)
	}
	if p.Dest != 42 {
		t.Errorf("expected destination 42, got %d", p.Dest)
	}
	if !bytes.Equal(p.Data, payload) {
		t.Errorf("payload mismatch: %q", p.Data)
	}
}

func TestServerFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Packet{Src: 3, Dest: -5, Data: []byte("group message")}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	out, err := ReadServerFrame(&buf, 0)
	if err != nil {
		t.Fatalf("ReadServerFrame: %v", err)
	}
	if out.Src != in.Src || out.Dest != in.Dest || !bytes.Equal(out.Data, in.Data) {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteClientFrame(&buf, 1, nil); err != nil {
		t.Fatalf("WriteClientFrame: %v", err)
	}
	p, err := ReadFrame(&buf, 2, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(p.Data) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(p.Data))
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteClientFrame(&buf, 1, make([]byte, 64)); err != nil {
		t.Fatalf("WriteClientFrame: %v", err)
	}
	if _, err := ReadFrame(&buf, 2, 16); err != ErrFrameTooLarge {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteClientFrame(&buf, 1, []byte("abcdef")); err != nil {
		t.Fatalf("WriteClientFrame: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-3])
	if _, err := ReadFrame(truncated, 2, 0); err == nil {
		t.Error("expected error on truncated frame")
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHandshake(&buf, 123); err != nil {
		t.Fatalf("WriteHandshake: %v", err)
	}
	id, err := ReadHandshake(&buf)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if id != 123 {
		t.Errorf("expected 123, got %d", id)
	}
}

func TestCreateGroupPayload(t *testing.T) {
	payload, err := EncodeCreateGroup("team", []int32{1, 3, 9})
	if err != nil {
		t.Fatalf("EncodeCreateGroup: %v", err)
	}
	if payload[0] != TagCreateGroup {
		t.Fatalf("expected tag %d, got %d", TagCreateGroup, payload[0])
	}

	name, members, err := DecodeCreateGroup(payload)
	if err != nil {
		t.Fatalf("DecodeCreateGroup: %v", err)
	}
	if name != "team" {
		t.Errorf("expected name %q, got %q", "team", name)
	}
	if len(members) != 3 || members[0] != 1 || members[1] != 3 || members[2] != 9 {
		t.Errorf("unexpected members: %v", members)
	}
}

func TestCreateGroupPayloadUnnamed(t *testing.T) {
	payload, err := EncodeCreateGroup("", []int32{2})
	if err != nil {
		t.Fatalf("EncodeCreateGroup: %v", err)
	}
	name, members, err := DecodeCreateGroup(payload)
	if err != nil {
		t.Fatalf("DecodeCreateGroup: %v", err)
	}
	if name != "" {
		t.Errorf("expected empty name, got %q", name)
	}
	if len(members) != 1 || members[0] != 2 {
		t.Errorf("unexpected members: %v", members)
	}
}

func TestDecodeCreateGroupTruncated(t *testing.T) {
	payload, err := EncodeCreateGroup("team", []int32{1, 3})
	if err != nil {
		t.Fatalf("EncodeCreateGroup: %v", err)
	}
	for _, cut := range []int{0, 1, 2, len(payload) - 1} {
		if _, _, err := DecodeCreateGroup(payload[:cut]); err == nil {
			t.Errorf("expected error at cut %d", cut)
		}
	}
}

func TestMemberChangePayload(t *testing.T) {
	payload := EncodeMemberChange(TagAddMember, -4, 17)
	groupID, userID, err := DecodeMemberChange(payload)
	if err != nil {
		t.Fatalf("DecodeMemberChange: %v", err)
	}
	if groupID != -4 || userID != 17 {
		t.Errorf("expected (-4, 17), got (%d, %d)", groupID, userID)
	}

	if _, _, err := DecodeMemberChange(payload[:5]); err != ErrTruncated {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestSetNicknamePayload(t *testing.T) {
	payload := EncodeSetNickname("alice")
	nick, err := DecodeSetNickname(payload)
	if err != nil {
		t.Fatalf("DecodeSetNickname: %v", err)
	}
	if nick != "alice" {
		t.Errorf("expected %q, got %q", "alice", nick)
	}

	if _, err := DecodeSetNickname(nil); err != ErrTruncated {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}
