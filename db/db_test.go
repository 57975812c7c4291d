package db

import (
	"bytes"
	"os"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "chatserv-test-*.db")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path)

	database, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
		os.Remove(path)
	})
	return database
}

func TestSaveMessageAndHistory(t *testing.T) {
	database := setupTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// A conversation between 1 and 2, with unrelated traffic mixed in.
	if _, err := database.SaveMessage(1, 2, 1, "hello", base); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := database.SaveMessage(2, 1, 1, "hi back", base.Add(1*time.Second)); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := database.SaveMessage(1, 3, 1, "other thread", base.Add(2*time.Second)); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := database.SaveMessage(1, 2, 1, "still there?", base.Add(3*time.Second)); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	history, err := database.History(1, 2, 0, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[0].Body != "hello" || history[1].Body != "hi back" || history[2].Body != "still there?" {
		t.Errorf("unexpected ordering: %q %q %q", history[0].Body, history[1].Body, history[2].Body)
	}
	if history[0].Sender != 1 || history[0].Recipient != 2 {
		t.Errorf("expected 1->2, got %d->%d", history[0].Sender, history[0].Recipient)
	}
	if !history[0].Timestamp.Equal(base) {
		t.Errorf("timestamp did not round trip: %v", history[0].Timestamp)
	}

	// Both directions resolve the same conversation.
	reversed, err := database.History(2, 1, 0, 10)
	if err != nil {
		t.Fatalf("History reversed: %v", err)
	}
	if len(reversed) != 3 {
		t.Errorf("expected the same conversation from the peer side, got %d messages", len(reversed))
	}
}

func TestHistoryPaging(t *testing.T) {
	database := setupTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	bodies := []string{"one", "two", "three", "four", "five"}
	for i, body := range bodies {
		if _, err := database.SaveMessage(1, 2, 1, body, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	page, err := database.History(1, 2, 2, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page) != 2 || page[0].Body != "three" || page[1].Body != "four" {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestGroupHistory(t *testing.T) {
	database := setupTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := database.SaveMessage(1, -4, 1, "to the group", base); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := database.SaveMessage(3, -4, 1, "me too", base.Add(time.Second)); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := database.SaveMessage(1, 2, 1, "direct", base.Add(2*time.Second)); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	history, err := database.History(1, -4, 0, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 group messages, got %d", len(history))
	}
	if history[0].Sender != 1 || history[1].Sender != 3 {
		t.Errorf("unexpected senders: %d %d", history[0].Sender, history[1].Sender)
	}
}

func TestClearHistory(t *testing.T) {
	database := setupTestDB(t)
	now := time.Now().UTC()

	database.SaveMessage(1, 2, 1, "a", now)
	database.SaveMessage(2, 1, 1, "b", now.Add(time.Second))
	database.SaveMessage(1, 3, 1, "keep", now.Add(2*time.Second))

	if err := database.ClearHistory(1, 2); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}

	history, err := database.History(1, 2, 0, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected the conversation to be gone, got %d messages", len(history))
	}
	kept, err := database.History(1, 3, 0, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("expected the other conversation to survive, got %d messages", len(kept))
	}
}

func TestSaveAttachmentRoundTrip(t *testing.T) {
	database := setupTestDB(t)
	now := time.Now().UTC()

	msgID, err := database.SaveMessage(1, 2, 2, "report.pdf", now)
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	blob := []byte("attachment contents")
	att, err := database.SaveAttachment(msgID, "report.pdf", "", blob)
	if err != nil {
		t.Fatalf("SaveAttachment: %v", err)
	}
	if att.ID == "" {
		t.Error("expected a generated attachment id")
	}
	if att.Size != int64(len(blob)) {
		t.Errorf("expected size %d, got %d", len(blob), att.Size)
	}
	if len(att.Hash) != 64 {
		t.Errorf("expected a hex BLAKE2b-256 hash, got %q", att.Hash)
	}

	data, err := database.AttachmentData(att.ID)
	if err != nil {
		t.Fatalf("AttachmentData: %v", err)
	}
	if !bytes.Equal(data, blob) {
		t.Errorf("blob did not round trip: %d bytes", len(data))
	}

	listed, err := database.AttachmentsForMessage(msgID)
	if err != nil {
		t.Fatalf("AttachmentsForMessage: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != att.ID || listed[0].Hash != att.Hash {
		t.Errorf("unexpected listing: %+v", listed)
	}

	// Identical content hashes identically; distinct content does not.
	att2, err := database.SaveAttachment(msgID, "copy.pdf", "", blob)
	if err != nil {
		t.Fatalf("SaveAttachment: %v", err)
	}
	if att2.Hash != att.Hash {
		t.Error("expected identical content to share a hash")
	}
	att3, err := database.SaveAttachment(msgID, "other.pdf", "", []byte("different"))
	if err != nil {
		t.Fatalf("SaveAttachment: %v", err)
	}
	if att3.Hash == att.Hash {
		t.Error("expected distinct content to hash differently")
	}
}

func TestAttachmentDataMissing(t *testing.T) {
	database := setupTestDB(t)
	if _, err := database.AttachmentData("no-such-id"); err != ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestUserPresenceAndNickname(t *testing.T) {
	database := setupTestDB(t)

	if _, err := database.GetUser(5); err != ErrNoRows {
		t.Fatalf("expected ErrNoRows for an unseen user, got %v", err)
	}

	online := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := database.TouchUserOnline(5, online); err != nil {
		t.Fatalf("TouchUserOnline: %v", err)
	}
	if err := database.SetNickname(5, "alice"); err != nil {
		t.Fatalf("SetNickname: %v", err)
	}

	u, err := database.GetUser(5)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.ID != 5 || u.Nickname != "alice" {
		t.Errorf("unexpected user record: %+v", u)
	}
	if !u.LastOnline.Equal(online) {
		t.Errorf("expected last online %v, got %v", online, u.LastOnline)
	}
	if !u.LastOffline.IsZero() {
		t.Errorf("expected no offline timestamp yet, got %v", u.LastOffline)
	}

	offline := online.Add(time.Hour)
	if err := database.TouchUserOffline(5, offline); err != nil {
		t.Fatalf("TouchUserOffline: %v", err)
	}
	u, err = database.GetUser(5)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !u.LastOffline.Equal(offline) {
		t.Errorf("expected last offline %v, got %v", offline, u.LastOffline)
	}
	if u.Nickname != "alice" {
		t.Error("expected the nickname to survive a presence upsert")
	}
}
