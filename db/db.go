package db

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"chatserv/models"

	"github.com/gofrs/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/blake2b"
)

var ErrNoRows = errors.New("no rows found")

// DB is the history and presence store. It is a collaborator behind
// the server's lifecycle hooks; routing never touches it.
type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender INTEGER NOT NULL,
			recipient INTEGER NOT NULL,
			kind INTEGER NOT NULL DEFAULT 1,
			body TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id TEXT PRIMARY KEY,
			message_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			format TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL,
			hash TEXT NOT NULL,
			data BLOB NOT NULL,
			FOREIGN KEY (message_id) REFERENCES messages(id)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			nickname TEXT NOT NULL DEFAULT '',
			last_online TEXT NOT NULL DEFAULT '',
			last_offline TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_hash ON attachments(hash)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// SaveMessage records one routed message and returns its row id.
func (db *DB) SaveMessage(sender, recipient int32, kind int, body string, timestamp time.Time) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO messages (sender, recipient, kind, body, timestamp) VALUES (?, ?, ?, ?, ?)",
		sender, recipient, kind, body, timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SaveAttachment stores an attachment blob under a fresh UUID, content
// addressed by a BLAKE2b-256 hash for integrity checks and dedup
// queries.
func (db *DB) SaveAttachment(messageID int64, name, format string, data []byte) (*models.Attachment, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(data)
	att := &models.Attachment{
		ID:        id.String(),
		MessageID: messageID,
		Name:      name,
		Format:    format,
		Size:      int64(len(data)),
		Hash:      hex.EncodeToString(sum[:]),
	}
	_, err = db.conn.Exec(
		"INSERT INTO attachments (id, message_id, name, format, size, hash, data) VALUES (?, ?, ?, ?, ?, ?, ?)",
		att.ID, att.MessageID, att.Name, att.Format, att.Size, att.Hash, data,
	)
	if err != nil {
		return nil, err
	}
	return att, nil
}

// AttachmentData returns the stored blob for an attachment id.
func (db *DB) AttachmentData(id string) ([]byte, error) {
	var data []byte
	err := db.conn.QueryRow("SELECT data FROM attachments WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	return data, err
}

// AttachmentsForMessage lists attachment metadata for a message.
func (db *DB) AttachmentsForMessage(messageID int64) ([]models.Attachment, error) {
	rows, err := db.conn.Query(
		"SELECT id, message_id, name, format, size, hash FROM attachments WHERE message_id = ?",
		messageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var atts []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Name, &a.Format, &a.Size, &a.Hash); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// History returns messages between two users, or addressed to a group
// when peer is negative, oldest first.
func (db *DB) History(owner, peer int32, offset, limit int) ([]models.Message, error) {
	var rows *sql.Rows
	var err error
	if peer < 0 {
		rows, err = db.conn.Query(`
			SELECT id, sender, recipient, kind, body, timestamp
			FROM messages
			WHERE recipient = ?
			ORDER BY timestamp ASC
			LIMIT ? OFFSET ?`,
			peer, limit, offset)
	} else {
		rows, err = db.conn.Query(`
			SELECT id, sender, recipient, kind, body, timestamp
			FROM messages
			WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
			ORDER BY timestamp ASC
			LIMIT ? OFFSET ?`,
			owner, peer, peer, owner, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var timestampStr string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Kind, &m.Body, &timestampStr); err != nil {
			return nil, err
		}
		timestamp, err := time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return nil, err
		}
		m.Timestamp = timestamp
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ClearHistory deletes the conversation between two identifiers.
func (db *DB) ClearHistory(owner, peer int32) error {
	_, err := db.conn.Exec(
		"DELETE FROM messages WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)",
		owner, peer, peer, owner,
	)
	return err
}

// TouchUserOnline upserts the user row and records the connect time.
func (db *DB) TouchUserOnline(id int32, t time.Time) error {
	_, err := db.conn.Exec(`
		INSERT INTO users (id, last_online) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET last_online = excluded.last_online`,
		id, t.Format(time.RFC3339),
	)
	return err
}

// TouchUserOffline records the disconnect time.
func (db *DB) TouchUserOffline(id int32, t time.Time) error {
	_, err := db.conn.Exec(`
		INSERT INTO users (id, last_offline) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET last_offline = excluded.last_offline`,
		id, t.Format(time.RFC3339),
	)
	return err
}

// SetNickname persists the nickname a user registered.
func (db *DB) SetNickname(id int32, nickname string) error {
	_, err := db.conn.Exec(`
		INSERT INTO users (id, nickname) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET nickname = excluded.nickname`,
		id, nickname,
	)
	return err
}

// GetUser returns the persisted record for a user id.
func (db *DB) GetUser(id int32) (models.User, error) {
	var u models.User
	var onlineStr, offlineStr string
	err := db.conn.QueryRow(
		"SELECT id, nickname, last_online, last_offline FROM users WHERE id = ?",
		id,
	).Scan(&u.ID, &u.Nickname, &onlineStr, &offlineStr)
	if err == sql.ErrNoRows {
		return u, ErrNoRows
	}
	if err != nil {
		return u, err
	}
	if onlineStr != "" {
		u.LastOnline, _ = time.Parse(time.RFC3339, onlineStr)
	}
	if offlineStr != "" {
		u.LastOffline, _ = time.Parse(time.RFC3339, offlineStr)
	}
	return u, nil
}
