package models

import "time"

// Message kinds stored alongside persisted history.
const (
	KindText  = 1
	KindFile  = 2
	KindImage = 3
)

type Message struct {
	ID        int64
	Sender    int32
	Recipient int32
	Kind      int
	Body      string
	Timestamp time.Time
}

type Attachment struct {
	ID        string
	MessageID int64
	Name      string
	Format    string
	Size      int64
	Hash      string
}

type User struct {
	ID          int32
	Nickname    string
	LastOnline  time.Time
	LastOffline time.Time
}
