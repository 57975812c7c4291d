package db

import (
	"log"
	"time"

	"chatserv/models"
	"chatserv/protocol"
)

// Recorder subscribes to the server's lifecycle hooks and persists
// routed traffic: text history, attachment blobs, nickname claims and
// presence timestamps. Storage failures are logged, never surfaced to
// routing.
type Recorder struct {
	db *DB
}

func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db}
}

// PacketReceived implements server.PacketListener.
func (r *Recorder) PacketReceived(p protocol.Packet) {
	switch {
	case p.Src == protocol.ServerID:
		// server notices are not history
	case p.Dest == protocol.ServerID:
		r.recordControl(p)
	default:
		r.recordMessage(p)
	}
}

func (r *Recorder) recordControl(p protocol.Packet) {
	if len(p.Data) == 0 || p.Data[0] != protocol.TagSetNickname {
		return
	}
	nick, err := protocol.DecodeSetNickname(p.Data)
	if err != nil || nick == "" {
		return
	}
	if err := r.db.SetNickname(p.Src, nick); err != nil {
		log.Printf("recorder: nickname for %d: %v", p.Src, err)
	}
}

// recordMessage classifies the payload by its leading tag byte, the
// same rule the endpoints use, and falls back to text when the
// attachment codec refuses the payload.
func (r *Recorder) recordMessage(p protocol.Packet) {
	now := time.Now().UTC()
	if len(p.Data) > 0 {
		switch p.Data[0] {
		case protocol.TagFileTransfer:
			if ft, err := protocol.DecodeFileTransfer(p.Data); err == nil {
				r.saveAttachment(p, models.KindFile, ft.Name, "", ft.Data, now)
				return
			}
		case protocol.TagImageTransfer:
			if it, err := protocol.DecodeImageTransfer(p.Data); err == nil {
				r.saveAttachment(p, models.KindImage, it.Name, it.Format, it.Data, now)
				return
			}
		}
	}
	if _, err := r.db.SaveMessage(p.Src, p.Dest, models.KindText, string(p.Data), now); err != nil {
		log.Printf("recorder: message %d->%d: %v", p.Src, p.Dest, err)
	}
}

func (r *Recorder) saveAttachment(p protocol.Packet, kind int, name, format string, data []byte, now time.Time) {
	msgID, err := r.db.SaveMessage(p.Src, p.Dest, kind, name, now)
	if err != nil {
		log.Printf("recorder: attachment message %d->%d: %v", p.Src, p.Dest, err)
		return
	}
	if _, err := r.db.SaveAttachment(msgID, name, format, data); err != nil {
		log.Printf("recorder: attachment blob %d->%d: %v", p.Src, p.Dest, err)
	}
}

// ConnectionEvent implements server.ConnectionListener.
func (r *Recorder) ConnectionEvent(id int32, connected bool) {
	now := time.Now().UTC()
	var err error
	if connected {
		err = r.db.TouchUserOnline(id, now)
	} else {
		err = r.db.TouchUserOffline(id, now)
	}
	if err != nil {
		log.Printf("recorder: presence for %d: %v", id, err)
	}
}
