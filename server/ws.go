package server

import (
	"io"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS upgrades an HTTP request and runs the exact same handshake
// and session machinery over binary WebSocket messages. Frames are
// byte-identical to the TCP transport.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	go s.handleConn(newWSStream(conn), conn.RemoteAddr().String())
}

// wsStream adapts a websocket connection to the byte-stream interface
// the session loops expect. Reads may cross message boundaries; writes
// emit one binary message per frame.
type wsStream struct {
	conn *websocket.Conn
	cur  io.Reader
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (w *wsStream) Read(p []byte) (int, error) {
	for {
		if w.cur == nil {
			_, r, err := w.conn.NextReader()
			if err != nil {
				return 0, err
			}
			w.cur = r
		}
		n, err := w.cur.Read(p)
		if err == io.EOF {
			w.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (w *wsStream) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsStream) Close() error {
	return w.conn.Close()
}
