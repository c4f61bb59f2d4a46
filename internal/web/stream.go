package web

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/exedev/mcpchat/internal/stream"
	"github.com/exedev/mcpchat/internal/transcript"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the dev UI may be served from another port
	},
}

// SafeConn serializes writes; gorilla connections allow one writer at a time.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(websocket.TextMessage, data)
}

// streamFrame is one websocket message to the client: a turn event, or the
// closing "done"/"error" frame of a turn.
type streamFrame struct {
	stream.Event
	Message *transcript.Message `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// handleStream runs turns over a websocket. Each client message is
// {"content": "..."} (or plain text); the server answers with the turn's
// events followed by {"type":"done","message":...} or {"type":"error",...}.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("⚠ Websocket upgrade failed: %v", err)
		return
	}
	conn := &SafeConn{Conn: rawConn}
	defer conn.Close()

	ctx := r.Context()
	sink := func(ev stream.Event) {
		s.send(conn, streamFrame{Event: ev})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		content := string(data)
		var req messageRequest
		if err := json.Unmarshal(data, &req); err == nil {
			content = req.Content
		}
		if strings.TrimSpace(content) == "" {
			if !s.send(conn, streamFrame{Event: stream.Event{Kind: "error"}, Error: "content is required"}) {
				return
			}
			continue
		}

		res, err := sess.Turn(ctx, content, sink)
		frame := streamFrame{Event: stream.Event{Kind: "error"}}
		if err != nil {
			frame.Error = err.Error()
		} else {
			final := res.Final
			frame = streamFrame{Event: stream.Event{Kind: "done"}, Message: &final}
		}
		if !s.send(conn, frame) {
			return
		}
	}
}

// send writes one frame, logging a failed write. It reports whether the
// connection is still usable.
func (s *Server) send(conn *SafeConn, frame streamFrame) bool {
	if err := conn.WriteJSON(frame); err != nil {
		s.logger.Printf("⚠ Websocket write failed: %v", err)
		return false
	}
	return true
}
