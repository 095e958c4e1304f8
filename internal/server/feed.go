package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/pipeline"
)

// MessageType tags WebSocket frames in both directions.
type MessageType string

const (
	// Client -> Server
	TypePing      MessageType = "ping"      // keep-alive, answered with pong
	TypeSubscribe MessageType = "subscribe" // restart the feed from cursor
	TypeGetStatus MessageType = "get_status"

	// Server -> Client
	TypeConnected  MessageType = "connection_established"
	TypePong       MessageType = "pong"
	TypeSubscribed MessageType = "subscribed"
	TypeEvent      MessageType = "event"
	TypeStatus     MessageType = "analysis_status"
	TypeEnd        MessageType = "end" // the run reached a terminal state
	TypeError      MessageType = "error"
)

// Message is a WebSocket frame.
type Message struct {
	Type      MessageType      `json:"type"`
	RunID     string           `json:"run_id,omitempty"`
	Cursor    int              `json:"cursor,omitempty"`
	Timestamp json.RawMessage  `json:"timestamp,omitempty"`
	Event     *pipeline.Event  `json:"event,omitempty"`
	Status    *pipeline.Status `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// feed is one WebSocket connection following one run. Only writePump
// writes to the connection.
type feed struct {
	conn  *websocket.Conn
	runs  Runner
	runID string
	log   *zap.Logger
	ping  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	send   chan Message

	mu         sync.Mutex
	stopStream context.CancelFunc
	streamDone chan struct{}
}

func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request, runID string, cursor int) {
	if _, err := s.runs.Status(runID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	f := &feed{
		conn:   conn,
		runs:   s.runs,
		runID:  runID,
		log:    s.log.With(zap.String("run_id", runID)),
		ping:   s.pingEvery,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan Message, sendBuffer),
	}
	f.log.Debug("feed connected", zap.Int("cursor", cursor))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.writePump()
	}()
	f.enqueue(ctx, Message{Type: TypeConnected, RunID: runID, Message: "Connected to analysis updates"})
	f.follow(cursor)
	f.readPump()

	f.cancel()
	f.stopFollowing()
	wg.Wait()
	f.log.Debug("feed closed")
}

// enqueue hands m to the writer. Event frames are never dropped; it only
// gives up when ctx ends.
func (f *feed) enqueue(ctx context.Context, m Message) bool {
	select {
	case f.send <- m:
		return true
	case <-ctx.Done():
		return false
	}
}

// follow (re)starts streaming the run's events after cursor. Any earlier
// stream is stopped first so frames stay in sequence order.
func (f *feed) follow(cursor int) {
	f.stopFollowing()

	ctx, cancel := context.WithCancel(f.ctx)
	ch, err := f.runs.Subscribe(ctx, f.runID, cursor)
	if err != nil {
		cancel()
		f.enqueue(f.ctx, Message{Type: TypeError, RunID: f.runID, Message: err.Error()})
		return
	}
	done := make(chan struct{})
	f.mu.Lock()
	f.stopStream = cancel
	f.streamDone = done
	f.mu.Unlock()

	go func() {
		defer close(done)
		for ev := range ch {
			if !f.enqueue(ctx, Message{Type: TypeEvent, RunID: f.runID, Event: &ev}) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		st, err := f.runs.Status(f.runID)
		if err != nil {
			return
		}
		f.enqueue(ctx, Message{Type: TypeEnd, RunID: f.runID, Status: &st})
	}()
}

func (f *feed) stopFollowing() {
	f.mu.Lock()
	stop, done := f.stopStream, f.streamDone
	f.stopStream, f.streamDone = nil, nil
	f.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

func (f *feed) readPump() {
	f.conn.SetReadLimit(maxMessageSize)
	_ = f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		return f.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				f.log.Warn("websocket read", zap.Error(err))
			}
			return
		}
		_ = f.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			f.enqueue(f.ctx, Message{Type: TypeError, Message: "Invalid JSON format"})
			continue
		}
		switch msg.Type {
		case TypePing:
			f.enqueue(f.ctx, Message{Type: TypePong, Timestamp: msg.Timestamp})
		case TypeSubscribe:
			f.stopFollowing()
			f.enqueue(f.ctx, Message{Type: TypeSubscribed, RunID: f.runID, Cursor: msg.Cursor})
			f.follow(msg.Cursor)
		case TypeGetStatus:
			st, err := f.runs.Status(f.runID)
			if err != nil {
				f.enqueue(f.ctx, Message{Type: TypeError, RunID: f.runID, Message: err.Error()})
				continue
			}
			f.enqueue(f.ctx, Message{Type: TypeStatus, RunID: f.runID, Status: &st})
		default:
			f.enqueue(f.ctx, Message{Type: TypeError, Message: fmt.Sprintf("Unknown message type: %s", msg.Type)})
		}
	}
}

func (f *feed) writePump() {
	ticker := time.NewTicker(f.ping)
	defer func() {
		ticker.Stop()
		_ = f.conn.Close()
	}()
	for {
		select {
		case msg := <-f.send:
			_ = f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := f.conn.WriteJSON(msg); err != nil {
				f.log.Debug("websocket write", zap.Error(err))
				f.cancel()
				return
			}
		case <-ticker.C:
			if err := f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				f.cancel()
				return
			}
		case <-f.ctx.Done():
			closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = f.conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(writeWait))
			return
		}
	}
}
