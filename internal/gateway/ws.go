// ABOUTME: WebSocket endpoint for running chat turns and following threads live
// ABOUTME: Clients send turn or subscribe frames; stored turns from other clients are pushed back

package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-chat/internal/conversation"
)

// Frame types on /chat/ws
const (
	frameTurn        = "turn"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameRetry       = "retry"
	frameSubscribed  = "subscribed"
	frameEvent       = "event"
	frameError       = "error"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is open on every endpoint
	},
}

// ClientFrame is a message from a WebSocket client.
// An empty Type is treated as a turn.
type ClientFrame struct {
	Type       string `json:"type,omitempty"`
	ThreadID   string `json:"thread_id,omitempty"`
	Message    string `json:"message,omitempty"`
	RetryToken string `json:"retry_token,omitempty"`
}

// ServerFrame is a message to a WebSocket client.
type ServerFrame struct {
	Type       string `json:"type"`
	ThreadID   string `json:"thread_id,omitempty"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Status     int    `json:"status,omitempty"`
	RetryToken string `json:"retry_token,omitempty"`
}

// TurnEventData is the payload of an event frame.
type TurnEventData struct {
	ThreadID     string `json:"thread_id"`
	Heading      string `json:"heading"`
	Index        int    `json:"index"`
	HumanMessage string `json:"human_message"`
	AIResponse   string `json:"Ai_response"`
}

// wsSession is one WebSocket connection.
type wsSession struct {
	gw   *Gateway
	conn *websocket.Conn
	wmu  sync.Mutex

	mu   sync.Mutex
	subs map[string]wsSubscription // threadID -> subscription
}

type wsSubscription struct {
	id     string
	cancel context.CancelFunc
}

// handleWebSocket handles GET /chat/ws.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &wsSession{gw: g, conn: conn, subs: make(map[string]wsSubscription)}
	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		_ = conn.Close()
	}()

	g.logger.Debug("websocket connected", "remote", r.RemoteAddr)
	s.readLoop(ctx)
	g.logger.Debug("websocket disconnected", "remote", r.RemoteAddr)
}

func (s *wsSession) readLoop(ctx context.Context) {
	for {
		var frame ClientFrame
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			s.write(ServerFrame{Type: frameError, Error: "invalid JSON frame", Status: http.StatusBadRequest})
			continue
		}

		switch frame.Type {
		case "", frameTurn:
			s.turn(ctx, frame)
		case frameRetry:
			s.retry(ctx, frame)
		case frameSubscribe:
			s.subscribe(ctx, strings.TrimSpace(frame.ThreadID))
		case frameUnsubscribe:
			s.unsubscribe(strings.TrimSpace(frame.ThreadID))
		default:
			s.write(ServerFrame{Type: frameError, Error: "unknown frame type " + frame.Type, Status: http.StatusBadRequest})
		}
	}
}

func (s *wsSession) turn(ctx context.Context, frame ClientFrame) {
	threadID := strings.TrimSpace(frame.ThreadID)

	s.mu.Lock()
	subID := s.subs[threadID].id
	s.mu.Unlock()

	res, err := s.gw.conversation.HandleTurn(ctx, &conversation.TurnRequest{
		ThreadID:     threadID,
		Message:      frame.Message,
		SubscriberID: subID,
	})
	if err != nil {
		s.writeError(res, threadID, err)
		return
	}
	s.write(ServerFrame{Type: frameTurn, ThreadID: res.Record.ThreadID, Data: newChatResponse(res.Record)})
}

func (s *wsSession) retry(ctx context.Context, frame ClientFrame) {
	res, err := s.gw.conversation.RetryTurn(ctx, frame.RetryToken)
	if err != nil {
		s.writeError(res, "", err)
		return
	}
	s.write(ServerFrame{Type: frameTurn, ThreadID: res.Record.ThreadID, Data: newChatResponse(res.Record)})
}

func (s *wsSession) subscribe(ctx context.Context, threadID string) {
	if _, err := s.gw.conversation.GetThread(ctx, threadID); err != nil {
		s.writeError(nil, threadID, err)
		return
	}

	s.mu.Lock()
	if _, ok := s.subs[threadID]; ok {
		s.mu.Unlock()
		s.write(ServerFrame{Type: frameSubscribed, ThreadID: threadID})
		return
	}
	subCtx, cancel := context.WithCancel(ctx)
	events, subID := s.gw.conversation.Broadcaster().Subscribe(subCtx, threadID)
	s.subs[threadID] = wsSubscription{id: subID, cancel: cancel}
	s.mu.Unlock()

	go s.forward(events)
	s.write(ServerFrame{Type: frameSubscribed, ThreadID: threadID})
}

func (s *wsSession) unsubscribe(threadID string) {
	s.mu.Lock()
	sub, ok := s.subs[threadID]
	delete(s.subs, threadID)
	s.mu.Unlock()

	if ok {
		sub.cancel()
	}
}

// forward pushes broadcast turns to the client until the subscription ends.
func (s *wsSession) forward(events <-chan *conversation.TurnEvent) {
	for ev := range events {
		s.write(ServerFrame{Type: frameEvent, ThreadID: ev.ThreadID, Data: TurnEventData{
			ThreadID:     ev.ThreadID,
			Heading:      ev.Heading,
			Index:        ev.Index,
			HumanMessage: ev.Exchange.UserMessage,
			AIResponse:   ev.Exchange.AgentReply,
		}})
	}
}

func (s *wsSession) writeError(res *conversation.TurnResult, threadID string, err error) {
	frame := ServerFrame{Type: frameError, ThreadID: threadID, Error: err.Error(), Status: turnErrorStatus(err)}
	if res != nil && res.Record != nil && !res.Persisted {
		frame.ThreadID = res.Record.ThreadID
		frame.Data = newChatResponse(res.Record)
		frame.RetryToken = res.RetryToken
	}
	s.write(frame)
}

func (s *wsSession) write(frame ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.gw.logger.Error("failed to marshal websocket frame", "error", err)
		return
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.gw.logger.Debug("websocket write failed", "error", err)
	}
}
