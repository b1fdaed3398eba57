package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/callcoach/internal/app"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/pkg/types"
)

const writeTimeout = 5 * time.Second

// Event types that only exist on the WebSocket.
const (
	eventSnapshot app.EventType = "snapshot"
	eventError    app.EventType = "error"
)

// Inbound message types.
const (
	msgCapture = "capture"
	msgText    = "text"
)

// inbound is a message sent by the browser. "capture" carries a speech
// recognition result, "text" a typed final chunk.
type inbound struct {
	Type    string        `json:"type"`
	Text    string        `json:"text"`
	IsFinal bool          `json:"isFinal,omitempty"`
	Speaker types.Speaker `json:"speaker,omitempty"`
}

var errUnknownMessage = errors.New("unknown message type")

// handleEvents upgrades to a WebSocket. The first frame is a snapshot of the
// controller state; every controller event follows. Capture messages from the
// client are fed to the controller and rejected ones are answered with an
// error event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		log.Warn("web: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	snap, err := s.ctrl.Snapshot(ctx)
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, "controller unavailable")
		return
	}
	if err := send(ctx, conn, app.Event{Type: eventSnapshot, Data: snap}); err != nil {
		return
	}

	go func() {
		defer cancel()
		s.readLoop(ctx, conn)
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := send(ctx, conn, ev); err != nil {
				log.Debug("web: websocket write failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg inbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					observe.Logger(ctx).Debug("web: websocket read ended", "err", err)
				}
			}
			return
		}
		if err := s.apply(ctx, msg); err != nil {
			ev := app.Event{Type: eventError, Data: errorBody{Error: err.Error()}}
			if err := send(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) apply(ctx context.Context, msg inbound) error {
	switch msg.Type {
	case msgCapture:
		return s.ctrl.Capture(ctx, msg.Text, msg.IsFinal)
	case msgText:
		return s.ctrl.SubmitText(ctx, msg.Speaker, msg.Text)
	default:
		return errUnknownMessage
	}
}

func send(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
