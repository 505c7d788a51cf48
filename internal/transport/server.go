package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/filebroker/broker/internal/broker"
)

// Server is the connection multiplexer's HTTP entry point: it upgrades
// incoming requests to a message-oriented connection and runs one read
// loop per connection for the lifetime of the broker process.
type Server struct {
	broker *broker.Broker
	logger *slog.Logger

	maxFrameSize int64
}

// NewServer constructs a Server that dispatches onto b.
func NewServer(b *broker.Broker, maxFrameSize int64, logger *slog.Logger) *Server {
	return &Server{broker: b, logger: logger, maxFrameSize: maxFrameSize}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.Any("err", err))
		return
	}

	if s.maxFrameSize > 0 {
		ws.SetReadLimit(s.maxFrameSize)
	}

	c := newConn(ws, s.logger)
	defer func() {
		s.broker.HandleConnectionClose(c)
		ws.Close(websocket.StatusNormalClosure, "")
	}()

	s.readLoop(r.Context(), c)
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return // connection closed or errored; HandleConnectionClose runs in the deferred caller
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(broker.Event{Name: "error", Fields: map[string]any{"error": "Invalid JSON"}})
			continue
		}

		if msg.Action == "" {
			c.Send(broker.Event{Name: "error", FileID: msg.FileID, Fields: map[string]any{"error": "Invalid JSON"}})
			continue
		}

		dispatch(ctx, s.broker, c, msg)
	}
}
