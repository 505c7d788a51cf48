// Package transport implements the connection multiplexer: the
// message-oriented bidirectional transport clients use to drive the
// broker's session and chunk protocol.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/filebroker/broker/internal/broker"
)

// conn adapts a *websocket.Conn to the broker.Connection interface. Writes
// are serialized with a mutex because the underlying library forbids
// concurrent writers on one connection, while the broker may broadcast to
// this connection from many session goroutines at once.
type conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex
	logger  *slog.Logger
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *conn {
	return &conn{id: uuid.NewString(), ws: ws, logger: logger}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(ev broker.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.Write(context.Background(), websocket.MessageText, data)
}

// clientMessage is the client->server envelope: {action, fileId, ...}. All
// fields beyond action and fileId are action-specific and optional here.
// dispatch.go passes them to the broker as decoded; it does not check that
// an action's required fields are present.
type clientMessage struct {
	Action   string `json:"action"`
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FolderID string `json:"folderId"`
	Offset   int64  `json:"offset"`
	Data     string `json:"data"`
	Delete   *bool  `json:"delete"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}
