package transport

import (
	"context"

	"github.com/filebroker/broker/internal/broker"
)

// dispatch routes one decoded client message to the appropriate broker
// handler. Unknown actions surface as an "error" event without affecting
// the connection itself. Missing fields are not detected here; a handler
// receives their zero values.
func dispatch(ctx context.Context, b *broker.Broker, c *conn, msg clientMessage) {
	switch msg.Action {
	case "start":
		b.HandleStart(ctx, c, msg.FileID, msg.FileName, msg.FileSize, msg.FolderID)
	case "chunk":
		b.HandleChunk(ctx, msg.FileID, msg.Offset, msg.Data)
	case "pause":
		b.HandlePause(ctx, msg.FileID)
	case "resume":
		b.HandleResume(ctx, msg.FileID)
	case "stop":
		del := true
		if msg.Delete != nil {
			del = *msg.Delete
		}
		b.HandleStop(ctx, msg.FileID, del)
	case "complete":
		b.HandleComplete(ctx, msg.FileID)
	case "download-start":
		b.HandleDownloadStart(c, msg.FileID, msg.URL, msg.Filename)
	case "download-pause":
		b.HandleDownloadPause(msg.FileID)
	case "download-resume":
		b.HandleDownloadResume(msg.FileID)
	case "download-stop":
		b.HandleDownloadStop(msg.FileID)
	default:
		c.Send(broker.Event{Name: "error", FileID: msg.FileID, Fields: map[string]any{
			"error": "unknown action: " + msg.Action,
		}})
	}
}
