package broker

import "encoding/json"

// Event is a server-to-client message. It marshals to a JSON object with a
// required "event" key, an optional "fileId", and any additional fields
// flattened alongside them.
type Event struct {
	Name   string
	FileID string
	Fields map[string]any
}

func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+2)

	for k, v := range e.Fields {
		m[k] = v
	}

	m["event"] = e.Name

	if e.FileID != "" {
		m["fileId"] = e.FileID
	}

	return json.Marshal(m)
}

func errorEvent(fileID, message string) Event {
	return Event{Name: "error", FileID: fileID, Fields: map[string]any{"error": message}}
}

// Connection is the transport-side handle the broker uses to deliver events
// to one connected client. Implementations must make Send safe to call
// concurrently with the connection's own read loop.
type Connection interface {
	ID() string
	Send(Event) error
}
