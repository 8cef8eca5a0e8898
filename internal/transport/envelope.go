package transport

import (
	"encoding/json"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/domain"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type frame struct {
	event string
	data  []byte
}

// durable events survive a disconnect in the outbox; everything else is
// only meaningful on a live connection.
func durable(event string) bool {
	switch event {
	case domain.EventSendMessage, domain.EventMarkAsRead:
		return true
	}
	return false
}

func encode(event string, payload interface{}) (frame, error) {
	env := Envelope{Type: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return frame{}, err
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return frame{}, err
	}
	return frame{event: event, data: data}, nil
}
