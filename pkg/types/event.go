package types

import "time"

const (
	EventConnected  = "connected"
	EventEcho       = "echo"
	EventFlood      = "flood"
	EventThroughput = "mps"
	EventStats      = "stats"
)

// Event is one message on the live feed. Client is empty for multi-client
// runs; Data carries the run's result.
type Event struct {
	Type   string      `json:"type"`
	Client string      `json:"client,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Time   time.Time   `json:"time"`
}

func NewEvent(kind, client string, data interface{}) Event {
	return Event{Type: kind, Client: client, Data: data, Time: time.Now().UTC()}
}
