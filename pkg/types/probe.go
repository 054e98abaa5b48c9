package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// StressTest describes one batch flood invocation. It is created per request
// and never persisted.
type StressTest struct {
	ID      string   `json:"id"`
	Clients []string `json:"clients"`
	Count   int      `json:"count"`
}

func NewStressTest(clients []string, count int) StressTest {
	return StressTest{
		ID:      uuid.NewString(),
		Clients: clients,
		Count:   count,
	}
}

// EchoPayload is the wire message sent to echo responders and echoed back.
type EchoPayload struct {
	ID     int       `json:"id"`
	Time   time.Time `json:"time"`
	Client string    `json:"client"`
}

func NewEchoPayload(id int, client string) EchoPayload {
	return EchoPayload{
		ID:     id,
		Time:   time.Now().UTC(),
		Client: client,
	}
}

func (p EchoPayload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

var ErrInvalidUTF8 = errors.New("payload is not valid UTF-8")

func DecodeEchoPayload(data []byte) (EchoPayload, error) {
	var p EchoPayload
	if !utf8.Valid(data) {
		return p, ErrInvalidUTF8
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode echo payload: %w", err)
	}
	return p, nil
}

// TestResult reports whether a client answered every request sent to it.
type TestResult struct {
	Client        string `json:"client"`
	Success       bool   `json:"success"`
	ResponseCount int    `json:"response_count"`
}

type ThroughputResult struct {
	Client string  `json:"client"`
	Count  int     `json:"count"`
	MPS    float64 `json:"mps"`
}

type StatsCollection struct {
	Results []ThroughputResult `json:"results"`
	Min     float64            `json:"min"`
	Max     float64            `json:"max"`
	Average float64            `json:"average"`
}

type ClientCollection struct {
	Clients []string `json:"clients"`
	Count   int      `json:"count"`
}
