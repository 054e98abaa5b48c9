package types

// NewTest is the body of POST /tests.
type NewTest struct {
	Clients   []string `json:"clients"`
	TestCount int      `json:"test_count"`
}

// ClientRequest is the body of POST /clients.
type ClientRequest struct {
	Client string `json:"client"`
}

// ErrorMessage is returned with 400 responses for rejected tests.
type ErrorMessage struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	NATS    string `json:"nats"`
	Version string `json:"version,omitempty"`
}

type VersionResponse struct {
	Version string `json:"version"`
}
