// Package subject derives the NATS subjects used between the control plane
// and remote echo responders.
package subject

import (
	"strings"
	"unicode"

	"github.com/natssync/mstress/pkg/errors"
)

const (
	Namespace     = "natssyncmsg"
	CloudMaster   = "cloud-master"
	EcholetSuffix = "echolet"
)

// Request is the subject an echo responder for client listens on.
func Request(client string) string {
	return Namespace + "." + client + ".echo"
}

// Response is the reply-to subject handed to responders. The token scopes it
// to a single probe invocation.
func Response(client, token string) string {
	return Namespace + "." + CloudMaster + "." + client + "." + token
}

// Subscription is where responders actually publish replies: they always
// append the echolet suffix to the reply-to they were given.
func Subscription(reply string) string {
	return reply + "." + EcholetSuffix
}

// ValidateClient rejects identifiers that would change the subject hierarchy.
func ValidateClient(client string) error {
	if client == "" {
		return errors.ErrInvalidClient(client, "client identifier is empty")
	}
	if client == CloudMaster {
		return errors.ErrInvalidClient(client, "client identifier is reserved")
	}
	if strings.ContainsAny(client, ".*>") {
		return errors.ErrInvalidClient(client, "client identifier must not contain '.', '*' or '>'")
	}
	if strings.IndexFunc(client, unicode.IsSpace) >= 0 {
		return errors.ErrInvalidClient(client, "client identifier must not contain whitespace")
	}
	return nil
}
