package bouncer

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is the error returned by stores when an entity does not exist,
// and by TalkClient.GetComment when the remote graph returns a null comment.
var ErrNotFound = errors.New("not found")

// ErrInvalidSource is returned by ResolveConfigurations for an event source
// other than "comment" or "flag".
var ErrInvalidSource = errors.New("invalid event source")

// RemoteError is a non-ok response from the Slack API.
// Code is Slack's machine-readable error string (e.g. "channel_not_found").
type RemoteError struct {
	Code string
}

func (e RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Code)
}

// MutationError is a Talk GraphQL mutation that completed with field errors.
type MutationError struct {
	Op      string
	Payload string
}

func (e MutationError) Error() string {
	return fmt.Sprintf("%s mutation failed: %s", e.Op, e.Payload)
}

// VerificationError is a failed installation handshake:
// a bad HTTP status, a challenge mismatch,
// or a client version outside the accepted range.
type VerificationError struct {
	Reason string
}

func (e VerificationError) Error() string {
	return fmt.Sprintf("installation verification failed: %s", e.Reason)
}
