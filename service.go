package bouncer

import (
	"context"

	"github.com/rs/zerolog"
)

// EventPublisher puts raw event payloads onto the relay stream.
// queue.Producer is the production implementation.
type EventPublisher interface {
	Publish(ctx context.Context, body []byte) (string, error)
}

// Service wires the stores, remote clients, and secrets together. One
// Service instance is shared by the relay, the HTTP handlers, and the CLI;
// it holds no per-request state.
type Service struct {
	// VerificationToken is the shared secret Slack includes in interactive
	// callbacks.
	VerificationToken string

	AdminKey string

	Installations  InstallationStore
	Teams          TeamStore
	Configurations ConfigurationStore
	Users          UserStore

	Talk CommentClient
	Chat ChatClient

	// Events publishes inbound installation events onto the relay stream.
	Events EventPublisher

	Logger zerolog.Logger
}
