package chathub

import "medchat/backend/internal/models"

// Client is the interface for one live realtime session of a user.
// It abstracts the underlying connection so the hub can be driven by
// WebSocket sessions in production and by fakes in tests.
type Client interface {
	// GetUserID returns the authenticated user the session belongs to.
	GetUserID() string

	// GetSendChannel returns the channel the hub writes outbound events to.
	GetSendChannel() chan<- models.Event

	// Run starts the read and write pumps.
	Run()
	// Close shuts the session down. It must be safe to call more than once.
	Close()
}

// Inbound is a command read from a client, tagged with the session it came from.
type Inbound struct {
	Client Client
	Event  models.Event
}
