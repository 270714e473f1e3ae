package chathub_test

import (
	"sync/atomic"
	"testing"
	"time"

	"medchat/backend/internal/models"
)

type MockClient struct {
	userID      string
	closed      atomic.Bool
	RecvChannel chan models.Event
}

func newMockClient(userID string) *MockClient {
	return &MockClient{
		userID:      userID,
		RecvChannel: make(chan models.Event, 32),
	}
}

func (c *MockClient) GetUserID() string {
	return c.userID
}

func (c *MockClient) GetSendChannel() chan<- models.Event {
	return c.RecvChannel
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.closed.Store(true)
}

func (c *MockClient) IsClosed() bool {
	return c.closed.Load()
}

// recvType reads events from c until one of the given type arrives.
func recvType(t *testing.T, c *MockClient, eventType string) models.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-c.RecvChannel:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("%s: timed out waiting for %s", c.userID, eventType)
			return models.Event{}
		}
	}
}

// assertNoEvent fails if c receives an event of the given type within a short window.
func assertNoEvent(t *testing.T, c *MockClient, eventType string) {
	t.Helper()
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case ev := <-c.RecvChannel:
			if ev.Type == eventType {
				t.Fatalf("%s: unexpected %s event", c.userID, eventType)
			}
		case <-deadline:
			return
		}
	}
}
