package config

import "time"

const (
	// Delivery
	SendTimeout       = 10 * time.Second
	MaxContentLength  = 4000
	TempIDPrefix      = "tmp-"
	BroadcastChannel  = "chat:broadcast"
	PresenceKeyPrefix = "presence:"

	// Typing
	TypingIdleTimeout = 2500 * time.Millisecond
	TypingExpiry      = 5 * time.Second

	// History
	DefaultHistoryPageSize = 50
	MaxHistoryPageSize     = 200
	DefaultSearchLimit     = 20

	// Session
	ReconnectBackoff = 2 * time.Second
	TokenTTL         = 72 * time.Hour
	TokenIssuer      = "medchat"
)

// Rejection reasons sent back on message:ack.
var (
	ReasonRoomNotFound   = "room not found"
	ReasonNotParticipant = "not a participant"
	ReasonBlocked        = "participant blocked"
	ReasonEmptyContent   = "empty content"
	ReasonTooLong        = "content too long"
	ReasonStorage        = "message could not be stored"
)

// Client-side failure reasons.
var (
	ReasonTimeout        = "no acknowledgement from server"
	ReasonConnectionLost = "connection lost"
	ReasonNotConnected   = "not connected"
)
