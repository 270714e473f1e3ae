package models

import "time"

// Event types exchanged over the realtime channel.
const (
	// server -> client
	EventMessageNew       = "message:new"
	EventMessageAck       = "message:ack"
	EventMessageStatus    = "message:status"
	EventPresenceUpdate   = "presence:update"
	EventPresenceSnapshot = "presence:snapshot"
	EventRoomsSnapshot    = "rooms:snapshot"
	EventTypingUpdate     = "typing:update"
	EventReadReceipt      = "read:receipt"
	EventError            = "error"

	// client -> server
	CommandMessageSend = "message:send"
	CommandTypingSet   = "typing:set"
	CommandReadMark    = "read:mark"
)

// Event is the envelope for every frame on the realtime channel.
type Event struct {
	Type     string        `json:"type"`
	RoomID   string        `json:"room_id,omitempty"`
	TempID   string        `json:"temp_id,omitempty"`
	Message  *ChatMessage  `json:"message,omitempty"`
	Status   MessageStatus `json:"status,omitempty"`
	Presence *Presence     `json:"presence,omitempty"`
	Typing   *Typing       `json:"typing,omitempty"`
	Receipt  *ReadReceipt  `json:"receipt,omitempty"`
	Rooms    []RoomSummary `json:"rooms,omitempty"`
	Error    string        `json:"error,omitempty"`

	// SenderID is stamped by the server from the authenticated session; any
	// value a client puts here is overwritten.
	SenderID string `json:"sender_id,omitempty"`
}

// ChatMessage is the wire form of a message.
type ChatMessage struct {
	ID         string             `json:"id,omitempty"`
	Seq        int64              `json:"seq,omitempty"`
	RoomID     string             `json:"room_id"`
	SenderID   string             `json:"sender_id"`
	SenderRole Role               `json:"sender_role"`
	Kind       MessageKind        `json:"kind"`
	Content    string             `json:"content,omitempty"`
	File       *FileRef           `json:"file,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	Status     MessageStatus      `json:"status,omitempty"`
	ReadBy     map[Role]time.Time `json:"read_by,omitempty"`
}

// FileRef points at an attachment held by the file storage collaborator.
type FileRef struct {
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
	URL  string `json:"url"`
}

type Presence struct {
	UserID      string          `json:"user_id,omitempty"`
	Online      bool            `json:"online"`
	OnlineUsers map[string]bool `json:"online_users,omitempty"`
}

type Typing struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type ReadReceipt struct {
	MessageIDs []string  `json:"message_ids"`
	ReaderID   string    `json:"reader_id"`
	ReaderRole Role      `json:"reader_role"`
	ReadAt     time.Time `json:"read_at"`
}

// Participant is the profile card of a room member.
type Participant struct {
	UserID          string   `json:"user_id"`
	Name            string   `json:"name"`
	Role            Role     `json:"role"`
	PhotoURL        string   `json:"photo_url,omitempty"`
	Specializations []string `json:"specializations,omitempty"`
}

// RoomSummary is one entry of a user's room list.
type RoomSummary struct {
	RoomID      string       `json:"room_id"`
	Doctor      Participant  `json:"doctor"`
	Patient     Participant  `json:"patient"`
	LastMessage *LastMessage `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
	LastSeq     int64        `json:"last_seq"`
}

// LastMessage is the denormalized preview of a room's most recent message.
type LastMessage struct {
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Preview   string    `json:"preview"`
	SentAt    time.Time `json:"sent_at"`
}

// Envelope addresses an event to a set of users; it is what travels through the broker.
type Envelope struct {
	Recipients []string `json:"recipients"`
	Event      Event    `json:"event"`
}
