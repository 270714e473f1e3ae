// Package chatclient is the client side of the chat: one State container per
// signed-in user holding messages, presence, typing flags and the room list,
// the delivery pipeline that reconciles optimistic sends with server
// acknowledgements, and the Session that binds both to a realtime connection.
package chatclient

import (
	"sync"
	"time"

	"medchat/backend/internal/models"
)

type ChangeKind int

const (
	ChangeMessages ChangeKind = iota + 1
	ChangePresence
	ChangeTyping
	ChangeRooms
	ChangeConnection
)

// Change tells observers what part of the state moved.
type Change struct {
	Kind      ChangeKind
	RoomID    string
	MessageID string
}

// State is the single container of client chat state. It is mutated only
// through its action methods; observers registered with Subscribe are called
// after each mutation, outside the lock, on the goroutine that caused it.
type State struct {
	mu        sync.Mutex
	self      models.Participant
	connected bool

	store    *MessageStore
	presence *PresenceTracker
	typing   *TypingIndicator
	rooms    *RoomDirectory

	typingExpiry time.Duration

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

func NewState(self models.Participant, typingExpiry time.Duration) *State {
	return &State{
		self:         self,
		store:        NewMessageStore(),
		presence:     NewPresenceTracker(),
		typing:       NewTypingIndicator(),
		rooms:        NewRoomDirectory(),
		typingExpiry: typingExpiry,
		subs:         make(map[int]func(Change)),
	}
}

// Subscribe registers fn for every change and returns a function removing it.
func (s *State) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *State) emit(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// --- reads ---

func (s *State) Self() models.Participant {
	return s.self
}

func (s *State) Messages(roomID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Messages(roomID)
}

func (s *State) Message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Get(id)
}

func (s *State) OldestSeq(roomID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.OldestSeq(roomID)
}

func (s *State) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.IsOnline(userID)
}

func (s *State) PresenceTrusted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.Trusted()
}

func (s *State) IsTyping(roomID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing.IsTyping(roomID, userID)
}

func (s *State) TypingUsers(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing.TypingUsers(roomID)
}

func (s *State) Rooms() []models.RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.List()
}

func (s *State) Room(roomID string) (models.RoomSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.Get(roomID)
}

func (s *State) Unread(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.Unread(roomID)
}

func (s *State) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.Active()
}

func (s *State) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// --- delivery pipeline actions ---

func (s *State) addPending(m *Message) {
	s.mu.Lock()
	s.store.Append(m)
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeMessages, RoomID: m.RoomID, MessageID: m.TempID})
}

func (s *State) replaceFailed(oldID string, m *Message) bool {
	s.mu.Lock()
	ok := s.store.Replace(oldID, m)
	s.mu.Unlock()
	if ok {
		s.emit(Change{Kind: ChangeMessages, RoomID: m.RoomID, MessageID: m.TempID})
	}
	return ok
}

func (s *State) confirm(tempID string, msg models.ChatMessage) bool {
	s.mu.Lock()
	ok := s.store.Confirm(tempID, msg)
	if ok {
		s.rooms.RecordOutgoing(msg)
	}
	s.mu.Unlock()
	if ok {
		s.emit(
			Change{Kind: ChangeMessages, RoomID: msg.RoomID, MessageID: msg.ID},
			Change{Kind: ChangeRooms, RoomID: msg.RoomID},
		)
	}
	return ok
}

func (s *State) fail(tempID, reason string) bool {
	s.mu.Lock()
	ok := s.store.Fail(tempID, reason)
	var roomID string
	if m, found := s.store.Get(tempID); found {
		roomID = m.RoomID
	}
	s.mu.Unlock()
	if ok {
		s.emit(Change{Kind: ChangeMessages, RoomID: roomID, MessageID: tempID})
	}
	return ok
}

func (s *State) advance(id string, status models.MessageStatus) bool {
	s.mu.Lock()
	ok := s.store.SetStatus(id, status)
	var roomID string
	if m, found := s.store.Get(id); found {
		roomID = m.RoomID
	}
	s.mu.Unlock()
	if ok {
		s.emit(Change{Kind: ChangeMessages, RoomID: roomID, MessageID: id})
	}
	return ok
}

// --- inbound event actions ---

// ReceiveMessage stores a message from the other participant. It reports
// whether the room is open, meaning a read mark should go out for it.
func (s *State) ReceiveMessage(msg models.ChatMessage) bool {
	s.mu.Lock()
	if !s.store.Append(&Message{ChatMessage: msg}) {
		s.mu.Unlock()
		return false
	}
	open := s.rooms.RecordIncoming(msg, s.self.Role)
	if open {
		s.store.MarkReadLocally(msg.RoomID, s.self.UserID, s.self.Role, time.Now().UTC())
	}
	typingCleared := s.typing.SetTyping(msg.RoomID, msg.SenderID, false, 0, nil)
	s.mu.Unlock()

	changes := []Change{
		{Kind: ChangeMessages, RoomID: msg.RoomID, MessageID: msg.ID},
		{Kind: ChangeRooms, RoomID: msg.RoomID},
	}
	if typingCleared {
		changes = append(changes, Change{Kind: ChangeTyping, RoomID: msg.RoomID})
	}
	s.emit(changes...)
	return open && msg.SenderID != s.self.UserID
}

// ApplyReceipt marks the listed messages seen by the reader.
func (s *State) ApplyReceipt(roomID string, r models.ReadReceipt) {
	s.mu.Lock()
	changed := s.store.MarkSeen(r.MessageIDs, r.ReaderRole, r.ReadAt)
	s.mu.Unlock()

	changes := make([]Change, 0, len(changed))
	for _, id := range changed {
		changes = append(changes, Change{Kind: ChangeMessages, RoomID: roomID, MessageID: id})
	}
	s.emit(changes...)
}

// ApplyPresence applies a single presence update. Updates are ignored while
// presence is distrusted, until a snapshot arrives.
func (s *State) ApplyPresence(p models.Presence) {
	s.mu.Lock()
	if !s.presence.Trusted() {
		s.mu.Unlock()
		return
	}
	if p.Online {
		s.presence.SetOnline(p.UserID)
	} else {
		s.presence.SetOffline(p.UserID)
	}
	s.mu.Unlock()
	s.emit(Change{Kind: ChangePresence})
}

// ApplyPresenceSnapshot fully replaces presence and marks the user online.
func (s *State) ApplyPresenceSnapshot(online map[string]bool) {
	s.mu.Lock()
	s.presence.ReplaceSnapshot(online)
	s.presence.SetOnline(s.self.UserID)
	s.mu.Unlock()
	s.emit(Change{Kind: ChangePresence})
}

// ApplyRoomsSnapshot replaces the room list. It returns true when the open room
// came back with unread messages, which the caller must mark read.
func (s *State) ApplyRoomsSnapshot(rooms []models.RoomSummary) bool {
	s.mu.Lock()
	s.rooms.ReplaceSnapshot(rooms)
	active := s.rooms.Active()
	markRead := active != "" && s.rooms.MarkRead(active) > 0
	if markRead {
		s.store.MarkReadLocally(active, s.self.UserID, s.self.Role, time.Now().UTC())
	}
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeRooms})
	return markRead
}

// SetTyping sets a remote typing flag. A true flag clears itself after the
// typing expiry unless refreshed.
func (s *State) SetTyping(roomID, userID string, isTyping bool) {
	if userID == s.self.UserID {
		return
	}
	s.mu.Lock()
	changed := s.typing.SetTyping(roomID, userID, isTyping, s.typingExpiry, func(gen uint64) {
		s.expireTyping(roomID, userID, gen)
	})
	s.mu.Unlock()
	if changed {
		s.emit(Change{Kind: ChangeTyping, RoomID: roomID})
	}
}

func (s *State) expireTyping(roomID, userID string, gen uint64) {
	s.mu.Lock()
	expired := s.typing.Expire(roomID, userID, gen)
	s.mu.Unlock()
	if expired {
		s.emit(Change{Kind: ChangeTyping, RoomID: roomID})
	}
}

// OpenRoom makes roomID the active room and drives its unread count to zero.
// It returns how many messages were unread.
func (s *State) OpenRoom(roomID string) int {
	s.mu.Lock()
	s.rooms.Open(roomID)
	n := s.rooms.MarkRead(roomID)
	local := s.store.MarkReadLocally(roomID, s.self.UserID, s.self.Role, time.Now().UTC())
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeRooms, RoomID: roomID}, Change{Kind: ChangeMessages, RoomID: roomID})
	if local > n {
		return local
	}
	return n
}

func (s *State) CloseRoom() {
	s.mu.Lock()
	s.rooms.Close()
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeRooms})
}

// MergeHistory folds a page of server history into a room.
func (s *State) MergeHistory(roomID string, history []models.ChatMessage) {
	s.mu.Lock()
	s.store.Merge(roomID, history)
	if s.rooms.Active() == roomID {
		s.store.MarkReadLocally(roomID, s.self.UserID, s.self.Role, time.Now().UTC())
	}
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeMessages, RoomID: roomID})
}

// SetConnected records the connection lifecycle. Losing the connection marks
// the user offline, distrusts all presence until the next snapshot and drops
// every typing flag.
func (s *State) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	changes := []Change{{Kind: ChangeConnection}}
	if !connected {
		s.presence.Distrust()
		changes = append(changes, Change{Kind: ChangePresence})
		if s.typing.Clear() {
			changes = append(changes, Change{Kind: ChangeTyping})
		}
	}
	s.mu.Unlock()
	s.emit(changes...)
}
