package chatclient

import (
	"time"

	"medchat/backend/internal/models"
)

// Message is a message as the local user sees it. A pending message has a
// TempID and no ID; once acknowledged it carries the server ID and the TempID
// is gone for good.
type Message struct {
	models.ChatMessage
	TempID     string
	FailReason string
}

// Pending reports whether the server has not confirmed the message yet.
func (m *Message) Pending() bool {
	return m.ID == ""
}

func (m *Message) clone() Message {
	c := *m
	if m.ReadBy != nil {
		c.ReadBy = make(map[models.Role]time.Time, len(m.ReadBy))
		for role, at := range m.ReadBy {
			c.ReadBy[role] = at
		}
	}
	if m.File != nil {
		f := *m.File
		c.File = &f
	}
	return c
}

// MessageStore keeps the ordered messages of every room. Order is insertion
// order, except that a confirmed message arriving late is placed before any
// confirmed message of the same room with a higher seq.
type MessageStore struct {
	rooms  map[string][]*Message
	byTemp map[string]*Message
	byID   map[string]*Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		rooms:  make(map[string][]*Message),
		byTemp: make(map[string]*Message),
		byID:   make(map[string]*Message),
	}
}

// Append adds m to its room. A message whose server ID is already known is
// dropped and Append returns false.
func (s *MessageStore) Append(m *Message) bool {
	if m.ID != "" {
		if _, dup := s.byID[m.ID]; dup {
			return false
		}
	}

	list := s.rooms[m.RoomID]
	pos := len(list)
	if m.Seq > 0 {
		for i, other := range list {
			if other.Seq > m.Seq {
				pos = i
				break
			}
		}
	}
	list = append(list, nil)
	copy(list[pos+1:], list[pos:])
	list[pos] = m
	s.rooms[m.RoomID] = list

	s.index(m)
	return true
}

func (s *MessageStore) index(m *Message) {
	if m.ID != "" {
		s.byID[m.ID] = m
	} else if m.TempID != "" {
		s.byTemp[m.TempID] = m
	}
}

func (s *MessageStore) remove(m *Message) {
	list := s.rooms[m.RoomID]
	for i, other := range list {
		if other == m {
			s.rooms[m.RoomID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	delete(s.byTemp, m.TempID)
	if m.ID != "" && s.byID[m.ID] == m {
		delete(s.byID, m.ID)
	}
}

// lookup finds a message by temporary ID first, then by server ID.
func (s *MessageStore) lookup(id string) *Message {
	if m, ok := s.byTemp[id]; ok {
		return m
	}
	return s.byID[id]
}

// Get returns a copy of the message with the given temporary or server ID.
func (s *MessageStore) Get(id string) (Message, bool) {
	m := s.lookup(id)
	if m == nil {
		return Message{}, false
	}
	return m.clone(), true
}

// Confirm swaps the server's version of a pending message in at the pending
// message's position. It returns false when tempID is unknown or no longer
// sending, which is how a late acknowledgement of a failed message is ignored.
func (s *MessageStore) Confirm(tempID string, confirmed models.ChatMessage) bool {
	m, ok := s.byTemp[tempID]
	if !ok || m.Status != models.StatusSending || confirmed.ID == "" {
		return false
	}
	if _, known := s.byID[confirmed.ID]; known {
		// History reload got there first.
		s.remove(m)
		return true
	}

	delete(s.byTemp, tempID)
	status := models.StatusSent
	if confirmed.Status != "" && models.CanAdvance(models.StatusSent, confirmed.Status) {
		status = confirmed.Status
	}
	m.ChatMessage = confirmed
	m.Status = status
	m.TempID = ""
	m.FailReason = ""
	s.byID[m.ID] = m
	return true
}

// Fail moves a sending message to failed with a reason. Failed is terminal.
func (s *MessageStore) Fail(tempID, reason string) bool {
	m, ok := s.byTemp[tempID]
	if !ok || !models.CanAdvance(m.Status, models.StatusFailed) {
		return false
	}
	m.Status = models.StatusFailed
	m.FailReason = reason
	return true
}

// Replace puts next in place of the failed message oldID, keeping its position.
func (s *MessageStore) Replace(oldID string, next *Message) bool {
	old := s.lookup(oldID)
	if old == nil || old.Status != models.StatusFailed || old.RoomID != next.RoomID {
		return false
	}
	list := s.rooms[old.RoomID]
	for i, m := range list {
		if m == old {
			list[i] = next
			break
		}
	}
	delete(s.byTemp, old.TempID)
	s.index(next)
	return true
}

// SetStatus advances the status of a message. Moves backwards are refused.
func (s *MessageStore) SetStatus(id string, status models.MessageStatus) bool {
	m := s.lookup(id)
	if m == nil || !models.CanAdvance(m.Status, status) {
		return false
	}
	m.Status = status
	return true
}

// MarkSeen applies a read receipt to the listed server IDs.
func (s *MessageStore) MarkSeen(ids []string, role models.Role, at time.Time) []string {
	var changed []string
	for _, id := range ids {
		m := s.byID[id]
		if m == nil {
			continue
		}
		if m.ReadBy == nil {
			m.ReadBy = make(map[models.Role]time.Time, 2)
		}
		m.ReadBy[role] = at
		if models.CanAdvance(m.Status, models.StatusSeen) {
			m.Status = models.StatusSeen
		}
		changed = append(changed, id)
	}
	return changed
}

// MarkReadLocally records that the user (selfID, role) has read every message
// of the room sent by someone else. It returns how many were unread.
func (s *MessageStore) MarkReadLocally(roomID, selfID string, role models.Role, at time.Time) int {
	n := 0
	for _, m := range s.rooms[roomID] {
		if m.SenderID == selfID || m.Pending() {
			continue
		}
		if _, read := m.ReadBy[role]; read {
			continue
		}
		if m.ReadBy == nil {
			m.ReadBy = make(map[models.Role]time.Time, 2)
		}
		m.ReadBy[role] = at
		if models.CanAdvance(m.Status, models.StatusSeen) {
			m.Status = models.StatusSeen
		}
		n++
	}
	return n
}

// UnreadCount counts the loaded messages of a room sent by someone else and
// not read by role.
func (s *MessageStore) UnreadCount(roomID, selfID string, role models.Role) int {
	n := 0
	for _, m := range s.rooms[roomID] {
		if m.SenderID == selfID || m.Pending() {
			continue
		}
		if _, read := m.ReadBy[role]; !read {
			n++
		}
	}
	return n
}

// Merge folds a page of server history into the room. Known messages only
// take status and read markers from the page, never moving status backwards.
func (s *MessageStore) Merge(roomID string, history []models.ChatMessage) {
	for i := range history {
		h := history[i]
		if h.RoomID == "" {
			h.RoomID = roomID
		}
		if h.RoomID != roomID || h.ID == "" {
			continue
		}
		if m, ok := s.byID[h.ID]; ok {
			if models.CanAdvance(m.Status, h.Status) {
				m.Status = h.Status
			}
			for role, at := range h.ReadBy {
				if m.ReadBy == nil {
					m.ReadBy = make(map[models.Role]time.Time, 2)
				}
				m.ReadBy[role] = at
			}
			continue
		}
		s.Append(&Message{ChatMessage: h})
	}
}

// Messages returns a copy of the room's ordered sequence.
func (s *MessageStore) Messages(roomID string) []Message {
	list := s.rooms[roomID]
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = m.clone()
	}
	return out
}

// OldestSeq is the lowest confirmed seq loaded for the room, or 0.
func (s *MessageStore) OldestSeq(roomID string) int64 {
	var oldest int64
	for _, m := range s.rooms[roomID] {
		if m.Seq > 0 && (oldest == 0 || m.Seq < oldest) {
			oldest = m.Seq
		}
	}
	return oldest
}
