package chatclient

import (
	"sort"

	"medchat/backend/internal/models"
)

// RoomDirectory holds the room list of the signed-in user: participants, the
// last message preview and the unread counter, plus which room is open.
type RoomDirectory struct {
	rooms  map[string]*models.RoomSummary
	active string
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{rooms: make(map[string]*models.RoomSummary)}
}

// ReplaceSnapshot replaces the directory with the server's view.
func (d *RoomDirectory) ReplaceSnapshot(rooms []models.RoomSummary) {
	d.rooms = make(map[string]*models.RoomSummary, len(rooms))
	for i := range rooms {
		r := rooms[i]
		if r.UnreadCount < 0 {
			r.UnreadCount = 0
		}
		d.rooms[r.RoomID] = &r
	}
}

func (d *RoomDirectory) room(roomID string) *models.RoomSummary {
	r, ok := d.rooms[roomID]
	if !ok {
		r = &models.RoomSummary{RoomID: roomID}
		d.rooms[roomID] = r
	}
	return r
}

func (d *RoomDirectory) touch(r *models.RoomSummary, msg models.ChatMessage) {
	if msg.Seq > 0 && msg.Seq < r.LastSeq {
		return
	}
	if msg.Seq > r.LastSeq {
		r.LastSeq = msg.Seq
	}
	preview := msg.Content
	if msg.Kind == models.KindFile && msg.File != nil {
		preview = "[file] " + msg.File.Name
	}
	r.LastMessage = &models.LastMessage{
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Preview:   preview,
		SentAt:    msg.CreatedAt,
	}
}

// RecordIncoming updates the last message pointer and, unless the room is
// open, counts the message as unread. It reports whether the room is open, in
// which case the caller marks the message read right away.
func (d *RoomDirectory) RecordIncoming(msg models.ChatMessage, selfRole models.Role) bool {
	r := d.room(msg.RoomID)
	d.touch(r, msg)
	if d.active == msg.RoomID {
		r.UnreadCount = 0
		return true
	}
	if _, read := msg.ReadBy[selfRole]; !read {
		r.UnreadCount++
	}
	return false
}

// RecordOutgoing moves the last message pointer to a message the user sent.
func (d *RoomDirectory) RecordOutgoing(msg models.ChatMessage) {
	d.touch(d.room(msg.RoomID), msg)
}

// MarkRead resets the room's unread counter and reports what it was.
func (d *RoomDirectory) MarkRead(roomID string) int {
	r, ok := d.rooms[roomID]
	if !ok {
		return 0
	}
	n := r.UnreadCount
	r.UnreadCount = 0
	return n
}

func (d *RoomDirectory) Open(roomID string) {
	d.active = roomID
}

func (d *RoomDirectory) Close() {
	d.active = ""
}

func (d *RoomDirectory) Active() string {
	return d.active
}

func (d *RoomDirectory) Unread(roomID string) int {
	if r, ok := d.rooms[roomID]; ok {
		return r.UnreadCount
	}
	return 0
}

func (d *RoomDirectory) Get(roomID string) (models.RoomSummary, bool) {
	r, ok := d.rooms[roomID]
	if !ok {
		return models.RoomSummary{}, false
	}
	return *r, true
}

// List returns the rooms, most recent activity first.
func (d *RoomDirectory) List() []models.RoomSummary {
	out := make([]models.RoomSummary, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		switch {
		case a == nil && b == nil:
			return out[i].RoomID < out[j].RoomID
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.SentAt.After(b.SentAt)
	})
	return out
}
