package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

const serverIDPrefix = "m-"

// ChatHistory is a persisted chat message. The embedded gorm.Model ID is the
// server identifier, exposed on the wire as "m-<ID>".
type ChatHistory struct {
	gorm.Model

	RoomID     string `gorm:"type:text;not null;uniqueIndex:idx_room_seq"`
	Seq        int64  `gorm:"not null;uniqueIndex:idx_room_seq"`
	SenderID   string `gorm:"type:text;not null;index"`
	SenderRole Role   `gorm:"type:text;not null"`

	Kind     MessageKind `gorm:"type:text;not null"`
	Content  string      `gorm:"type:text"`
	FileName string
	FileSize int64
	FileURL  string

	Status        MessageStatus `gorm:"type:text;not null;default:sent"`
	DoctorReadAt  *time.Time
	PatientReadAt *time.Time
}

// ServerID renders the persisted row ID as the public message identifier.
func (h *ChatHistory) ServerID() string {
	return FormatServerID(h.ID)
}

// FormatServerID renders a row ID as a public message identifier.
func FormatServerID(id uint) string {
	return fmt.Sprintf("%s%d", serverIDPrefix, id)
}

// ParseServerID is the inverse of FormatServerID.
func ParseServerID(s string) (uint, bool) {
	if !strings.HasPrefix(s, serverIDPrefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(s, serverIDPrefix), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

// ToMessage converts the stored row into its wire form.
func (h *ChatHistory) ToMessage() ChatMessage {
	msg := ChatMessage{
		ID:         h.ServerID(),
		Seq:        h.Seq,
		RoomID:     h.RoomID,
		SenderID:   h.SenderID,
		SenderRole: h.SenderRole,
		Kind:       h.Kind,
		Content:    h.Content,
		CreatedAt:  h.CreatedAt,
		Status:     h.Status,
	}
	if h.Kind == KindFile {
		msg.File = &FileRef{Name: h.FileName, Size: h.FileSize, URL: h.FileURL}
	}
	if h.DoctorReadAt != nil || h.PatientReadAt != nil {
		msg.ReadBy = make(map[Role]time.Time, 2)
		if h.DoctorReadAt != nil {
			msg.ReadBy[RoleDoctor] = *h.DoctorReadAt
		}
		if h.PatientReadAt != nil {
			msg.ReadBy[RolePatient] = *h.PatientReadAt
		}
	}
	return msg
}

// Preview is the short text stored on the room for list rendering.
func (h *ChatHistory) Preview() string {
	if h.Kind == KindFile {
		return "[file] " + h.FileName
	}
	const max = 120
	r := []rune(h.Content)
	if len(r) > max {
		return string(r[:max]) + "…"
	}
	return h.Content
}
