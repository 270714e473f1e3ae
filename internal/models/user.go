package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Role is the part a user plays in a consultation room.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the two chat roles.
func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// User is a doctor or patient account as seen by the chat service.
// Accounts are owned by the identity collaborator; the chat service only reads
// profile data and keeps its own block flag and Telegram link.
type User struct {
	ID              string         `gorm:"primaryKey" json:"id"`
	Name            string         `gorm:"index" json:"name"`
	Role            Role           `gorm:"type:text;not null;index" json:"role"`
	PhotoURL        string         `json:"photo_url,omitempty"`
	Specializations pq.StringArray `gorm:"type:text[]" json:"specializations,omitempty"`
	Language        string         `gorm:"default:en" json:"-"`
	TelegramChatID  int64          `gorm:"index" json:"-"`
	IsBlocked       bool           `json:"-"`
	CreatedAt       time.Time      `json:"-"`
	UpdatedAt       time.Time      `json:"-"`
}

// BeforeCreate generates a UUID for users created without one.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// Participant returns the profile card shown next to a room.
func (u *User) Participant() Participant {
	return Participant{
		UserID:          u.ID,
		Name:            u.Name,
		Role:            u.Role,
		PhotoURL:        u.PhotoURL,
		Specializations: []string(u.Specializations),
	}
}
