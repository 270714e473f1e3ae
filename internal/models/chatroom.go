package models

import "time"

// ChatRoom is a consultation channel between exactly one doctor and one patient.
// The Last* fields denormalize the most recent message for list previews.
type ChatRoom struct {
	RoomID    string `gorm:"primaryKey"`
	DoctorID  string `gorm:"not null;uniqueIndex:idx_room_pair"`
	PatientID string `gorm:"not null;uniqueIndex:idx_room_pair"`

	// LastSeq is the sequence number of the newest message; the next one gets LastSeq+1.
	LastSeq            int64
	LastMessageID      uint
	LastSenderID       string
	LastMessagePreview string
	LastMessageAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasParticipant reports whether userID is the doctor or the patient of the room.
func (r *ChatRoom) HasParticipant(userID string) bool {
	return userID != "" && (r.DoctorID == userID || r.PatientID == userID)
}

// RoleOf returns the role userID holds in the room.
func (r *ChatRoom) RoleOf(userID string) (Role, bool) {
	switch userID {
	case r.DoctorID:
		return RoleDoctor, true
	case r.PatientID:
		return RolePatient, true
	}
	return "", false
}

// Counterpart returns the other participant of the room.
func (r *ChatRoom) Counterpart(userID string) (string, bool) {
	switch userID {
	case r.DoctorID:
		return r.PatientID, true
	case r.PatientID:
		return r.DoctorID, true
	}
	return "", false
}
