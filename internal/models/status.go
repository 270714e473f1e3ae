package models

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusSeen:      3,
}

// CanAdvance reports whether a message in status from may move to status to.
// Statuses only move forward along sending→sent→delivered→seen; failed is
// reachable only from sending and nothing leaves it.
func CanAdvance(from, to MessageStatus) bool {
	if from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return from == StatusSending
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	return ok1 && ok2 && tr > fr
}

// MessageKind distinguishes the content variant of a message.
type MessageKind string

const (
	KindText MessageKind = "text"
	KindFile MessageKind = "file"
)
