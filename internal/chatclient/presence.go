package chatclient

// PresenceTracker maps user IDs to their online flag. Entries are only
// trusted between a full snapshot and the next disconnect.
type PresenceTracker struct {
	online  map[string]bool
	trusted bool
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]bool)}
}

func (p *PresenceTracker) SetOnline(userID string) {
	p.online[userID] = true
}

func (p *PresenceTracker) SetOffline(userID string) {
	delete(p.online, userID)
}

// IsOnline reports false for every user while the tracker is distrusted.
func (p *PresenceTracker) IsOnline(userID string) bool {
	return p.trusted && p.online[userID]
}

func (p *PresenceTracker) Trusted() bool {
	return p.trusted
}

// Distrust drops every entry until the next snapshot.
func (p *PresenceTracker) Distrust() {
	p.online = make(map[string]bool)
	p.trusted = false
}

// ReplaceSnapshot replaces the whole mapping; nothing from before survives.
func (p *PresenceTracker) ReplaceSnapshot(online map[string]bool) {
	p.online = make(map[string]bool, len(online))
	for userID, on := range online {
		if on {
			p.online[userID] = true
		}
	}
	p.trusted = true
}
