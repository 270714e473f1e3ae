// Package chathub is the server side of the realtime chat: it owns the live
// sessions, persists and acknowledges messages, fans events out to the other
// participant of a room and keeps presence, typing and read receipts flowing.
package chathub

import (
	"context"

	"medchat/backend/internal/models"
	"medchat/backend/internal/storage"

	"go.uber.org/zap"
)

// Notifier alerts a recipient who has no live session about a new message.
type Notifier interface {
	NotifyNewMessage(recipient, sender *models.User, msg models.ChatMessage) error
}

// ManagerService is the hub. All session bookkeeping happens on the goroutine
// running Run, so Clients needs no locking; other goroutines talk to the hub
// through its channels.
type ManagerService struct {
	Clients map[string]Client

	// Channels
	IncomingCh   chan Inbound
	RegisterCh   chan Client
	UnregisterCh chan Client

	Storage  storage.Storage
	Notifier Notifier
	Logger   *zap.Logger

	pubSubCh <-chan models.Envelope
	brokered bool
}

func NewManagerService(s storage.Storage, logger *zap.Logger) *ManagerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManagerService{
		Clients:      make(map[string]Client),
		IncomingCh:   make(chan Inbound, 256),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client, 64),
		Storage:      s,
		Logger:       logger,
	}
}

// SetNotifier installs the out-of-band notifier used for offline recipients.
func (m *ManagerService) SetNotifier(n Notifier) {
	m.Notifier = n
}

// Run is the hub loop. It returns when ctx is cancelled, closing every session.
func (m *ManagerService) Run(ctx context.Context) {
	m.StartPubSubListener(ctx)

	for {
		select {
		case <-ctx.Done():
			for _, c := range m.Clients {
				c.Close()
			}
			m.Clients = make(map[string]Client)
			return

		case c := <-m.RegisterCh:
			m.register(c)

		case c := <-m.UnregisterCh:
			m.unregister(c)

		case in := <-m.IncomingCh:
			m.handleInbound(in)

		case env, ok := <-m.pubSubCh:
			if !ok {
				m.Logger.Warn("broadcast subscription closed, delivering locally")
				m.pubSubCh = nil
				m.brokered = false
				continue
			}
			m.deliverLocal(env)
		}
	}
}

func (m *ManagerService) register(c Client) {
	userID := c.GetUserID()
	if prev, ok := m.Clients[userID]; ok && prev != c {
		m.Logger.Info("replacing previous session", zap.String("user_id", userID))
		prev.Close()
	}
	m.Clients[userID] = c

	if err := m.Storage.SetOnline(userID); err != nil {
		m.Logger.Error("failed to mark user online", zap.String("user_id", userID), zap.Error(err))
	}

	rooms, err := m.Storage.ListRoomSummaries(userID)
	if err != nil {
		m.Logger.Error("failed to load rooms snapshot", zap.String("user_id", userID), zap.Error(err))
		rooms = []models.RoomSummary{}
	}
	peers := counterparts(userID, rooms)

	online, err := m.Storage.OnlineUsers(peers)
	if err != nil {
		m.Logger.Error("failed to load presence snapshot", zap.String("user_id", userID), zap.Error(err))
		online = map[string]bool{}
	}

	m.sendTo(c, models.Event{
		Type:     models.EventPresenceSnapshot,
		Presence: &models.Presence{OnlineUsers: online},
	})
	m.sendTo(c, models.Event{Type: models.EventRoomsSnapshot, Rooms: rooms})

	m.broadcastPresence(userID, peers, true)
	m.Logger.Info("session registered", zap.String("user_id", userID), zap.Int("rooms", len(rooms)))
}

func (m *ManagerService) unregister(c Client) {
	userID := c.GetUserID()
	current, ok := m.Clients[userID]
	if !ok || current != c {
		// Already replaced by a newer session; that one owns presence now.
		c.Close()
		return
	}
	delete(m.Clients, userID)
	c.Close()

	if err := m.Storage.SetOffline(userID); err != nil {
		m.Logger.Error("failed to mark user offline", zap.String("user_id", userID), zap.Error(err))
	}

	rooms, err := m.Storage.GetRoomsForUser(userID)
	if err != nil {
		m.Logger.Error("failed to load rooms for presence", zap.String("user_id", userID), zap.Error(err))
		return
	}
	peers := make([]string, 0, len(rooms))
	for i := range rooms {
		if other, ok := rooms[i].Counterpart(userID); ok {
			peers = append(peers, other)
		}
	}
	m.broadcastPresence(userID, peers, false)
	m.Logger.Info("session unregistered", zap.String("user_id", userID))
}

func (m *ManagerService) broadcastPresence(userID string, peers []string, online bool) {
	if len(peers) == 0 {
		return
	}
	m.dispatch(models.Envelope{
		Recipients: peers,
		Event: models.Event{
			Type:     models.EventPresenceUpdate,
			Presence: &models.Presence{UserID: userID, Online: online},
		},
	})
}

func counterparts(userID string, rooms []models.RoomSummary) []string {
	seen := make(map[string]struct{}, len(rooms))
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		other := r.Doctor.UserID
		if other == userID {
			other = r.Patient.UserID
		}
		if _, dup := seen[other]; dup || other == "" {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out
}

// sendTo enqueues ev for a local session. A session whose buffer is full is
// considered dead and dropped.
func (m *ManagerService) sendTo(c Client, ev models.Event) {
	select {
	case c.GetSendChannel() <- ev:
	default:
		m.Logger.Warn("send buffer full, dropping session", zap.String("user_id", c.GetUserID()))
		m.unregister(c)
	}
}
