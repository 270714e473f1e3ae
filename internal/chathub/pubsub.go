package chathub

import (
	"context"

	"medchat/backend/internal/models"

	"go.uber.org/zap"
)

// StartPubSubListener subscribes the hub to the cross-instance broadcast channel.
// Without a subscription the hub still works for sessions it holds itself.
func (m *ManagerService) StartPubSubListener(ctx context.Context) {
	ch, err := m.Storage.SubscribeEvents(ctx)
	if err != nil {
		m.Logger.Warn("broadcast subscription unavailable, delivering locally", zap.Error(err))
		return
	}
	m.pubSubCh = ch
	m.brokered = true
}

// dispatch routes an addressed event to its recipients: through the broker when
// subscribed, so sessions held by other instances get it too, else directly.
func (m *ManagerService) dispatch(env models.Envelope) {
	if m.brokered {
		err := m.Storage.PublishEvent(env)
		if err == nil {
			return
		}
		m.Logger.Warn("publish failed, delivering locally", zap.String("type", env.Event.Type), zap.Error(err))
	}
	m.deliverLocal(env)
}

// deliverLocal hands env to the recipients connected to this instance. A new
// message reaching its recipient is what makes it "delivered".
func (m *ManagerService) deliverLocal(env models.Envelope) {
	for _, userID := range env.Recipients {
		c, ok := m.Clients[userID]
		if !ok {
			continue
		}
		m.sendTo(c, env.Event)

		if env.Event.Type == models.EventMessageNew && env.Event.Message != nil {
			m.markDelivered(*env.Event.Message)
		}
	}
}

func (m *ManagerService) markDelivered(msg models.ChatMessage) {
	id, ok := models.ParseServerID(msg.ID)
	if !ok {
		return
	}
	if err := m.Storage.MarkDelivered([]uint{id}); err != nil {
		m.Logger.Error("failed to mark delivered", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	m.dispatch(models.Envelope{
		Recipients: []string{msg.SenderID},
		Event: models.Event{
			Type:    models.EventMessageStatus,
			RoomID:  msg.RoomID,
			Message: &models.ChatMessage{ID: msg.ID, Seq: msg.Seq, RoomID: msg.RoomID, SenderID: msg.SenderID},
			Status:  models.StatusDelivered,
		},
	})
}
