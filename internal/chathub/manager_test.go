package chathub_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"medchat/backend/internal/chathub"
	"medchat/backend/internal/config"
	"medchat/backend/internal/models"
	"medchat/backend/internal/storage"
	"medchat/backend/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testRoom = &models.ChatRoom{RoomID: "room-1", DoctorID: "doc-1", PatientID: "pat-1"}

func testSummary() models.RoomSummary {
	return models.RoomSummary{
		RoomID:  "room-1",
		Doctor:  models.Participant{UserID: "doc-1", Role: models.RoleDoctor},
		Patient: models.Participant{UserID: "pat-1", Role: models.RolePatient},
	}
}

func testUsers() map[string]*models.User {
	return map[string]*models.User{
		"doc-1": {ID: "doc-1", Name: "Dr. Bondar", Role: models.RoleDoctor},
		"pat-1": {ID: "pat-1", Name: "Olena", Role: models.RolePatient},
	}
}

// startHub runs a hub without a broker; session bookkeeping calls are allowed
// for every user.
func startHub(t *testing.T, st *storagetest.MockStorage) *chathub.ManagerService {
	t.Helper()
	st.On("SubscribeEvents", mock.Anything).Return(nil, errors.New("no broker")).Maybe()
	st.On("SetOnline", mock.Anything).Return(nil).Maybe()
	st.On("SetOffline", mock.Anything).Return(nil).Maybe()
	st.On("ListRoomSummaries", mock.Anything).Return([]models.RoomSummary{testSummary()}, nil).Maybe()
	st.On("GetRoomsForUser", mock.Anything).Return([]models.ChatRoom{*testRoom}, nil).Maybe()

	hub := chathub.NewManagerService(st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func connect(hub *chathub.ManagerService, userID string) *MockClient {
	c := newMockClient(userID)
	hub.RegisterCh <- c
	return c
}

func sendText(hub *chathub.ManagerService, c *MockClient, tempID, content string) {
	hub.IncomingCh <- chathub.Inbound{Client: c, Event: models.Event{
		Type:    models.CommandMessageSend,
		RoomID:  "room-1",
		TempID:  tempID,
		Message: &models.ChatMessage{Kind: models.KindText, Content: content},
	}}
}

func TestManager_RegisterSendsSnapshots(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("OnlineUsers", []string{"pat-1"}).Return(map[string]bool{"pat-1": true}, nil)
	hub := startHub(t, st)

	doc := connect(hub, "doc-1")

	presence := recvType(t, doc, models.EventPresenceSnapshot)
	require.NotNil(t, presence.Presence)
	assert.True(t, presence.Presence.OnlineUsers["pat-1"])

	rooms := recvType(t, doc, models.EventRoomsSnapshot)
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, "room-1", rooms.Rooms[0].RoomID)

	st.AssertCalled(t, "SetOnline", "doc-1")
}

func TestManager_PresenceFansOutToCounterpart(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("OnlineUsers", mock.Anything).Return(map[string]bool{}, nil)
	hub := startHub(t, st)

	doc := connect(hub, "doc-1")
	recvType(t, doc, models.EventRoomsSnapshot)

	pat := connect(hub, "pat-1")
	up := recvType(t, doc, models.EventPresenceUpdate)
	assert.Equal(t, "pat-1", up.Presence.UserID)
	assert.True(t, up.Presence.Online)

	hub.UnregisterCh <- pat
	down := recvType(t, doc, models.EventPresenceUpdate)
	assert.Equal(t, "pat-1", down.Presence.UserID)
	assert.False(t, down.Presence.Online)
	assert.True(t, pat.IsClosed())
}

func TestManager_NewSessionReplacesOld(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("OnlineUsers", mock.Anything).Return(map[string]bool{}, nil)
	hub := startHub(t, st)

	first := connect(hub, "pat-1")
	second := connect(hub, "pat-1")
	recvType(t, second, models.EventRoomsSnapshot)
	assert.True(t, first.IsClosed())

	// The stale session going away must not take the new one offline.
	hub.UnregisterCh <- first
	time.Sleep(100 * time.Millisecond)
	st.AssertNotCalled(t, "SetOffline", "pat-1")
	assert.False(t, second.IsClosed())
}

func TestManager_SendAckNewAndDelivered(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("OnlineUsers", mock.Anything).Return(map[string]bool{"doc-1": true, "pat-1": true}, nil)
	st.On("GetRoomByID", "room-1").Return(testRoom, nil)
	st.On("GetUsersByIDs", []string{"doc-1", "pat-1"}).Return(testUsers(), nil)
	st.On("SaveMessage", mock.AnythingOfType("*models.ChatHistory")).Run(func(args mock.Arguments) {
		h := args.Get(0).(*models.ChatHistory)
		h.ID = 7
		h.Seq = 1
		h.CreatedAt = time.Now()
	}).Return(nil)
	st.On("MarkDelivered", []uint{7}).Return(nil)
	hub := startHub(t, st)

	doc := connect(hub, "doc-1")
	pat := connect(hub, "pat-1")
	recvType(t, doc, models.EventRoomsSnapshot)
	recvType(t, pat, models.EventRoomsSnapshot)

	sendText(hub, doc, "tmp-1", "How are you feeling today?")

	ack := recvType(t, doc, models.EventMessageAck)
	assert.Equal(t, "tmp-1", ack.TempID)
	assert.Empty(t, ack.Error)
	require.NotNil(t, ack.Message)
	assert.Equal(t, "m-7", ack.Message.ID)
	assert.Equal(t, int64(1), ack.Message.Seq)
	assert.Equal(t, models.RoleDoctor, ack.Message.SenderRole)

	msg := recvType(t, pat, models.EventMessageNew)
	require.NotNil(t, msg.Message)
	assert.Equal(t, "m-7", msg.Message.ID)
	assert.Equal(t, "How are you feeling today?", msg.Message.Content)
	assert.Equal(t, "doc-1", msg.Message.SenderID)

	status := recvType(t, doc, models.EventMessageStatus)
	assert.Equal(t, models.StatusDelivered, status.Status)
	assert.Equal(t, "m-7", status.Message.ID)
	st.AssertCalled(t, "MarkDelivered", []uint{7})
}

func TestManager_SendIgnoresClientSenderID(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("OnlineUsers", mock.Anything).Return(map[string]bool{}, nil)
	st.On("GetRoomByID", "room-1").Return(testRoom, nil)
	hub := startHub(t, st)

	outsider := connect(hub, "intruder")
	recvType(t, outsider, models.EventRoomsSnapshot)

	hub.IncomingCh <- chathub.Inbound{Client: outsider, Event: models.Event{
		Type:     models.CommandMessageSend,
		RoomID:   "room-1",
		TempID:   "tmp-9",
		SenderID: "doc-1",
		Message:  &models.ChatMessage{Kind: models.KindText, Content: "hi"},
	}}

	ack := recvType(t, outsider, models.EventMessageAck)
	assert.Equal(t, config.ReasonNotParticipant, ack.Error)
	st.AssertNotCalled(t, "SaveMessage", mock.Anything)
}

func TestManager_SendRejections(t *testing.T) {
	blocked := testUsers()
	blocked["pat-1"].IsBlocked = true

	tests := []struct {
		name    string
		setup   func(st *storagetest.MockStorage)
		content string
		reason  string
	}{
		{
			name:    "empty content",
			setup:   func(st *storagetest.MockStorage) {},
			content: "   ",
			reason:  config.ReasonEmptyContent,
		},
		{
			name:    "content too long",
			setup:   func(st *storagetest.MockStorage) {},
			content: strings.Repeat("a", config.MaxContentLength+1),
			reason:  config.ReasonTooLong,
		},
		{
			name: "room not found",
			setup: func(st *storagetest.MockStorage) {
				st.On("GetRoomByID", "room-1").Return(nil, storage.ErrRoomNotFound)
			},
			content: "hello",
			reason:  config.ReasonRoomNotFound,
		},
		{
			name: "blocked participant",
			setup: func(st *storagetest.MockStorage) {
				st.On("GetRoomByID", "room-1").Return(testRoom, nil)
				st.On("GetUsersByIDs", mock.Anything).Return(blocked, nil)
			},
			content: "hello",
			reason:  config.ReasonBlocked,
		},
		{
			name: "storage failure",
			setup: func(st *storagetest.MockStorage) {
				st.On("GetRoomByID", "room-1").Return(testRoom, nil)
				st.On("GetUsersByIDs", mock.Anything).Return(testUsers(), nil)
				st.On("SaveMessage", mock.Anything).Return(errors.New("connection reset"))
			},
			content: "hello",
			reason:  config.ReasonStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := new(storagetest.MockStorage)
			st.On("OnlineUsers", mock.Anything).Return(map[string]bool{}, nil)
			tt.setup(st)
			hub := startHub(t, st)

			doc := connect(hub, "doc-1")
			recvType(t, doc, models.EventRoomsSnapshot)

			sendText(hub, doc, "tmp-1", tt.content)

			ack := recvType(t, doc, models.EventMessageAck)
			assert.Equal(t, "tmp-1", ack.TempID)
			assert.Equal(t, tt.reason, ack.Error)
			assert.Nil(t, ack.Message)
		})
	}
}

func TestManager_FileMessageNeedsURL(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("OnlineUsers", mock.Anything).Return(map[string]bool{}, nil)
	hub := startHub(t, st)

	doc := connect(hub, "doc-1")
	recvType(t, doc, models.EventRoomsSnapshot)

	hub.IncomingCh <- chathub.Inbound{Client: doc, Event: models.Event{
		Type:    models.CommandMessageSend,
		RoomID:  "room-1",
		TempID:  "tmp-2",
		Message: &models.ChatMessage{Kind: models.KindFile, File: &models.FileRef{Name: "scan.pdf"}},
	}}

	ack := recvType(t, doc, models.EventMessageAck)
	assert.Equal(t, config.ReasonEmptyContent, ack.Error)
}

type fakeNotifier struct {
	ch chan models.ChatMessage
}

func (n *fakeNotifier) NotifyNewMessage(recipient, sender *models.User, msg models.ChatMessage) error {
	n.ch <- msg
	return nil
}

func TestManager_OfflineRecipientIsNotified(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("OnlineUsers", mock.Anything).Return(map[string]bool{}, nil)
	st.On("GetRoomByID", "room-1").Return(testRoom, nil)
	st.On("GetUsersByIDs", mock.Anything).Return(testUsers(), nil)
	st.On("SaveMessage", mock.Anything).Run(func(args mock.Arguments) {
		h := args.Get(0).(*models.ChatHistory)
		h.ID = 11
		h.Seq = 4
	}).Return(nil)
	hub := startHub(t, st)
	notifier := &fakeNotifier{ch: make(chan models.ChatMessage, 1)}
	hub.SetNotifier(notifier)

	doc := connect(hub, "doc-1")
	recvType(t, doc, models.EventRoomsSnapshot)

	sendText(hub, doc, "tmp-1", "Your results are ready")
	ack := recvType(t, doc, models.EventMessageAck)
	assert.Equal(t, "m-11", ack.Message.ID)

	select {
	case msg := <-notifier.ch:
		assert.Equal(t, "Your results are ready", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("offline recipient was not notified")
	}
	st.AssertNotCalled(t, "MarkDelivered", mock.Anything)
}

func TestManager_TypingIsRelayed(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("OnlineUsers", mock.Anything).Return(map[string]bool{}, nil)
	st.On("GetRoomByID", "room-1").Return(testRoom, nil)
	hub := startHub(t, st)

	doc := connect(hub, "doc-1")
	pat := connect(hub, "pat-1")
	recvType(t, pat, models.EventRoomsSnapshot)

	hub.IncomingCh <- chathub.Inbound{Client: doc, Event: models.Event{
		Type:   models.CommandTypingSet,
		RoomID: "room-1",
		Typing: &models.Typing{IsTyping: true},
	}}

	ev := recvType(t, pat, models.EventTypingUpdate)
	assert.Equal(t, "room-1", ev.RoomID)
	assert.Equal(t, "doc-1", ev.Typing.UserID)
	assert.True(t, ev.Typing.IsTyping)
	assertNoEvent(t, doc, models.EventTypingUpdate)
}

func TestManager_ReadMarkSendsReceipt(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("OnlineUsers", mock.Anything).Return(map[string]bool{}, nil)
	st.On("GetRoomByID", "room-1").Return(testRoom, nil)
	st.On("MarkRead", "room-1", "pat-1", models.RolePatient, mock.AnythingOfType("time.Time")).
		Return([]uint{3, 4}, nil)
	hub := startHub(t, st)

	doc := connect(hub, "doc-1")
	pat := connect(hub, "pat-1")
	recvType(t, doc, models.EventRoomsSnapshot)

	hub.IncomingCh <- chathub.Inbound{Client: pat, Event: models.Event{Type: models.CommandReadMark, RoomID: "room-1"}}

	ev := recvType(t, doc, models.EventReadReceipt)
	require.NotNil(t, ev.Receipt)
	assert.Equal(t, []string{"m-3", "m-4"}, ev.Receipt.MessageIDs)
	assert.Equal(t, "pat-1", ev.Receipt.ReaderID)
	assert.Equal(t, models.RolePatient, ev.Receipt.ReaderRole)
}

func TestManager_UnknownCommand(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("OnlineUsers", mock.Anything).Return(map[string]bool{}, nil)
	hub := startHub(t, st)

	doc := connect(hub, "doc-1")
	hub.IncomingCh <- chathub.Inbound{Client: doc, Event: models.Event{Type: "room:delete"}}

	ev := recvType(t, doc, models.EventError)
	assert.Contains(t, ev.Error, "room:delete")
}

func TestManager_BrokeredDelivery(t *testing.T) {
	bus := make(chan models.Envelope, 16)
	st := new(storagetest.MockStorage)
	st.On("SubscribeEvents", mock.Anything).Return((<-chan models.Envelope)(bus), nil)
	st.On("PublishEvent", mock.Anything).Run(func(args mock.Arguments) {
		bus <- args.Get(0).(models.Envelope)
	}).Return(nil)
	st.On("OnlineUsers", mock.Anything).Return(map[string]bool{}, nil)
	st.On("GetRoomByID", "room-1").Return(testRoom, nil)
	hub := startHub(t, st)

	doc := connect(hub, "doc-1")
	pat := connect(hub, "pat-1")
	recvType(t, pat, models.EventRoomsSnapshot)

	hub.IncomingCh <- chathub.Inbound{Client: doc, Event: models.Event{
		Type:   models.CommandTypingSet,
		RoomID: "room-1",
		Typing: &models.Typing{IsTyping: true},
	}}

	ev := recvType(t, pat, models.EventTypingUpdate)
	assert.Equal(t, "doc-1", ev.Typing.UserID)
	st.AssertCalled(t, "PublishEvent", mock.AnythingOfType("models.Envelope"))
}
