package models_test

import (
	"strings"
	"testing"
	"time"

	"medchat/backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestServerIDRoundTrip(t *testing.T) {
	assert.Equal(t, "m-42", models.FormatServerID(42))

	id, ok := models.ParseServerID("m-42")
	assert.True(t, ok)
	assert.Equal(t, uint(42), id)

	for _, bad := range []string{"42", "tmp-1", "m-", "m-0", "m-abc"} {
		_, ok := models.ParseServerID(bad)
		assert.False(t, ok, bad)
	}
}

func TestChatHistoryToMessage_File(t *testing.T) {
	readAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h := models.ChatHistory{
		RoomID:       "R123",
		Seq:          7,
		SenderID:     "pat-1",
		SenderRole:   models.RolePatient,
		Kind:         models.KindFile,
		FileName:     "xray.png",
		FileSize:     2048,
		FileURL:      "https://files.example/xray.png",
		Status:       models.StatusSeen,
		DoctorReadAt: &readAt,
	}
	h.ID = 9

	msg := h.ToMessage()

	assert.Equal(t, "m-9", msg.ID)
	assert.Equal(t, int64(7), msg.Seq)
	assert.Equal(t, models.KindFile, msg.Kind)
	if assert.NotNil(t, msg.File) {
		assert.Equal(t, "xray.png", msg.File.Name)
		assert.Equal(t, int64(2048), msg.File.Size)
	}
	assert.Equal(t, readAt, msg.ReadBy[models.RoleDoctor])
	_, patientRead := msg.ReadBy[models.RolePatient]
	assert.False(t, patientRead)
}

func TestChatHistoryPreview(t *testing.T) {
	text := models.ChatHistory{Kind: models.KindText, Content: "Hello"}
	assert.Equal(t, "Hello", text.Preview())

	long := models.ChatHistory{Kind: models.KindText, Content: strings.Repeat("a", 300)}
	assert.Equal(t, 121, len([]rune(long.Preview())))

	file := models.ChatHistory{Kind: models.KindFile, FileName: "report.pdf"}
	assert.Equal(t, "[file] report.pdf", file.Preview())
}

func TestChatRoomParticipants(t *testing.T) {
	room := models.ChatRoom{RoomID: "R1", DoctorID: "doc", PatientID: "pat"}

	assert.True(t, room.HasParticipant("doc"))
	assert.False(t, room.HasParticipant("stranger"))
	assert.False(t, room.HasParticipant(""))

	role, ok := room.RoleOf("pat")
	assert.True(t, ok)
	assert.Equal(t, models.RolePatient, role)

	other, ok := room.Counterpart("doc")
	assert.True(t, ok)
	assert.Equal(t, "pat", other)

	_, ok = room.Counterpart("stranger")
	assert.False(t, ok)
}
