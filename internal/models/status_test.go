package models_test

import (
	"testing"

	"medchat/backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to models.MessageStatus
		want     bool
	}{
		{models.StatusSending, models.StatusSent, true},
		{models.StatusSending, models.StatusDelivered, true},
		{models.StatusSent, models.StatusDelivered, true},
		{models.StatusSent, models.StatusSeen, true},
		{models.StatusDelivered, models.StatusSeen, true},
		{models.StatusSending, models.StatusFailed, true},

		{models.StatusSent, models.StatusSending, false},
		{models.StatusSeen, models.StatusDelivered, false},
		{models.StatusDelivered, models.StatusDelivered, false},
		{models.StatusSent, models.StatusFailed, false},
		{models.StatusFailed, models.StatusSent, false},
		{models.StatusFailed, models.StatusSending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, models.CanAdvance(tt.from, tt.to))
		})
	}
}
