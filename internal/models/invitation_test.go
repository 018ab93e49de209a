package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		status  InvitationStatus
		expires time.Time
		want    bool
	}{
		{"sent within window", InvitationStatusSent, now.Add(time.Hour), false},
		{"sent past window", InvitationStatusSent, now.Add(-time.Hour), true},
		{"pending past window", InvitationStatusPending, now.Add(-time.Hour), true},
		{"accepted past window", InvitationStatusAccepted, now.Add(-time.Hour), false},
		{"cancelled past window", InvitationStatusCancelled, now.Add(-time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &Invitation{Status: tt.status, ExpiresAt: tt.expires}
			assert.Equal(t, tt.want, inv.IsExpired(now))
		})
	}
}

func TestLastTouchAt(t *testing.T) {
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sent := created.Add(time.Hour)
	reminded := created.Add(48 * time.Hour)

	inv := &Invitation{CreatedAt: created}
	assert.Equal(t, created, inv.LastTouchAt())

	inv.EmailSentAt = &sent
	assert.Equal(t, sent, inv.LastTouchAt())

	inv.LastReminderAt = &reminded
	assert.Equal(t, reminded, inv.LastTouchAt(), "reminders supersede the original dispatch")
}

func TestFinalStatus(t *testing.T) {
	assert.Equal(t, BatchStatusCompleted, FinalStatus(3, 0))
	assert.Equal(t, BatchStatusPartial, FinalStatus(2, 1))
	assert.Equal(t, BatchStatusFailed, FinalStatus(0, 3))
}
