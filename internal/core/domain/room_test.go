package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "syncroom/pkg/errors"
	"syncroom/pkg/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoom_ExpiresAt(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	room := &Room{
		ID:              "r1",
		ScheduledStart:  start,
		PlannedDuration: time.Hour,
		GraceWindow:     15 * time.Minute,
	}

	assert.Equal(t, start.Add(75*time.Minute), room.ExpiresAt())
	assert.False(t, room.Expired(start.Add(74*time.Minute)))
	assert.True(t, room.Expired(start.Add(75*time.Minute)))
	assert.Equal(t, time.Minute, room.TTL(start.Add(74*time.Minute)))
	assert.Zero(t, room.TTL(start.Add(2*time.Hour)))
}

func TestRoleFromInterviewRole(t *testing.T) {
	cases := map[string]Role{
		"interviewer": RoleDriver,
		"candidate":   RoleSubject,
		"admin":       RoleObserver,
		"driver":      RoleDriver,
		"observer":    RoleObserver,
	}
	for in, want := range cases {
		got, err := RoleFromInterviewRole(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := RoleFromInterviewRole("recruiter")
	assert.True(t, errors.Is(err, ErrInvalidRole))
}

func TestNegotiationState_Terminal(t *testing.T) {
	assert.True(t, NegotiationFailed.Terminal())
	assert.True(t, NegotiationClosed.Terminal())
	assert.False(t, NegotiationOffering.Terminal())
	assert.False(t, NegotiationConnected.Terminal())
}

func TestToAppError(t *testing.T) {
	cases := []struct {
		err  error
		code apperrors.ErrorCode
	}{
		{ErrRoomNotFound, apperrors.ErrCodeRoomNotFound},
		{fmt.Errorf("join: %w", ErrRoomExpired), apperrors.ErrCodeRoomExpired},
		{ErrNotEntitled, apperrors.ErrCodeNotEntitled},
		{ErrRoomExists, apperrors.ErrCodeConflict},
		{ErrInvalidRole, apperrors.ErrCodeInvalidInput},
		{validation.ValidateRoomID(""), apperrors.ErrCodeInvalidInput},
		{errors.New("disk on fire"), apperrors.ErrCodeInternal},
	}
	for _, tc := range cases {
		appErr := ToAppError(tc.err)
		assert.Equal(t, tc.code, appErr.Code, tc.err.Error())
	}

	limited := apperrors.NewRateLimitError()
	assert.Same(t, limited, ToAppError(limited))
}
