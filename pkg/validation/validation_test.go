package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateIDs(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid", "room_1-a", false},
		{"empty", "", true},
		{"spaces", "room 1", true},
		{"too long", strings.Repeat("a", 101), true},
		{"max length", strings.Repeat("a", 100), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, err != nil, ValidateParticipantID(tt.id) != nil)
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	assert.NoError(t, ValidateDisplayName(""))
	assert.NoError(t, ValidateDisplayName("Ada Lovelace"))
	assert.Error(t, ValidateDisplayName(strings.Repeat("x", 101)))
	assert.Error(t, ValidateDisplayName(string([]byte{0xff, 0xfe})))
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule(time.Hour, 0))
	assert.Error(t, ValidateSchedule(0, time.Minute))
	assert.Error(t, ValidateSchedule(25*time.Hour, 0))
	assert.Error(t, ValidateSchedule(time.Hour, -time.Second))
}

func TestValidateSDP(t *testing.T) {
	assert.NoError(t, ValidateSDP("v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"))
	assert.Error(t, ValidateSDP(""))
	assert.Error(t, ValidateSDP("o=- 1 2"))
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("ws://localhost:8080/ws"))
	assert.NoError(t, ValidateURL("https://example.com"))
	assert.Error(t, ValidateURL("ftp://example.com"))
	assert.Error(t, ValidateURL("ws://"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "ab\ncd", SanitizeString("  a\x00b\ncd\x07 "))
}
