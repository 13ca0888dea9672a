package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid input")

var (
	RoomIDRegex        = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	ParticipantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func validateID(kind, id string, re *regexp.Regexp) error {
	if id == "" {
		return invalid("%s is required", kind)
	}
	if len(id) > 100 {
		return invalid("%s is too long (max 100 characters)", kind)
	}
	if !re.MatchString(id) {
		return invalid("invalid %s format", kind)
	}
	return nil
}

func ValidateRoomID(roomID string) error {
	return validateID("room ID", roomID, RoomIDRegex)
}

func ValidateParticipantID(participantID string) error {
	return validateID("participant ID", participantID, ParticipantIDRegex)
}

// ValidateDisplayName accepts an empty name; the participant id is shown instead.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) > 100 {
		return invalid("display name is too long (max 100 characters)")
	}
	if !utf8.ValidString(name) {
		return invalid("display name contains invalid characters")
	}
	return nil
}

func ValidateRoomTitle(title string) error {
	if len(title) > 200 {
		return invalid("room title is too long (max 200 characters)")
	}
	if !utf8.ValidString(title) {
		return invalid("room title contains invalid characters")
	}
	return nil
}

func ValidateSchedule(duration, grace time.Duration) error {
	if duration <= 0 {
		return invalid("planned duration must be > 0")
	}
	if duration > 24*time.Hour {
		return invalid("planned duration is too long (max 24h)")
	}
	if grace < 0 {
		return invalid("grace window must be >= 0")
	}
	return nil
}

// ValidateSDP performs a shallow check on a session description body.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return invalid("SDP is required")
	}
	if !strings.HasPrefix(sdp, "v=0") {
		return invalid("SDP must start with v=0")
	}
	if len(sdp) > 64*1024 {
		return invalid("SDP is too large (max 64KB)")
	}
	return nil
}

func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return invalid("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return invalid("invalid URL format: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return invalid("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return invalid("URL must have a host")
	}
	return nil
}

// SanitizeString strips control characters except newlines and tabs.
func SanitizeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 32 || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
