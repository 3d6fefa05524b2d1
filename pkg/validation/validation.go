package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxIDLength          = 100
	maxDisplayNameLength = 64
	maxURLLength         = 2048
)

// UserIDRegex matches the opaque user IDs issued by the identity provider.
var UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)

// ValidateCallID accepts only server-issued UUIDs.
func ValidateCallID(callID string) error {
	if callID == "" {
		return fmt.Errorf("call ID is required")
	}
	if _, err := uuid.Parse(callID); err != nil {
		return fmt.Errorf("invalid call ID format")
	}
	return nil
}

func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if len(userID) > maxIDLength {
		return fmt.Errorf("user ID is too long (max %d characters)", maxIDLength)
	}
	if !UserIDRegex.MatchString(userID) {
		return fmt.Errorf("invalid user ID format")
	}
	return nil
}

// ValidateDisplayName checks the name shown on participant tiles.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return fmt.Errorf("display name contains control characters")
	}
	return ValidateStringLength(name, 1, maxDisplayNameLength, "display name")
}

// ValidateAvatarURL allows an empty avatar; otherwise it must be an http(s) URL.
func ValidateAvatarURL(avatar string) error {
	if avatar == "" {
		return nil
	}
	if len(avatar) > maxURLLength {
		return fmt.Errorf("avatar URL is too long (max %d characters)", maxURLLength)
	}
	u, err := url.Parse(avatar)
	if err != nil {
		return fmt.Errorf("invalid avatar URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid avatar URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("avatar URL must have a host")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateSDP does a shallow sanity check on a session description body.
func ValidateSDP(sdp string) error {
	if strings.TrimSpace(sdp) == "" {
		return fmt.Errorf("sdp is required")
	}
	if !strings.HasPrefix(sdp, "v=0") {
		return fmt.Errorf("sdp must start with a version line")
	}
	return nil
}

// ValidateStringLength counts runes, not bytes.
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
