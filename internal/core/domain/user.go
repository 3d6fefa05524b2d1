package domain

import "strings"

type UserID string

// Profile is the display identity a user joins a call with.
type Profile struct {
	ID     UserID `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Initial returns the letter shown on the placeholder avatar.
func Initial(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "?"
	}
	r := []rune(name)
	return strings.ToUpper(string(r[0]))
}
