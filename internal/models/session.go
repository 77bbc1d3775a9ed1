package models

// Session represents the live authenticated identity a connection is bound to.
// The session ID is opaque and unique per sign-in; the owner ID is the principal
// whose rows the session is allowed to see.
type Session struct {
	ID      string
	OwnerID string
	Valid   bool
}

// IsActive returns true if the session can be used to mint tokens.
func (s *Session) IsActive() bool {
	return s != nil && s.Valid && s.ID != ""
}
