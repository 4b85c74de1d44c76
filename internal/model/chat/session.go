package chat

import "time"

// Session captures the short-lived conversation of one user.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Expired reports whether the session saw no activity within ttl.
func (s Session) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastActivity) > ttl
}

// Clone returns a copy that does not share the transcript backing array.
func (s Session) Clone() Session {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}
