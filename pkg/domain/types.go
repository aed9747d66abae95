package domain

import "time"

// Principal is the authenticated caller. Only the verified token subject is
// carried; nothing else from the token is trusted downstream.
type Principal struct {
	ID string `json:"id"`
}

// IsZero reports whether no principal was established.
func (p Principal) IsZero() bool {
	return p.ID == ""
}

type User struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	Metadata     map[string]string `json:"user_metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Session is the credential the identity provider issues. The client caches
// it and never enforces ExpiresAt on its own; the server decides.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the cached access token is past its expiry.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Profile struct {
	ID          string            `json:"id"`
	Email       string            `json:"email,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

const NotificationTypeNewPost = "new_post"

// Notification is created client-side from a realtime insert event. It keeps
// PostID even after the post is deleted.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	PostID    string    `json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// AuthEventType names session changes pushed by the identity provider.
type AuthEventType string

const (
	EventSignedIn       AuthEventType = "SIGNED_IN"
	EventSignedOut      AuthEventType = "SIGNED_OUT"
	EventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}
