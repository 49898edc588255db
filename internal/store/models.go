package store

import "time"

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

type User struct {
	ID           int64     `json:"id"`
	Username     *string   `json:"username"` // Nullable: OAuth accounts may have none
	Email        *string   `json:"email"`    // Nullable: username-only local accounts
	DisplayName  *string   `json:"display_name"`
	PasswordHash *string   `json:"-"` // Absent for OAuth-only accounts
	CreatedAt    time.Time `json:"created_at"`
}

// HasPassword reports whether local login can ever succeed for this user.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

type Chat struct {
	ID        string    `json:"id"` // UUID
	UserID    int64     `json:"-"`
	Title     *string   `json:"title"` // Nullable until the first user message
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"-"`
}

// Message rows are keyed by (chat_id, seq). Seq values are append-ordered
// but not contiguous after deletes; the HTTP surface addresses messages by
// their position in the current seq ordering.
type Message struct {
	ID        string    `json:"-"` // UUID
	ChatID    string    `json:"-"`
	Seq       int64     `json:"-"`
	Sender    string    `json:"sender"` // "user" or "assistant"
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"-"`
}
