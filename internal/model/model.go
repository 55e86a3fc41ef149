// Package model defines domain entities shared by the session and chat components.
package model

import "time"

// Token is the client's view of an issued credential pair.
// ExpiresAt is always derived fresh from the access token claims, never cached.
type Token struct {
	AccessToken  string
	RefreshToken string // empty when the server did not return a new one
	ExpiresAt    time.Time
}

// Role is the server-assigned account role.
type Role string

const (
	RoleUser      Role = "user"
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
)

// User is the authenticated identity returned by the identity endpoint.
type User struct {
	ID          string
	Email       string
	FullName    string
	Role        Role
	IsActive    bool
	IsVerified  bool
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// IsAdmin reports whether the identity carries the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// IsDeveloper reports whether the identity carries the developer role.
func (u User) IsDeveloper() bool { return u.Role == RoleDeveloper }

// Conversation is a chat thread owned by the current user.
type Conversation struct {
	ID           string
	Title        string
	IsArchived   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// ConversationPage is one page of the user's conversation list.
type ConversationPage struct {
	Conversations []Conversation
	Total         int
	Page          int
	Pages         int
}

// MessageRole distinguishes user input from assistant replies.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Provenance tags a transcript entry as server-confirmed or locally synthesized.
type Provenance int

const (
	// Confirmed entries carry server-assigned identifiers.
	Confirmed Provenance = iota
	// Optimistic entries were appended locally before network confirmation.
	Optimistic
)

// Message is a single transcript entry.
type Message struct {
	ID         string
	Role       MessageRole
	Content    string
	CreatedAt  time.Time
	ToolCalls  []ToolCall
	Provenance Provenance
}

// ToolCall records one tool invocation made while producing an assistant reply.
type ToolCall struct {
	ToolName   string
	AppName    string
	Success    bool
	Error      string
	DurationMS int64
}

// ChatResult is the server-confirmed outcome of a message send.
type ChatResult struct {
	ConversationID string
	Assistant      Message
}
