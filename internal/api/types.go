package api

import (
	"encoding/json"

	"github.com/matheus3301/ims/internal/chats"
	"github.com/matheus3301/ims/internal/model"
	"github.com/matheus3301/ims/internal/store"
	intsync "github.com/matheus3301/ims/internal/sync"
)

// Messages of the daemon control services.

type Empty struct{}

type StatusResponse struct {
	Session string `json:"session"`
	Status  string `json:"status"`
	// StatusSinceMs is when the current status was entered, in Unix ms.
	StatusSinceMs int64           `json:"status_since_ms"`
	User          model.UserInfo  `json:"user"`
	LoggedIn      bool            `json:"logged_in"`
	UptimeMs      int64           `json:"uptime_ms"`
	Friends       int             `json:"friends"`
	Chats         int             `json:"chats"`
	Cursors       model.Cursors   `json:"cursors"`
	LastSave      *store.SaveInfo `json:"last_save,omitempty"`
}

type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User model.UserInfo `json:"user"`
	// Warning is set when the login succeeded but the initial retrieval did not.
	Warning string `json:"warning,omitempty"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Info     string `json:"info"`
}

type SaveResponse = store.SaveInfo

type FriendsResponse struct {
	Friends []model.Friend `json:"friends"`
}

type RequestsResponse struct {
	Sent     []model.FriendRequest `json:"sent"`
	Received []model.FriendRequest `json:"received"`
}

type NameRequest struct {
	Name string `json:"name"`
}

type ChatsResponse struct {
	Chats []chats.Snapshot `json:"chats"`
}

type ChatRequest struct {
	ChatID int64 `json:"chat_id"`
}

type ChatResponse = intsync.ChatView

type OpenChatResponse struct {
	Chat    intsync.ChatView `json:"chat"`
	Fetched int              `json:"fetched"`
	// Warning is set when the cached history was served because the refresh failed.
	Warning string `json:"warning,omitempty"`
}

type CreateChatRequest struct {
	Description string `json:"description"`
	Member      string `json:"member,omitempty"`
}

type CreateChatResponse struct {
	ChatID int64 `json:"chat_id"`
}

type MemberRequest struct {
	ChatID int64  `json:"chat_id"`
	Name   string `json:"name"`
}

type SendMessageRequest struct {
	ChatID     int64  `json:"chat_id"`
	Text       string `json:"text"`
	Attachment string `json:"attachment,omitempty"`
}

type SendMessageResponse struct {
	Timestamp int64 `json:"timestamp"`
}

type WatchRequest struct {
	// Prefix filters events by kind; empty watches everything.
	Prefix string `json:"prefix,omitempty"`
}

// EventEnvelope carries one bus event to a watcher.
type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	Session          string          `json:"session"`
	OccurredAtUnixMs int64           `json:"occurred_at_unix_ms"`
	Kind             string          `json:"kind"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}
