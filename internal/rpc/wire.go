package rpc

import "github.com/matheus3301/ims/internal/model"

// Request and response messages of the psdims.v1.IMS service.

type LoginRequest struct{}

type RegisterRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Info     string `json:"info"`
}

type CursorRequest struct {
	Since int64 `json:"since"`
}

type ChatRequest struct {
	ChatID int64 `json:"chat_id"`
	Since  int64 `json:"since,omitempty"`
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

type UserRequest struct {
	Name string `json:"name"`
}

type TimestampResponse struct {
	Timestamp int64 `json:"timestamp"`
}

type Empty struct{}

// The remaining payloads travel as the model types themselves.
type (
	UserResponse         = model.UserInfo
	FriendsResponse      = model.FriendPage
	ChatsResponse        = model.ChatPage
	ChatInfoResponse     = model.ChatSummary
	MessagesResponse     = model.MessagePage
	NotificationResponse = model.NotificationDiff
)
