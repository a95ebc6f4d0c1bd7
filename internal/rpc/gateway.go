// Package rpc defines the gateway to the IMS server and its gRPC transport.
package rpc

import (
	"context"

	"github.com/matheus3301/ims/internal/model"
)

// Gateway is the transport-agnostic view of the IMS server used by the sync
// engine. Implementations report wire failures as *model.TransportError and
// map server rejections to model.ErrNotFound, model.ErrDuplicateKey and
// model.ErrAuth.
type Gateway interface {
	Login(ctx context.Context, name, password string) (model.UserInfo, error)
	Logout(ctx context.Context) error
	Register(ctx context.Context, name, password, info string) error

	FetchFriends(ctx context.Context, since int64) (model.FriendPage, error)
	FetchChats(ctx context.Context, since int64) (model.ChatPage, error)
	FetchChat(ctx context.Context, chatID int64) (model.ChatSummary, error)
	FetchChatMessages(ctx context.Context, chatID, since int64) (model.MessagePage, error)
	FetchNotifications(ctx context.Context, since int64) (model.NotificationDiff, error)

	CreateChat(ctx context.Context, description, member string) (int64, error)
	AddMember(ctx context.Context, chatID int64, name string) error
	LeaveChat(ctx context.Context, chatID int64) error
	SendMessage(ctx context.Context, chatID int64, text, attachment string) (int64, error)

	SendFriendRequest(ctx context.Context, name string) (int64, error)
	AcceptRequest(ctx context.Context, name string) (int64, error)
	DeclineRequest(ctx context.Context, name string) (int64, error)
}
