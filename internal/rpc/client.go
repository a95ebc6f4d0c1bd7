package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/ims/internal/model"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the gRPC implementation of Gateway. Credentials captured by a
// successful Login travel as metadata on every later call.
type Client struct {
	conn   *grpc.ClientConn
	logger *zap.Logger

	mu       sync.RWMutex
	name     string
	password string
}

var _ Gateway = (*Client)(nil)

// Dial connects to the IMS server at target. Extra options are appended to
// the defaults (insecure transport, JSON codec).
func Dial(target string, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		CallOption(),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial ims server: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	c.mu.RLock()
	name, password := c.name, c.password
	c.mu.RUnlock()
	if name != "" {
		ctx = withCredentials(ctx, name, password)
	}
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
	if err != nil {
		c.logger.Debug("ims call failed", zap.String("method", method), zap.Error(err))
		return FromStatus(method, err)
	}
	return nil
}

func (c *Client) Login(ctx context.Context, name, password string) (model.UserInfo, error) {
	var out UserResponse
	err := c.conn.Invoke(withCredentials(ctx, name, password), "/"+ServiceName+"/GetUser", &LoginRequest{}, &out)
	if err != nil {
		return model.UserInfo{}, FromStatus("GetUser", err)
	}
	c.mu.Lock()
	c.name, c.password = name, password
	c.mu.Unlock()
	return out, nil
}

// Logout forgets the stored credentials. The server keeps no session state.
func (c *Client) Logout(_ context.Context) error {
	c.mu.Lock()
	c.name, c.password = "", ""
	c.mu.Unlock()
	return nil
}

func (c *Client) Register(ctx context.Context, name, password, info string) error {
	return c.invoke(ctx, "UserRegister", &RegisterRequest{Name: name, Password: password, Info: info}, &Empty{})
}

func (c *Client) FetchFriends(ctx context.Context, since int64) (model.FriendPage, error) {
	var out FriendsResponse
	err := c.invoke(ctx, "GetFriends", &CursorRequest{Since: since}, &out)
	return out, err
}

func (c *Client) FetchChats(ctx context.Context, since int64) (model.ChatPage, error) {
	var out ChatsResponse
	err := c.invoke(ctx, "GetChats", &CursorRequest{Since: since}, &out)
	return out, err
}

func (c *Client) FetchChat(ctx context.Context, chatID int64) (model.ChatSummary, error) {
	var out ChatInfoResponse
	err := c.invoke(ctx, "GetChatInfo", &ChatRequest{ChatID: chatID}, &out)
	return out, err
}

func (c *Client) FetchChatMessages(ctx context.Context, chatID, since int64) (model.MessagePage, error) {
	var out MessagesResponse
	err := c.invoke(ctx, "GetChatMessages", &ChatRequest{ChatID: chatID, Since: since}, &out)
	return out, err
}

func (c *Client) FetchNotifications(ctx context.Context, since int64) (model.NotificationDiff, error) {
	var out NotificationResponse
	err := c.invoke(ctx, "GetPendingNotifications", &CursorRequest{Since: since}, &out)
	return out, err
}

func (c *Client) CreateChat(ctx context.Context, description, member string) (int64, error) {
	var out CreateChatResponse
	err := c.invoke(ctx, "CreateChat", &CreateChatRequest{Description: description, Member: member}, &out)
	return out.ChatID, err
}

func (c *Client) AddMember(ctx context.Context, chatID int64, name string) error {
	return c.invoke(ctx, "AddMember", &MemberRequest{ChatID: chatID, Name: name}, &Empty{})
}

func (c *Client) LeaveChat(ctx context.Context, chatID int64) error {
	return c.invoke(ctx, "QuitFromChat", &ChatRequest{ChatID: chatID}, &Empty{})
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text, attachment string) (int64, error) {
	var out TimestampResponse
	err := c.invoke(ctx, "SendMessage", &SendMessageRequest{ChatID: chatID, Text: text, Attachment: attachment}, &out)
	return out.Timestamp, err
}

func (c *Client) SendFriendRequest(ctx context.Context, name string) (int64, error) {
	var out TimestampResponse
	err := c.invoke(ctx, "SendFriendRequest", &UserRequest{Name: name}, &out)
	return out.Timestamp, err
}

func (c *Client) AcceptRequest(ctx context.Context, name string) (int64, error) {
	var out TimestampResponse
	err := c.invoke(ctx, "AcceptRequest", &UserRequest{Name: name}, &out)
	return out.Timestamp, err
}

func (c *Client) DeclineRequest(ctx context.Context, name string) (int64, error) {
	var out TimestampResponse
	err := c.invoke(ctx, "DeclineRequest", &UserRequest{Name: name}, &out)
	return out.Timestamp, err
}
