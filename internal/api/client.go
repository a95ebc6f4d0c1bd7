package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/ims/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client talks to a session daemon's control services.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on the Unix socket at socketPath.
func Dial(socketPath string, opts ...grpc.DialOption) (*Client, error) {
	return DialTarget("unix://"+socketPath, opts...)
}

// DialTarget connects to the daemon at a gRPC target.
func DialTarget(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		rpc.CallOption(),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, service, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, "/"+service+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, SessionServiceName, "GetStatus", &Empty{})
}

func (c *Client) Login(ctx context.Context, name, password string) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c, SessionServiceName, "Login", &LoginRequest{Name: name, Password: password})
}

func (c *Client) Register(ctx context.Context, name, password, info string) error {
	_, err := invoke[Empty](ctx, c, SessionServiceName, "Register", &RegisterRequest{Name: name, Password: password, Info: info})
	return err
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := invoke[Empty](ctx, c, SessionServiceName, "Logout", &Empty{})
	return err
}

func (c *Client) Save(ctx context.Context) (*SaveResponse, error) {
	return invoke[SaveResponse](ctx, c, SessionServiceName, "Save", &Empty{})
}

func (c *Client) Friends(ctx context.Context) (*FriendsResponse, error) {
	return invoke[FriendsResponse](ctx, c, FriendServiceName, "ListFriends", &Empty{})
}

func (c *Client) Requests(ctx context.Context) (*RequestsResponse, error) {
	return invoke[RequestsResponse](ctx, c, FriendServiceName, "ListRequests", &Empty{})
}

func (c *Client) SendRequest(ctx context.Context, name string) error {
	_, err := invoke[Empty](ctx, c, FriendServiceName, "SendRequest", &NameRequest{Name: name})
	return err
}

func (c *Client) AcceptRequest(ctx context.Context, name string) error {
	_, err := invoke[Empty](ctx, c, FriendServiceName, "AcceptRequest", &NameRequest{Name: name})
	return err
}

func (c *Client) DeclineRequest(ctx context.Context, name string) error {
	_, err := invoke[Empty](ctx, c, FriendServiceName, "DeclineRequest", &NameRequest{Name: name})
	return err
}

func (c *Client) Chats(ctx context.Context) (*ChatsResponse, error) {
	return invoke[ChatsResponse](ctx, c, ChatServiceName, "ListChats", &Empty{})
}

func (c *Client) Chat(ctx context.Context, id int64) (*ChatResponse, error) {
	return invoke[ChatResponse](ctx, c, ChatServiceName, "GetChat", &ChatRequest{ChatID: id})
}

func (c *Client) OpenChat(ctx context.Context, id int64) (*OpenChatResponse, error) {
	return invoke[OpenChatResponse](ctx, c, ChatServiceName, "OpenChat", &ChatRequest{ChatID: id})
}

func (c *Client) CreateChat(ctx context.Context, description, member string) (int64, error) {
	resp, err := invoke[CreateChatResponse](ctx, c, ChatServiceName, "CreateChat", &CreateChatRequest{Description: description, Member: member})
	if err != nil {
		return 0, err
	}
	return resp.ChatID, nil
}

func (c *Client) AddMember(ctx context.Context, id int64, name string) error {
	_, err := invoke[Empty](ctx, c, ChatServiceName, "AddMember", &MemberRequest{ChatID: id, Name: name})
	return err
}

func (c *Client) LeaveChat(ctx context.Context, id int64) error {
	_, err := invoke[Empty](ctx, c, ChatServiceName, "LeaveChat", &ChatRequest{ChatID: id})
	return err
}

func (c *Client) SendMessage(ctx context.Context, id int64, text, attachment string) (int64, error) {
	resp, err := invoke[SendMessageResponse](ctx, c, ChatServiceName, "SendMessage", &SendMessageRequest{ChatID: id, Text: text, Attachment: attachment})
	if err != nil {
		return 0, err
	}
	return resp.Timestamp, nil
}

// Watch streams events whose kind starts with prefix to fn until ctx is
// done, the daemon closes the stream or fn returns an error.
func (c *Client) Watch(ctx context.Context, prefix string, fn func(*EventEnvelope) error) error {
	desc := &grpc.StreamDesc{StreamName: "WatchEvents", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, "/"+EventServiceName+"/WatchEvents")
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&WatchRequest{Prefix: prefix}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		env := new(EventEnvelope)
		if err := stream.RecvMsg(env); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}
