// Package rpctest provides an in-memory IMS server for tests.
package rpctest

import (
	"context"
	"net"
	"slices"
	"sync"

	"github.com/matheus3301/ims/internal/model"
	"github.com/matheus3301/ims/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type user struct {
	password string
	info     string
	friends  map[string]int64 // friend name -> friendship timestamp
	events   []event
}

type eventKind int

const (
	evFriendRequest eventKind = iota
	evDeletedFriend
	evNewChat
	evDeletedChat
	evChatMessage
)

type event struct {
	kind   eventKind
	ts     int64
	name   string
	chatID int64
}

type chatRoom struct {
	id          int64
	description string
	admin       string
	members     []string
	updatedAt   int64
	messages    []model.Message
}

func (c *chatRoom) participants() []string {
	return append([]string{c.admin}, c.members...)
}

func (c *chatRoom) has(name string) bool {
	return c.admin == name || slices.Contains(c.members, name)
}

type request struct {
	from, to string
	ts       int64
}

// Backend is an in-memory IMS server. Every mutation advances a logical
// clock; cursors returned to clients are values of that clock.
type Backend struct {
	mu          sync.Mutex
	clock       int64
	nextChat    int64
	users       map[string]*user
	chats       map[int64]*chatRoom
	requests    []request
	unavailable bool
}

var _ rpc.IMSServer = (*Backend)(nil)

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	return &Backend{
		users:    make(map[string]*user),
		chats:    make(map[int64]*chatRoom),
		nextChat: 1,
	}
}

// Listen starts a gRPC server for b on an in-memory listener. The returned
// dial option connects a client to it; stop shuts the server down.
func (b *Backend) Listen() (grpc.DialOption, func()) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	rpc.RegisterIMSServer(srv, b)
	go func() { _ = srv.Serve(lis) }()
	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	return dialer, srv.Stop
}

// Target is the address to dial together with the option returned by Listen.
const Target = "passthrough:///bufnet"

// SetUnavailable makes every call fail with codes.Unavailable.
func (b *Backend) SetUnavailable(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unavailable = v
}

// Clock returns the current logical time.
func (b *Backend) Clock() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clock
}

func (b *Backend) tick() int64 {
	b.clock++
	return b.clock
}

func (b *Backend) notify(name string, e event) {
	if u, ok := b.users[name]; ok {
		u.events = append(u.events, e)
	}
}

// AddUser registers a user directly.
func (b *Backend) AddUser(name, password, info string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[name] = &user{password: password, info: info, friends: make(map[string]int64)}
}

// MakeFriends links two existing users.
func (b *Backend) MakeFriends(a, c string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.tick()
	b.users[a].friends[c] = ts
	b.users[c].friends[a] = ts
}

// Unfriend removes the friendship and notifies both users.
func (b *Backend) Unfriend(a, c string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.tick()
	delete(b.users[a].friends, c)
	delete(b.users[c].friends, a)
	b.notify(a, event{kind: evDeletedFriend, ts: ts, name: c})
	b.notify(c, event{kind: evDeletedFriend, ts: ts, name: a})
}

// Post appends a message to a chat on behalf of sender and notifies the
// other participants.
func (b *Backend) Post(chatID int64, sender, text string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.post(b.chats[chatID], sender, text, "")
}

func (b *Backend) post(c *chatRoom, sender, text, attachment string) int64 {
	ts := b.tick()
	c.messages = append(c.messages, model.Message{Sender: sender, Text: text, Timestamp: ts, Attachment: attachment})
	for _, p := range c.participants() {
		if p != sender {
			b.notify(p, event{kind: evChatMessage, ts: ts, chatID: c.id})
		}
	}
	return ts
}

// RemoveChat deletes a chat and notifies its participants.
func (b *Backend) RemoveChat(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.chats[chatID]
	ts := b.tick()
	delete(b.chats, chatID)
	for _, p := range c.participants() {
		b.notify(p, event{kind: evDeletedChat, ts: ts, chatID: chatID})
	}
}

func (b *Backend) auth(ctx context.Context) (string, *user, error) {
	if b.unavailable {
		return "", nil, grpcstatus.Error(codes.Unavailable, "server unavailable")
	}
	name, password, ok := rpc.Credentials(ctx)
	if !ok {
		return "", nil, grpcstatus.Error(codes.Unauthenticated, "missing credentials")
	}
	u, found := b.users[name]
	if !found || u.password != password {
		return "", nil, grpcstatus.Error(codes.Unauthenticated, "invalid credentials")
	}
	return name, u, nil
}

func (b *Backend) chatFor(name string, id int64) (*chatRoom, error) {
	c, ok := b.chats[id]
	if !ok || !c.has(name) {
		return nil, grpcstatus.Errorf(codes.NotFound, "chat %d not found", id)
	}
	return c, nil
}

func summary(c *chatRoom) model.ChatSummary {
	return model.ChatSummary{
		ID:              c.id,
		Description:     c.description,
		Admin:           c.admin,
		Members:         slices.Clone(c.members),
		MemberTimestamp: c.updatedAt,
	}
}

func (b *Backend) GetUser(ctx context.Context, _ *rpc.LoginRequest) (*rpc.UserResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, u, err := b.auth(ctx)
	if err != nil {
		return nil, err
	}
	return &model.UserInfo{Name: name, Info: u.info}, nil
}

func (b *Backend) UserRegister(_ context.Context, req *rpc.RegisterRequest) (*rpc.Empty, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unavailable {
		return nil, grpcstatus.Error(codes.Unavailable, "server unavailable")
	}
	if req.Name == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "empty name")
	}
	if _, ok := b.users[req.Name]; ok {
		return nil, grpcstatus.Errorf(codes.AlreadyExists, "user %q exists", req.Name)
	}
	b.users[req.Name] = &user{password: req.Password, info: req.Info, friends: make(map[string]int64)}
	return &rpc.Empty{}, nil
}

func (b *Backend) GetFriends(ctx context.Context, req *rpc.CursorRequest) (*rpc.FriendsResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, u, err := b.auth(ctx)
	if err != nil {
		return nil, err
	}
	out := &model.FriendPage{Cursor: b.clock}
	names := make([]string, 0, len(u.friends))
	for n, ts := range u.friends {
		if ts > req.Since {
			names = append(names, n)
		}
	}
	slices.SortFunc(names, func(x, y string) int { return int(u.friends[x] - u.friends[y]) })
	for _, n := range names {
		out.Entries = append(out.Entries, model.Friend{Name: n, Info: b.users[n].info})
	}
	return out, nil
}

func (b *Backend) GetChats(ctx context.Context, req *rpc.CursorRequest) (*rpc.ChatsResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, _, err := b.auth(ctx)
	if err != nil {
		return nil, err
	}
	out := &model.ChatPage{Cursor: b.clock}
	var ids []int64
	for id, c := range b.chats {
		if c.has(name) && c.updatedAt > req.Since {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		out.Entries = append(out.Entries, summary(b.chats[id]))
	}
	return out, nil
}

func (b *Backend) GetChatInfo(ctx context.Context, req *rpc.ChatRequest) (*rpc.ChatInfoResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, _, err := b.auth(ctx)
	if err != nil {
		return nil, err
	}
	c, err := b.chatFor(name, req.ChatID)
	if err != nil {
		return nil, err
	}
	s := summary(c)
	return &s, nil
}

func (b *Backend) GetChatMessages(ctx context.Context, req *rpc.ChatRequest) (*rpc.MessagesResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, _, err := b.auth(ctx)
	if err != nil {
		return nil, err
	}
	c, err := b.chatFor(name, req.ChatID)
	if err != nil {
		return nil, err
	}
	out := &model.MessagePage{Cursor: req.Since}
	for _, m := range c.messages {
		if m.Timestamp > req.Since {
			out.Entries = append(out.Entries, m)
			out.Cursor = m.Timestamp
		}
	}
	return out, nil
}

func (b *Backend) GetPendingNotifications(ctx context.Context, req *rpc.CursorRequest) (*rpc.NotificationResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, u, err := b.auth(ctx)
	if err != nil {
		return nil, err
	}
	out := &model.NotificationDiff{Cursor: max(b.clock, req.Since)}
	withMessages := map[int64]bool{}
	for _, e := range u.events {
		if e.ts <= req.Since {
			continue
		}
		switch e.kind {
		case evFriendRequest:
			out.NewFriendRequests = append(out.NewFriendRequests, model.NewFriendRequest{Name: e.name, Timestamp: e.ts})
		case evDeletedFriend:
			out.DeletedFriends = append(out.DeletedFriends, e.name)
		case evNewChat:
			out.NewChats = append(out.NewChats, e.chatID)
		case evDeletedChat:
			out.DeletedChats = append(out.DeletedChats, e.chatID)
		case evChatMessage:
			if !withMessages[e.chatID] {
				withMessages[e.chatID] = true
				out.ChatsWithNewMessages = append(out.ChatsWithNewMessages, e.chatID)
			}
		}
	}
	return out, nil
}

func (b *Backend) CreateChat(ctx context.Context, req *rpc.CreateChatRequest) (*rpc.CreateChatResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, u, err := b.auth(ctx)
	if err != nil {
		return nil, err
	}
	if req.Member != "" {
		if _, ok := u.friends[req.Member]; !ok {
			return nil, grpcstatus.Errorf(codes.NotFound, "friend %q not found", req.Member)
		}
	}
	ts := b.tick()
	c := &chatRoom{id: b.nextChat, description: req.Description, admin: name, updatedAt: ts}
	b.nextChat++
	if req.Member != "" {
		c.members = append(c.members, req.Member)
		b.notify(req.Member, event{kind: evNewChat, ts: ts, chatID: c.id})
	}
	b.chats[c.id] = c
	return &rpc.CreateChatResponse{ChatID: c.id}, nil
}

func (b *Backend) AddMember(ctx context.Context, req *rpc.MemberRequest) (*rpc.Empty, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, _, err := b.auth(ctx)
	if err != nil {
		return nil, err
	}
	c, err := b.chatFor(name, req.ChatID)
	if err != nil {
		return nil, err
	}
	if c.admin != name {
		return nil, grpcstatus.Error(codes.PermissionDenied, "only the admin may add members")
	}
	if _, ok := b.users[req.Name]; !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "user %q not found", req.Name)
	}
	if c.has(req.Name) {
		return nil, grpcstatus.Errorf(codes.AlreadyExists, "%q already in chat", req.Name)
	}
	ts := b.tick()
	c.members = append(c.members, req.Name)
	c.updatedAt = ts
	b.notify(req.Name, event{kind: evNewChat, ts: ts, chatID: c.id})
	return &rpc.Empty{}, nil
}

func (b *Backend) QuitFromChat(ctx context.Context, req *rpc.ChatRequest) (*rpc.Empty, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, _, err := b.auth(ctx)
	if err != nil {
		return nil, err
	}
	c, err := b.chatFor(name, req.ChatID)
	if err != nil {
		return nil, err
	}
	ts := b.tick()
	c.updatedAt = ts
	if c.admin == name {
		if len(c.members) == 0 {
			delete(b.chats, c.id)
			return &rpc.Empty{}, nil
		}
		c.admin, c.members = c.members[0], c.members[1:]
		return &rpc.Empty{}, nil
	}
	c.members = slices.DeleteFunc(c.members, func(m string) bool { return m == name })
	return &rpc.Empty{}, nil
}

func (b *Backend) SendMessage(ctx context.Context, req *rpc.SendMessageRequest) (*rpc.TimestampResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, _, err := b.auth(ctx)
	if err != nil {
		return nil, err
	}
	c, err := b.chatFor(name, req.ChatID)
	if err != nil {
		return nil, err
	}
	return &rpc.TimestampResponse{Timestamp: b.post(c, name, req.Text, req.Attachment)}, nil
}

func (b *Backend) SendFriendRequest(ctx context.Context, req *rpc.UserRequest) (*rpc.TimestampResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, u, err := b.auth(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := b.users[req.Name]; !ok || req.Name == name {
		return nil, grpcstatus.Errorf(codes.NotFound, "user %q not found", req.Name)
	}
	if _, ok := u.friends[req.Name]; ok {
		return nil, grpcstatus.Errorf(codes.AlreadyExists, "already friends with %q", req.Name)
	}
	for _, r := range b.requests {
		if r.from == name && r.to == req.Name {
			return nil, grpcstatus.Errorf(codes.AlreadyExists, "request to %q already sent", req.Name)
		}
	}
	ts := b.tick()
	b.requests = append(b.requests, request{from: name, to: req.Name, ts: ts})
	b.notify(req.Name, event{kind: evFriendRequest, ts: ts, name: name})
	return &rpc.TimestampResponse{Timestamp: ts}, nil
}

func (b *Backend) resolve(ctx context.Context, from string, accept bool) (*rpc.TimestampResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, u, err := b.auth(ctx)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(b.requests, func(r request) bool { return r.from == from && r.to == name })
	if i < 0 {
		return nil, grpcstatus.Errorf(codes.NotFound, "no request from %q", from)
	}
	b.requests = slices.Delete(b.requests, i, i+1)
	ts := b.tick()
	if accept {
		u.friends[from] = ts
		b.users[from].friends[name] = ts
	}
	return &rpc.TimestampResponse{Timestamp: ts}, nil
}

func (b *Backend) AcceptRequest(ctx context.Context, req *rpc.UserRequest) (*rpc.TimestampResponse, error) {
	return b.resolve(ctx, req.Name, true)
}

func (b *Backend) DeclineRequest(ctx context.Context, req *rpc.UserRequest) (*rpc.TimestampResponse, error) {
	return b.resolve(ctx, req.Name, false)
}
