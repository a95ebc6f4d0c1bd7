package rpc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/matheus3301/ims/internal/model"
	"github.com/matheus3301/ims/internal/rpc"
	"github.com/matheus3301/ims/internal/rpc/rpctest"
)

func testClient(t *testing.T, b *rpctest.Backend) *rpc.Client {
	t.Helper()
	dialer, stop := b.Listen()
	t.Cleanup(stop)
	c, err := rpc.Dial(rpctest.Target, nil, dialer)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLoginStoresCredentials(t *testing.T) {
	b := rpctest.NewBackend()
	b.AddUser("alice", "pw", "hi there")
	c := testClient(t, b)
	ctx := context.Background()

	if _, err := c.FetchFriends(ctx, 0); !errors.Is(err, model.ErrAuth) {
		t.Fatalf("fetch before login: got %v, want ErrAuth", err)
	}

	user, err := c.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if user.Name != "alice" || user.Info != "hi there" {
		t.Errorf("user = %+v", user)
	}
	if _, err := c.FetchFriends(ctx, 0); err != nil {
		t.Errorf("fetch after login: %v", err)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.FetchFriends(ctx, 0); !errors.Is(err, model.ErrAuth) {
		t.Errorf("fetch after logout: got %v, want ErrAuth", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	b := rpctest.NewBackend()
	b.AddUser("alice", "pw", "")
	c := testClient(t, b)

	_, err := c.Login(context.Background(), "alice", "nope")
	if !errors.Is(err, model.ErrAuth) {
		t.Errorf("got %v, want ErrAuth", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	b := rpctest.NewBackend()
	c := testClient(t, b)
	ctx := context.Background()

	if err := c.Register(ctx, "bob", "pw", "info"); err != nil {
		t.Fatal(err)
	}
	if err := c.Register(ctx, "bob", "pw", "info"); !errors.Is(err, model.ErrDuplicateKey) {
		t.Errorf("got %v, want ErrDuplicateKey", err)
	}
}

func TestUnavailableIsTransportError(t *testing.T) {
	b := rpctest.NewBackend()
	b.AddUser("alice", "pw", "")
	c := testClient(t, b)
	ctx := context.Background()
	if _, err := c.Login(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}

	b.SetUnavailable(true)
	_, err := c.FetchNotifications(ctx, 0)
	if !errors.Is(err, model.ErrTransport) {
		t.Fatalf("got %v, want ErrTransport", err)
	}
	var te *model.TransportError
	if !errors.As(err, &te) || te.Op != "GetPendingNotifications" {
		t.Errorf("transport error op = %+v", te)
	}
}

func TestChatRoundTrip(t *testing.T) {
	b := rpctest.NewBackend()
	b.AddUser("alice", "pw", "a")
	b.AddUser("bob", "pw", "b")
	b.MakeFriends("alice", "bob")
	c := testClient(t, b)
	ctx := context.Background()
	if _, err := c.Login(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}

	id, err := c.CreateChat(ctx, "lunch", "bob")
	if err != nil {
		t.Fatal(err)
	}
	info, err := c.FetchChat(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if info.Admin != "alice" || len(info.Members) != 1 || info.Members[0] != "bob" {
		t.Errorf("chat info = %+v", info)
	}

	ts, err := c.SendMessage(ctx, id, "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	b.Post(id, "bob", "hey")

	page, err := c.FetchChatMessages(ctx, id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("got %d messages, want 2", len(page.Entries))
	}
	if page.Entries[0].Timestamp != ts || page.Entries[1].Sender != "bob" {
		t.Errorf("messages = %+v", page.Entries)
	}
	if page.Cursor != page.Entries[1].Timestamp {
		t.Errorf("cursor = %d, want %d", page.Cursor, page.Entries[1].Timestamp)
	}

	if _, err := c.FetchChat(ctx, 999); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown chat: got %v, want ErrNotFound", err)
	}
}

func TestNotificationsCarryRequests(t *testing.T) {
	b := rpctest.NewBackend()
	b.AddUser("alice", "pw", "")
	b.AddUser("bob", "pw", "")
	alice := testClient(t, b)
	bob := testClient(t, b)
	ctx := context.Background()
	if _, err := alice.Login(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.Login(ctx, "bob", "pw"); err != nil {
		t.Fatal(err)
	}

	ts, err := bob.SendFriendRequest(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	diff, err := alice.FetchNotifications(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.NewFriendRequests) != 1 || diff.NewFriendRequests[0] != (model.NewFriendRequest{Name: "bob", Timestamp: ts}) {
		t.Errorf("requests = %+v", diff.NewFriendRequests)
	}

	again, err := alice.FetchNotifications(ctx, diff.Cursor)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Empty() {
		t.Errorf("diff after cursor not empty: %+v", again)
	}

	if _, err := alice.AcceptRequest(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := alice.DeclineRequest(ctx, "bob"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second resolve: got %v, want ErrNotFound", err)
	}
	page, err := alice.FetchFriends(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 1 || page.Entries[0].Name != "bob" {
		t.Errorf("friends = %+v", page.Entries)
	}
}
