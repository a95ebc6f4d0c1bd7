package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/ims/internal/bus"
	"github.com/matheus3301/ims/internal/model"
	"github.com/matheus3301/ims/internal/rpc"
	"github.com/matheus3301/ims/internal/rpc/rpctest"
	"github.com/matheus3301/ims/internal/status"
	"go.uber.org/zap"
)

func backendEngine(t *testing.T, b *rpctest.Backend, name string) *Engine {
	t.Helper()
	dialer, stop := b.Listen()
	t.Cleanup(stop)
	c, err := rpc.Dial(rpctest.Target, nil, dialer)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	e := NewEngine(c, bus.New(), nil)
	if _, err := e.Login(context.Background(), name, "pw"); err != nil {
		t.Fatal(err)
	}
	return e
}

func readyMachine(t *testing.T) *status.Machine {
	t.Helper()
	m := status.NewMachine(nil)
	for _, s := range []status.State{status.AuthRequired, status.Connecting, status.Syncing, status.Ready} {
		if err := m.Transition(s); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestPollerAppliesNotifications(t *testing.T) {
	b := rpctest.NewBackend()
	b.AddUser("alice", "pw", "")
	b.AddUser("bob", "pw", "")
	b.MakeFriends("alice", "bob")
	alice := backendEngine(t, b, "alice")
	bob := backendEngine(t, b, "bob")

	logger, _ := zap.NewDevelopment()
	p := NewPoller(bob, nil, PollerConfig{Interval: 20 * time.Millisecond, FetchNewChats: true}, logger)
	p.Start(context.Background())
	defer p.Stop()

	id, err := alice.CreateChat(context.Background(), "plans", "bob")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "chat completed on bob's side", func() bool {
		s, err := bob.Chats().Get(id)
		return err == nil && !s.Placeholder && s.Description == "plans"
	})

	b.Post(id, "alice", "hi bob")
	waitFor(t, "pending on bob's side", func() bool {
		s, err := bob.Chats().Get(id)
		return err == nil && s.Pending == 1
	})
	p.Stop()
	b.Post(id, "alice", "are you there")

	n, err := bob.RefreshChat(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	s, _ := bob.Chats().Get(id)
	if n != 2 || s.Unread != 2 || s.Pending != 0 {
		t.Errorf("after refresh: n=%d unread=%d pending=%d, want 2 2 0", n, s.Unread, s.Pending)
	}
}

func TestPollerDegradesAndRecovers(t *testing.T) {
	b := rpctest.NewBackend()
	b.AddUser("alice", "pw", "")
	e := backendEngine(t, b, "alice")
	m := readyMachine(t)

	p := NewPoller(e, m, PollerConfig{Interval: 20 * time.Millisecond}, nil)
	p.Start(context.Background())
	defer p.Stop()

	b.SetUnavailable(true)
	waitFor(t, "DEGRADED", func() bool { return m.Current() == status.Degraded })
	b.SetUnavailable(false)
	waitFor(t, "READY", func() bool { return m.Current() == status.Ready })
}

func TestPollerStopBlocksAndIsIdempotent(t *testing.T) {
	b := rpctest.NewBackend()
	b.AddUser("alice", "pw", "")
	e := backendEngine(t, b, "alice")

	p := NewPoller(e, nil, PollerConfig{Interval: 50 * time.Millisecond}, nil)
	p.Start(context.Background())
	time.Sleep(120 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// A stopped poller never restarts.
	p.Start(context.Background())
	cursor := e.Cursors().Notifications
	b.AddUser("bob", "pw", "")
	b.MakeFriends("alice", "bob")
	b.Unfriend("alice", "bob")
	time.Sleep(150 * time.Millisecond)
	if got := e.Cursors().Notifications; got != cursor {
		t.Errorf("cursor moved after Stop: %d -> %d", cursor, got)
	}
}

func TestPollerStopWithoutStart(t *testing.T) {
	p := NewPoller(NewEngine(nil, nil, nil), nil, PollerConfig{}, nil)
	p.Stop()
}

func TestPollerIdleWhileLoggedOut(t *testing.T) {
	gw := newMockGateway()
	e := NewEngine(gw, nil, nil)
	p := NewPoller(e, nil, PollerConfig{Interval: 10 * time.Millisecond}, nil)
	p.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	p.Stop()
	if len(gw.notifSince) != 0 {
		t.Errorf("poller fetched %d times while logged out", len(gw.notifSince))
	}
}

// slowGateway holds the first notifications fetch until release is closed.
type slowGateway struct {
	*mockGateway
	entered chan struct{}
	release chan struct{}
	fetches atomic.Int32
}

func (g *slowGateway) FetchNotifications(ctx context.Context, since int64) (model.NotificationDiff, error) {
	if g.fetches.Add(1) == 1 {
		close(g.entered)
		<-g.release
		if err := ctx.Err(); err != nil {
			return model.NotificationDiff{}, &model.TransportError{Op: "notifications", Err: err}
		}
	}
	return g.mockGateway.FetchNotifications(ctx, since)
}

func TestPollerStopLetsInFlightPollFinish(t *testing.T) {
	gw := &slowGateway{
		mockGateway: newMockGateway(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	gw.notifications = []model.NotificationDiff{{
		NewFriendRequests: []model.NewFriendRequest{{Name: "carol", Timestamp: 5}},
		Cursor:            5,
	}}
	e := NewEngine(gw, nil, nil)
	if _, err := e.Login(context.Background(), "me", "pw"); err != nil {
		t.Fatal(err)
	}

	p := NewPoller(e, nil, PollerConfig{Interval: 10 * time.Millisecond}, nil)
	p.Start(context.Background())
	select {
	case <-gw.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never fetched")
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a poll was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gw.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	got := e.Friends().Received()
	if len(got) != 1 || got[0].Name != "carol" {
		t.Errorf("received = %+v, want the in-flight request from carol", got)
	}
	if c := e.Cursors().Notifications; c != 5 {
		t.Errorf("notification cursor = %d, want 5", c)
	}
}

func TestMutationsAlongsidePoller(t *testing.T) {
	b := rpctest.NewBackend()
	b.AddUser("alice", "pw", "")
	b.AddUser("bob", "pw", "")
	b.AddUser("carol", "pw", "")
	b.MakeFriends("alice", "bob")
	alice := backendEngine(t, b, "alice")
	bob := backendEngine(t, b, "bob")
	carol := backendEngine(t, b, "carol")
	ctx := context.Background()

	p := NewPoller(alice, nil, PollerConfig{Interval: 5 * time.Millisecond, FetchNewChats: true}, nil)
	p.Start(ctx)
	defer p.Stop()

	id, err := bob.CreateChat(ctx, "team", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := carol.SendFriendRequest(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "chat and request on alice's side", func() bool {
		s, err := alice.Chats().Get(id)
		return err == nil && !s.Placeholder && len(alice.Friends().Received()) == 1
	})

	const perSide = 20
	sent := make(chan error, 1)
	go func() {
		for i := 0; i < perSide; i++ {
			if _, err := alice.SendMessage(ctx, id, fmt.Sprintf("a%d", i), ""); err != nil {
				sent <- err
				return
			}
		}
		sent <- nil
	}()
	for i := 0; i < perSide; i++ {
		b.Post(id, "bob", fmt.Sprintf("b%d", i))
	}
	if err := alice.AcceptRequest(ctx, "carol"); err != nil {
		t.Fatal(err)
	}
	if err := <-sent; err != nil {
		t.Fatal(err)
	}
	p.Stop()

	if _, err := alice.RefreshChat(ctx, id); err != nil {
		t.Fatal(err)
	}
	msgs, err := alice.Chats().Messages(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2*perSide {
		t.Errorf("history has %d messages, want %d", len(msgs), 2*perSide)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp <= msgs[i-1].Timestamp {
			t.Fatalf("history out of order at %d: %d after %d", i, msgs[i].Timestamp, msgs[i-1].Timestamp)
		}
	}
	if _, err := alice.Friends().Find("carol"); err != nil {
		t.Errorf("carol not a friend after accept: %v", err)
	}
	if got := alice.Friends().Received(); len(got) != 0 {
		t.Errorf("received requests = %+v, want none", got)
	}
}
