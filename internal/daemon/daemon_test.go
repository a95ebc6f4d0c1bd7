package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/ims/internal/api"
	"github.com/matheus3301/ims/internal/bus"
	"github.com/matheus3301/ims/internal/config"
	"github.com/matheus3301/ims/internal/lock"
	"github.com/matheus3301/ims/internal/rpc"
	"github.com/matheus3301/ims/internal/rpc/rpctest"
	"github.com/matheus3301/ims/internal/session"
	"github.com/matheus3301/ims/internal/status"
	"github.com/matheus3301/ims/internal/store"
	intsync "github.com/matheus3301/ims/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// shortHome points IMS_HOME at a short temp dir to stay under the 104-char
// Unix socket limit on macOS.
func shortHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "ims-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("IMS_HOME", dir)
	return dir
}

// serveBackend exposes b on a loopback TCP port and returns its address.
func serveBackend(t *testing.T, b *rpctest.Backend) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	rpc.RegisterIMSServer(srv, b)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func testParams(addr string) Params {
	return Params{
		SessionName: "test",
		Config: &config.Config{
			ServerAddress: addr,
			PollInterval:  config.Duration{Duration: 20 * time.Millisecond},
			FetchNewChats: true,
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestModuleGraphIsValid(t *testing.T) {
	if err := fx.ValidateApp(Module(Params{SessionName: "test"}), fx.NopLogger); err != nil {
		t.Fatalf("ValidateApp() = %v", err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	shortHome(t)
	b := rpctest.NewBackend()
	b.AddUser("alice", "pw", "")
	b.AddUser("bob", "pw", "")
	b.MakeFriends("alice", "bob")
	addr := serveBackend(t, b)

	app := fx.New(Module(testParams(addr)), fx.NopLogger)
	if err := app.Err(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = app.Stop(context.Background())
		}
	}()

	c, err := api.Dial(session.SocketPath("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Session != "test" || resp.Status != string(status.AuthRequired) {
		t.Errorf("status = %+v, want AUTH_REQUIRED", resp)
	}

	if _, err := c.Login(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}

	// Bob creates a chat with alice; the poller picks it up.
	bob, err := rpc.Dial(addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = bob.Close() }()
	if _, err := bob.Login(ctx, "bob", "pw"); err != nil {
		t.Fatal(err)
	}
	id, err := bob.CreateChat(ctx, "trip", "alice")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "chat on alice's side", func() bool {
		v, err := c.Chat(ctx, id)
		return err == nil && !v.Placeholder && v.Description == "trip"
	})

	if err := app.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	stopped = true

	if _, err := os.Stat(session.SocketPath("test")); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	lk, err := lock.Acquire(session.LockPath("test"), "test")
	if err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	_ = lk.Release()

	db, err := store.OpenMigrated(session.StatePath("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	snap, err := db.LoadSnapshot()
	if err != nil {
		t.Fatalf("no state saved on stop: %v", err)
	}
	if snap.User.Name != "alice" || len(snap.Chats) != 1 || snap.Chats[0].ID != id {
		t.Errorf("saved snapshot = %+v", snap)
	}
}

func TestSecondDaemonRefused(t *testing.T) {
	shortHome(t)
	addr := serveBackend(t, rpctest.NewBackend())

	first := fx.New(Module(testParams(addr)), fx.NopLogger)
	if err := first.Err(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = first.Stop(context.Background()) }()

	second := fx.New(Module(testParams(addr)), fx.NopLogger)
	var held *lock.LockHeldError
	if !errors.As(second.Err(), &held) {
		t.Fatalf("second daemon: err = %v, want LockHeldError", second.Err())
	}
	if held.Owner.PID != os.Getpid() || held.Owner.Session != "test" {
		t.Errorf("owner = %+v", held.Owner)
	}
}

func TestNewServerUsesSocketOverride(t *testing.T) {
	dir := shortHome(t)
	socketPath := filepath.Join(dir, "d.sock")

	eb := bus.New()
	machine := status.NewMachine(eb)
	engine := intsync.NewEngine(nil, eb, nil)
	p := Params{SessionName: "override", SocketPath: socketPath}
	srv, err := NewServer(p, zap.NewNop(), api.Services{
		Session: api.NewSessionService("override", machine, engine, nil, nil),
		Friend:  api.NewFriendService(engine),
		Chat:    api.NewChatService(engine, nil),
		Event:   api.NewEventService("override", eb, nil),
	})
	if err != nil {
		t.Fatalf("NewServer() = %v", err)
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perm = %o, want 0600", perm)
	}
	if srv.SocketPath() != socketPath {
		t.Errorf("SocketPath() = %q", srv.SocketPath())
	}

	go func() { _ = srv.Start() }()
	c, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != string(status.Booting) || resp.LoggedIn {
		t.Errorf("status = %+v, want BOOTING", resp)
	}

	srv.Stop(ctx)
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
}
