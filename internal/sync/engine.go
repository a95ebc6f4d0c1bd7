// Package sync keeps the local mirror of friends and chats consistent with
// the IMS server. The Engine applies notification diffs and lazy refreshes;
// the Poller drives it in the background.
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/matheus3301/ims/internal/bus"
	"github.com/matheus3301/ims/internal/chats"
	"github.com/matheus3301/ims/internal/friends"
	"github.com/matheus3301/ims/internal/model"
	"github.com/matheus3301/ims/internal/rpc"
	"go.uber.org/zap"
)

// ErrNotLoggedIn is returned by operations that need a logged-in user.
var ErrNotLoggedIn = errors.New("not logged in")

// ErrSessionChanged is returned by Poll when a login or logout happened
// while the notifications were being fetched. The fetched diff is dropped.
var ErrSessionChanged = errors.New("session changed during poll")

// Engine owns the friend directory, the chat registry and the
// synchronization cursors. Gateway calls are always made with no
// collection lock held.
//
// Lock order: friends, then chats, then the engine's own mutex.
type Engine struct {
	friends *friends.Directory
	chats   *chats.Registry
	gw      rpc.Gateway
	bus     *bus.Bus
	logger  *zap.Logger

	mu         stdsync.RWMutex
	user       model.UserInfo
	loggedIn   bool
	cursors    model.Cursors
	applied    bool   // a notification diff has been applied since login
	generation uint64 // bumped by every login and logout
}

// NewEngine creates an engine with an empty mirror.
func NewEngine(gw rpc.Gateway, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		friends: friends.New(),
		chats:   chats.New(),
		gw:      gw,
		bus:     b,
		logger:  logger,
	}
}

// Friends returns the friend directory.
func (e *Engine) Friends() *friends.Directory { return e.friends }

// Chats returns the chat registry.
func (e *Engine) Chats() *chats.Registry { return e.chats }

// User returns the logged-in user and whether a login is active.
func (e *Engine) User() (model.UserInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.user, e.loggedIn
}

// Cursors returns the current synchronization cursors.
func (e *Engine) Cursors() model.Cursors {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cursors
}

func (e *Engine) self() (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.loggedIn {
		return "", ErrNotLoggedIn
	}
	return e.user.Name, nil
}

// Register creates a new account on the server.
func (e *Engine) Register(ctx context.Context, name, password, info string) error {
	if err := e.gw.Register(ctx, name, password, info); err != nil {
		return err
	}
	e.logger.Info("user registered", zap.String("user", name))
	return nil
}

// Login authenticates, resets the mirror and performs the initial
// retrieval of friends, chats and message histories.
func (e *Engine) Login(ctx context.Context, name, password string) (model.UserInfo, error) {
	user, err := e.gw.Login(ctx, name, password)
	if err != nil {
		return model.UserInfo{}, err
	}
	e.friends.Clear()
	e.chats.Clear()
	e.mu.Lock()
	e.user, e.loggedIn = user, true
	e.cursors = model.Cursors{}
	e.applied = false
	e.generation++
	e.mu.Unlock()
	e.logger.Info("logged in", zap.String("user", user.Name))

	if err := e.RefreshFriends(ctx); err != nil {
		return user, fmt.Errorf("initial friends: %w", err)
	}
	if err := e.RefreshChats(ctx); err != nil {
		return user, fmt.Errorf("initial chats: %w", err)
	}
	if err := e.RefreshAllMessages(ctx); err != nil {
		return user, fmt.Errorf("initial messages: %w", err)
	}
	e.bus.Publish(bus.NewEvent("sync.login", user))
	return user, nil
}

// Logout drops the credentials and clears the mirror.
func (e *Engine) Logout(ctx context.Context) error {
	if err := e.gw.Logout(ctx); err != nil {
		return err
	}
	e.friends.Clear()
	e.chats.Clear()
	e.mu.Lock()
	e.user, e.loggedIn = model.UserInfo{}, false
	e.cursors = model.Cursors{}
	e.applied = false
	e.generation++
	e.mu.Unlock()
	e.logger.Info("logged out")
	e.bus.Publish(bus.NewEvent("sync.logout", nil))
	return nil
}

// ApplyNotificationDiff merges diff into the mirror in a fixed order:
// deleted chats, deleted friends, new friend requests, new chats as
// placeholders, then one pending increment per chat with new messages.
// Readers observe either none or all of the merge. A diff whose cursor is
// not newer than the last applied one skips the pending increments, so
// re-delivery changes nothing.
func (e *Engine) ApplyNotificationDiff(diff model.NotificationDiff) {
	e.applyDiff(diff, nil)
}

// applyDiff merges diff. With gen set, the diff is dropped unless the same
// login is still active; it reports whether the diff was merged.
func (e *Engine) applyDiff(diff model.NotificationDiff, gen *uint64) bool {
	var events []bus.Event
	dropped := false
	_ = e.friends.Update(func(ftx *friends.Tx) error {
		return e.chats.Update(func(rtx *chats.Tx) error {
			e.mu.Lock()
			defer e.mu.Unlock()
			if gen != nil && (*gen != e.generation || !e.loggedIn) {
				dropped = true
				return nil
			}
			redelivered := e.applied && diff.Cursor <= e.cursors.Notifications

			for _, id := range diff.DeletedChats {
				if err := rtx.Delete(id); err != nil {
					e.logger.Debug("deleted chat not in registry", zap.Int64("chat_id", id))
					continue
				}
				events = append(events, bus.NewEvent("chat.deleted", id))
			}
			for _, name := range diff.DeletedFriends {
				if err := ftx.Remove(name); err != nil {
					e.logger.Debug("deleted friend not in directory", zap.String("friend", name))
					continue
				}
				events = append(events, bus.NewEvent("friend.removed", name))
			}
			for _, r := range diff.NewFriendRequests {
				if ftx.HasReceivedRequest(r.Name) {
					continue
				}
				ftx.AddReceivedRequest(r.Name, r.Timestamp)
				events = append(events, bus.NewEvent("friend.request_received", r.Name))
			}
			for _, id := range diff.NewChats {
				if rtx.RegisterPlaceholder(id) {
					events = append(events, bus.NewEvent("chat.created", id))
				}
			}
			if !redelivered {
				for _, id := range diff.ChatsWithNewMessages {
					if err := rtx.UpdatePending(id, 1); err != nil {
						e.logger.Debug("new messages for unknown chat", zap.Int64("chat_id", id))
						continue
					}
					events = append(events, bus.NewEvent("chat.pending", id))
				}
			}

			e.cursors.Notifications = max(e.cursors.Notifications, diff.Cursor)
			e.applied = true
			return nil
		})
	})
	if dropped {
		e.logger.Debug("session changed, notification diff dropped", zap.Int64("cursor", diff.Cursor))
		return false
	}
	for _, evt := range events {
		e.bus.Publish(evt)
	}
	if !diff.Empty() {
		e.logger.Debug("notification diff applied",
			zap.Int64("cursor", diff.Cursor),
			zap.Int("events", len(events)))
	}
	return true
}

// Poll runs one poller cycle: fetch the notifications newer than the
// notification cursor and apply them. A failed fetch mutates nothing.
func (e *Engine) Poll(ctx context.Context) (model.NotificationDiff, error) {
	e.mu.RLock()
	loggedIn, since, gen := e.loggedIn, e.cursors.Notifications, e.generation
	e.mu.RUnlock()
	if !loggedIn {
		return model.NotificationDiff{}, ErrNotLoggedIn
	}
	diff, err := e.gw.FetchNotifications(ctx, since)
	if err != nil {
		return model.NotificationDiff{}, err
	}
	if !e.applyDiff(diff, &gen) {
		return model.NotificationDiff{}, ErrSessionChanged
	}
	return diff, nil
}

// RefreshChat fetches the messages of chat id newer than its message
// cursor and appends them. Unread grows by the number of appended
// messages, pending is reset and the message cursor moves to the last
// fetched timestamp. It returns the number of appended messages.
func (e *Engine) RefreshChat(ctx context.Context, id int64) (int, error) {
	return e.refreshChat(ctx, id, true)
}

// refreshChat is RefreshChat; with countOwn unset, messages written by the
// local user do not count as unread.
func (e *Engine) refreshChat(ctx context.Context, id int64, countOwn bool) (int, error) {
	self, err := e.self()
	if err != nil {
		return 0, err
	}
	since, err := e.chats.MessageTimestamp(id)
	if err != nil {
		return 0, err
	}
	page, err := e.gw.FetchChatMessages(ctx, id, since)
	if err != nil {
		return 0, err
	}

	appended, unread := 0, 0
	err = e.chats.Update(func(tx *chats.Tx) error {
		cursor, err := tx.MessageTimestamp(id)
		if err != nil {
			return err
		}
		last := cursor
		for _, m := range page.Entries {
			// A concurrent refresh may already have stored it.
			if m.Timestamp <= cursor {
				continue
			}
			if m.Sender == self {
				m.Sender = ""
			}
			if err := tx.AppendMessage(id, m); err != nil {
				return err
			}
			appended++
			if countOwn || !m.FromMe() {
				unread++
			}
			last = max(last, m.Timestamp)
		}
		if err := tx.UpdateUnread(id, unread); err != nil {
			return err
		}
		if err := tx.SetPending(id, 0); err != nil {
			return err
		}
		return tx.SetMessageTimestamp(id, last)
	})
	if err != nil {
		return 0, err
	}
	if appended > 0 {
		e.logger.Debug("chat refreshed", zap.Int64("chat_id", id), zap.Int("messages", appended))
		e.bus.Publish(bus.NewEvent("chat.messages", ChatMessages{ChatID: id, Count: appended}))
	}
	return appended, nil
}

// ChatMessages is the payload of chat.messages events.
type ChatMessages struct {
	ChatID int64 `json:"chat_id"`
	Count  int   `json:"count"`
}

// RefreshFriends fetches the friends added since the friends cursor and
// merges them by name. A friend that appears drops any request sent to it.
func (e *Engine) RefreshFriends(ctx context.Context) error {
	if _, err := e.self(); err != nil {
		return err
	}
	page, err := e.gw.FetchFriends(ctx, e.Cursors().Friends)
	if err != nil {
		return err
	}
	_ = e.friends.Update(func(tx *friends.Tx) error {
		for _, f := range page.Entries {
			tx.Upsert(f.Name, f.Info)
			tx.RemoveSentRequest(f.Name)
		}
		e.mu.Lock()
		e.cursors.Friends = max(e.cursors.Friends, page.Cursor)
		e.mu.Unlock()
		return nil
	})
	for _, f := range page.Entries {
		e.bus.Publish(bus.NewEvent("friend.updated", f.Name))
	}
	return nil
}

// RefreshChats fetches the chats changed since the chats cursor and merges
// them by id.
func (e *Engine) RefreshChats(ctx context.Context) error {
	if _, err := e.self(); err != nil {
		return err
	}
	page, err := e.gw.FetchChats(ctx, e.Cursors().Chats)
	if err != nil {
		return err
	}
	_ = e.chats.Update(func(tx *chats.Tx) error {
		for _, s := range page.Entries {
			tx.Upsert(s)
		}
		e.mu.Lock()
		e.cursors.Chats = max(e.cursors.Chats, page.Cursor)
		e.mu.Unlock()
		return nil
	})
	for _, s := range page.Entries {
		e.bus.Publish(bus.NewEvent("chat.updated", s.ID))
	}
	return nil
}

// RefreshNewChats completes every placeholder chat with its server
// description and roster. Placeholders the server no longer knows are
// dropped; on a transport failure the rest stay for the next attempt.
func (e *Engine) RefreshNewChats(ctx context.Context) error {
	for _, id := range e.chats.Placeholders() {
		s, err := e.gw.FetchChat(ctx, id)
		switch {
		case errors.Is(err, model.ErrNotFound):
			e.logger.Info("placeholder chat vanished", zap.Int64("chat_id", id))
			_ = e.chats.Delete(id)
			continue
		case err != nil:
			return err
		}
		e.chats.Upsert(s)
		e.bus.Publish(bus.NewEvent("chat.updated", id))
	}
	return nil
}

// RefreshAllMessages refreshes the history of every chat.
func (e *Engine) RefreshAllMessages(ctx context.Context) error {
	return e.refreshEach(ctx, e.chats.IDs())
}

// RefreshPendingMessages refreshes only the chats with pending notifications.
func (e *Engine) RefreshPendingMessages(ctx context.Context) error {
	var ids []int64
	for _, c := range e.chats.List() {
		if c.Pending > 0 {
			ids = append(ids, c.ID)
		}
	}
	return e.refreshEach(ctx, ids)
}

func (e *Engine) refreshEach(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := e.RefreshChat(ctx, id); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				e.logger.Debug("chat gone during refresh", zap.Int64("chat_id", id))
				continue
			}
			return fmt.Errorf("refresh chat %d: %w", id, err)
		}
	}
	return nil
}

// SendMessage posts text to chat id and then refreshes the chat so the
// server-stamped message lands in the history in server order.
func (e *Engine) SendMessage(ctx context.Context, id int64, text, attachment string) (int64, error) {
	if _, err := e.self(); err != nil {
		return 0, err
	}
	if !e.chats.Has(id) {
		return 0, model.ChatNotFound(id)
	}
	ts, err := e.gw.SendMessage(ctx, id, text, attachment)
	if err != nil {
		return 0, err
	}
	if _, err := e.refreshChat(ctx, id, false); err != nil {
		e.logger.Warn("refresh after send failed", zap.Int64("chat_id", id), zap.Error(err))
	}
	return ts, nil
}

// CreateChat creates a chat on the server with the local user as admin and
// member, if not empty, as its only other participant.
func (e *Engine) CreateChat(ctx context.Context, description, member string) (int64, error) {
	self, err := e.self()
	if err != nil {
		return 0, err
	}
	id, err := e.gw.CreateChat(ctx, description, member)
	if err != nil {
		return 0, err
	}
	var roster []chats.Member
	if member != "" {
		roster = append(roster, chats.Member{Name: member})
	}
	err = e.chats.CreateLocal(id, description, chats.Member{Name: self}, roster)
	if errors.Is(err, model.ErrDuplicateKey) {
		// The poller registered it first.
		s := model.ChatSummary{ID: id, Description: description, Admin: self}
		if member != "" {
			s.Members = []string{member}
		}
		e.chats.Upsert(s)
	}
	e.logger.Info("chat created", zap.Int64("chat_id", id))
	e.bus.Publish(bus.NewEvent("chat.created", id))
	return id, nil
}

// AddMember adds name to chat id.
func (e *Engine) AddMember(ctx context.Context, id int64, name string) error {
	if _, err := e.self(); err != nil {
		return err
	}
	if !e.chats.Has(id) {
		return model.ChatNotFound(id)
	}
	if err := e.gw.AddMember(ctx, id, name); err != nil {
		return err
	}
	if err := e.chats.AddMember(id, chats.Member{Name: name}); err != nil && !errors.Is(err, model.ErrDuplicateKey) {
		return err
	}
	e.bus.Publish(bus.NewEvent("chat.updated", id))
	return nil
}

// LeaveChat quits chat id and forgets it locally.
func (e *Engine) LeaveChat(ctx context.Context, id int64) error {
	if _, err := e.self(); err != nil {
		return err
	}
	if !e.chats.Has(id) {
		return model.ChatNotFound(id)
	}
	if err := e.gw.LeaveChat(ctx, id); err != nil {
		return err
	}
	_ = e.chats.Delete(id)
	e.bus.Publish(bus.NewEvent("chat.deleted", id))
	return nil
}

// SendFriendRequest sends a friend request to name.
func (e *Engine) SendFriendRequest(ctx context.Context, name string) error {
	if _, err := e.self(); err != nil {
		return err
	}
	ts, err := e.gw.SendFriendRequest(ctx, name)
	if err != nil {
		return err
	}
	e.friends.AddSentRequest(name, ts)
	e.bus.Publish(bus.NewEvent("friend.request_sent", name))
	return nil
}

// AcceptRequest accepts the request received from name.
func (e *Engine) AcceptRequest(ctx context.Context, name string) error {
	if err := e.checkReceived(name); err != nil {
		return err
	}
	if _, err := e.gw.AcceptRequest(ctx, name); err != nil {
		return err
	}
	if err := e.friends.ResolveRequest(name, true); err != nil {
		return err
	}
	e.bus.Publish(bus.NewEvent("friend.added", name))
	if err := e.RefreshFriends(ctx); err != nil {
		e.logger.Warn("refresh after accept failed", zap.String("friend", name), zap.Error(err))
	}
	return nil
}

// DeclineRequest declines the request received from name.
func (e *Engine) DeclineRequest(ctx context.Context, name string) error {
	if err := e.checkReceived(name); err != nil {
		return err
	}
	if _, err := e.gw.DeclineRequest(ctx, name); err != nil {
		return err
	}
	if err := e.friends.ResolveRequest(name, false); err != nil {
		return err
	}
	e.bus.Publish(bus.NewEvent("friend.request_declined", name))
	return nil
}

func (e *Engine) checkReceived(name string) error {
	if _, err := e.self(); err != nil {
		return err
	}
	var ok bool
	e.friends.View(func(tx *friends.Tx) { ok = tx.HasReceivedRequest(name) })
	if !ok {
		return fmt.Errorf("friend request from %q: %w", name, model.ErrNotFound)
	}
	return nil
}

// MarkRead clears the unread counter of chat id.
func (e *Engine) MarkRead(id int64) error {
	return e.chats.SetUnread(id, 0)
}

// ChatView is a chat with its members resolved against the friend directory.
type ChatView struct {
	chats.Snapshot
	AdminInfo   chats.MemberInfo   `json:"admin_info"`
	MemberInfos []chats.MemberInfo `json:"member_infos"`
	Messages    []model.Message    `json:"messages"`
}

// Chat returns chat id with resolved members and its full history.
func (e *Engine) Chat(id int64) (ChatView, error) {
	s, err := e.chats.Get(id)
	if err != nil {
		return ChatView{}, err
	}
	msgs, err := e.chats.Messages(id)
	if err != nil {
		return ChatView{}, err
	}
	// Resolution happens after the registry lock is released.
	lookup := e.lookup()
	v := ChatView{Snapshot: s, AdminInfo: s.Admin.Resolve(lookup), Messages: msgs}
	for _, m := range s.Members {
		v.MemberInfos = append(v.MemberInfos, m.Resolve(lookup))
	}
	return v, nil
}

// lookup resolves the local user's own name to their profile and every
// other name through the directory.
func (e *Engine) lookup() chats.FriendLookup {
	user, _ := e.User()
	return selfLookup{user: user, dir: e.friends}
}

type selfLookup struct {
	user model.UserInfo
	dir  *friends.Directory
}

func (l selfLookup) Lookup(name string) (model.Friend, bool) {
	if l.user.Name != "" && name == l.user.Name {
		return model.Friend{Name: name, Info: l.user.Info}, true
	}
	return l.dir.Lookup(name)
}

// Snapshot copies the whole mirror for a state save. Friends, chats and
// cursors are read in one critical section, so a diff is either fully in
// the copy or not at all.
func (e *Engine) Snapshot() model.Snapshot {
	var s model.Snapshot
	e.friends.View(func(ftx *friends.Tx) {
		e.chats.View(func(rtx *chats.Tx) {
			e.mu.RLock()
			defer e.mu.RUnlock()
			s.Friends = ftx.List()
			s.Requests = ftx.Requests()
			s.Chats = rtx.Snapshot()
			s.User, s.Cursors = e.user, e.cursors
		})
	})
	s.TakenAt = time.Now().UnixMilli()
	return s
}
