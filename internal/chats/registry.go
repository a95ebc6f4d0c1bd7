package chats

import (
	"fmt"
	"slices"
	"sync"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/matheus3301/ims/internal/model"
)

// Registry is the local mirror of the user's chats, keyed by chat id in
// insertion order. Each chat owns its roster and message history.
type Registry struct {
	mu    sync.RWMutex
	chats *orderedmap.OrderedMap[int64, *chat]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{chats: orderedmap.NewOrderedMap[int64, *chat]()}
}

// Tx gives access to the registry inside a critical section opened by Update
// or View. It must not escape the callback.
type Tx struct {
	r *Registry
}

// Update runs fn with the registry exclusively locked. Mutations made before
// fn returns an error are kept, so fn should validate before mutating.
func (r *Registry) Update(fn func(tx *Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&Tx{r: r})
}

// View runs fn with the registry read-locked.
func (r *Registry) View(fn func(tx *Tx)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(&Tx{r: r})
}

// CreateLocal registers a new chat.
func (r *Registry) CreateLocal(id int64, description string, admin Member, members []Member) error {
	return r.Update(func(tx *Tx) error { return tx.CreateLocal(id, description, admin, members) })
}

// Delete removes a chat together with its roster and messages.
func (r *Registry) Delete(id int64) error {
	return r.Update(func(tx *Tx) error { return tx.Delete(id) })
}

// AddMember appends member to the roster of chat id.
func (r *Registry) AddMember(id int64, member Member) error {
	return r.Update(func(tx *Tx) error { return tx.AddMember(id, member) })
}

// RemoveMember removes name from the roster of chat id.
func (r *Registry) RemoveMember(id int64, name string) error {
	return r.Update(func(tx *Tx) error { return tx.RemoveMember(id, name) })
}

// ChangeAdmin swaps the admin with the roster member name.
func (r *Registry) ChangeAdmin(id int64, name string) error {
	return r.Update(func(tx *Tx) error { return tx.ChangeAdmin(id, name) })
}

// PromoteToAdmin makes name the admin and discards the outgoing admin.
func (r *Registry) PromoteToAdmin(id int64, name string) error {
	return r.Update(func(tx *Tx) error { return tx.PromoteToAdmin(id, name) })
}

// SetUnread sets the unread counter, clamped at zero.
func (r *Registry) SetUnread(id int64, n int) error {
	return r.Update(func(tx *Tx) error { return tx.SetUnread(id, n) })
}

// UpdateUnread adds delta to the unread counter, clamped at zero.
func (r *Registry) UpdateUnread(id int64, delta int) error {
	return r.Update(func(tx *Tx) error { return tx.UpdateUnread(id, delta) })
}

// SetPending sets the pending counter, clamped at zero.
func (r *Registry) SetPending(id int64, n int) error {
	return r.Update(func(tx *Tx) error { return tx.SetPending(id, n) })
}

// UpdatePending adds delta to the pending counter, clamped at zero.
func (r *Registry) UpdatePending(id int64, delta int) error {
	return r.Update(func(tx *Tx) error { return tx.UpdatePending(id, delta) })
}

// AppendMessage appends msg to the history of chat id.
func (r *Registry) AppendMessage(id int64, msg model.Message) error {
	return r.Update(func(tx *Tx) error { return tx.AppendMessage(id, msg) })
}

// SetMemberTimestamp sets the roster cursor of chat id.
func (r *Registry) SetMemberTimestamp(id int64, ts int64) error {
	return r.Update(func(tx *Tx) error { return tx.SetMemberTimestamp(id, ts) })
}

// MemberTimestamp returns the roster cursor of chat id.
func (r *Registry) MemberTimestamp(id int64) (int64, error) {
	var (
		ts  int64
		err error
	)
	r.View(func(tx *Tx) { ts, err = tx.MemberTimestamp(id) })
	return ts, err
}

// MessageTimestamp returns the message cursor of chat id.
func (r *Registry) MessageTimestamp(id int64) (int64, error) {
	var (
		ts  int64
		err error
	)
	r.View(func(tx *Tx) { ts, err = tx.MessageTimestamp(id) })
	return ts, err
}

// Upsert merges a server chat summary.
func (r *Registry) Upsert(s model.ChatSummary) {
	_ = r.Update(func(tx *Tx) error {
		tx.Upsert(s)
		return nil
	})
}

// RegisterPlaceholder registers id as a zero-member chat awaiting a full fetch.
// It returns false when the chat is already known.
func (r *Registry) RegisterPlaceholder(id int64) bool {
	var added bool
	_ = r.Update(func(tx *Tx) error {
		added = tx.RegisterPlaceholder(id)
		return nil
	})
	return added
}

// Get returns a snapshot of chat id.
func (r *Registry) Get(id int64) (Snapshot, error) {
	var (
		s   Snapshot
		err error
	)
	r.View(func(tx *Tx) { s, err = tx.Get(id) })
	return s, err
}

// Has reports whether chat id is registered.
func (r *Registry) Has(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chats.Has(id)
}

// Messages returns a copy of the history of chat id.
func (r *Registry) Messages(id int64) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chats.Get(id)
	if !ok {
		return nil, model.ChatNotFound(id)
	}
	return c.messages.All(), nil
}

// List returns snapshots of every chat in insertion order.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, r.chats.Len())
	for el := r.chats.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.snapshot())
	}
	return out
}

// IDs returns the ids of every chat in insertion order.
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, r.chats.Len())
	for el := r.chats.Front(); el != nil; el = el.Next() {
		out = append(out, el.Key)
	}
	return out
}

// Placeholders returns the ids of chats still awaiting a full fetch.
func (r *Registry) Placeholders() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []int64
	for el := r.chats.Front(); el != nil; el = el.Next() {
		if el.Value.placeholder {
			out = append(out, el.Key)
		}
	}
	return out
}

// Clear drops every chat.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = orderedmap.NewOrderedMap[int64, *chat]()
}

// Len returns the number of chats.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chats.Len()
}

func (tx *Tx) get(id int64) (*chat, error) {
	c, ok := tx.r.chats.Get(id)
	if !ok {
		return nil, model.ChatNotFound(id)
	}
	return c, nil
}

// Has reports whether chat id is registered.
func (tx *Tx) Has(id int64) bool {
	return tx.r.chats.Has(id)
}

// Get returns a snapshot of chat id.
func (tx *Tx) Get(id int64) (Snapshot, error) {
	c, err := tx.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return c.snapshot(), nil
}

// CreateLocal registers a new chat. The admin must not appear in members and
// member names must be unique.
func (tx *Tx) CreateLocal(id int64, description string, admin Member, members []Member) error {
	if tx.r.chats.Has(id) {
		return fmt.Errorf("chat %d: %w", id, model.ErrDuplicateKey)
	}
	seen := map[string]bool{admin.Name: true}
	for _, m := range members {
		if seen[m.Name] {
			return fmt.Errorf("chat %d member %q: %w", id, m.Name, model.ErrDuplicateKey)
		}
		seen[m.Name] = true
	}
	tx.r.chats.Set(id, &chat{
		id:          id,
		description: description,
		admin:       admin,
		members:     slices.Clone(members),
	})
	return nil
}

// Delete removes a chat together with its roster and messages.
func (tx *Tx) Delete(id int64) error {
	if !tx.r.chats.Delete(id) {
		return model.ChatNotFound(id)
	}
	return nil
}

// AddMember appends member to the roster.
func (tx *Tx) AddMember(id int64, member Member) error {
	c, err := tx.get(id)
	if err != nil {
		return err
	}
	if member.Name == c.admin.Name || c.memberIndex(member.Name) >= 0 {
		return fmt.Errorf("chat %d member %q: %w", id, member.Name, model.ErrDuplicateKey)
	}
	c.members = append(c.members, member)
	return nil
}

// RemoveMember removes name from the roster.
func (tx *Tx) RemoveMember(id int64, name string) error {
	c, err := tx.get(id)
	if err != nil {
		return err
	}
	i := c.memberIndex(name)
	if i < 0 {
		return fmt.Errorf("chat %d member %q: %w", id, name, model.ErrNotFound)
	}
	c.members = slices.Delete(c.members, i, i+1)
	return nil
}

// ChangeAdmin swaps the admin with the roster member name: the outgoing
// admin is appended to the roster and name leaves the roster.
func (tx *Tx) ChangeAdmin(id int64, name string) error {
	return tx.replaceAdmin(id, name, true)
}

// PromoteToAdmin makes the roster member name the admin. Unlike ChangeAdmin
// the outgoing admin is not re-added to the roster.
func (tx *Tx) PromoteToAdmin(id int64, name string) error {
	return tx.replaceAdmin(id, name, false)
}

func (tx *Tx) replaceAdmin(id int64, name string, keepOld bool) error {
	c, err := tx.get(id)
	if err != nil {
		return err
	}
	i := c.memberIndex(name)
	if i < 0 {
		return fmt.Errorf("chat %d member %q: %w", id, name, model.ErrNotFound)
	}
	next := c.members[i]
	c.members = slices.Delete(c.members, i, i+1)
	if keepOld {
		c.members = append(c.members, c.admin)
	}
	c.admin = next
	return nil
}

// SetUnread sets the unread counter, clamped at zero.
func (tx *Tx) SetUnread(id int64, n int) error {
	c, err := tx.get(id)
	if err != nil {
		return err
	}
	c.unread = max(n, 0)
	return nil
}

// UpdateUnread adds delta to the unread counter, clamped at zero.
func (tx *Tx) UpdateUnread(id int64, delta int) error {
	c, err := tx.get(id)
	if err != nil {
		return err
	}
	c.unread = clampAdd(c.unread, delta)
	return nil
}

// SetPending sets the pending counter, clamped at zero.
func (tx *Tx) SetPending(id int64, n int) error {
	c, err := tx.get(id)
	if err != nil {
		return err
	}
	c.pending = max(n, 0)
	return nil
}

// UpdatePending adds delta to the pending counter, clamped at zero.
func (tx *Tx) UpdatePending(id int64, delta int) error {
	c, err := tx.get(id)
	if err != nil {
		return err
	}
	c.pending = clampAdd(c.pending, delta)
	return nil
}

// AppendMessage appends msg to the history. The history is not re-sorted.
func (tx *Tx) AppendMessage(id int64, msg model.Message) error {
	c, err := tx.get(id)
	if err != nil {
		return err
	}
	c.messages.Append(msg)
	return nil
}

// SetMemberTimestamp sets the roster cursor.
func (tx *Tx) SetMemberTimestamp(id int64, ts int64) error {
	c, err := tx.get(id)
	if err != nil {
		return err
	}
	c.memberTimestamp = ts
	return nil
}

// MemberTimestamp returns the roster cursor.
func (tx *Tx) MemberTimestamp(id int64) (int64, error) {
	c, err := tx.get(id)
	if err != nil {
		return 0, err
	}
	return c.memberTimestamp, nil
}

// SetMessageTimestamp moves the message cursor forward. Older values are ignored.
func (tx *Tx) SetMessageTimestamp(id int64, ts int64) error {
	c, err := tx.get(id)
	if err != nil {
		return err
	}
	c.messageTimestamp = max(c.messageTimestamp, ts)
	return nil
}

// MessageTimestamp returns the message cursor.
func (tx *Tx) MessageTimestamp(id int64) (int64, error) {
	c, err := tx.get(id)
	if err != nil {
		return 0, err
	}
	return c.messageTimestamp, nil
}

// RegisterPlaceholder registers id as a zero-member chat awaiting a full
// fetch. It returns false when the chat is already known.
func (tx *Tx) RegisterPlaceholder(id int64) bool {
	if tx.r.chats.Has(id) {
		return false
	}
	tx.r.chats.Set(id, &chat{id: id, placeholder: true})
	return true
}

// Upsert merges a server chat summary. Counters, cursors other than the
// roster cursor, and messages of an existing chat are kept. The admin and
// duplicate names are dropped from the incoming roster.
func (tx *Tx) Upsert(s model.ChatSummary) {
	c, ok := tx.r.chats.Get(s.ID)
	if !ok {
		c = &chat{id: s.ID}
		tx.r.chats.Set(s.ID, c)
	}
	c.description = s.Description
	c.admin = Member{Name: s.Admin}
	c.members = c.members[:0]
	seen := map[string]bool{s.Admin: true}
	for _, name := range s.Members {
		if seen[name] {
			continue
		}
		seen[name] = true
		c.members = append(c.members, Member{Name: name})
	}
	c.memberTimestamp = max(c.memberTimestamp, s.MemberTimestamp)
	c.placeholder = false
}

// Snapshot copies the full state of the registry, messages included.
func (r *Registry) Snapshot() []model.ChatSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return (&Tx{r: r}).Snapshot()
}

// Snapshot copies every chat, messages included.
func (tx *Tx) Snapshot() []model.ChatSnapshot {
	r := tx.r
	out := make([]model.ChatSnapshot, 0, r.chats.Len())
	for el := r.chats.Front(); el != nil; el = el.Next() {
		c := el.Value
		out = append(out, model.ChatSnapshot{
			ID:               c.id,
			Description:      c.description,
			Admin:            c.admin.Name,
			Members:          c.snapshot().MemberNames(),
			Unread:           c.unread,
			Pending:          c.pending,
			MemberTimestamp:  c.memberTimestamp,
			MessageTimestamp: c.messageTimestamp,
			Placeholder:      c.placeholder,
			Messages:         c.messages.All(),
		})
	}
	return out
}
