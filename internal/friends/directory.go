package friends

import (
	"fmt"
	"sync"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/matheus3301/ims/internal/model"
)

// Directory is the local mirror of the friend list and the pending friend
// requests in both directions. All collections keep insertion order.
type Directory struct {
	mu       sync.RWMutex
	friends  *orderedmap.OrderedMap[string, model.Friend]
	sent     *orderedmap.OrderedMap[string, model.FriendRequest]
	received *orderedmap.OrderedMap[string, model.FriendRequest]
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		friends:  orderedmap.NewOrderedMap[string, model.Friend](),
		sent:     orderedmap.NewOrderedMap[string, model.FriendRequest](),
		received: orderedmap.NewOrderedMap[string, model.FriendRequest](),
	}
}

// Tx gives access to the directory inside a critical section opened by
// Update or View. It must not escape the callback.
type Tx struct {
	d *Directory
}

// Update runs fn with the directory exclusively locked. The lock is released
// on every exit path. Mutations made before fn returns an error are kept, so
// fn should validate its input before mutating.
func (d *Directory) Update(fn func(tx *Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(&Tx{d: d})
}

// View runs fn with the directory read-locked.
func (d *Directory) View(fn func(tx *Tx)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(&Tx{d: d})
}

// Clear drops every friend and request.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.friends = orderedmap.NewOrderedMap[string, model.Friend]()
	d.sent = orderedmap.NewOrderedMap[string, model.FriendRequest]()
	d.received = orderedmap.NewOrderedMap[string, model.FriendRequest]()
}

// Add inserts a new friend.
func (d *Directory) Add(name, info string) error {
	return d.Update(func(tx *Tx) error { return tx.Add(name, info) })
}

// Upsert inserts the friend or replaces its profile information.
func (d *Directory) Upsert(name, info string) {
	_ = d.Update(func(tx *Tx) error {
		tx.Upsert(name, info)
		return nil
	})
}

// Remove deletes a friend. Chat members referring to the name resolve to
// model.Unknown afterwards.
func (d *Directory) Remove(name string) error {
	return d.Update(func(tx *Tx) error { return tx.Remove(name) })
}

// Find returns the friend named name.
func (d *Directory) Find(name string) (model.Friend, error) {
	var (
		f   model.Friend
		err error
	)
	d.View(func(tx *Tx) { f, err = tx.Find(name) })
	return f, err
}

// Lookup resolves a friend by name without an error value.
func (d *Directory) Lookup(name string) (model.Friend, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.friends.Get(name)
}

// AddReceivedRequest queues a request received from name. Re-adding an
// existing request is a no-op.
func (d *Directory) AddReceivedRequest(name string, ts int64) {
	_ = d.Update(func(tx *Tx) error {
		tx.AddReceivedRequest(name, ts)
		return nil
	})
}

// AddSentRequest records a request sent to name. Re-adding an existing
// request is a no-op.
func (d *Directory) AddSentRequest(name string, ts int64) {
	_ = d.Update(func(tx *Tx) error {
		tx.AddSentRequest(name, ts)
		return nil
	})
}

// ResolveRequest removes the received request from name and, when accepted,
// adds name as a friend.
func (d *Directory) ResolveRequest(name string, accepted bool) error {
	return d.Update(func(tx *Tx) error { return tx.ResolveRequest(name, accepted) })
}

// RemoveSentRequest drops the request sent to name, if any.
func (d *Directory) RemoveSentRequest(name string) bool {
	var removed bool
	_ = d.Update(func(tx *Tx) error {
		removed = tx.RemoveSentRequest(name)
		return nil
	})
	return removed
}

// List returns the friends in insertion order.
func (d *Directory) List() []model.Friend {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return (&Tx{d: d}).List()
}

// Received returns the received requests in arrival order.
func (d *Directory) Received() []model.FriendRequest {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return requests(d.received)
}

// Sent returns the sent requests in send order.
func (d *Directory) Sent() []model.FriendRequest {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return requests(d.sent)
}

// Len returns the number of friends.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.friends.Len()
}

// Add inserts a new friend.
func (tx *Tx) Add(name, info string) error {
	if tx.d.friends.Has(name) {
		return fmt.Errorf("friend %q: %w", name, model.ErrDuplicateKey)
	}
	tx.d.friends.Set(name, model.Friend{Name: name, Info: info})
	return nil
}

// Upsert inserts the friend or replaces its profile information, keeping its position.
func (tx *Tx) Upsert(name, info string) {
	tx.d.friends.Set(name, model.Friend{Name: name, Info: info})
}

// Remove deletes a friend.
func (tx *Tx) Remove(name string) error {
	if !tx.d.friends.Delete(name) {
		return model.FriendNotFound(name)
	}
	return nil
}

// Has reports whether name is a friend.
func (tx *Tx) Has(name string) bool {
	return tx.d.friends.Has(name)
}

// Find returns the friend named name.
func (tx *Tx) Find(name string) (model.Friend, error) {
	f, ok := tx.d.friends.Get(name)
	if !ok {
		return model.Friend{}, model.FriendNotFound(name)
	}
	return f, nil
}

// AddReceivedRequest queues a request received from name.
func (tx *Tx) AddReceivedRequest(name string, ts int64) {
	if tx.d.received.Has(name) {
		return
	}
	tx.d.received.Set(name, model.FriendRequest{Direction: model.Received, Name: name, Timestamp: ts})
}

// AddSentRequest records a request sent to name.
func (tx *Tx) AddSentRequest(name string, ts int64) {
	if tx.d.sent.Has(name) {
		return
	}
	tx.d.sent.Set(name, model.FriendRequest{Direction: model.Sent, Name: name, Timestamp: ts})
}

// ResolveRequest removes the received request from name and, when accepted,
// adds name as a friend unless already present.
func (tx *Tx) ResolveRequest(name string, accepted bool) error {
	if !tx.d.received.Delete(name) {
		return fmt.Errorf("friend request from %q: %w", name, model.ErrNotFound)
	}
	if accepted && !tx.d.friends.Has(name) {
		tx.d.friends.Set(name, model.Friend{Name: name})
	}
	return nil
}

// RemoveSentRequest drops the request sent to name.
func (tx *Tx) RemoveSentRequest(name string) bool {
	return tx.d.sent.Delete(name)
}

// HasReceivedRequest reports whether a request from name is queued.
func (tx *Tx) HasReceivedRequest(name string) bool {
	return tx.d.received.Has(name)
}

// List returns the friends in insertion order.
func (tx *Tx) List() []model.Friend {
	out := make([]model.Friend, 0, tx.d.friends.Len())
	for el := tx.d.friends.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}

// Requests returns the sent requests followed by the received ones.
func (tx *Tx) Requests() []model.FriendRequest {
	return append(requests(tx.d.sent), requests(tx.d.received)...)
}

func requests(m *orderedmap.OrderedMap[string, model.FriendRequest]) []model.FriendRequest {
	out := make([]model.FriendRequest, 0, m.Len())
	for el := m.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}
