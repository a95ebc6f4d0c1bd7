package chats

import (
	"slices"

	"github.com/matheus3301/ims/internal/model"
)

// FriendLookup resolves a friend by name. *friends.Directory implements it.
type FriendLookup interface {
	Lookup(name string) (model.Friend, bool)
}

// Member is a chat participant. It refers to a friend entry by name only and
// never keeps the friend alive.
type Member struct {
	Name string `json:"name"`
}

// MemberInfo is a Member resolved against the friend directory.
type MemberInfo struct {
	Name  string `json:"name"`
	Info  string `json:"info"`
	Known bool   `json:"known"`
}

// Resolve looks the member up in l. A member whose friend entry is gone
// resolves to model.Unknown.
func (m Member) Resolve(l FriendLookup) MemberInfo {
	if l != nil {
		if f, ok := l.Lookup(m.Name); ok {
			return MemberInfo{Name: m.Name, Info: f.Info, Known: true}
		}
	}
	return MemberInfo{Name: m.Name, Info: model.Unknown}
}

// MessageStore is the ordered message history of a chat. Messages are kept
// in the order the server delivered them.
type MessageStore struct {
	msgs []model.Message
}

// Append adds m at the end of the history.
func (s *MessageStore) Append(m model.Message) {
	s.msgs = append(s.msgs, m)
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	return len(s.msgs)
}

// Last returns the most recent message.
func (s *MessageStore) Last() (model.Message, bool) {
	if len(s.msgs) == 0 {
		return model.Message{}, false
	}
	return s.msgs[len(s.msgs)-1], true
}

// All returns a copy of the history.
func (s *MessageStore) All() []model.Message {
	return slices.Clone(s.msgs)
}

type chat struct {
	id               int64
	description      string
	unread           int
	pending          int
	memberTimestamp  int64
	messageTimestamp int64
	placeholder      bool
	admin            Member
	members          []Member
	messages         MessageStore
}

func (c *chat) memberIndex(name string) int {
	return slices.IndexFunc(c.members, func(m Member) bool { return m.Name == name })
}

func (c *chat) snapshot() Snapshot {
	return Snapshot{
		ID:               c.id,
		Description:      c.description,
		Admin:            c.admin,
		Members:          slices.Clone(c.members),
		Unread:           c.unread,
		Pending:          c.pending,
		MemberTimestamp:  c.memberTimestamp,
		MessageTimestamp: c.messageTimestamp,
		Placeholder:      c.placeholder,
		MessageCount:     c.messages.Len(),
	}
}

// Snapshot is a copy of a chat's state taken under the registry lock.
type Snapshot struct {
	ID               int64    `json:"id"`
	Description      string   `json:"description"`
	Admin            Member   `json:"admin"`
	Members          []Member `json:"members"`
	Unread           int      `json:"unread"`
	Pending          int      `json:"pending"`
	MemberTimestamp  int64    `json:"member_timestamp"`
	MessageTimestamp int64    `json:"message_timestamp"`
	Placeholder      bool     `json:"placeholder"`
	MessageCount     int      `json:"message_count"`
}

// MemberNames returns the roster names, admin excluded.
func (s Snapshot) MemberNames() []string {
	names := make([]string, len(s.Members))
	for i, m := range s.Members {
		names[i] = m.Name
	}
	return names
}

func clampAdd(v, delta int) int {
	return max(v+delta, 0)
}
