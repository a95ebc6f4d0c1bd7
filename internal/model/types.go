package model

// Direction tells whether a friend request was sent or received by the local user.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// Unknown is the profile reported for a member whose friend entry no longer exists.
const Unknown = "unknown"

// UserInfo is the local user's profile as returned by login.
type UserInfo struct {
	Name string `json:"name"`
	Info string `json:"info"`
}

// Friend is an entry of the friend directory.
type Friend struct {
	Name string `json:"name"`
	Info string `json:"info"`
}

// FriendRequest is a pending friend request in either direction.
type FriendRequest struct {
	Direction Direction `json:"direction"`
	Name      string    `json:"name"`
	Timestamp int64     `json:"timestamp"`
}

// Message is a chat message. An empty Sender means the local user wrote it.
type Message struct {
	Sender     string `json:"sender,omitempty"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
	Attachment string `json:"attachment,omitempty"`
}

// FromMe reports whether the local user sent the message.
func (m Message) FromMe() bool {
	return m.Sender == ""
}

// ChatSummary is the server's description of a chat and its roster.
type ChatSummary struct {
	ID              int64    `json:"id"`
	Description     string   `json:"description"`
	Admin           string   `json:"admin"`
	Members         []string `json:"members"`
	MemberTimestamp int64    `json:"member_timestamp"`
}

// FriendPage is a cursor-delimited batch of friends.
type FriendPage struct {
	Entries []Friend `json:"entries"`
	Cursor  int64    `json:"cursor"`
}

// ChatPage is a cursor-delimited batch of chats.
type ChatPage struct {
	Entries []ChatSummary `json:"entries"`
	Cursor  int64         `json:"cursor"`
}

// MessagePage is a cursor-delimited batch of messages for one chat.
type MessagePage struct {
	Entries []Message `json:"entries"`
	Cursor  int64     `json:"cursor"`
}

// NewFriendRequest is a request announced by a notification diff.
type NewFriendRequest struct {
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

// NotificationDiff is the compact "what changed since cursor" payload pulled by the poller.
type NotificationDiff struct {
	NewFriendRequests    []NewFriendRequest `json:"new_friend_requests"`
	DeletedFriends       []string           `json:"deleted_friends"`
	NewChats             []int64            `json:"new_chats"`
	DeletedChats         []int64            `json:"deleted_chats"`
	ChatsWithNewMessages []int64            `json:"chats_with_new_messages"`
	Cursor               int64              `json:"cursor"`
}

// Empty reports whether the diff carries no changes.
func (d NotificationDiff) Empty() bool {
	return len(d.NewFriendRequests) == 0 &&
		len(d.DeletedFriends) == 0 &&
		len(d.NewChats) == 0 &&
		len(d.DeletedChats) == 0 &&
		len(d.ChatsWithNewMessages) == 0
}

// Cursors holds the per-resource-class synchronization cursors.
type Cursors struct {
	Friends       int64 `json:"friends"`
	Chats         int64 `json:"chats"`
	Notifications int64 `json:"notifications"`
}
