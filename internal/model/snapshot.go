package model

// Snapshot is a point-in-time copy of the whole client mirror, used for state saves.
type Snapshot struct {
	User     UserInfo
	Cursors  Cursors
	Friends  []Friend
	Requests []FriendRequest
	Chats    []ChatSnapshot
	TakenAt  int64 // unix ms
}

// ChatSnapshot is one chat of a Snapshot.
type ChatSnapshot struct {
	ID               int64
	Description      string
	Admin            string
	Members          []string
	Unread           int
	Pending          int
	MemberTimestamp  int64
	MessageTimestamp int64
	Placeholder      bool
	Messages         []Message
}
