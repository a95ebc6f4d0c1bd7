package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/ims/internal/model"
)

// ErrNoSnapshot is returned by LoadSnapshot when nothing was saved yet.
var ErrNoSnapshot = errors.New("no snapshot saved")

// SaveInfo summarizes one save.
type SaveInfo struct {
	ID       int64  `json:"id"`
	TakenAt  int64  `json:"taken_at"`
	User     string `json:"user"`
	Friends  int    `json:"friends"`
	Chats    int    `json:"chats"`
	Messages int    `json:"messages"`
}

// SaveSnapshot replaces the archived state with s in one transaction and
// appends an entry to the save log.
func (db *DB) SaveSnapshot(s model.Snapshot) (SaveInfo, error) {
	tx, err := db.Begin()
	if err != nil {
		return SaveInfo{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"messages", "chat_members", "chats", "friend_requests", "friends", "user_state"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return SaveInfo{}, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO user_state (id, name, info, friends_cursor, chats_cursor, notifications_cursor, taken_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)`,
		s.User.Name, s.User.Info, s.Cursors.Friends, s.Cursors.Chats, s.Cursors.Notifications, s.TakenAt); err != nil {
		return SaveInfo{}, fmt.Errorf("save user: %w", err)
	}

	for i, f := range s.Friends {
		if _, err := tx.Exec(`INSERT INTO friends (position, name, info) VALUES (?, ?, ?)`, i, f.Name, f.Info); err != nil {
			return SaveInfo{}, fmt.Errorf("save friend %q: %w", f.Name, err)
		}
	}
	for i, r := range s.Requests {
		if _, err := tx.Exec(`
			INSERT INTO friend_requests (position, direction, name, timestamp) VALUES (?, ?, ?, ?)`,
			i, string(r.Direction), r.Name, r.Timestamp); err != nil {
			return SaveInfo{}, fmt.Errorf("save request %q: %w", r.Name, err)
		}
	}

	messages := 0
	for i, c := range s.Chats {
		if _, err := tx.Exec(`
			INSERT INTO chats (position, id, description, admin, unread, pending, member_timestamp, message_timestamp, placeholder)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, c.ID, c.Description, c.Admin, c.Unread, c.Pending, c.MemberTimestamp, c.MessageTimestamp, c.Placeholder); err != nil {
			return SaveInfo{}, fmt.Errorf("save chat %d: %w", c.ID, err)
		}
		for j, name := range c.Members {
			if _, err := tx.Exec(`INSERT INTO chat_members (chat_id, position, name) VALUES (?, ?, ?)`, c.ID, j, name); err != nil {
				return SaveInfo{}, fmt.Errorf("save member %q of chat %d: %w", name, c.ID, err)
			}
		}
		for j, m := range c.Messages {
			if _, err := tx.Exec(`
				INSERT INTO messages (chat_id, seq, sender, text, timestamp, attachment) VALUES (?, ?, ?, ?, ?, ?)`,
				c.ID, j, m.Sender, m.Text, m.Timestamp, m.Attachment); err != nil {
				return SaveInfo{}, fmt.Errorf("save message of chat %d: %w", c.ID, err)
			}
		}
		messages += len(c.Messages)
	}

	info := SaveInfo{
		TakenAt:  s.TakenAt,
		User:     s.User.Name,
		Friends:  len(s.Friends),
		Chats:    len(s.Chats),
		Messages: messages,
	}
	res, err := tx.Exec(`
		INSERT INTO save_log (taken_at, user_name, friends, chats, messages) VALUES (?, ?, ?, ?, ?)`,
		info.TakenAt, info.User, info.Friends, info.Chats, info.Messages)
	if err != nil {
		return SaveInfo{}, fmt.Errorf("append save log: %w", err)
	}
	if info.ID, err = res.LastInsertId(); err != nil {
		return SaveInfo{}, err
	}

	if err := tx.Commit(); err != nil {
		return SaveInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}
	return info, nil
}

// LastSave returns the most recent save log entry.
func (db *DB) LastSave() (SaveInfo, error) {
	var info SaveInfo
	err := db.QueryRow(`
		SELECT id, taken_at, user_name, friends, chats, messages
		FROM save_log ORDER BY id DESC LIMIT 1`).
		Scan(&info.ID, &info.TakenAt, &info.User, &info.Friends, &info.Chats, &info.Messages)
	if errors.Is(err, sql.ErrNoRows) {
		return SaveInfo{}, ErrNoSnapshot
	}
	return info, err
}

// LoadSnapshot reads the archived state back.
func (db *DB) LoadSnapshot() (model.Snapshot, error) {
	var s model.Snapshot
	err := db.QueryRow(`
		SELECT name, info, friends_cursor, chats_cursor, notifications_cursor, taken_at
		FROM user_state WHERE id = 1`).
		Scan(&s.User.Name, &s.User.Info, &s.Cursors.Friends, &s.Cursors.Chats, &s.Cursors.Notifications, &s.TakenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("load user: %w", err)
	}

	if s.Friends, err = db.loadFriends(); err != nil {
		return model.Snapshot{}, err
	}
	if s.Requests, err = db.loadRequests(); err != nil {
		return model.Snapshot{}, err
	}
	if s.Chats, err = db.loadChats(); err != nil {
		return model.Snapshot{}, err
	}
	for i := range s.Chats {
		c := &s.Chats[i]
		if c.Members, err = db.loadMembers(c.ID); err != nil {
			return model.Snapshot{}, err
		}
		if c.Messages, err = db.loadMessages(c.ID); err != nil {
			return model.Snapshot{}, err
		}
	}
	return s, nil
}

func (db *DB) loadFriends() ([]model.Friend, error) {
	rows, err := db.Query(`SELECT name, info FROM friends ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("load friends: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Friend
	for rows.Next() {
		var f model.Friend
		if err := rows.Scan(&f.Name, &f.Info); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (db *DB) loadRequests() ([]model.FriendRequest, error) {
	rows, err := db.Query(`SELECT direction, name, timestamp FROM friend_requests ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.FriendRequest
	for rows.Next() {
		var (
			r   model.FriendRequest
			dir string
		)
		if err := rows.Scan(&dir, &r.Name, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Direction = model.Direction(dir)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) loadChats() ([]model.ChatSnapshot, error) {
	rows, err := db.Query(`
		SELECT id, description, admin, unread, pending, member_timestamp, message_timestamp, placeholder
		FROM chats ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("load chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ChatSnapshot
	for rows.Next() {
		var c model.ChatSnapshot
		if err := rows.Scan(&c.ID, &c.Description, &c.Admin, &c.Unread, &c.Pending,
			&c.MemberTimestamp, &c.MessageTimestamp, &c.Placeholder); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) loadMembers(chatID int64) ([]string, error) {
	rows, err := db.Query(`SELECT name FROM chat_members WHERE chat_id = ? ORDER BY position`, chatID)
	if err != nil {
		return nil, fmt.Errorf("load members of chat %d: %w", chatID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (db *DB) loadMessages(chatID int64) ([]model.Message, error) {
	rows, err := db.Query(`
		SELECT sender, text, timestamp, attachment FROM messages
		WHERE chat_id = ? ORDER BY seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("load messages of chat %d: %w", chatID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.Sender, &m.Text, &m.Timestamp, &m.Attachment); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
