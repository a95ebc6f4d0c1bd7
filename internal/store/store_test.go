package store

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/matheus3301/ims/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + save log)", result.Version)
	}
}

func TestRollbackAndReapply(t *testing.T) {
	db := testDB(t)

	result, err := db.Rollback()
	if err != nil {
		t.Fatal(err)
	}
	if result.Version != 1 || !result.Changed {
		t.Errorf("after rollback: %+v, want version 1 changed", result)
	}
	if _, err := db.LastSave(); err == nil {
		t.Error("save_log should be gone after rollback")
	}

	result, err = db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2", result.Version)
	}
}

func sampleSnapshot() model.Snapshot {
	return model.Snapshot{
		User:    model.UserInfo{Name: "me", Info: "around"},
		Cursors: model.Cursors{Friends: 3, Chats: 4, Notifications: 9},
		Friends: []model.Friend{{Name: "zoe", Info: "z"}, {Name: "alice", Info: "a"}},
		Requests: []model.FriendRequest{
			{Direction: model.Sent, Name: "dave", Timestamp: 5},
			{Direction: model.Received, Name: "erin", Timestamp: 6},
		},
		Chats: []model.ChatSnapshot{
			{
				ID: 7, Description: "plans", Admin: "alice", Members: []string{"me", "zoe"},
				Unread: 2, Pending: 1, MemberTimestamp: 4, MessageTimestamp: 8,
				Messages: []model.Message{
					{Sender: "alice", Text: "hi", Timestamp: 7},
					{Text: "hello", Timestamp: 8, Attachment: "/tmp/pic.png"},
				},
			},
			{ID: 2, Placeholder: true},
		},
		TakenAt: 1700000000000,
	}
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	db := testDB(t)
	want := sampleSnapshot()

	info, err := db.SaveSnapshot(want)
	if err != nil {
		t.Fatal(err)
	}
	if info.Friends != 2 || info.Chats != 2 || info.Messages != 2 || info.User != "me" {
		t.Errorf("save info = %+v", info)
	}

	got, err := db.LoadSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	// Empty collections come back nil.
	want.Chats[1].Members, want.Chats[1].Messages = nil, nil
	if !reflect.DeepEqual(got, want) {
		t.Errorf("loaded snapshot differs\n got: %+v\nwant: %+v", got, want)
	}
}

func TestSaveReplacesPreviousState(t *testing.T) {
	db := testDB(t)
	if _, err := db.SaveSnapshot(sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	next := model.Snapshot{User: model.UserInfo{Name: "me"}, TakenAt: 1700000001000}
	info, err := db.SaveSnapshot(next)
	if err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Friends) != 0 || len(got.Chats) != 0 || len(got.Requests) != 0 {
		t.Errorf("stale rows survived: %+v", got)
	}

	last, err := db.LastSave()
	if err != nil {
		t.Fatal(err)
	}
	if last != info || last.ID != 2 {
		t.Errorf("last save = %+v, want %+v with id 2", last, info)
	}
}

func TestLoadEmpty(t *testing.T) {
	db := testDB(t)
	if _, err := db.LoadSnapshot(); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("LoadSnapshot() = %v, want ErrNoSnapshot", err)
	}
	if _, err := db.LastSave(); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("LastSave() = %v, want ErrNoSnapshot", err)
	}
}

func TestSaveRejectsNegativeCounters(t *testing.T) {
	db := testDB(t)
	s := sampleSnapshot()
	s.Chats[0].Unread = -1

	if _, err := db.SaveSnapshot(s); err == nil {
		t.Fatal("expected constraint error")
	}
	if _, err := db.LoadSnapshot(); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("failed save left state behind: %v", err)
	}
}
