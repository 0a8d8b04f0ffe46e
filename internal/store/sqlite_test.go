package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tavisco/palm-sync/conduit"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestSaveMemos(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	syncedAt := time.Date(2004, 3, 1, 12, 30, 0, 0, time.UTC)
	sess := conduit.SessionRecord{
		ID:        "s1",
		UserName:  "Ada",
		Databases: []string{"MemoDB", "AddressDB"},
		SyncedAt:  syncedAt,
	}
	memos := []conduit.Memo{
		{ID: 0x101, Category: 1, Text: "Call home\nabout dinner"},
		{ID: 0x100, Text: "Buy milk"},
	}
	require.NoError(s.SaveMemos(ctx, sess, memos))

	got, err := s.Session(ctx, "s1")
	require.NoError(err)
	require.Equal("Ada", got.UserName)
	require.Equal([]string{"MemoDB", "AddressDB"}, got.Databases)
	require.Equal(2, got.MemoCount)
	require.True(syncedAt.Equal(got.SyncedAt))

	stored, err := s.Memos(ctx, "Ada")
	require.NoError(err)
	require.Len(stored, 2)
	require.Equal(uint32(0x100), stored[0].RecordID)
	require.Equal("Buy milk", stored[0].Title)
	require.Equal(uint32(0x101), stored[1].RecordID)
	require.Equal(uint8(1), stored[1].Category)
	require.Equal("Call home", stored[1].Title)
	require.Equal("Call home\nabout dinner", stored[1].Text)
	require.Equal("s1", stored[1].SessionID)
}

func TestSaveMemos_Resync(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2004, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(s.SaveMemos(ctx,
		conduit.SessionRecord{ID: "s1", UserName: "Ada", SyncedAt: first},
		[]conduit.Memo{{ID: 0x100, Text: "Buy milk"}},
	))
	require.NoError(s.SaveMemos(ctx,
		conduit.SessionRecord{ID: "s2", UserName: "Ada", SyncedAt: first.Add(time.Hour)},
		[]conduit.Memo{{ID: 0x100, Text: "Buy oat milk"}},
	))
	require.NoError(s.SaveMemos(ctx,
		conduit.SessionRecord{ID: "s3", UserName: "Bob", SyncedAt: first.Add(2 * time.Hour)},
		[]conduit.Memo{{ID: 0x100, Text: "Fix bike"}},
	))

	ada, err := s.Memos(ctx, "Ada")
	require.NoError(err)
	require.Len(ada, 1)
	require.Equal("Buy oat milk", ada[0].Text)
	require.Equal("s2", ada[0].SessionID)

	all, err := s.Memos(ctx, "")
	require.NoError(err)
	require.Len(all, 2)

	sessions, err := s.Sessions(ctx, 2)
	require.NoError(err)
	require.Len(sessions, 2)
	require.Equal("s3", sessions[0].ID)
	require.Equal("s2", sessions[1].ID)
	require.Nil(sessions[0].Databases)

	sessions, err = s.Sessions(ctx, 0)
	require.NoError(err)
	require.Len(sessions, 3)
}

func TestSessionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Session(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestOpenMemory(t *testing.T) {
	require := require.New(t)

	s, err := Open(":memory:")
	require.NoError(err)
	defer s.Close()

	require.NoError(s.SaveMemos(context.Background(), conduit.SessionRecord{ID: "m"}, nil))

	sess, err := s.Session(context.Background(), "m")
	require.NoError(err)
	require.Equal(0, sess.MemoCount)
	require.False(sess.SyncedAt.IsZero())
}
