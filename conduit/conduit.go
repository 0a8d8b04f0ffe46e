// Package conduit holds the sync logic run on started HotSync sessions.
package conduit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tavisco/palm-sync/dlp"
	"github.com/Tavisco/palm-sync/hotsync"
	"github.com/Tavisco/palm-sync/logger"
)

const (
	// MemoDBName is the database holding the built-in memo application records.
	MemoDBName = "MemoDB"
	// maxRecordIDs bounds the ids read in one ReadRecordIDList request.
	maxRecordIDs = 500
)

// listMode lists every RAM database, several per request.
const listMode = dlp.DBListRAM | dlp.DBListMultiple

// MemoSink receives the memos read from a device.
type MemoSink interface {
	SaveMemos(ctx context.Context, session SessionRecord, memos []Memo) error
}

// SessionRecord describes a synced session.
type SessionRecord struct {
	ID        string
	UserName  string
	Databases []string
	SyncedAt  time.Time
}

// DBLister logs the databases of every session.
type DBLister struct {
	Logger logger.Logger
	// OnList, when set, receives the database list.
	OnList func(s hotsync.Session, dbs []dlp.DBInfo)
}

var _ hotsync.Conduit = (*DBLister)(nil)

// Run lists the RAM databases of the device.
func (c *DBLister) Run(ctx context.Context, s hotsync.Session) error {
	dbs, err := s.DLP().ListDBs(ctx, listMode, 0)
	if err != nil {
		return fmt.Errorf("conduit: list databases: %w", err)
	}

	l := c.Logger
	if l == nil {
		l = logger.GetLogger()
	}
	for _, db := range dbs {
		l.Info("conduit: database", "session", s.ID(), "name", db.Name, "type", db.Type, "creator", db.Creator)
	}
	if c.OnList != nil {
		c.OnList(s, dbs)
	}

	return nil
}

// MemoSync lists the databases, then reads every memo of MemoDB and hands
// the non-blank ones to Sink.
type MemoSync struct {
	Sink   MemoSink
	Logger logger.Logger
}

var _ hotsync.Conduit = (*MemoSync)(nil)

// Run performs the memo sync on s.
func (c *MemoSync) Run(ctx context.Context, s hotsync.Session) error {
	l := c.Logger
	if l == nil {
		l = logger.GetLogger()
	}
	l = l.With("session", s.ID())
	client := s.DLP()

	dbs, err := client.ListDBs(ctx, listMode, 0)
	if err != nil {
		return fmt.Errorf("conduit: list databases: %w", err)
	}
	names := make([]string, 0, len(dbs))
	for _, db := range dbs {
		names = append(names, db.Name)
	}
	l.Info("conduit: databases", "names", names)

	if err := client.OpenConduit(ctx); err != nil {
		return fmt.Errorf("conduit: open conduit: %w", err)
	}

	memos, err := c.readMemos(ctx, client, l)
	if err != nil {
		return err
	}

	if c.Sink != nil {
		rec := SessionRecord{ID: s.ID(), Databases: names, SyncedAt: time.Now()}
		if u := s.UserInfo(); u != nil {
			rec.UserName = u.UserName
		}
		if err := c.Sink.SaveMemos(ctx, rec, memos); err != nil {
			return fmt.Errorf("conduit: save memos: %w", err)
		}
	}

	if err := client.AddSyncLogEntry(ctx, fmt.Sprintf("Memos: %d read.\n", len(memos))); err != nil {
		l.Warn("conduit: sync log entry failed", "error", err)
	}

	return nil
}

func (c *MemoSync) readMemos(ctx context.Context, client *dlp.Client, l logger.Logger) (memos []Memo, err error) {
	handle, err := client.OpenDB(ctx, 0, dlp.OpenRead, MemoDBName)
	if err != nil {
		return nil, fmt.Errorf("conduit: open %s: %w", MemoDBName, err)
	}
	defer func() {
		if cerr := client.CloseDB(ctx, handle); cerr != nil {
			err = errors.Join(err, fmt.Errorf("conduit: close %s: %w", MemoDBName, cerr))
		}
	}()

	n, err := client.ReadOpenDBInfo(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("conduit: read %s info: %w", MemoDBName, err)
	}
	l.Debug("conduit: memo database opened", "records", n)

	ids, err := client.ReadRecordIDList(ctx, handle, 0, maxRecordIDs)
	if err != nil && !dlp.IsStatus(err, dlp.StatusNotFound) {
		return nil, fmt.Errorf("conduit: read record ids: %w", err)
	}

	for _, id := range ids {
		rec, err := client.ReadRecordByID(ctx, handle, id)
		if err != nil {
			return nil, fmt.Errorf("conduit: read record 0x%08X: %w", id, err)
		}

		text, err := DecodeMemo(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("conduit: decode record 0x%08X: %w", id, err)
		}

		memo := Memo{ID: rec.ID, Category: rec.Category, Text: text}
		if memo.IsBlank() {
			continue
		}
		memos = append(memos, memo)
	}

	return memos, nil
}
