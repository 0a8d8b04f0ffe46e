package conduit

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Tavisco/palm-sync/dlp"
	"github.com/Tavisco/palm-sync/dlp/dlptest"
	"github.com/Tavisco/palm-sync/hotsync"
	"github.com/Tavisco/palm-sync/logger"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

// deviceSession is a started session backed by a simulated device.
type deviceSession struct {
	*dlptest.Device
}

var _ hotsync.Session = deviceSession{}

func (s deviceSession) ID() string              { return "test-session" }
func (s deviceSession) DLP() *dlp.Client        { return dlp.NewClient(s.Device) }
func (s deviceSession) UserInfo() *dlp.UserInfo { return &dlp.UserInfo{UserName: "Test User"} }
func (s deviceSession) SysInfo() *dlp.SysInfo   { return &dlp.SysInfo{} }

type memoRecorder struct {
	session SessionRecord
	memos   []Memo
	err     error
}

func (r *memoRecorder) SaveMemos(_ context.Context, s SessionRecord, memos []Memo) error {
	r.session = s
	r.memos = memos

	return r.err
}

func TestMemoSync(t *testing.T) {
	require := require.New(t)

	dev := dlptest.NewDevice(dlptest.WithDatabases(
		dlptest.MemoDB("Groceries\nmilk, eggs", "   ", "Call home"),
		&dlptest.Database{Info: dlp.DBInfo{Type: "DATA", Creator: "addr", Name: "AddressDB"}},
	))
	sink := &memoRecorder{}

	c := &MemoSync{Sink: sink}
	require.NoError(c.Run(context.Background(), deviceSession{dev}))

	require.Len(sink.memos, 2)
	require.Equal("Groceries\nmilk, eggs", sink.memos[0].Text)
	require.Equal("Groceries", sink.memos[0].Title())
	require.Equal(uint32(0x100), sink.memos[0].ID)
	require.Equal("Call home", sink.memos[1].Text)
	require.Equal("test-session", sink.session.ID)
	require.Equal("Test User", sink.session.UserName)
	require.Equal([]string{"MemoDB", "AddressDB"}, sink.session.Databases)

	require.Empty(dev.OpenHandles())
	require.Equal([]string{"Memos: 2 read.\n"}, dev.SyncLog())
	require.Equal([]dlp.Opcode{
		dlp.OpReadDBList,
		dlp.OpOpenConduit,
		dlp.OpOpenDB,
		dlp.OpReadOpenDBInfo,
		dlp.OpReadRecordIDList,
		dlp.OpReadRecordByID,
		dlp.OpReadRecordByID,
		dlp.OpReadRecordByID,
		dlp.OpCloseDB,
		dlp.OpAddSyncLogEntry,
	}, dev.Requests())
}

func TestMemoSync_NoMemoDB(t *testing.T) {
	dev := dlptest.NewDevice(dlptest.WithDatabases(
		&dlptest.Database{Info: dlp.DBInfo{Type: "DATA", Creator: "addr", Name: "AddressDB"}},
	))

	err := (&MemoSync{}).Run(context.Background(), deviceSession{dev})
	require.True(t, dlp.IsStatus(err, dlp.StatusNotFound))
}

func TestMemoSync_CancelledByUser(t *testing.T) {
	dev := dlptest.NewDevice(dlptest.WithCancelledSync())

	err := (&MemoSync{}).Run(context.Background(), deviceSession{dev})
	require.True(t, dlp.IsStatus(err, dlp.StatusCancelSync))
	require.Empty(t, dev.OpenHandles())
}

func TestMemoSync_SinkError(t *testing.T) {
	require := require.New(t)

	dev := dlptest.NewDevice()
	sinkErr := errors.New("disk full")

	err := (&MemoSync{Sink: &memoRecorder{err: sinkErr}}).Run(context.Background(), deviceSession{dev})
	require.ErrorIs(err, sinkErr)
	require.Empty(dev.OpenHandles())
}

// noSyncLogSession rejects AddSyncLogEntry requests.
type noSyncLogSession struct {
	deviceSession
}

func (s noSyncLogSession) Execute(ctx context.Context, req *dlp.Request) (*dlp.Response, error) {
	if req != nil && req.Command == dlp.AddSyncLogEntry {
		return nil, &dlp.StatusError{Opcode: req.Command.Opcode, Status: dlp.StatusSystem}
	}

	return s.deviceSession.Execute(ctx, req)
}

func (s noSyncLogSession) DLP() *dlp.Client { return dlp.NewClient(s) }

func TestMemoSync_SyncLogFailureIsWarning(t *testing.T) {
	require := require.New(t)

	mockLogger := logger.NewMockLogger()
	mockLogger.On("With", mock.Anything).Return()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Return()
	mockLogger.On("Info", mock.Anything, mock.Anything).Return()
	mockLogger.On("Warn", "conduit: sync log entry failed", mock.Anything).Return()

	dev := dlptest.NewDevice()
	sink := &memoRecorder{}

	err := (&MemoSync{Sink: sink, Logger: mockLogger}).Run(context.Background(), noSyncLogSession{deviceSession{dev}})
	require.NoError(err)
	require.Len(sink.memos, 2)
	require.Empty(dev.SyncLog())

	mockLogger.AssertExpectations(t)
	mockLogger.AssertNumberOfCalls(t, "Warn", 1)
	mockLogger.AssertNumberOfCalls(t, "Error", 0)
}

func TestDBLister(t *testing.T) {
	require := require.New(t)

	var got []string
	c := &DBLister{OnList: func(_ hotsync.Session, dbs []dlp.DBInfo) {
		for _, db := range dbs {
			got = append(got, db.Name)
		}
	}}

	require.NoError(c.Run(context.Background(), deviceSession{dlptest.NewDevice()}))
	require.Equal([]string{"MemoDB", "AddressDB"}, got)
}

func TestDecodeMemo(t *testing.T) {
	require := require.New(t)

	b, err := EncodeMemo("hello\nworld")
	require.NoError(err)
	require.Equal("hello\nworld\x00", string(b))

	text, err := DecodeMemo(b)
	require.NoError(err)
	require.Equal("hello\nworld", text)

	text, err = DecodeMemo([]byte("no terminator"))
	require.NoError(err)
	require.Equal("no terminator", text)

	text, err = DecodeMemo([]byte("first\x00padding"))
	require.NoError(err)
	require.Equal("first", text)

	_, err = EncodeMemo("bad\x00memo")
	require.Error(err)
}
