package hotsync

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tavisco/palm-sync/cmp"
	"github.com/Tavisco/palm-sync/dlp"
	"github.com/Tavisco/palm-sync/dlp/dlptest"
)

func TestConnection_NetSyncLifecycle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	desk, palm := net.Pipe()
	dev := dlptest.NewDevice()
	done := serveNetSync(t, dev, palm)

	conn, err := NewNetSyncConnection(TransportNetwork, desk, nil)
	require.NoError(err)
	require.Equal(NewState, conn.State())
	require.NotEmpty(conn.ID())

	_, err = conn.Execute(ctx, dlp.OpenConduit.NewRequest())
	require.ErrorIs(err, ErrNotStarted)
	require.ErrorIs(conn.DLP().OpenConduit(ctx), ErrNotStarted)

	require.Error(conn.Start(ctx))

	require.NoError(conn.DoHandshake(ctx))
	require.Equal(ReadyState, conn.State())
	require.Error(conn.DoHandshake(ctx))

	require.NoError(conn.Start(ctx))
	require.Equal(StartedState, conn.State())
	require.Equal("Test User", conn.UserInfo().UserName)
	require.Equal(uint16(1), conn.SysInfo().DLPMajor)
	require.ErrorIs(conn.Start(ctx), ErrAlreadyStarted)

	dbs, err := conn.DLP().ListDBs(ctx, dlp.DBListRAM|dlp.DBListMultiple, 0)
	require.NoError(err)
	require.Len(dbs, 2)

	require.NoError(conn.End())
	require.NoError(conn.End())
	require.Equal(EndedState, conn.State())
	require.NoError(waitDone(t, done))

	ended, code := dev.Ended()
	require.True(ended)
	require.Equal(dlp.TermNormal, code)

	_, err = conn.Execute(ctx, dlp.OpenConduit.NewRequest())
	require.ErrorIs(err, ErrEnded)
	require.ErrorIs(conn.DoHandshake(ctx), ErrEnded)
}

func TestConnection_PADPHandshake(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	desk, palm := net.Pipe()
	dev := dlptest.NewDevice()
	done := servePADP(t, dev, palm, 57600)

	conn := NewPADPConnection(TransportSerial, desk, testPADPConfig(t), 115200, nil)
	require.NoError(conn.DoHandshake(ctx))

	params := conn.Params()
	require.Equal(uint32(57600), params.BaudRate)
	require.Equal(uint8(cmp.VersionMajor), params.RemoteMajor)
	require.True(params.LongPackets)

	require.NoError(conn.Start(ctx))
	require.NoError(conn.DLP().AddSyncLogEntry(ctx, "ok"))
	require.NoError(conn.End())
	require.NoError(waitDone(t, done))
	require.Equal([]string{"ok"}, dev.SyncLog())
}

func TestConnection_EndBeforeStart(t *testing.T) {
	require := require.New(t)

	desk, palm := net.Pipe()
	defer palm.Close()

	conn, err := NewNetSyncConnection(TransportNetwork, desk, nil)
	require.NoError(err)

	require.NoError(conn.End())
	require.Equal(EndedState, conn.State())

	// the stream is closed without sending anything
	_, err = palm.Read(make([]byte, 1))
	require.Error(err)
}

func TestConnState_Transitions(t *testing.T) {
	require := require.New(t)

	var st atomicConnState
	require.False(st.ToReady())
	require.False(st.ToStarted())
	require.True(st.ToHandshaking())
	require.False(st.ToHandshaking())
	require.True(st.ToReady())
	require.True(st.ToStarted())
	require.Equal(StartedState, st.Get())
	require.Equal(StartedState, st.ToEnded())
	require.Equal(EndedState, st.Get())
	require.Equal(EndedState, st.ToEnded())
	require.Equal("Ended", st.Get().String())
	require.Equal("Unknown", ConnState(42).String())
}
