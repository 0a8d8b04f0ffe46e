package dlptest

import (
	"context"
	"testing"

	"github.com/Tavisco/palm-sync/dlp"
	"github.com/Tavisco/palm-sync/wire"
	"github.com/stretchr/testify/require"
)

func TestDevice_UnknownOpcode(t *testing.T) {
	require := require.New(t)
	dev := NewDevice()

	resp, err := dev.Handle([]byte{0x7E, 0})
	require.NoError(err)
	require.Equal([]byte{0xFE, 0, 0, byte(dlp.StatusIllegalRequest)}, resp)
}

func TestDevice_MissingArgument(t *testing.T) {
	require := require.New(t)
	dev := NewDevice()

	resp, err := dev.Handle([]byte{byte(dlp.OpOpenDB), 0})
	require.NoError(err)
	require.Equal(byte(dlp.StatusArgMissing), resp[3])
}

func TestDevice_Malformed(t *testing.T) {
	_, err := NewDevice().Handle([]byte{byte(dlp.OpOpenDB)})
	require.ErrorIs(t, err, dlp.ErrMalformed)
}

func TestDevice_Execute(t *testing.T) {
	require := require.New(t)
	dev := NewDevice(WithDatabases(MemoDB("a", "b", "c")))

	resp, err := dev.Execute(context.Background(), dlp.OpenDB.NewRequest(wire.Record{
		"mode": uint8(dlp.OpenRead),
		"name": "MemoDB",
	}))
	require.NoError(err)
	rec, err := resp.Result(0)
	require.NoError(err)
	require.Equal([]uint8{uint8(rec.Uint("dbHandle"))}, dev.OpenHandles())

	client := dlp.NewClient(dev)
	ids, err := client.ReadRecordIDList(context.Background(), uint8(rec.Uint("dbHandle")), 1, 1)
	require.NoError(err)
	require.Equal([]uint32{0x101}, ids)
}
