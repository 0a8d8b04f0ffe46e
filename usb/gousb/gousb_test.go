package gousb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/require"

	"github.com/Tavisco/palm-sync/usb"
)

func TestTransferResult(t *testing.T) {
	require := require.New(t)

	res, err := transferResult(nil)
	require.NoError(err)
	require.Equal(usb.StatusOK, res.Status)

	for _, stall := range []error{gousb.ErrorPipe, gousb.TransferStall, fmt.Errorf("read: %w", gousb.ErrorPipe)} {
		res, err = transferResult(stall)
		require.NoError(err)
		require.Equal(usb.StatusStall, res.Status)
	}

	for _, babble := range []error{gousb.ErrorOverflow, gousb.TransferOverflow} {
		res, err = transferResult(babble)
		require.NoError(err)
		require.Equal(usb.StatusBabble, res.Status)
	}

	other := errors.New("no device")
	_, err = transferResult(other)
	require.ErrorIs(err, other)
}

func TestSource_Interface(t *testing.T) {
	var src usb.DeviceSource = (*Source)(nil)
	require.NotNil(t, src)
}
