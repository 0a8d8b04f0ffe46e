package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap("read", nil))

	err := Wrap("read", io.ErrUnexpectedEOF)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, IsTransportError(err))
	assert.Equal(t, "transport: read: unexpected EOF", err.Error())

	// already wrapped errors keep their original operation
	again := Wrap("write", err)
	var te *Error
	require.ErrorAs(t, again, &te)
	assert.Equal(t, "read", te.Op)

	assert.False(t, IsTransportError(errors.New("other")))
}

func TestSetReadDeadline(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, SetReadDeadline(ctx, local, 0))

	buf := make([]byte, 1)
	_, err := local.Read(buf)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)

	// streams without deadlines are ignored
	require.NoError(t, SetReadDeadline(context.Background(), struct{}{}, time.Second))
}
