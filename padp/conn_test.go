package padp

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/Tavisco/palm-sync/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConn_SingleFragmentRoundTrip(t *testing.T) {
	a, b := newConnPair(t, nil, nil)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() { errCh <- a.WriteMessage(ctx, []byte("hello palm")) }()

	msg, err := b.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello palm"), msg)
	require.NoError(t, <-errCh)

	// and back
	go func() { errCh <- b.WriteMessage(ctx, []byte("reply")) }()
	msg, err = a.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("reply"), msg)
	require.NoError(t, <-errCh)

	assert.Equal(t, uint64(1), a.Metrics().MsgSendCount.Load())
	assert.Equal(t, uint64(1), b.Metrics().MsgRecvCount.Load())
}

func TestConn_EmptyMessage(t *testing.T) {
	a, b := newConnPair(t, nil, nil)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() { errCh <- a.WriteMessage(ctx, nil) }()

	msg, err := b.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Empty(t, msg)
	require.NoError(t, <-errCh)
}

func TestConn_MultiFragmentAndLongForm(t *testing.T) {
	for _, size := range []int{MaxFragmentSize, MaxFragmentSize + 1, 3*MaxFragmentSize + 5, 70000} {
		a, b := newConnPair(t, nil, nil)
		ctx := context.Background()
		payload := testPayload(size)

		errCh := make(chan error, 1)
		go func() { errCh <- a.WriteMessage(ctx, payload) }()

		msg, err := b.ReadMessage(ctx)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, payload, msg, "size %d", size)
		require.NoError(t, <-errCh)

		fragments := uint64((size + MaxFragmentSize - 1) / MaxFragmentSize)
		assert.Equal(t, fragments, a.Metrics().FragmentSendCount.Load())
		assert.Equal(t, fragments, b.Metrics().FragmentRecvCount.Load())
	}
}

func TestConn_CorruptedFragmentRetransmittedOnce(t *testing.T) {
	var tap *tapStream
	a, b := newConnPair(t, func(c net.Conn) net.Conn {
		tap = &tapStream{Conn: c, mutate: func(idx int, frame []byte) ([]byte, bool) {
			if idx == 1 {
				frame[slpHeaderSize+padpHeaderSize+20] ^= 0xFF
			}
			return frame, true
		}}
		return tap
	}, nil)

	ctx := context.Background()
	payload := testPayload(2*MaxFragmentSize + 100)

	errCh := make(chan error, 1)
	go func() { errCh <- a.WriteMessage(ctx, payload) }()

	msg, err := b.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, msg)
	require.NoError(t, <-errCh)

	assert.Equal(t, uint64(1), a.Metrics().RetryCount.Load())
	assert.Equal(t, uint64(1), b.Metrics().CorruptFrameCount.Load())
	assert.Equal(t, uint64(3), b.Metrics().FragmentRecvCount.Load())

	writes := tap.Writes()
	require.Len(t, writes, 4, "three fragments plus one retransmission")
	assert.Equal(t, writes[1], writes[2], "retransmission carries the identical frame")
}

func TestConn_LostAckReackedWithoutDuplicateDelivery(t *testing.T) {
	a, b := newConnPair(t, nil, func(c net.Conn) net.Conn {
		return &tapStream{Conn: c, mutate: func(idx int, frame []byte) ([]byte, bool) {
			return frame, idx != 0
		}}
	})

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- a.WriteMessage(ctx, []byte("once")) }()

	msg, err := b.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("once"), msg)
	require.NoError(t, <-errCh)

	assert.Equal(t, uint64(1), a.Metrics().RetryCount.Load())
	assert.Equal(t, uint64(1), b.Metrics().DuplicateCount.Load())

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = b.ReadMessage(shortCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_OutOfOrderFragmentRejected(t *testing.T) {
	c, peer := newRawPeer(t, newTestConfig(t))
	payload := testPayload(2000)

	peer.send(t, newPacket(TypeData, FlagFirst, 1, 2000, payload[:MaxFragmentSize]))
	ack := peer.next(time.Second)
	require.NotNil(t, ack)
	assert.Equal(t, TypeAck, ack.Type)
	assert.Equal(t, byte(1), ack.XID)
	assert.Equal(t, FlagFirst, ack.Flags)
	assert.Equal(t, uint32(2000), ack.Size)

	// skips xid 2
	peer.send(t, newPacket(TypeData, FlagLast, 3, MaxFragmentSize, payload[MaxFragmentSize:]))
	assert.Nil(t, peer.next(100*time.Millisecond), "out-of-order fragment must not be acked")

	peer.send(t, newPacket(TypeData, FlagLast, 2, MaxFragmentSize, payload[MaxFragmentSize:]))
	ack = peer.next(time.Second)
	require.NotNil(t, ack)
	assert.Equal(t, byte(2), ack.XID)

	msg, err := c.ReadMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, msg)
	assert.Equal(t, uint64(1), c.Metrics().OutOfOrderCount.Load())
}

func TestConn_OversizedMessageAckedWithMemoryError(t *testing.T) {
	c, peer := newRawPeer(t, newTestConfig(t, WithMaxMessageSize(MaxFragmentSize)))

	peer.send(t, newPacket(TypeData, FlagFirst, 1, MaxFragmentSize+1, []byte{1}))
	ack := peer.next(time.Second)
	require.NotNil(t, ack)
	assert.NotZero(t, ack.Flags&FlagMemError)
	assert.Zero(t, c.Metrics().FragmentRecvCount.Load())
}

func TestConn_AbortFailsRead(t *testing.T) {
	c, peer := newRawPeer(t, newTestConfig(t))

	peer.send(t, newPacket(TypeAbort, FlagFirst|FlagLast, 1, 0, nil))

	_, err := c.ReadMessage(context.Background())
	require.ErrorIs(t, err, ErrAborted)
}

func TestConn_TickleIgnored(t *testing.T) {
	a, b := newConnPair(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, a.Tickle(ctx))
	require.Eventually(t, func() bool {
		return b.Metrics().TickleRecvCount.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// the tickle did not consume a transaction id
	errCh := make(chan error, 1)
	go func() { errCh <- a.WriteMessage(ctx, []byte("after tickle")) }()
	msg, err := b.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("after tickle"), msg)
	require.NoError(t, <-errCh)
}

func TestConn_SendFailureAfterRetries(t *testing.T) {
	c, _ := newRawPeer(t, newTestConfig(t, WithRetryLimit(2), WithAckTimeout(20*time.Millisecond)))

	err := c.WriteMessage(context.Background(), []byte("nobody listens"))
	require.ErrorIs(t, err, ErrSendFailure)
	assert.True(t, transport.IsTransportError(err))
	assert.Equal(t, uint64(2), c.Metrics().RetryCount.Load())
	assert.Zero(t, c.Metrics().FragmentSendCount.Load())
}

func TestConn_ReadTimeout(t *testing.T) {
	c, _ := newRawPeer(t, newTestConfig(t, WithReadTimeout(30*time.Millisecond)))

	_, err := c.ReadMessage(context.Background())
	require.ErrorIs(t, err, ErrReadTimeout)
	assert.True(t, transport.IsTransportError(err))
}

func TestConn_RemoteClose(t *testing.T) {
	c, peer := newRawPeer(t, newTestConfig(t))
	require.NoError(t, peer.conn.Close())

	_, err := c.ReadMessage(context.Background())
	require.ErrorIs(t, err, io.EOF)
	assert.True(t, transport.IsTransportError(err))
}

func TestConn_Close(t *testing.T) {
	c, _ := newRawPeer(t, newTestConfig(t))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.ReadMessage(context.Background())
	require.ErrorIs(t, err, ErrConnClosed)

	err = c.WriteMessage(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrConnClosed)
}

func TestConnectionConfig_Ranges(t *testing.T) {
	_, err := NewConnectionConfig(WithAckTimeout(time.Millisecond))
	require.Error(t, err)

	_, err = NewConnectionConfig(WithRetryLimit(-1))
	require.Error(t, err)

	_, err = NewConnectionConfig(WithReadTimeout(time.Hour))
	require.Error(t, err)

	_, err = NewConnectionConfig(WithMaxMessageSize(10))
	require.Error(t, err)

	_, err = NewConnectionConfig(WithLogger(nil))
	require.Error(t, err)

	cfg, err := NewConnectionConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultAckTimeout, cfg.AckTimeout())
	assert.Equal(t, DefaultRetryLimit, cfg.RetryLimit())
}
