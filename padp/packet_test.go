package padp

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16_CheckValue(t *testing.T) {
	assert.Equal(t, uint16(0x31C3), crc16([]byte("123456789")))
	assert.Equal(t, uint16(0), crc16(nil))
}

func TestPacket_PackLayout(t *testing.T) {
	p := newPacket(TypeData, FlagFirst|FlagLast, 0x11, 3, []byte{1, 2, 3})
	frame := p.Pack()

	require.Len(t, frame, slpHeaderSize+padpHeaderSize+3+slpTrailerSize)
	assert.Equal(t, []byte{0xBE, 0xEF, 0xED}, frame[:3])
	assert.Equal(t, SocketDLP, frame[3])
	assert.Equal(t, SocketDLP, frame[4])
	assert.Equal(t, SLPTypePADP, frame[5])
	assert.Equal(t, []byte{0, 7}, frame[6:8], "SLP size covers PADP header and payload")
	assert.Equal(t, byte(0x11), frame[8])
	assert.Equal(t, headerSum(frame), frame[9])
	assert.Equal(t, []byte{TypeData, FlagFirst | FlagLast, 0, 3}, frame[10:14])
	assert.Equal(t, []byte{1, 2, 3}, frame[14:17])
}

func TestPacket_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  *Packet
	}{
		{"data", newPacket(TypeData, FlagFirst, 1, 2000, bytes.Repeat([]byte{0xAA}, MaxFragmentSize))},
		{"ack", newPacket(TypeAck, FlagLast, 0xFE, 1024, nil)},
		{"tickle", newPacket(TypeTickle, FlagFirst|FlagLast, 7, 0, nil)},
		{"long form", newPacket(TypeData, FlagFirst, 9, 0x12345, []byte("payload"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePacket(tt.pkt.Pack())
			require.NoError(t, err)

			assert.Equal(t, tt.pkt.XID, got.XID)
			assert.Equal(t, tt.pkt.Type, got.Type)
			assert.Equal(t, tt.pkt.Size, got.Size)
			assert.Equal(t, tt.pkt.Flags&^FlagLongForm, got.Flags&^FlagLongForm)
			assert.Equal(t, len(tt.pkt.Payload), len(got.Payload))
			if len(tt.pkt.Payload) > 0 {
				assert.Equal(t, tt.pkt.Payload, got.Payload)
			}
			assert.Equal(t, tt.pkt.Size > 0xFFFF, got.IsLongForm())
		})
	}
}

func TestParsePacket_SingleByteCorruptionDetected(t *testing.T) {
	frame := newPacket(TypeData, FlagFirst|FlagLast, 0x42, 16, []byte("sixteen bytes!!!")).Pack()

	for i := range frame {
		for _, mask := range []byte{0x01, 0x80, 0xFF} {
			corrupt := bytes.Clone(frame)
			corrupt[i] ^= mask

			_, err := ParsePacket(corrupt)
			require.Error(t, err, "byte %d mask 0x%02X not detected", i, mask)
		}
	}
}

func TestParsePacket_Errors(t *testing.T) {
	frame := newPacket(TypeData, FlagFirst|FlagLast, 1, 1, []byte{9}).Pack()

	bad := bytes.Clone(frame)
	bad[0] = 0
	_, err := ParsePacket(bad)
	require.ErrorIs(t, err, ErrBadSignature)

	bad = bytes.Clone(frame)
	bad[8]++
	_, err = ParsePacket(bad)
	require.ErrorIs(t, err, ErrHeaderChecksum)

	bad = bytes.Clone(frame)
	bad[len(bad)-3] ^= 0x10
	_, err = ParsePacket(bad)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	_, err = ParsePacket(frame[:len(frame)-1])
	require.ErrorIs(t, err, ErrMalformedPacket)
}

func TestReadFrame_Resync(t *testing.T) {
	frame := newPacket(TypeData, FlagFirst|FlagLast, 3, 2, []byte{0xBE, 0xEF}).Pack()

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0xBE, 0xBE, 0xEF, 0x01})
	stream.Write(frame)

	got, err := readFrame(bufio.NewReader(&stream))
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestReadFrame_HeaderChecksum(t *testing.T) {
	frame := newPacket(TypeData, FlagFirst|FlagLast, 3, 1, []byte{1}).Pack()
	frame[9]++

	_, err := readFrame(bufio.NewReader(bytes.NewReader(frame)))
	require.ErrorIs(t, err, ErrHeaderChecksum)
}

func TestNextXID(t *testing.T) {
	assert.Equal(t, byte(1), nextXID(0))
	assert.Equal(t, byte(2), nextXID(1))
	assert.Equal(t, byte(0xFE), nextXID(0xFD))
	assert.Equal(t, byte(1), nextXID(0xFE))
	assert.Equal(t, byte(1), nextXID(0xFF))
}

func TestAssembler(t *testing.T) {
	t.Run("in order", func(t *testing.T) {
		a := newAssembler(DefaultMaxMessageSize)

		msg, err := a.accept(newPacket(TypeData, FlagFirst, 1, 5, []byte("abc")))
		require.NoError(t, err)
		assert.Nil(t, msg)

		msg, err = a.accept(newPacket(TypeData, FlagLast, 2, 3, []byte("de")))
		require.NoError(t, err)
		assert.Equal(t, []byte("abcde"), msg)
	})

	t.Run("skipped xid", func(t *testing.T) {
		a := newAssembler(DefaultMaxMessageSize)

		_, err := a.accept(newPacket(TypeData, FlagFirst, 1, 5, []byte("abc")))
		require.NoError(t, err)

		_, err = a.accept(newPacket(TypeData, FlagLast, 3, 3, []byte("de")))
		require.ErrorIs(t, err, ErrFragmentOutOfOrder)

		// the partial message survives for the correct fragment
		msg, err := a.accept(newPacket(TypeData, FlagLast, 2, 3, []byte("de")))
		require.NoError(t, err)
		assert.Equal(t, []byte("abcde"), msg)
	})

	t.Run("wrong offset", func(t *testing.T) {
		a := newAssembler(DefaultMaxMessageSize)

		_, err := a.accept(newPacket(TypeData, FlagFirst, 1, 5, []byte("abc")))
		require.NoError(t, err)

		_, err = a.accept(newPacket(TypeData, FlagLast, 2, 2, []byte("de")))
		require.ErrorIs(t, err, ErrFragmentOutOfOrder)
	})

	t.Run("continuation without start", func(t *testing.T) {
		a := newAssembler(DefaultMaxMessageSize)

		_, err := a.accept(newPacket(TypeData, FlagLast, 2, 3, []byte("de")))
		require.ErrorIs(t, err, ErrFragmentOutOfOrder)
	})

	t.Run("duplicate", func(t *testing.T) {
		a := newAssembler(DefaultMaxMessageSize)
		p := newPacket(TypeData, FlagFirst|FlagLast, 1, 2, []byte("hi"))

		assert.False(t, a.isDuplicate(p))
		_, err := a.accept(p)
		require.NoError(t, err)
		assert.True(t, a.isDuplicate(p))
	})

	t.Run("too large", func(t *testing.T) {
		a := newAssembler(MaxFragmentSize)

		_, err := a.accept(newPacket(TypeData, FlagFirst, 1, MaxFragmentSize+1, []byte("x")))
		require.ErrorIs(t, err, ErrMessageTooLarge)
	})

	t.Run("length mismatch", func(t *testing.T) {
		a := newAssembler(DefaultMaxMessageSize)

		_, err := a.accept(newPacket(TypeData, FlagFirst|FlagLast, 1, 4, []byte("abc")))
		require.ErrorIs(t, err, ErrMalformedPacket)
	})
}
