package padp

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a PADP connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// FragmentSendCount indicates the number of fragments sent and acked.
	FragmentSendCount atomic.Uint64
	// FragmentRecvCount indicates the number of data fragments accepted.
	FragmentRecvCount atomic.Uint64
	// RetryCount indicates the total number of fragment retransmissions.
	RetryCount atomic.Uint64

	// CorruptFrameCount indicates the number of frames dropped for a bad
	// signature, header checksum or CRC.
	CorruptFrameCount atomic.Uint64
	// OutOfOrderCount indicates the number of rejected continuation fragments.
	OutOfOrderCount atomic.Uint64
	// DuplicateCount indicates the number of retransmitted fragments re-acked.
	DuplicateCount atomic.Uint64
	// TickleRecvCount indicates the number of keep-alive tickles received.
	TickleRecvCount atomic.Uint64

	// MsgSendCount indicates the number of messages sent.
	MsgSendCount atomic.Uint64
	// MsgRecvCount indicates the number of messages received.
	MsgRecvCount atomic.Uint64
}

func (m *ConnectionMetrics) incFragmentSendCount() {
	m.FragmentSendCount.Add(1)
}

func (m *ConnectionMetrics) incFragmentRecvCount() {
	m.FragmentRecvCount.Add(1)
}

func (m *ConnectionMetrics) incRetryCount() {
	m.RetryCount.Add(1)
}

func (m *ConnectionMetrics) incCorruptFrameCount() {
	m.CorruptFrameCount.Add(1)
}

func (m *ConnectionMetrics) incOutOfOrderCount() {
	m.OutOfOrderCount.Add(1)
}

func (m *ConnectionMetrics) incDuplicateCount() {
	m.DuplicateCount.Add(1)
}

func (m *ConnectionMetrics) incTickleRecvCount() {
	m.TickleRecvCount.Add(1)
}

func (m *ConnectionMetrics) incMsgSendCount() {
	m.MsgSendCount.Add(1)
}

func (m *ConnectionMetrics) incMsgRecvCount() {
	m.MsgRecvCount.Add(1)
}
