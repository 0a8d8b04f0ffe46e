package hotsync

import "sync/atomic"

// ServerMetrics contains atomic metrics for the sync servers.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ServerMetrics struct {
	// SessionCount indicates the number of sessions accepted.
	SessionCount atomic.Uint64
	// SessionSuccessCount indicates the number of sessions that synced without error.
	SessionSuccessCount atomic.Uint64
	// SessionErrCount indicates the number of sessions that ended with an error.
	SessionErrCount atomic.Uint64
	// HandshakeErrCount indicates the number of failed handshakes.
	HandshakeErrCount atomic.Uint64
	// ActiveSessions indicates the number of sessions in progress.
	ActiveSessions atomic.Int64
	// USBInitErrCount indicates the number of failed USB device initializations.
	USBInitErrCount atomic.Uint64
}

func (m *ServerMetrics) incSessionCount() {
	m.SessionCount.Add(1)
	m.ActiveSessions.Add(1)
}

func (m *ServerMetrics) decActiveSessions() {
	m.ActiveSessions.Add(-1)
}

func (m *ServerMetrics) incSessionSuccessCount() {
	m.SessionSuccessCount.Add(1)
}

func (m *ServerMetrics) incSessionErrCount() {
	m.SessionErrCount.Add(1)
}

func (m *ServerMetrics) incHandshakeErrCount() {
	m.HandshakeErrCount.Add(1)
}

func (m *ServerMetrics) incUSBInitErrCount() {
	m.USBInitErrCount.Add(1)
}
