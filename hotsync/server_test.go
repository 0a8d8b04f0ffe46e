package hotsync

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Tavisco/palm-sync/dlp/dlptest"
	"github.com/Tavisco/palm-sync/usb"
)

func TestNetworkServer_ConcurrentSessions(t *testing.T) {
	require := require.New(t)

	var events eventRecorder
	conduit := &listConduit{}
	srv, err := NewNetworkServer(
		WithListenAddress("127.0.0.1:0"),
		WithConduit(conduit),
		WithEventHandler(events.handle),
	)
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(srv.Listen(ctx))

	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run(ctx) }()

	const devices = 3
	var dones []<-chan error
	for range devices {
		sock, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(err)
		dones = append(dones, serveNetSync(t, dlptest.NewDevice(), sock))
	}
	for _, done := range dones {
		require.NoError(waitDone(t, done))
	}

	require.Eventually(func() bool {
		return events.count(DisconnectEvent) == devices
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(devices, events.count(ConnectEvent))
	for _, names := range conduit.sessions() {
		require.Equal([]string{"MemoDB", "AddressDB"}, names)
	}
	for _, ev := range events.get() {
		require.Equal(TransportNetwork, ev.Transport)
		require.NoError(ev.Err)
	}

	m := srv.Metrics()
	require.Equal(uint64(devices), m.SessionCount.Load())
	require.Equal(uint64(devices), m.SessionSuccessCount.Load())
	require.Zero(m.ActiveSessions.Load())
	require.Empty(srv.Sessions())

	cancel()
	select {
	case err := <-runDone:
		require.NoError(err)
	case <-time.After(2 * time.Second):
		t.Fatal("network server did not stop")
	}
}

func TestNetworkServer_ConduitErrorIsReported(t *testing.T) {
	require := require.New(t)

	var events eventRecorder
	errConduit := errors.New("conduit failed")
	srv, err := NewNetworkServer(
		WithListenAddress("127.0.0.1:0"),
		WithConduit(ConduitFunc(func(context.Context, Session) error { return errConduit })),
		WithEventHandler(events.handle),
	)
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(srv.Listen(ctx))
	go func() { _ = srv.Run(ctx) }()

	sock, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(err)
	dev := dlptest.NewDevice()
	require.NoError(waitDone(t, serveNetSync(t, dev, sock)))

	require.Eventually(func() bool {
		return events.count(DisconnectEvent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ev := events.get()[1]
	require.ErrorIs(ev.Err, errConduit)
	require.Equal(uint64(1), srv.Metrics().SessionErrCount.Load())

	// the session still ends cleanly on the device
	ended, _ := dev.Ended()
	require.True(ended)
}

func TestNetworkServer_ConduitPanicFailsOnlyItsSession(t *testing.T) {
	require := require.New(t)

	var (
		events eventRecorder
		calls  atomic.Int32
	)
	srv, err := NewNetworkServer(
		WithListenAddress("127.0.0.1:0"),
		WithConduit(ConduitFunc(func(context.Context, Session) error {
			if calls.Add(1) == 1 {
				var counts map[string]int
				counts["MemoDB"]++
			}
			return nil
		})),
		WithEventHandler(events.handle),
	)
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(srv.Listen(ctx))
	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run(ctx) }()

	sock, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(err)
	require.NoError(waitDone(t, serveNetSync(t, dlptest.NewDevice(), sock)))

	require.Eventually(func() bool {
		return events.count(DisconnectEvent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ev := events.get()[1]
	require.Equal(DisconnectEvent, ev.Type)
	require.ErrorIs(ev.Err, ErrConduitPanic)
	require.Contains(ev.Err.Error(), "nil map")

	// the server keeps serving
	sock, err = net.Dial("tcp", srv.Addr().String())
	require.NoError(err)
	require.NoError(waitDone(t, serveNetSync(t, dlptest.NewDevice(), sock)))

	require.Eventually(func() bool {
		return events.count(DisconnectEvent) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(events.get()[3].Err)

	m := srv.Metrics()
	require.Equal(uint64(2), m.SessionCount.Load())
	require.Equal(uint64(1), m.SessionErrCount.Load())
	require.Equal(uint64(1), m.SessionSuccessCount.Load())
	require.Zero(m.ActiveSessions.Load())

	cancel()
	select {
	case err := <-runDone:
		require.NoError(err)
	case <-time.After(2 * time.Second):
		t.Fatal("network server did not stop")
	}
}

func TestSerialServer_SwitchesRateAfterHandshake(t *testing.T) {
	require := require.New(t)

	conduit := &listConduit{}
	srv, err := NewSerialServer("/dev/ttyTEST",
		WithConduit(conduit),
		WithPADPConfig(testPADPConfig(t)),
		WithSerialBaudRate(115200),
		WithRetryDelay(10*time.Millisecond),
	)
	require.NoError(err)

	desk, palm := net.Pipe()
	port := &rateRecordingPort{Conn: desk}

	var (
		mu    sync.Mutex
		opens []int
	)
	srv.SetPortOpener(func(device string, rate int) (SerialPort, error) {
		mu.Lock()
		defer mu.Unlock()
		opens = append(opens, rate)
		if len(opens) == 1 {
			return port, nil
		}

		return nil, io.ErrClosedPipe
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run(ctx) }()

	dev := dlptest.NewDevice()
	require.NoError(waitDone(t, servePADP(t, dev, palm, 57600)))

	require.Eventually(func() bool {
		return srv.Metrics().SessionSuccessCount.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal([]int{57600}, port.getRates())
	require.Equal([][]string{{"MemoDB", "AddressDB"}}, conduit.sessions())

	mu.Lock()
	require.Equal(9600, opens[0])
	mu.Unlock()

	cancel()
	select {
	case err := <-runDone:
		require.NoError(err)
	case <-time.After(2 * time.Second):
		t.Fatal("serial server did not stop")
	}
}

// pipeUSBDevice is a usb.Device whose bulk endpoints are a net.Pipe end.
type pipeUSBDevice struct {
	conn   net.Conn
	closed chan struct{}
	once   sync.Once
}

func (d *pipeUSBDevice) ControlIn(context.Context, usb.Setup, int) (usb.TransferResult, error) {
	return usb.TransferResult{Status: usb.StatusStall}, nil
}

func (d *pipeUSBDevice) ControlOut(context.Context, usb.Setup, []byte) (usb.TransferResult, error) {
	return usb.TransferResult{}, nil
}

func (d *pipeUSBDevice) BulkIn(_ context.Context, _ uint8, length int) (usb.TransferResult, error) {
	buf := make([]byte, length)
	n, err := d.conn.Read(buf)
	if err != nil {
		return usb.TransferResult{}, err
	}

	return usb.TransferResult{Data: buf[:n]}, nil
}

func (d *pipeUSBDevice) BulkOut(_ context.Context, _ uint8, data []byte) (usb.TransferResult, error) {
	if _, err := d.conn.Write(data); err != nil {
		return usb.TransferResult{}, err
	}

	return usb.TransferResult{}, nil
}

func (d *pipeUSBDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return d.conn.Close()
}

// fakeSource reports one attached device until detach is called.
type fakeSource struct {
	mu       sync.Mutex
	info     usb.DeviceInfo
	attached bool
	opens    int
	dev      *pipeUSBDevice
}

func (s *fakeSource) Scan(context.Context) ([]usb.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return nil, nil
	}

	return []usb.DeviceInfo{s.info, {VendorID: 0xFFFF, ProductID: 1, Bus: 9, Address: 9}}, nil
}

func (s *fakeSource) Open(context.Context, usb.DeviceInfo) (usb.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++

	return s.dev, nil
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.opens
}

func TestUSBServer_NetSyncDevice(t *testing.T) {
	require := require.New(t)

	desk, palm := net.Pipe()
	source := &fakeSource{
		info:     usb.DeviceInfo{VendorID: 0x0830, ProductID: 0x0060, Bus: 1, Address: 4},
		attached: true,
		dev:      &pipeUSBDevice{conn: desk, closed: make(chan struct{})},
	}

	var events eventRecorder
	conduit := &listConduit{}
	srv, err := NewUSBServer(source,
		WithConduit(conduit),
		WithEventHandler(events.handle),
		WithPollInterval(10*time.Millisecond),
		WithUSBDevices(usb.DeviceConfig{
			VendorID: 0x0830, ProductID: 0x0060, Label: "test", Family: usb.FamilyNone, Protocol: usb.ProtocolNetSync,
		}),
	)
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run(ctx) }()

	require.NoError(waitDone(t, serveNetSync(t, dlptest.NewDevice(), palm)))
	require.Eventually(func() bool {
		return events.count(DisconnectEvent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ev := events.get()[1]
	require.NoError(ev.Err)
	require.Equal(TransportUSB, ev.Transport)
	require.Equal("0830:0060", ev.Device)
	require.Equal([][]string{{"MemoDB", "AddressDB"}}, conduit.sessions())

	// still attached: not synced again
	time.Sleep(50 * time.Millisecond)
	require.Equal(1, source.openCount())

	cancel()
	select {
	case err := <-runDone:
		require.NoError(err)
	case <-time.After(2 * time.Second):
		t.Fatal("usb server did not stop")
	}
}

func TestUSBServer_InitFailure(t *testing.T) {
	require := require.New(t)

	desk, _ := net.Pipe()
	dev := &pipeUSBDevice{conn: desk, closed: make(chan struct{})}
	source := &fakeSource{
		info:     usb.DeviceInfo{VendorID: 0x0830, ProductID: 0x0001},
		attached: true,
		dev:      dev,
	}
	srv, err := NewUSBServer(source, WithPollInterval(10*time.Millisecond))
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Run(ctx) }()

	require.Eventually(func() bool {
		return srv.Metrics().USBInitErrCount.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-dev.closed:
	case <-time.After(time.Second):
		t.Fatal("device not closed after failed init")
	}
	require.Zero(srv.Metrics().SessionCount.Load())
}

func TestServerConfig_Options(t *testing.T) {
	require := require.New(t)

	cfg, err := NewServerConfig()
	require.NoError(err)
	require.Equal(uint32(DefaultSerialBaudRate), cfg.BaudRate())
	require.Equal(DefaultListenAddress, cfg.ListenAddress())
	require.Equal(DefaultPollInterval, cfg.PollInterval())
	require.Equal(usb.DefaultDevices, cfg.USBDevices())

	for _, opt := range []ServerOption{
		WithSerialBaudRate(12345),
		WithListenAddress(""),
		WithPollInterval(time.Millisecond),
		WithPollInterval(2 * time.Minute),
		WithEndTimeout(0),
		WithRetryDelay(-time.Second),
		WithConduit(nil),
		WithEventHandler(nil),
		WithUSBDevices(),
		WithLogger(nil),
	} {
		_, err := NewServerConfig(opt)
		require.ErrorIs(err, ErrInvalidServerCfg)
	}

	_, err = NewSerialServer("")
	require.ErrorIs(err, ErrInvalidServerCfg)
}

func TestRegisterMetrics(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()
	var m ServerMetrics
	m.incSessionCount()
	m.incSessionSuccessCount()

	require.NoError(RegisterMetrics(reg, "network", &m))
	require.Error(RegisterMetrics(reg, "network", &m))

	families, err := reg.Gather()
	require.NoError(err)

	values := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				values[f.GetName()] = c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				values[f.GetName()] = g.GetValue()
			}
		}
	}
	require.InDelta(1.0, values["hotsync_sessions_total"], 0)
	require.InDelta(1.0, values["hotsync_sessions_succeeded_total"], 0)
	require.InDelta(1.0, values["hotsync_active_sessions"], 0)
	require.InDelta(0.0, values["hotsync_sessions_failed_total"], 0)
}

func TestRun_StopsAllServers(t *testing.T) {
	require := require.New(t)

	a, err := NewNetworkServer(WithListenAddress("127.0.0.1:0"))
	require.NoError(err)
	b, err := NewNetworkServer(WithListenAddress("127.0.0.1:0"))
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(Run(ctx, a, b))
}
