package hotsync

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Tavisco/palm-sync/usb"
)

// usbSlot tracks a device the server is handling.
type usbSlot struct {
	done atomic.Bool
}

// USBServer syncs configured USB devices. It polls the device source, and
// every attached device matching the device table gets its own concurrent
// session, over PADP with CMP or over NetSync as configured.
type USBServer struct {
	baseServer
	source  usb.DeviceSource
	busy    *xsync.MapOf[string, *usbSlot]
	wg      sync.WaitGroup
	running atomic.Bool
}

var _ Server = (*USBServer)(nil)

// NewUSBServer creates a server polling source.
func NewUSBServer(source usb.DeviceSource, opts ...ServerOption) (*USBServer, error) {
	cfg, err := NewServerConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &USBServer{
		baseServer: newBaseServer("usb", cfg),
		source:     source,
		busy:       xsync.NewMapOf[string, *usbSlot](),
	}, nil
}

// Run polls for devices until ctx is done, then waits for the sessions in
// progress to end.
func (s *USBServer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}
	defer s.running.Store(false)

	s.logger.Info("hotsync: usb server started", "devices", len(s.cfg.usbDevices), "pollInterval", s.cfg.pollInterval)

	for {
		s.poll(ctx)
		if !sleep(ctx, s.cfg.pollInterval) {
			break
		}
	}

	s.wg.Wait()
	s.logger.Info("hotsync: usb server stopped")

	return nil
}

func (s *USBServer) poll(ctx context.Context) {
	infos, err := s.source.Scan(ctx)
	if err != nil {
		s.logger.Warn("hotsync: usb scan failed", "error", err)
		return
	}

	attached := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		attached[info.Key()] = struct{}{}

		devCfg, ok := usb.Match(s.cfg.usbDevices, info)
		if !ok {
			continue
		}
		slot, loaded := s.busy.LoadOrStore(info.Key(), &usbSlot{})
		if loaded {
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer slot.done.Store(true)
			s.serveDevice(ctx, info, devCfg)
		}()
	}

	// A device stays busy until it has been detached, so a device that
	// remains attached after its session is not synced again.
	s.busy.Range(func(key string, slot *usbSlot) bool {
		if _, ok := attached[key]; !ok && slot.done.Load() {
			s.busy.Delete(key)
		}
		return true
	})
}

func (s *USBServer) serveDevice(ctx context.Context, info usb.DeviceInfo, devCfg usb.DeviceConfig) {
	l := s.logger.With("device", info.ID(), "label", devCfg.Label)
	l.Info("hotsync: usb device found", "family", devCfg.Family, "protocol", devCfg.Protocol)

	dev, err := s.source.Open(ctx, info)
	if err != nil {
		s.metrics.incUSBInitErrCount()
		l.Error("hotsync: usb open failed", "error", err)
		return
	}

	initFn, err := usb.InitializerFor(devCfg.Family)
	if err == nil {
		var ep usb.Endpoints
		if ep, err = initFn(ctx, dev, l); err == nil {
			s.runStream(ctx, usb.NewStream(dev, ep, l), info, devCfg)
			return
		}
	}

	s.metrics.incUSBInitErrCount()
	l.Error("hotsync: usb init failed", "error", err)
	_ = dev.Close()
}

func (s *USBServer) runStream(ctx context.Context, stream *usb.Stream, info usb.DeviceInfo, devCfg usb.DeviceConfig) {
	if devCfg.Protocol == usb.ProtocolNetSync {
		conn, err := NewNetSyncConnection(TransportUSB, stream, s.logger, s.cfg.netsyncOpts...)
		if err != nil {
			s.logger.Error("hotsync: netsync setup failed", "device", info.ID(), "error", err)
			_ = stream.Close()
			return
		}
		s.runSession(ctx, conn, info.ID(), nil)

		return
	}

	conn := NewPADPConnection(TransportUSB, stream, s.cfg.padpCfg, s.cfg.baudRate, s.logger)
	s.runSession(ctx, conn, info.ID(), nil)
}
