// Command hotsyncd is a HotSync desktop daemon. It accepts sessions over
// serial, TCP and USB, exports the memos of every synced device into a
// SQLite database and serves Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tavisco/palm-sync/conduit"
	"github.com/Tavisco/palm-sync/hotsync"
	"github.com/Tavisco/palm-sync/internal/config"
	"github.com/Tavisco/palm-sync/internal/store"
	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/usb"
	"github.com/Tavisco/palm-sync/usb/gousb"
)

var configFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:          "hotsyncd",
		Short:        "HotSync daemon for Palm OS devices",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file (.toml, .yaml or .yml)")

	rootCmd.AddCommand(
		serveCmd(),
		sessionsCmd(),
		memosCmd(),
		devicesCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, nil, err
	}

	log := logger.NewSlog(cfg.Level(), false)
	logger.SetDefault(log)

	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

func serveCmd() *cobra.Command {
	var serialFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if serialFlag != "" {
				cfg.Serial.Device = serialFlag
			}

			ctx, cancel := signalContext()
			defer cancel()

			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVar(&serialFlag, "serial", "", "Serial device to listen on (e.g. /dev/ttyUSB0)")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	st, err := store.NewSQLiteStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	opts, err := cfg.ServerOptions(log)
	if err != nil {
		return err
	}
	opts = append(opts,
		hotsync.WithConduit(&conduit.MemoSync{Sink: st, Logger: log}),
		hotsync.WithEventHandler(func(ev hotsync.Event) {
			switch ev.Type {
			case hotsync.ConnectEvent:
				log.Info("hotsyncd: device connected", "session", ev.SessionID, "transport", ev.Transport, "device", ev.Device)
			case hotsync.DisconnectEvent:
				log.Info("hotsyncd: device disconnected", "session", ev.SessionID, "duration", ev.Duration, "error", ev.Err)
			}
		}),
	)

	var servers []hotsync.Server
	if cfg.Serial.Device != "" {
		srv, err := hotsync.NewSerialServer(cfg.Serial.Device, opts...)
		if err != nil {
			return err
		}
		servers = append(servers, srv)
	}
	if cfg.Network.Enabled {
		srv, err := hotsync.NewNetworkServer(opts...)
		if err != nil {
			return err
		}
		servers = append(servers, srv)
	}
	if cfg.USB.Enabled {
		src := gousb.NewSource(log)
		defer src.Close()

		srv, err := hotsync.NewUSBServer(src, opts...)
		if err != nil {
			return err
		}
		servers = append(servers, srv)
	}
	if len(servers) == 0 {
		return errors.New("hotsyncd: no server enabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		for _, srv := range servers {
			if err := hotsync.RegisterMetrics(reg, srv.Name(), srv.Metrics()); err != nil {
				return err
			}
		}
		g.Go(func() error { return serveMetrics(ctx, cfg.MetricsAddr, reg, log) })
	}

	g.Go(func() error { return hotsync.Run(ctx, servers...) })

	log.Info("hotsyncd: started", "servers", len(servers), "dataDir", cfg.DataDir)
	err = g.Wait()
	log.Info("hotsyncd: stopped")

	return err
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("hotsyncd: serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}

	return nil
}

func sessionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sync sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions")
				return nil
			}

			fmt.Printf("%-36s  %-20s  %-16s  %5s\n", "ID", "SYNCED", "USER", "MEMOS")
			for _, s := range sessions {
				fmt.Printf("%-36s  %-20s  %-16s  %5d\n", s.ID, s.SyncedAt.Local().Format(time.DateTime), s.UserName, s.MemoCount)
			}

			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of sessions to show, 0 for all")

	return cmd
}

func memosCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "memos [user]",
		Short: "List exported memos",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			var user string
			if len(args) > 0 {
				user = args[0]
			}
			memos, err := st.Memos(cmd.Context(), user)
			if err != nil {
				return err
			}

			for _, m := range memos {
				if full {
					fmt.Printf("--- %s #%08X\n%s\n", m.UserName, m.RecordID, m.Text)
					continue
				}
				fmt.Printf("%-16s  %08X  %s\n", m.UserName, m.RecordID, m.Title)
			}

			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Print the memo text")

	return cmd
}

func devicesCmd() *cobra.Command {
	var scan bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List configured USB devices, or attached ones with --scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			devices := cfg.USB.Devices
			if len(devices) == 0 {
				devices = usb.DefaultDevices
			}

			if !scan {
				for _, d := range devices {
					fmt.Printf("%s  %-12s  %-8s  %s\n", d.ID(), d.Family, d.Protocol, d.Label)
				}
				return nil
			}

			src := gousb.NewSource(log)
			defer src.Close()

			infos, err := src.Scan(cmd.Context())
			if err != nil {
				return err
			}
			for _, info := range infos {
				label := "-"
				if d, ok := usb.Match(devices, info); ok {
					label = d.Label
				}
				fmt.Printf("%s  %s  %s\n", info.Key(), info.ID(), label)
			}

			return nil
		},
	}
	cmd.Flags().BoolVar(&scan, "scan", false, "Scan the USB bus")

	return cmd
}
