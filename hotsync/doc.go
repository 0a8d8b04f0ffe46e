// Package hotsync runs HotSync sessions over serial ports, TCP and USB.
//
// A Connection wraps one stream with its framing (PADP with a CMP
// handshake, or NetSync) and a DLP connection. Its lifecycle is
// DoHandshake, Start, Execute, End.
//
// The servers accept connections and drive each one through that
// lifecycle, running the configured Conduit on every started session:
//
//	srv, err := hotsync.NewNetworkServer(
//		hotsync.WithConduit(hotsync.ConduitFunc(func(ctx context.Context, s hotsync.Session) error {
//			dbs, err := s.DLP().ListDBs(ctx, dlp.DBListRAM|dlp.DBListMultiple, 0)
//			...
//		})),
//	)
//	err = hotsync.Run(ctx, srv)
//
// Session errors never escape a server: they are logged, counted in
// ServerMetrics and reported through the DisconnectEvent of the session.
package hotsync
