// Package dlp implements the Desktop Link Protocol, the request/response
// layer of a HotSync session.
//
// A request is [opcode][argc] followed by argc arguments; a response is
// [opcode|0x80][argc][status u16] followed by its results. Each argument
// carries an id and a payload whose layout is described by a wire.Schema.
// The Command values in this package form the catalog of supported
// functions.
//
// Conn runs single requests over any transport.Framer, such as a padp.Conn
// or a netsync.Conn. Client wraps an Executor with typed methods:
//
//	client := dlp.NewClient(dlp.NewConn(framer, nil))
//	dbs, err := client.ListDBs(ctx, dlp.DBListRAM|dlp.DBListMultiple, 0)
//
// A response with a non-zero status is reported as a *StatusError; use
// IsStatus to test for a particular status.
package dlp
