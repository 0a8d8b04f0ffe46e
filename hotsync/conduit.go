package hotsync

import "context"

// Conduit is the sync logic run once per started session.
type Conduit interface {
	Run(ctx context.Context, s Session) error
}

// ConduitFunc adapts a function to Conduit.
type ConduitFunc func(ctx context.Context, s Session) error

// Run calls f.
func (f ConduitFunc) Run(ctx context.Context, s Session) error {
	return f(ctx, s)
}
