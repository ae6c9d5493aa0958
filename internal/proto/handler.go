package proto

import "context"

// Handler is the user-supplied asynchronous request callback. It is
// modeled as a plain function value rather than a one-method interface,
// per the spec's explicit preference (a single function is both sufficient
// and idiomatic here).
type Handler func(ctx context.Context, in *Input, out *Output)
