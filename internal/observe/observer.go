// Package observe defines the logging/metrics sink the connection engine
// reports to. It generalizes the teacher's scattered log.Printf calls
// (master.go, pool.go, worker.go) into one structured interface so an
// embedder can route connection errors anywhere: stderr, a metrics
// counter, or both.
package observe

import (
	"log/slog"
	"net"
)

// Observer receives connection-lifecycle events. Implementations must be
// safe for concurrent use; one Observer is shared by every connection
// slot.
type Observer interface {
	// OnConnectionError is called when a connection's worker loop
	// collapses due to a ClientError (protocol violation, I/O failure,
	// oversize header, etc). remote may be nil if the connection was
	// never fully established.
	OnConnectionError(connID string, remote net.Addr, err error)
}

// SlogObserver reports connection errors as structured slog records. It is
// the default Observer used when none is configured.
type SlogObserver struct {
	Logger *slog.Logger
}

// NewSlogObserver returns a SlogObserver writing to logger, or to
// slog.Default() if logger is nil.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{Logger: logger}
}

func (o *SlogObserver) OnConnectionError(connID string, remote net.Addr, err error) {
	attrs := []any{slog.String("conn_id", connID), slog.Any("err", err)}
	if remote != nil {
		attrs = append(attrs, slog.String("remote", remote.String()))
	}
	o.Logger.Warn("fastcgi connection closed", attrs...)
}

// NoopObserver discards every event.
type NoopObserver struct{}

func (NoopObserver) OnConnectionError(string, net.Addr, error) {}
