// Package fcgidstatus reports a read-only snapshot of a running Server's
// connection-slot occupancy, grounded on the teacher's
// pkg/fpm/status/status.go StatusHandler: the teacher turns a
// pool.WorkerPool's stats into a PHP-FPM-compatible status page, and this
// package turns an fcgid.Server's stats into the same text/JSON shapes for
// a connection engine with no child-process concept.
package fcgidstatus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is a point-in-time view of a Server's connection-slot
// occupancy, structured the way fcgid.Server.Stats reports it.
type Snapshot struct {
	MaxConcurrent int    `json:"max-concurrent"`
	ActiveSlots   int    `json:"active-slots"`
	IdleSlots     int    `json:"idle-slots"`
	AcceptedConns uint64 `json:"accepted-conns"`
}

// Reporter adapts whatever stats type the caller's Server exposes into a
// Snapshot. fcgid.Server.Stats returns worker.Stats, whose fields line up
// 1:1 with Snapshot; Reporter exists so this package does not need to
// import the worker package directly.
type Reporter interface {
	MaxConcurrentRequests() int
	ActiveSlotCount() int
	IdleSlotCount() int
	AcceptedConnCount() uint64
}

// Status is the full report returned by Handler.GetStatus, mirroring the
// teacher's Status struct field-for-field where the concept still applies,
// and dropping the PHP-FPM process-manager fields (process-manager,
// max-children-reached, slow-requests) that have no meaning for a
// goroutine-backed connection slot.
type Status struct {
	StartTime     time.Time `json:"start-time"`
	StartSince    int64     `json:"start-since"`
	AcceptedConn  uint64    `json:"accepted-conn"`
	IdleSlots     int       `json:"idle-slots"`
	ActiveSlots   int       `json:"active-slots"`
	TotalSlots    int       `json:"total-slots"`
	MaxConcurrent int       `json:"max-concurrent"`
}

// Handler builds a Status from a Reporter and the server's start time.
type Handler struct {
	reporter  Reporter
	startedAt time.Time
}

// NewHandler returns a Handler reporting on reporter, whose clock started
// at startedAt.
func NewHandler(reporter Reporter, startedAt time.Time) *Handler {
	return &Handler{reporter: reporter, startedAt: startedAt}
}

// GetStatus builds a Status snapshot from the current reporter state.
func (h *Handler) GetStatus() *Status {
	active := h.reporter.ActiveSlotCount()
	idle := h.reporter.IdleSlotCount()
	return &Status{
		StartTime:     h.startedAt,
		StartSince:    int64(time.Since(h.startedAt).Seconds()),
		AcceptedConn:  h.reporter.AcceptedConnCount(),
		IdleSlots:     idle,
		ActiveSlots:   active,
		TotalSlots:    active + idle,
		MaxConcurrent: h.reporter.MaxConcurrentRequests(),
	}
}

// GetStatusJSON renders the current status as indented JSON.
func (h *Handler) GetStatusJSON() ([]byte, error) {
	return json.MarshalIndent(h.GetStatus(), "", "  ")
}

// GetStatusText renders the current status as the plain key: value lines
// the teacher's GetStatusText produces, for a human reading a terminal
// rather than a monitoring agent parsing JSON.
func (h *Handler) GetStatusText() string {
	s := h.GetStatus()
	return fmt.Sprintf(`start time:     %s
start since:    %d
accepted conn:  %d
idle slots:     %d
active slots:   %d
total slots:    %d
max concurrent: %d`,
		s.StartTime.Format(time.RFC3339),
		s.StartSince,
		s.AcceptedConn,
		s.IdleSlots,
		s.ActiveSlots,
		s.TotalSlots,
		s.MaxConcurrent,
	)
}
