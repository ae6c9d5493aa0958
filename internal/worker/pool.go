package worker

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/arashilabs/fcgid/internal/observe"
	"github.com/arashilabs/fcgid/internal/proto"
)

// Pool pre-allocates MaxConcurrent connection slots and rotates accepted
// connections through them with no dynamic task allocation, per
// spec.md §4.6: fill every slot by accepting, then steady-state await any
// slot to free and accept exactly one connection into it.
type Pool struct {
	MaxConcurrent int
	Handler       proto.Handler
	ConnTimeout   time.Duration
	MaxHeaderSize int
	Observer      observe.Observer

	slots        []*Slot
	acceptedConn atomic.Uint64
}

// NewPool returns a Pool with its slots pre-allocated.
func NewPool(maxConcurrent int, handler proto.Handler, connTimeout time.Duration, maxHeaderSize int, obs observe.Observer) *Pool {
	p := &Pool{
		MaxConcurrent: maxConcurrent,
		Handler:       handler,
		ConnTimeout:   connTimeout,
		MaxHeaderSize: maxHeaderSize,
		Observer:      obs,
	}
	p.slots = make([]*Slot, maxConcurrent)
	for i := range p.slots {
		p.slots[i] = NewSlot(i, handler, connTimeout, maxHeaderSize, obs)
	}
	return p
}

// Serve runs the rotation algorithm until ln.Accept fails (listener closed)
// or ctx is cancelled. It blocks until every in-flight connection has
// finished its current request and closed.
func (p *Pool) Serve(ctx context.Context, ln net.Listener) error {
	done := make(chan int, p.MaxConcurrent)

	dispatch := func(i int) error {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		p.acceptedConn.Add(1)
		go func() {
			p.slots[i].Run(ctx, conn)
			select {
			case done <- i:
			case <-ctx.Done():
			}
		}()
		return nil
	}

	for i := range p.slots {
		if err := dispatch(i); err != nil {
			p.awaitIdle()
			return translateAcceptErr(ctx, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			p.awaitIdle()
			return nil
		case i := <-done:
			if err := dispatch(i); err != nil {
				p.awaitIdle()
				return translateAcceptErr(ctx, err)
			}
		}
	}
}

// awaitIdle blocks until every slot reports Idle, used by Serve when ctx is
// cancelled so Pool.Serve does not return out from under in-flight
// requests.
func (p *Pool) awaitIdle() {
	for {
		busy := false
		for _, s := range p.slots {
			if s.State() != Idle {
				busy = true
				break
			}
		}
		if !busy {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func translateAcceptErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Stats is a point-in-time snapshot of slot occupancy.
type Stats struct {
	MaxConcurrent int
	ActiveSlots   int
	IdleSlots     int
	AcceptedConns uint64
}

// Snapshot reports the pool's current occupancy. The number of active
// slots never exceeds MaxConcurrent (spec.md §8 invariant 6): this method
// is the read-only surface used to observe that invariant in tests and in
// fcgidstatus.
func (p *Pool) Snapshot() Stats {
	stats := Stats{MaxConcurrent: p.MaxConcurrent, AcceptedConns: p.acceptedConn.Load()}
	for _, s := range p.slots {
		if s.State() == Idle {
			stats.IdleSlots++
		} else {
			stats.ActiveSlots++
		}
	}
	return stats
}
