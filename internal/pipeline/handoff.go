package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/gpu"
	"github.com/bryanchriswhite/MixedView/internal/pose"
	"github.com/google/uuid"
)

// Packet is one recorded frame on its way to the renderer.
type Packet struct {
	Commands gpu.CommandBuffer
	// Pose sampled with the frame, nil when the source has no tracking.
	Pose       *pose.Pose
	Sequence   uint64
	CapturedAt time.Time
}

// Release drops a packet that will not be submitted.
func (p Packet) Release() {
	if p.Commands != nil {
		p.Commands.Release()
	}
}

// Stats counts what the producer did. All fields are read atomically.
type Stats struct {
	Delivered atomic.Uint64
	Timeouts  atomic.Uint64
	Dropped   atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Delivered uint64 `json:"delivered"`
	Timeouts  uint64 `json:"timeouts"`
	Dropped   uint64 `json:"dropped"`
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Delivered: s.Delivered.Load(),
		Timeouts:  s.Timeouts.Load(),
		Dropped:   s.Dropped.Load(),
	}
}

// handoff is a single-slot channel whose receiving side can be closed.
type handoff struct {
	ch     chan Packet
	done   chan struct{}
	closed sync.Once
}

func newHandoff() *handoff {
	return &handoff{
		ch:   make(chan Packet, 1),
		done: make(chan struct{}),
	}
}

// send blocks while the slot is full. It fails with ErrConsumerGone once the receiver is
// closed, even if the slot has room.
func (h *handoff) send(p Packet) error {
	select {
	case <-h.done:
		return ErrConsumerGone
	default:
	}
	select {
	case h.ch <- p:
		return nil
	case <-h.done:
		return ErrConsumerGone
	}
}

func (h *handoff) receiverClosed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// drain releases packets nobody will submit.
func (h *handoff) drain() {
	for {
		select {
		case p, ok := <-h.ch:
			if !ok {
				return
			}
			p.Release()
		default:
			return
		}
	}
}

// Receiver is the renderer's end of a capture pipeline.
type Receiver struct {
	id     uuid.UUID
	source string
	h      *handoff
	exited chan struct{}
	stats  *Stats

	mu  sync.Mutex
	err error
}

func newReceiver(source string, h *handoff) *Receiver {
	return &Receiver{
		id:     uuid.New(),
		source: source,
		h:      h,
		exited: make(chan struct{}),
		stats:  &Stats{},
	}
}

// ID identifies this capture session.
func (r *Receiver) ID() uuid.UUID { return r.id }

// Source is the name of the capture source feeding this receiver.
func (r *Receiver) Source() string { return r.source }

// TryRecv returns the waiting packet if there is one. ok is false when no new frame is
// ready. After the producer exits it returns ErrCameraGone; see Err for the cause.
func (r *Receiver) TryRecv() (p Packet, ok bool, err error) {
	if r.isClosed() {
		return Packet{}, false, ErrReceiverClosed
	}
	select {
	case p, open := <-r.h.ch:
		if !open {
			return Packet{}, false, ErrCameraGone
		}
		return p, true, nil
	default:
		return Packet{}, false, nil
	}
}

// Recv blocks for the next packet.
func (r *Receiver) Recv(ctx context.Context) (Packet, error) {
	if r.isClosed() {
		return Packet{}, ErrReceiverClosed
	}
	select {
	case p, open := <-r.h.ch:
		if !open {
			return Packet{}, ErrCameraGone
		}
		return p, nil
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	}
}

// Close cancels the pipeline. The producer exits on its next send and releases its
// source. Packets still in the slot are released.
func (r *Receiver) Close() {
	r.h.closed.Do(func() {
		close(r.h.done)
		r.h.drain()
	})
}

// Stop closes the receiver and waits for the producer to exit. It returns
// ErrProducerStuck when ctx ends first; the producer may still be using the device then.
func (r *Receiver) Stop(ctx context.Context) error {
	r.Close()
	select {
	case <-r.exited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrProducerStuck, ctx.Err())
	}
}

func (r *Receiver) isClosed() bool { return r.h.receiverClosed() }

// Exited is closed once the producer goroutine has returned and its source is closed.
func (r *Receiver) Exited() <-chan struct{} { return r.exited }

// Err is the fault that stopped the producer, nil while running or after a clean stop.
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Receiver) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Stats returns the producer counters.
func (r *Receiver) Stats() StatsSnapshot { return r.stats.snapshot() }
