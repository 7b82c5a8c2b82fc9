// Package pipeline moves camera frames onto the GPU: a producer goroutine captures from a
// source, records an upload command buffer per frame and hands it to the renderer through a
// single-slot channel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/flags"
	"github.com/bryanchriswhite/MixedView/internal/fps"
	"github.com/bryanchriswhite/MixedView/internal/gpu"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/pose"
)

// Tap receives a view of every recorded frame. Offer must copy what it keeps and must not
// block.
type Tap interface {
	Offer(frame []byte, p *pose.Pose)
}

// Option configures Start.
type Option func(*options)

type options struct {
	flags *flags.Store
	tap   Tap
}

// WithFlags publishes observability values to store instead of the process-wide one.
func WithFlags(store *flags.Store) Option {
	return func(o *options) { o.flags = store }
}

// WithTap mirrors captured frames to t.
func WithTap(t Tap) Option {
	return func(o *options) { o.tap = t }
}

// Start creates the capture image and launches the producer. src, mem and cmds belong to
// the producer from here on; the caller keeps the image and the Receiver. ctx only bounds
// the initial image layout setup.
func Start(ctx context.Context, src capture.Source, queue gpu.Queue, mem gpu.MemoryAllocator, cmds gpu.CommandAllocator, opts ...Option) (gpu.Image, *Receiver, error) {
	o := options{flags: flags.Global()}
	for _, opt := range opts {
		opt(&o)
	}

	img, err := NewCaptureImage(ctx, mem, cmds, queue)
	if err != nil {
		return nil, nil, err
	}
	rec, err := NewRecorder(img, mem, cmds, queue.FamilyIndex())
	if err != nil {
		return nil, nil, err
	}

	h := newHandoff()
	r := newReceiver(src.Name(), h)
	p := &producer{
		src:      src,
		recorder: rec,
		h:        h,
		r:        r,
		counter:  fps.New(fps.DefaultWindow),
		flags:    o.flags,
		tap:      o.tap,
	}
	o.flags.Set(flags.CameraSource, src.Name())
	o.flags.Delete(flags.CameraError)

	logger.WithComponent("pipeline").Info().
		Str("source", src.Name()).
		Str("session", r.ID().String()).
		Msg("Capture pipeline started")

	go p.run()
	return img, r, nil
}

type producer struct {
	src      capture.Source
	recorder *Recorder
	h        *handoff
	r        *Receiver
	counter  *fps.Counter
	flags    *flags.Store
	tap      Tap
	seq      uint64
}

func (p *producer) run() {
	defer close(p.r.exited)

	err := p.loop()
	closeErr := p.src.Close()

	if errors.Is(err, ErrConsumerGone) {
		p.h.drain()
		close(p.h.ch)
		return
	}

	err = p.describe(err)
	if closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close %s source: %w", p.src.Name(), closeErr))
	}
	p.r.setErr(err)
	p.flags.Set(flags.CameraError, err.Error())

	ev := logger.WithComponent("pipeline").Error().
		Err(err).
		Str("source", p.src.Name()).
		Str("session", p.r.ID().String())
	var pe *PanicError
	if errors.As(err, &pe) {
		ev = ev.Bytes("stack", pe.Stack)
	}
	ev.Msg("Capture pipeline stopped")

	close(p.h.ch)
}

// describe attaches the source name to camera faults.
func (p *producer) describe(err error) error {
	var fe *capture.FatalError
	var pe *PanicError
	var re *RecordError
	if errors.As(err, &fe) || errors.As(err, &pe) || errors.As(err, &re) || isProgrammerError(err) {
		return err
	}
	return capture.Fatal(p.src.Name(), err)
}

func (p *producer) loop() (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()

	for {
		if p.h.receiverClosed() {
			return ErrConsumerGone
		}

		frame, ps, err := p.src.Capture()
		if err != nil {
			if p.sink(err) == actionContinue {
				continue
			}
			return err
		}

		p.counter.Tick()
		p.flags.Set(flags.CameraFPS, p.counter.FPS())

		cb, err := p.recorder.Record(frame)
		if err != nil {
			if p.sink(err) == actionContinue {
				continue
			}
			if isProgrammerError(err) {
				return err
			}
			return &RecordError{Source: p.src.Name(), Err: err}
		}
		if p.tap != nil {
			p.tap.Offer(frame, ps)
		}

		p.seq++
		pkt := Packet{Commands: cb, Pose: ps, Sequence: p.seq, CapturedAt: time.Now()}
		if err := p.h.send(pkt); err != nil {
			pkt.Release()
			return err
		}
		p.r.stats.Delivered.Add(1)
	}
}

// sink classifies err and updates counters for the errors the loop absorbs.
func (p *producer) sink(err error) action {
	a := classify(err)
	if a == actionContinue {
		if capture.IsTimeout(err) {
			p.r.stats.Timeouts.Add(1)
		} else {
			p.r.stats.Dropped.Add(1)
		}
	}
	return a
}
