// Package telemetry runs the node's sample, show, send, wait cycle.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"edgenode/internal/display"
	"edgenode/internal/format"
	"edgenode/internal/link"
	"edgenode/internal/reading"
	"edgenode/internal/sensor"
	"edgenode/internal/transport"
)

const DefaultInterval = 5 * time.Second

// Link is the part of the link manager the loop needs.
type Link interface {
	EnsureConnected(ctx context.Context) (link.State, error)
	IsConnected() bool
}

// Observer is told about every finished cycle.
type Observer interface {
	ObserveCycle(res CycleResult)
}

type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeFormatError Outcome = "format_error"
	OutcomeLinkDown    Outcome = "link_down"
	OutcomeSendFailed  Outcome = "send_failed"
)

// CycleResult describes one pass through the loop.
type CycleResult struct {
	Reading  reading.Reading
	Message  format.Message
	Sent     bool
	Err      error
	Duration time.Duration
}

func (r CycleResult) Outcome() Outcome {
	switch {
	case r.Sent:
		return OutcomeSent
	case !r.Reading.IsValid():
		return OutcomeInvalid
	case errors.Is(r.Err, format.ErrInvalidReading), errors.Is(r.Err, format.ErrMissingField):
		return OutcomeFormatError
	case errors.Is(r.Err, link.ErrLinkNotEstablished):
		return OutcomeLinkDown
	default:
		return OutcomeSendFailed
	}
}

type Config struct {
	Interval time.Duration
}

type Loop struct {
	sensor   sensor.Sensor
	layout   format.Layout
	display  display.Display
	link     Link
	sender   transport.Sender
	interval time.Duration
	logger   *slog.Logger
	observer Observer

	mu   sync.RWMutex
	last reading.Reading
}

type Option func(*Loop)

func WithLogger(l *slog.Logger) Option { return func(lp *Loop) { lp.logger = l } }
func WithObserver(o Observer) Option   { return func(lp *Loop) { lp.observer = o } }

func NewLoop(s sensor.Sensor, layout format.Layout, d display.Display, l Link, snd transport.Sender, cfg Config, opts ...Option) (*Loop, error) {
	if s == nil || l == nil || snd == nil {
		return nil, errors.New("telemetry: sensor, link and sender are required")
	}
	if len(layout.Fields) == 0 {
		return nil, fmt.Errorf("%w: empty layout", format.ErrUnknownVariant)
	}
	if d == nil {
		d = display.Nop{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	lp := &Loop{
		sensor:   s,
		layout:   layout,
		display:  d,
		link:     l,
		sender:   snd,
		interval: cfg.Interval,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(lp)
	}
	lp.logger = lp.logger.With("variant", layout.Variant)
	return lp, nil
}

// Last returns the most recent reading, valid or not.
func (lp *Loop) Last() reading.Reading {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.last
}

// Cycle runs one pass without the trailing wait. The display is always
// updated before any network work starts.
func (lp *Loop) Cycle(ctx context.Context) CycleResult {
	start := time.Now()
	res := lp.cycle(ctx)
	res.Duration = time.Since(start)
	if lp.observer != nil {
		lp.observer.ObserveCycle(res)
	}
	return res
}

func (lp *Loop) cycle(ctx context.Context) CycleResult {
	r := lp.sensor.Sample(ctx)
	lp.mu.Lock()
	lp.last = r
	lp.mu.Unlock()

	res := CycleResult{Reading: r}
	lines := lp.layout.DisplayLines(r)
	display.Show(lp.display, lines...)

	if !r.IsValid() {
		res.Err = r.Err()
		lp.logger.Warn("sensor reading invalid", "error", res.Err)
		return res
	}

	msg, err := lp.layout.Format(r)
	if err != nil {
		res.Err = err
		lp.logger.Error("format reading", "error", err)
		return res
	}
	res.Message = msg
	lp.logger.Debug("reading", "message", msg.String())

	wasConnected := lp.link.IsConnected()
	_, err = lp.link.EnsureConnected(ctx)
	if !wasConnected {
		// Joining writes its status to the display; the sample goes back up.
		display.Show(lp.display, lines...)
	}
	if err != nil {
		res.Err = err
		lp.logger.Warn("link unavailable, reading dropped", "error", err)
		return res
	}

	if err := lp.sender.Send(ctx, msg); err != nil {
		res.Err = err
		lp.logger.Warn("send failed, reading dropped", "error", err)
		return res
	}
	res.Sent = true
	return res
}

// Run cycles until ctx is cancelled, waiting the interval after each pass.
func (lp *Loop) Run(ctx context.Context) error {
	lp.logger.Info("telemetry loop started", "interval", lp.interval)
	t := time.NewTimer(lp.interval)
	defer t.Stop()

	for {
		if err := ctx.Err(); err != nil {
			lp.logger.Info("telemetry loop stopped")
			return err
		}
		lp.Cycle(ctx)

		// Go 1.23+ timers drop any stale value on Reset.
		t.Reset(lp.interval)
		select {
		case <-ctx.Done():
			lp.logger.Info("telemetry loop stopped")
			return ctx.Err()
		case <-t.C:
		}
	}
}
