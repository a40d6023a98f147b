// Package link owns the node's network association state.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"edgenode/internal/display"
)

// ErrLinkNotEstablished is returned when the retry policy gives up.
var ErrLinkNotEstablished = errors.New("link not established")

var errNotAssociated = errors.New("not associated")

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Associator is the network stack seen from the node: start joining, then
// report the assigned address once joined.
type Associator interface {
	Associate(ctx context.Context) error
	Address() (string, bool)
}

// Observer receives attempt outcomes and state changes, e.g. for metrics.
type Observer interface {
	ObserveLinkAttempt(err error)
	ObserveLinkState(s State)
}

type Config struct {
	// PollInterval is how often Address is polled while joining.
	PollInterval time.Duration
	// AttemptTimeout bounds one Associate + poll round.
	AttemptTimeout time.Duration
	// MaxAttempts bounds the rounds per EnsureConnected call; 0 retries
	// until the context is cancelled.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AnnounceHold keeps the address on the display after joining.
	AnnounceHold time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 15 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	return c
}

type Manager struct {
	assoc    Associator
	cfg      Config
	display  display.Display
	observer Observer
	logger   *slog.Logger

	mu      sync.RWMutex
	state   State
	address string
}

type Option func(*Manager)

func WithDisplay(d display.Display) Option { return func(m *Manager) { m.display = d } }
func WithObserver(o Observer) Option       { return func(m *Manager) { m.observer = o } }
func WithLogger(l *slog.Logger) Option     { return func(m *Manager) { m.logger = l } }

func NewManager(assoc Associator, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		assoc:   assoc,
		cfg:     cfg.withDefaults(),
		display: display.Nop{},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Address is the address announced on the last successful join.
func (m *Manager) Address() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.address
}

// EnsureConnected returns at once when already connected. Otherwise it joins
// the network, retrying with exponential backoff until it succeeds, the
// attempt budget runs out, or ctx is cancelled.
func (m *Manager) EnsureConnected(ctx context.Context) (State, error) {
	if m.IsConnected() {
		return Connected, nil
	}

	m.setState(Connecting, "")
	display.Show(m.display, "WiFi connecting...")
	m.logger.Info("link connecting", "max_attempts", m.cfg.MaxAttempts)

	attempt := 0
	op := func() error {
		attempt++
		err := m.attempt(ctx)
		if m.observer != nil {
			m.observer.ObserveLinkAttempt(err)
		}
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("link attempt failed", "attempt", attempt, "retry_in", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, m.policy(ctx), notify); err != nil {
		m.setState(Disconnected, "")
		if ctx.Err() != nil {
			return Disconnected, fmt.Errorf("%w: %w", ErrLinkNotEstablished, ctx.Err())
		}
		m.logger.Error("link not established", "attempts", attempt, "error", err)
		return Disconnected, fmt.Errorf("%w after %d attempts: %w", ErrLinkNotEstablished, attempt, err)
	}

	addr := m.Address()
	m.logger.Info("link connected", "address", addr, "attempts", attempt)
	display.Show(m.display, "WiFi connected", addr)
	sleep(ctx, m.cfg.AnnounceHold)
	return Connected, nil
}

// MarkLost drops back to Disconnected so the next EnsureConnected rejoins.
func (m *Manager) MarkLost(err error) {
	if m.State() == Disconnected {
		return
	}
	m.setState(Disconnected, "")
	m.logger.Warn("link lost", "error", err)
}

func (m *Manager) attempt(ctx context.Context) error {
	actx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
	defer cancel()

	if err := m.assoc.Associate(actx); err != nil {
		return fmt.Errorf("associate: %w", err)
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if addr, ok := m.assoc.Address(); ok {
			m.setState(Connected, addr)
			return nil
		}
		m.logger.Debug("link waiting for address")
		select {
		case <-actx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errNotAssociated
		case <-ticker.C:
		}
	}
}

func (m *Manager) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.cfg.InitialBackoff
	eb.MaxInterval = m.cfg.MaxBackoff
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	if m.cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(m.cfg.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

func (m *Manager) setState(s State, addr string) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.address = addr
	m.mu.Unlock()

	if changed && m.observer != nil {
		m.observer.ObserveLinkState(s)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
