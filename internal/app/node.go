package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"edgenode/internal/config"
	"edgenode/internal/display"
	"edgenode/internal/format"
	"edgenode/internal/link"
	"edgenode/internal/metrics"
	"edgenode/internal/sensor"
	"edgenode/internal/telemetry"
	"edgenode/internal/transport"
)

// Hardware is what the node reads from and writes to locally.
type Hardware struct {
	Sensor     sensor.Sensor
	Display    display.Display
	Associator link.Associator
	// Close releases the devices; may be nil.
	Close func() error
}

// Node is one wired telemetry node.
type Node struct {
	cfg      config.Node
	hw       Hardware
	link     *link.Manager
	sender   transport.Sender
	loop     *telemetry.Loop
	registry *prometheus.Registry

	closeOnce sync.Once
}

// NewNode wires the loop from cfg around hw.
func NewNode(cfg config.Node, hw Hardware) (*Node, error) {
	if hw.Sensor == nil || hw.Associator == nil {
		return nil, errors.New("app: hardware needs a sensor and an associator")
	}
	layout, err := format.LayoutFor(cfg.Variant)
	if err != nil {
		return nil, err
	}
	if hw.Display == nil {
		hw.Display = display.NewLog(nil)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs := metrics.NewNode(reg)

	lm := link.NewManager(hw.Associator, link.Config{
		PollInterval: cfg.LinkPollInterval,
		MaxAttempts:  cfg.LinkMaxAttempts,
		MaxBackoff:   cfg.LinkMaxBackoff,
		AnnounceHold: announceHold,
	},
		link.WithDisplay(hw.Display),
		link.WithObserver(obs),
		link.WithLogger(slog.Default().With("component", "link")),
	)

	mode, err := transport.ParseMode(cfg.DeliveryMode)
	if err != nil {
		return nil, err
	}
	sender, err := transport.New(
		transport.Endpoint{Host: cfg.CollectorHost, Port: cfg.CollectorPort, Mode: mode},
		transport.Options{
			ConnectTimeout:   cfg.ConnectTimeout,
			NodeID:           cfg.NodeID,
			MQTTClientID:     cfg.MQTTClientID,
			OnConnectionLost: lm.MarkLost,
		},
	)
	if err != nil {
		return nil, err
	}

	loop, err := telemetry.NewLoop(hw.Sensor, layout, hw.Display, lm, sender,
		telemetry.Config{Interval: cfg.CycleInterval},
		telemetry.WithObserver(obs),
		telemetry.WithLogger(slog.Default().With("component", "telemetry", "node_id", cfg.NodeID)),
	)
	if err != nil {
		closeSender(sender)
		return nil, err
	}

	return &Node{
		cfg:      cfg,
		hw:       hw,
		link:     lm,
		sender:   sender,
		loop:     loop,
		registry: reg,
	}, nil
}

func (n *Node) Loop() *telemetry.Loop          { return n.loop }
func (n *Node) Link() *link.Manager            { return n.link }
func (n *Node) Registry() *prometheus.Registry { return n.registry }

// Run joins the network, then cycles until ctx is cancelled. The metrics
// listener, when configured, runs alongside.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if n.cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, n.cfg.MetricsAddr, n.registry); err != nil {
				slog.Warn("metrics server exited", "error", err)
			}
		}()
	}

	if _, err := n.link.EnsureConnected(ctx); err != nil {
		// The loop rejoins on its own; a failed boot join is not fatal.
		slog.Warn("initial link join failed", "error", err)
	}

	err := n.loop.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// Close releases the sender and the devices. It is safe to call more than once.
func (n *Node) Close() error {
	var errs []error
	n.closeOnce.Do(func() {
		closeSender(n.sender)
		if n.hw.Close != nil {
			if err := n.hw.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close hardware: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}

func closeSender(s transport.Sender) {
	if c, ok := s.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("close sender", "error", err)
		}
	}
}

// RunNode opens the local hardware and runs the node until ctx is cancelled.
func RunNode(ctx context.Context, cfg config.Node) error {
	slog.Info("config loaded",
		"nodeId", cfg.NodeID,
		"variant", cfg.Variant,
		"collector", fmt.Sprintf("%s://%s:%d", cfg.DeliveryMode, cfg.CollectorHost, cfg.CollectorPort),
		"cycleInterval", cfg.CycleInterval,
		"connectTimeout", cfg.ConnectTimeout,
		"linkMaxAttempts", cfg.LinkMaxAttempts,
		"display", cfg.Display,
		"metricsAddr", cfg.MetricsAddr,
	)

	hw, err := OpenHardware(cfg)
	if err != nil {
		return err
	}
	n, err := NewNode(cfg, hw)
	if err != nil {
		if hw.Close != nil {
			_ = hw.Close()
		}
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			slog.Error("node close", "error", err)
		}
	}()

	return n.Run(ctx)
}
