// Package collector receives node telemetry lines, journals them in SQLite
// and serves the latest readings over HTTP.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"edgenode/internal/format"
)

const (
	TransportUDP  = "udp"
	TransportTCP  = "tcp"
	TransportMQTT = "mqtt"
)

// Observer sees the result of every received line.
type Observer interface {
	ObserveMessage(transport, result string)
}

// Ingester parses lines with the built-in layouts and journals them.
type Ingester struct {
	store    *Store
	observer Observer
	logger   *slog.Logger
}

func NewIngester(store *Store, observer Observer, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, observer: observer, logger: logger}
}

// Handle journals one line. A line matching no layout is kept in the
// unparsed table and reported as format.ErrUnrecognized.
func (in *Ingester) Handle(ctx context.Context, transport, source, line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Record{}, nil
	}

	layout, r, err := format.ParseAny(line)
	if err != nil {
		in.logger.Warn("unrecognized telemetry line", "transport", transport, "source", source, "line", line)
		if uerr := in.store.InsertUnparsed(ctx, source, transport, line); uerr != nil {
			in.logger.Error("journal unparsed line", "error", uerr)
		}
		in.observe(transport, "unrecognized")
		return Record{}, err
	}

	rec, err := in.store.Insert(ctx, Record{
		Source:    source,
		Transport: transport,
		Variant:   layout.Variant,
		Raw:       line,
		Fields:    r.Fields(),
	})
	if err != nil {
		in.logger.Error("journal reading", "transport", transport, "source", source, "error", err)
		in.observe(transport, "store_error")
		return Record{}, err
	}

	in.logger.Debug("reading stored", "id", rec.ID, "variant", rec.Variant, "source", source, "transport", transport)
	in.observe(transport, "ok")
	return rec, nil
}

func (in *Ingester) observe(transport, result string) {
	if in.observer != nil {
		in.observer.ObserveMessage(transport, result)
	}
}

// IsUnrecognized reports whether err came from a line no layout matched.
func IsUnrecognized(err error) bool {
	return errors.Is(err, format.ErrUnrecognized)
}
