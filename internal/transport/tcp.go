package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"edgenode/internal/format"
)

// TCP opens a connection per message, writes it and closes. A dial that
// does not complete within the connect timeout counts as a failed connect.
type TCP struct {
	endpoint Endpoint
	timeout  time.Duration
	logger   *slog.Logger

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewTCP(e Endpoint, connectTimeout time.Duration) *TCP {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	d := &net.Dialer{Timeout: connectTimeout}
	return &TCP{
		endpoint: e,
		timeout:  connectTimeout,
		logger:   slog.Default().With("component", "tcp", "addr", e.Addr()),
		dial:     d.DialContext,
	}
}

func (t *TCP) Send(ctx context.Context, msg format.Message) error {
	dctx, cancel := context.WithTimeout(ctx, t.timeout)
	conn, err := t.dial(dctx, "tcp", t.endpoint.Addr())
	cancel()
	if err != nil {
		return fmt.Errorf("%w: tcp %s: %w", ErrConnectFailed, t.endpoint.Addr(), err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return fmt.Errorf("%w: tcp %s: %w", ErrSendFailed, t.endpoint.Addr(), err)
	}
	if _, err := conn.Write(msg.Bytes()); err != nil {
		return fmt.Errorf("%w: tcp %s: %w", ErrSendFailed, t.endpoint.Addr(), err)
	}
	t.logger.Debug("tcp message sent", "bytes", len(msg))
	return nil
}
