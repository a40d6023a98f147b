package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"edgenode/internal/format"
)

// UDP sends each message as one datagram and never learns whether it arrived.
type UDP struct {
	endpoint Endpoint
	dialer   net.Dialer
	logger   *slog.Logger
}

func NewUDP(e Endpoint) *UDP {
	return &UDP{
		endpoint: e,
		logger:   slog.Default().With("component", "udp", "addr", e.Addr()),
	}
}

func (u *UDP) Send(ctx context.Context, msg format.Message) error {
	conn, err := u.dialer.DialContext(ctx, "udp", u.endpoint.Addr())
	if err != nil {
		return fmt.Errorf("%w: udp %s: %w", ErrConnectFailed, u.endpoint.Addr(), err)
	}
	defer conn.Close()

	if _, err := conn.Write(msg.Bytes()); err != nil {
		return fmt.Errorf("%w: udp %s: %w", ErrSendFailed, u.endpoint.Addr(), err)
	}
	u.logger.Debug("udp datagram sent", "bytes", len(msg))
	return nil
}
