package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	maxDatagram     = 2048
	tcpReadDeadline = 10 * time.Second
)

// Listener accepts node lines on one address over both UDP and TCP, the way
// nodes configured for either delivery mode reach the same port.
type Listener struct {
	ingester *Ingester
	logger   *slog.Logger

	udp net.PacketConn
	tcp net.Listener

	wg sync.WaitGroup
}

func Listen(addr string, in *Ingester) (*Listener, error) {
	udp, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	// TCP binds the port UDP actually got, so ":0" works in tests.
	tcpAddr := net.JoinHostPort(hostOf(addr), fmt.Sprint(udp.LocalAddr().(*net.UDPAddr).Port))
	tcp, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("listen tcp %s: %w", tcpAddr, err)
	}
	return &Listener{
		ingester: in,
		logger:   slog.Default().With("component", "listener"),
		udp:      udp,
		tcp:      tcp,
	}, nil
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return host
}

func (l *Listener) UDPAddr() net.Addr { return l.udp.LocalAddr() }
func (l *Listener) TCPAddr() net.Addr { return l.tcp.Addr() }

// Serve blocks until ctx is cancelled, then closes both sockets and waits
// for in-flight connections.
func (l *Listener) Serve(ctx context.Context) error {
	l.logger.Info("collector listening", "udp", l.udp.LocalAddr().String(), "tcp", l.tcp.Addr().String())

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		l.serveUDP(ctx)
	}()
	go func() {
		defer l.wg.Done()
		l.serveTCP(ctx)
	}()

	<-ctx.Done()
	_ = l.udp.Close()
	_ = l.tcp.Close()
	l.wg.Wait()
	l.logger.Info("collector listener stopped")
	return nil
}

func (l *Listener) serveUDP(ctx context.Context) {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.udp.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("udp read", "error", err)
			continue
		}
		_, _ = l.ingester.Handle(ctx, TransportUDP, sourceOf(from), string(buf[:n]))
	}
}

func (l *Listener) serveTCP(ctx context.Context) {
	for {
		conn, err := l.tcp.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("tcp accept", "error", err)
			continue
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(ctx, conn)
		}()
	}
}

// handleConn reads newline-separated lines until the node closes the
// connection; a node that writes one line and closes is the common case.
func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(tcpReadDeadline))

	source := sourceOf(conn.RemoteAddr())
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, maxDatagram), maxDatagram)
	for sc.Scan() {
		_, _ = l.ingester.Handle(ctx, TransportTCP, source, sc.Text())
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		l.logger.Warn("tcp read", "source", source, "error", err)
	}
}

func sourceOf(a net.Addr) string {
	if a == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String()
	}
	return host
}
