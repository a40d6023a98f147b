// Package transport delivers wire messages to the collector.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"edgenode/internal/format"
)

var (
	// ErrConnectFailed means the collector could not be reached. The message
	// was not delivered and is not retried.
	ErrConnectFailed = errors.New("transport: connect failed")
	// ErrSendFailed means a connection existed but the write did not complete.
	ErrSendFailed = errors.New("transport: send failed")
)

// DefaultConnectTimeout bounds a TCP dial or an MQTT connect.
const DefaultConnectTimeout = 3 * time.Second

type Mode string

const (
	ModeUDP  Mode = "udp"
	ModeTCP  Mode = "tcp"
	ModeMQTT Mode = "mqtt"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeUDP, ModeTCP, ModeMQTT:
		return m, nil
	default:
		return "", fmt.Errorf("unknown delivery mode %q (want udp, tcp or mqtt)", s)
	}
}

// Endpoint is the fixed collector address.
type Endpoint struct {
	Host string
	Port int
	Mode Mode
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return string(e.Mode) + "://" + e.Addr()
}

// Sender delivers one message per call. Implementations hold no per-message state.
type Sender interface {
	Send(ctx context.Context, msg format.Message) error
}

// Options carries the settings that only some modes use.
type Options struct {
	ConnectTimeout time.Duration
	// NodeID names the MQTT topic and client.
	NodeID       string
	MQTTClientID string
	// OnConnectionLost is called when a long-lived connection drops.
	OnConnectionLost func(error)
}

// New builds the Sender for e.Mode. The caller closes the result if it
// implements io.Closer.
func New(e Endpoint, opts Options) (Sender, error) {
	if e.Host == "" {
		return nil, errors.New("transport: empty host")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return nil, fmt.Errorf("transport: invalid port %d", e.Port)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	switch e.Mode {
	case ModeUDP:
		return NewUDP(e), nil
	case ModeTCP:
		return NewTCP(e, opts.ConnectTimeout), nil
	case ModeMQTT:
		return NewMQTT(e, opts), nil
	default:
		return nil, fmt.Errorf("transport: unknown mode %q", e.Mode)
	}
}
