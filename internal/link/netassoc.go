package link

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// NetAssociator reports association as seen by the host network stack.
// On Linux the supplicant/NetworkManager joins the network; the node only
// waits for a usable IPv4 address to appear.
type NetAssociator struct {
	// Interface restricts the check to one interface, e.g. "wlan0".
	Interface string

	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

func NewNetAssociator(iface string) *NetAssociator {
	return &NetAssociator{
		Interface:  strings.TrimSpace(iface),
		interfaces: net.Interfaces,
		addrs:      func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

// Associate only checks that the named interface exists.
func (a *NetAssociator) Associate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.Interface == "" {
		return nil
	}
	ifaces, err := a.interfaces()
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	for _, i := range ifaces {
		if i.Name == a.Interface {
			return nil
		}
	}
	return fmt.Errorf("interface %q not found", a.Interface)
}

func (a *NetAssociator) Address() (string, bool) {
	ifaces, err := a.interfaces()
	if err != nil {
		return "", false
	}
	for _, i := range ifaces {
		if a.Interface != "" && i.Name != a.Interface {
			continue
		}
		if i.Flags&net.FlagUp == 0 || i.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := a.addrs(i)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLoopback() && !ip4.IsLinkLocalUnicast() {
				return ip4.String(), true
			}
		}
	}
	return "", false
}
