package net

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"LiveBoard/internal/core"
)

const (
	Scheme      = "liveboard"
	DefaultPort = 8888
)

// GetOutgoingIP returns the address other machines on the LAN reach this
// host at: the source address of the default route, else the best IPv4
// address of an interface that is up, else loopback.
func GetOutgoingIP() (string, error) {
	if ip := routeSource(); ip != nil {
		return ip.String(), nil
	}
	ip, err := interfaceIPv4()
	if err != nil {
		return "", err
	}
	if ip == nil {
		core.Logger("net").Warn("no LAN address found, share links use loopback")
		return "127.0.0.1", nil
	}
	return ip.String(), nil
}

// routeSource lets the kernel pick the source address toward a non-local
// host. Connecting a UDP socket sends nothing.
func routeSource() net.IP {
	conn, err := net.Dial("udp4", "192.0.2.1:9")
	if err != nil {
		return nil
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsUnspecified() {
		return nil
	}
	return addr.IP
}

// interfaceIPv4 prefers private addresses over other global unicast ones.
func interfaceIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var fallback net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			switch {
			case ip == nil || !ip.IsGlobalUnicast():
			case ip.IsPrivate():
				return ip, nil
			case fallback == nil:
				fallback = ip
			}
		}
	}
	return fallback, nil
}

// ShareLink points a participant at a board on a relay. An empty host means
// the relay is found over mDNS.
type ShareLink struct {
	Host    string
	Port    uint16
	BoardID string
}

func (l ShareLink) String() string {
	u := url.URL{Scheme: Scheme, Path: "/" + l.BoardID}
	if l.Host != "" {
		u.Host = net.JoinHostPort(l.Host, strconv.Itoa(int(l.Port)))
	}
	return u.String()
}

// RelayURL returns the websocket endpoint of the relay.
func (l ShareLink) RelayURL() string {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(l.Host, strconv.Itoa(int(l.Port))), Path: "/ws"}
	return u.String()
}

// ParseShareLink parses liveboard://host:port/board. The port defaults to
// DefaultPort and the host may be left out.
func ParseShareLink(s string) (ShareLink, error) {
	u, err := url.Parse(s)
	if err != nil {
		return ShareLink{}, fmt.Errorf("parse share link: %w", err)
	}
	if u.Scheme != Scheme {
		return ShareLink{}, fmt.Errorf("parse share link: scheme %q is not %s", u.Scheme, Scheme)
	}
	board := strings.Trim(u.Path, "/")
	if board == "" || strings.Contains(board, "/") {
		return ShareLink{}, fmt.Errorf("parse share link: bad board id %q", u.Path)
	}
	link := ShareLink{Host: u.Hostname(), Port: DefaultPort, BoardID: board}
	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil || port == 0 {
			return ShareLink{}, fmt.Errorf("parse share link: bad port %q", p)
		}
		link.Port = uint16(port)
	}
	return link, nil
}
