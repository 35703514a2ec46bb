package net

import (
	"fmt"
	"os"
	"strings"
	"time"

	"LiveBoard/internal/core"

	"github.com/hashicorp/mdns"
)

const serviceType = "_liveboard._tcp"

// Relay is a relay found on the local network.
type Relay struct {
	Name    string
	Host    string
	Port    uint16
	BoardID string
}

// Link returns the share link of the advertised board.
func (r Relay) Link() ShareLink {
	return ShareLink{Host: r.Host, Port: r.Port, BoardID: r.BoardID}
}

// Advertise announces a relay and the board it hosts. Shut the returned
// server down to stop.
func Advertise(port uint16, boardID string) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	info := []string{"LiveBoard", "board=" + boardID}
	service, err := mdns.NewMDNSService(host, serviceType, "", "", int(port), nil, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	core.Logger("net").WithField("port", port).WithField("board", boardID).Info("advertising relay")
	return server, nil
}

// Browse collects the relays answering within timeout.
func Browse(timeout time.Duration) ([]Relay, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	found := make(chan []Relay, 1)
	go func() {
		var relays []Relay
		seen := make(map[string]bool)
		for e := range entries {
			r, ok := relayOf(e)
			if !ok || seen[r.Name] {
				continue
			}
			seen[r.Name] = true
			relays = append(relays, r)
		}
		found <- relays
	}()

	params := mdns.DefaultParams(serviceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	relays := <-found
	if err != nil {
		return relays, fmt.Errorf("mDNS browse: %w", err)
	}
	return relays, nil
}

func relayOf(e *mdns.ServiceEntry) (Relay, bool) {
	if e.AddrV4 == nil || e.Port == 0 {
		return Relay{}, false
	}
	r := Relay{Name: e.Name, Host: e.AddrV4.String(), Port: uint16(e.Port)}
	for _, field := range e.InfoFields {
		if board, ok := strings.CutPrefix(field, "board="); ok {
			r.BoardID = board
		}
	}
	return r, r.BoardID != ""
}
