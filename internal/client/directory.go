package client

import (
	"net"
	"strconv"
	"strings"
)

// Peer is one entry of an active-user listing.
type Peer struct {
	Username string
	Host     string
	UDPPort  int
	Since    string
}

// Addr returns the peer's datagram address.
func (p Peer) Addr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", net.JoinHostPort(p.Host, strconv.Itoa(p.UDPPort)))
}

// ParseDirectory reads the lines of an ATU reply. Lines that do not have
// the "<user>, <host>, <port>, active since <time>" shape are skipped, so
// the "no other active user" reply yields no peers.
func ParseDirectory(reply string) []Peer {
	var peers []Peer
	for _, line := range strings.Split(reply, "\n") {
		fields := strings.SplitN(line, ", ", 4)
		if len(fields) != 4 {
			continue
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		peers = append(peers, Peer{
			Username: fields[0],
			Host:     fields[1],
			UDPPort:  port,
			Since:    strings.TrimPrefix(fields[3], "active since "),
		})
	}
	return peers
}

// FindPeer looks username up in an ATU reply.
func FindPeer(reply, username string) (Peer, bool) {
	for _, p := range ParseDirectory(reply) {
		if p.Username == username {
			return p, true
		}
	}
	return Peer{}, false
}
