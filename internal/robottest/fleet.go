package robottest

import (
	"testing"

	"github.com/teslashibe/go-seer/pkg/protocol"
)

// Fleet runs one Server per service group, like a real robot exposing
// several ports on the same host.
type Fleet struct {
	servers map[protocol.Group]*Server
}

// NewFleet starts a server for every group in protocol.Groups.
func NewFleet(t testing.TB) *Fleet {
	t.Helper()
	f := &Fleet{servers: make(map[protocol.Group]*Server, len(protocol.Groups))}
	for _, g := range protocol.Groups {
		f.servers[g] = NewServer(t)
	}
	return f
}

// Server returns the server for a group.
func (f *Fleet) Server(g protocol.Group) *Server { return f.servers[g] }

// Host returns the shared host.
func (f *Fleet) Host() string { return "127.0.0.1" }

// Ports returns the group to port mapping.
func (f *Fleet) Ports() map[protocol.Group]int {
	ports := make(map[protocol.Group]int, len(f.servers))
	for g, s := range f.servers {
		ports[g] = s.Port()
	}
	return ports
}

// Close shuts a single group's server down, so connects to it fail.
func (f *Fleet) Close(g protocol.Group) {
	f.servers[g].Close()
}
