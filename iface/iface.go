// Package iface defines the InterfaceProvider contract from spec.md
// §4.8 and ships a real Linux implementation of it, split by platform
// the way the teacher splits collector/collector_linux.go and
// netlink/netlink_linux.go from their non-Linux counterparts. The other
// two seams spec.md §4.8 names -- a clock and a random-byte source --
// are carried as plain func() time.Time and crypto/rand.Read calls
// throughout linkstate, registration, session, and reconnect instead of
// interfaces here, since every one of those packages already tests
// against that shape.
package iface

import (
	"net"

	"github.com/srtlabond/bond/linkstate"
)

// Handle is a concrete linkstate.InterfaceHandle: a named network
// interface plus its transport-type classification.
type Handle struct {
	IfaceName string
	Transport linkstate.TransportType
}

// Name satisfies linkstate.InterfaceHandle.
func (h Handle) Name() string { return h.IfaceName }

// ChangeKind distinguishes the two events an InterfaceProvider delivers.
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
)

// Change is a single interface-appeared/interface-vanished notification
// (spec.md §2 component 8, §4.8).
type Change struct {
	Kind   ChangeKind
	Handle Handle
}

// InterfaceProvider enumerates the current set of network interfaces,
// delivers change events, and produces a bindable UDP socket given a
// handle and a server address (spec.md §4.8).
type InterfaceProvider interface {
	// List returns the currently available interfaces.
	List() ([]Handle, error)
	// Subscribe delivers Change events on the returned channel for as
	// long as the underlying subscription stays open; it takes no context
	// and there is no unsubscribe call. Callers are expected to range
	// over it from a single goroutine.
	Subscribe() (<-chan Change, error)
	// Dial opens a UDP socket bound to handle's interface and connected
	// to serverAddr. This is the concrete Dialer linkstate.Link expects.
	Dial(handle linkstate.InterfaceHandle, serverAddr *net.UDPAddr) (*net.UDPConn, error)
}
