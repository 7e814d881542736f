//go:build !linux

package iface

import (
	"errors"
	"net"

	"github.com/srtlabond/bond/linkstate"
)

// LinuxProvider is not supported on this platform, mirroring
// collector/collector_darwin.go's "not supported" shape.
type LinuxProvider struct {
	Classify func(name string) linkstate.TransportType
}

var errUnsupportedPlatform = errors.New("iface: LinuxProvider is not supported on this platform")

func (p *LinuxProvider) List() ([]Handle, error) {
	return nil, errUnsupportedPlatform
}

func (p *LinuxProvider) Subscribe() (<-chan Change, error) {
	return nil, errUnsupportedPlatform
}

func (p *LinuxProvider) Dial(handle linkstate.InterfaceHandle, serverAddr *net.UDPAddr) (*net.UDPConn, error) {
	return nil, errUnsupportedPlatform
}
