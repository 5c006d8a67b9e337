//go:build !linux
// +build !linux

package enforce

import (
	"errors"
	"net/netip"
)

var errNotLinux = errors.New("nftables inspection requires linux")

type systemInspector struct{}

func newSystemInspector() Inspector {
	return &systemInspector{}
}

func (i *systemInspector) TableExists(name string) (bool, error) {
	return false, errNotLinux
}

func (i *systemInspector) SetAddrs(table, set string) ([]netip.Addr, error) {
	return nil, errNotLinux
}
