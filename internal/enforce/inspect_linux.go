//go:build linux
// +build linux

package enforce

import (
	"fmt"
	"net/netip"

	"github.com/google/nftables"
)

// systemInspector reads kernel state over netlink.
type systemInspector struct {
	conn *nftables.Conn
}

func newSystemInspector() Inspector {
	return &systemInspector{conn: &nftables.Conn{}}
}

func (i *systemInspector) TableExists(name string) (bool, error) {
	tables, err := i.conn.ListTables()
	if err != nil {
		return false, fmt.Errorf("failed to list tables: %w", err)
	}
	for _, t := range tables {
		if t.Name == name && t.Family == nftables.TableFamilyINet {
			return true, nil
		}
	}
	return false, nil
}

func (i *systemInspector) SetAddrs(table, setName string) ([]netip.Addr, error) {
	tables, err := i.conn.ListTables()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	var tbl *nftables.Table
	for _, t := range tables {
		if t.Name == table && t.Family == nftables.TableFamilyINet {
			tbl = t
			break
		}
	}
	if tbl == nil {
		return nil, fmt.Errorf("table %s not found", table)
	}

	sets, err := i.conn.GetSets(tbl)
	if err != nil {
		return nil, fmt.Errorf("failed to get sets: %w", err)
	}
	var set *nftables.Set
	for _, s := range sets {
		if s.Name == setName {
			set = s
			break
		}
	}
	if set == nil {
		return nil, fmt.Errorf("set %s not found in table %s", setName, table)
	}

	elements, err := i.conn.GetSetElements(set)
	if err != nil {
		return nil, fmt.Errorf("failed to get elements: %w", err)
	}

	addrs := make([]netip.Addr, 0, len(elements))
	for _, elem := range elements {
		if elem.IntervalEnd {
			continue
		}
		addr, ok := netip.AddrFromSlice(elem.Key)
		if !ok {
			continue
		}
		addrs = append(addrs, addr.Unmap())
	}
	return addrs, nil
}
