package inventory

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CIDRScan sweeps an IPv4 management range for devices answering on the
// given TCP port and returns them as HostEntries in address order. The
// display name of a discovered host is its address. Network and broadcast
// addresses are skipped for ranges larger than /31.
func CIDRScan(ctx context.Context, cidr string, port, concurrency int, timeout time.Duration) ([]HostEntry, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	if network.IP.To4() == nil {
		return nil, fmt.Errorf("CIDR %q: only IPv4 ranges are supported", cidr)
	}
	if concurrency <= 0 {
		concurrency = 64
	}

	ips := enumerateHosts(network)
	if len(ips) == 0 {
		return nil, nil
	}

	var (
		mu    sync.Mutex
		found []HostEntry
	)

	dialer := net.Dialer{Timeout: timeout}
	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	for _, ip := range ips {
		if ctx.Err() != nil {
			break
		}
		addr := ip.String()
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			conn, dialErr := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, fmt.Sprintf("%d", port)))
			if dialErr != nil {
				// Closed or filtered ports are not errors; the sweep
				// reports only what answered.
				return nil
			}
			conn.Close()

			mu.Lock()
			found = append(found, HostEntry{Address: addr, DisplayName: addr})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(found, func(i, j int) bool {
		a := net.ParseIP(found[i].Address).To4()
		b := net.ParseIP(found[j].Address).To4()
		return binary.BigEndian.Uint32(a) < binary.BigEndian.Uint32(b)
	})

	return found, nil
}

// enumerateHosts returns the usable host addresses of an IPv4 network.
// A /32 is a single host and a /31 is a point-to-point link where both
// addresses are usable (RFC 3021); anything larger drops the network
// and broadcast addresses.
func enumerateHosts(network *net.IPNet) []net.IP {
	ip := network.IP.To4()
	if ip == nil {
		return nil
	}
	ones, bits := network.Mask.Size()
	if bits != 32 {
		return nil
	}

	if ones == 32 {
		addr := make(net.IP, 4)
		copy(addr, ip)
		return []net.IP{addr}
	}

	start := binary.BigEndian.Uint32(ip)
	size := uint32(1) << uint(bits-ones)

	first, last := uint32(0), size
	if ones < 31 {
		first, last = 1, size-1
	}

	hosts := make([]net.IP, 0, last-first)
	for i := first; i < last; i++ {
		addr := make(net.IP, 4)
		binary.BigEndian.PutUint32(addr, start+i)
		hosts = append(hosts, addr)
	}
	return hosts
}
