// Package discovery implements the client side of the UDP protocol: sending
// DISCOVER/KEEPALIVE datagrams, receiving IAM/AUDIO/METADATA, and surfacing
// them as model events.
package discovery

import (
	"net"

	"github.com/streamrelay/streamrelay/internal/wire"
)

// ProxyInfo is what the client knows about one discovered proxy.
type ProxyInfo struct {
	ID        uint64
	Addr      *net.UDPAddr
	RadioInfo string
}

// FoldAddr computes the same 64-bit address fold the proxy's registry uses,
// so both sides agree on an id for a given (ip, port) pair.
func FoldAddr(addr *net.UDPAddr) uint64 {
	return wire.FoldAddr(addr)
}
