package transport

import "net"

// newListener opens a TCP listener for the signaling HTTP server.
// Factored out so tests can bind to an ephemeral port by passing ":0".
func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
