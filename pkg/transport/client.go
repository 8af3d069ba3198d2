package transport

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// clientConn is the per-client state described in §3 "Client connection":
// a server-assigned client id, the currently requested source id
// (defaulting to the transport's well-known default), a PeerConnection, a
// DataChannel, a connected flag, and the connect time. Ownership rule from
// Design Notes §9: the client map holds exclusive ownership; callers reach
// a client only through short borrowed scopes obtained from the Streamer,
// never by holding the map lock while using the handle.
type clientConn struct {
	id              string
	mu              sync.RWMutex
	requestedSource string
	pc              *webrtc.PeerConnection
	dc              *webrtc.DataChannel
	connected       bool
	connectedAt     time.Time

	// offerInFlight guards against duplicate negotiations if the client
	// repeats request_offer before the previous offer completed (Design
	// Notes §9 "Signaling concurrency").
	offerInFlight bool
}

func newClientConn(id, defaultSource string) *clientConn {
	return &clientConn{id: id, requestedSource: defaultSource}
}

func (c *clientConn) setRequestedSource(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestedSource = sourceID
}

func (c *clientConn) getRequestedSource() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requestedSource
}

func (c *clientConn) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
	if v && c.connectedAt.IsZero() {
		c.connectedAt = time.Now()
	}
}

func (c *clientConn) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// dataChannelHandle returns the current data channel and connected flag in
// one short borrowed read, so the caller can release the lock before
// calling Send on the channel (never hold the lock across a DataChannel
// send per Design Notes §9).
func (c *clientConn) dataChannelHandle() (*webrtc.DataChannel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dc, c.connected
}

func (c *clientConn) setOfferInFlight(v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v && c.offerInFlight {
		return false
	}
	c.offerInFlight = v
	return true
}
