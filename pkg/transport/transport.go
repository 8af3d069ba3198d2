// Package transport ships encoded packets keyed by track id to remote
// consumers (C6), backed by a WebSocket signaling server (C11) and a
// WebRTC streamer that delivers frames over per-client data channels
// (C12). It is the Go realization of this codebase's most WebRTC-heavy
// ancestor, pkg/bridge.Bridge, rebuilt around a data-channel framing
// contract instead of RTP media tracks.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/ethan/visionrelay/pkg/logger"
)

// Stats is the snapshot returned by Contract.Stats (§4.3 "Transport
// contract mapping"): whether any client is currently connected, plus
// aggregate packet/byte counters summed over every track.
type Stats struct {
	Connected bool
	Packets   uint64
	Bytes     uint64
}

// Contract is the interface a Pipeline depends on, deliberately kept
// narrow so a pipeline never needs to know it is talking to a WebRTC
// streamer specifically. *Transport is the only implementation.
type Contract interface {
	Connect(ctx context.Context, endpoint string) error
	Send(trackID string, payload []byte) error
	Disconnect() error
	Stats() Stats
	PerTrackStats() map[string]Stats
}

// Policy is the PeerConnection policy from §4.3: ICE over UDP only, no
// external STUN/TURN, a fixed ephemeral port range, and a configurable
// bind address.
type Policy struct {
	BindAddress  string
	ICEPortMin   uint16
	ICEPortMax   uint16
	SignalingPort int
}

// DefaultPolicy returns the well-known defaults from §6: ICE UDP port
// range 10000-10100, bind address 127.0.0.1, signaling port 8083.
func DefaultPolicy() Policy {
	return Policy{BindAddress: "127.0.0.1", ICEPortMin: 10000, ICEPortMax: 10100, SignalingPort: 8083}
}

// Transport wires a SignalingServer and a Streamer together behind the
// Contract interface.
type Transport struct {
	log             *logger.Logger
	policy          Policy
	defaultSourceID string

	mu        sync.Mutex
	started   bool
	signaling *SignalingServer
	streamer  *Streamer
}

// New returns an unopened Transport. defaultSourceID is the well-known
// source id assigned to a client that has not yet called switch_source
// (§6: default "camera_01").
func New(policy Policy, defaultSourceID string, log *logger.Logger) *Transport {
	if log == nil {
		log = logger.Default()
	}
	if defaultSourceID == "" {
		defaultSourceID = "camera_01"
	}
	return &Transport{log: log, policy: policy, defaultSourceID: defaultSourceID}
}

// Connect starts the signaling server on the port parsed from endpoint
// (falling back to the configured policy's SignalingPort) and initializes
// the streamer. Idempotent: a second call while already started is a
// no-op.
func (t *Transport) Connect(ctx context.Context, endpoint string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}

	port := t.policy.SignalingPort
	if endpoint != "" {
		if p, err := parsePort(endpoint); err == nil {
			port = p
		}
	}

	streamer, err := NewStreamer(t.policy, t.defaultSourceID, t.log)
	if err != nil {
		return fmt.Errorf("transport: streamer: %w", err)
	}

	signaling := NewSignalingServer(streamer, t.log)
	if err := signaling.Start(ctx, port); err != nil {
		streamer.Close()
		return fmt.Errorf("transport: signaling: %w", err)
	}

	t.signaling = signaling
	t.streamer = streamer
	t.started = true
	return nil
}

func parsePort(endpoint string) (int, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Port() == "" {
		if p, err2 := strconv.Atoi(endpoint); err2 == nil {
			return p, nil
		}
		if err == nil {
			err = fmt.Errorf("no port in endpoint %q", endpoint)
		}
		return 0, err
	}
	return strconv.Atoi(u.Port())
}

// Send pushes payload into the bounded queue for source id trackID and
// updates aggregate counters.
func (t *Transport) Send(trackID string, payload []byte) error {
	t.mu.Lock()
	streamer := t.streamer
	t.mu.Unlock()
	if streamer == nil {
		return fmt.Errorf("transport: not connected")
	}
	streamer.Enqueue(trackID, payload)
	return nil
}

// Disconnect stops the fan-out sender, drops all clients, and stops
// signaling.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil
	}
	var err error
	if t.signaling != nil {
		err = t.signaling.Stop()
	}
	if t.streamer != nil {
		t.streamer.Close()
	}
	t.started = false
	return err
}

// Stats returns the current aggregate statistics.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	streamer := t.streamer
	t.mu.Unlock()
	if streamer == nil {
		return Stats{}
	}
	return streamer.Stats()
}

// PerTrackStats returns a snapshot of per-track counters, supplementing
// the required aggregate view per §9's Open Question on transport stats
// granularity.
func (t *Transport) PerTrackStats() map[string]Stats {
	t.mu.Lock()
	streamer := t.streamer
	t.mu.Unlock()
	if streamer == nil {
		return nil
	}
	return streamer.PerTrackStats()
}
