package transport

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/ethan/visionrelay/pkg/logger"
)

const fanOutInterval = time.Second / 30 // ~30 Hz per §4.3

// Streamer owns per-client PeerConnections and data channels and the
// fan-out loop that delivers encoded frames to them (C12). It is the
// data-channel-oriented descendant of pkg/bridge.Bridge: same
// cached-connection-state-under-mutex discipline, same "never call into a
// DataChannel while holding the client map lock" rule, retargeted at
// binary DataChannel frames instead of RTP media.
type Streamer struct {
	log           *logger.Logger
	api           *webrtc.API
	defaultSource string

	mu      sync.RWMutex
	clients map[string]*clientConn

	queues   sync.Map // track id (string) -> *frameQueue
	counters sync.Map // track id (string) -> *trackCounters

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreamer builds a pion webrtc.API configured with the PeerConnection
// policy from §4.3: UDP-only ICE, no external STUN/TURN (host candidates
// only), the configured port range, and a pinned advertised bind address.
func NewStreamer(policy Policy, defaultSourceID string, log *logger.Logger) (*Streamer, error) {
	if log == nil {
		log = logger.Default()
	}

	settingEngine := webrtc.SettingEngine{}
	if err := settingEngine.SetEphemeralUDPPortRange(policy.ICEPortMin, policy.ICEPortMax); err != nil {
		return nil, fmt.Errorf("transport: ice port range: %w", err)
	}
	settingEngine.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	if policy.BindAddress != "" {
		settingEngine.SetNAT1To1IPs([]string{policy.BindAddress}, webrtc.ICECandidateTypeHost)
	}

	mediaEngine := &webrtc.MediaEngine{} // no codecs registered: data-channel only, no RTP media tracks

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settingEngine),
		webrtc.WithMediaEngine(mediaEngine),
	)

	return &Streamer{
		log:           log,
		api:           api,
		defaultSource: defaultSourceID,
		clients:       make(map[string]*clientConn),
	}, nil
}

// Run starts the fan-out loop; call once after construction.
func (s *Streamer) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.fanOutLoop(ctx)
}

func (s *Streamer) fanOutLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(fanOutInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fanOutOnce()
		}
	}
}

// fanOutOnce pops one payload per connected client from its requested
// source's queue and sends it. Client handles are copied out of the map
// lock before any DataChannel send, per Design Notes §9.
func (s *Streamer) fanOutOnce() {
	s.mu.RLock()
	snapshot := make([]*clientConn, 0, len(s.clients))
	for _, c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.mu.RUnlock()

	for _, c := range snapshot {
		dc, connected := c.dataChannelHandle()
		if !connected || dc == nil {
			continue
		}
		sourceID := c.getRequestedSource()
		q, ok := s.queues.Load(sourceID)
		if !ok {
			continue
		}
		payload, ok := q.(*frameQueue).pop()
		if !ok {
			continue
		}
		if err := sendFramed(dc, payload); err != nil {
			s.log.Warn("data channel send failed, dropping frame for client",
				"client_id", c.id, "source_id", sourceID, "error", err)
			continue
		}
		s.log.DebugDataChannelFrame(c.id, len(payload), chunkCount(len(payload)))
	}
}

// Enqueue pushes payload into the bounded queue for trackID, creating the
// queue and its counters on first use, and updates aggregate counters.
func (s *Streamer) Enqueue(trackID string, payload []byte) {
	qAny, _ := s.queues.LoadOrStore(trackID, newFrameQueue())
	qAny.(*frameQueue).push(payload)

	cAny, _ := s.counters.LoadOrStore(trackID, &trackCounters{})
	counters := cAny.(*trackCounters)
	counters.packets.Add(1)
	counters.bytes.Add(uint64(len(payload)))
}

// newClientID assigns a 6-digit random client id prefixed with "client_",
// per §4.3.
func newClientID() string {
	n, _ := rand.Int(rand.Reader, big.NewInt(1_000_000))
	return fmt.Sprintf("client_%06d", n.Int64())
}

// RegisterClient creates client-side bookkeeping for a freshly
// authenticated signaling connection.
func (s *Streamer) RegisterClient() *clientConn {
	c := newClientConn(newClientID(), s.defaultSource)
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	return c
}

// RemoveClient drops a client's bookkeeping and tears down its
// PeerConnection, called on WebSocket close (§3 "Client connection"
// lifecycle).
func (s *Streamer) RemoveClient(id string) {
	s.mu.Lock()
	c, ok := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	c.mu.RLock()
	pc := c.pc
	c.mu.RUnlock()
	if pc != nil {
		_ = pc.Close()
	}
}

// ICECandidateFunc receives one locally generated ICE candidate to forward
// to the remote client, per §4.3.
type ICECandidateFunc func(candidate, sdpMid string)

// CreateOffer builds a new PeerConnection + "video" DataChannel for
// client, sets the requested source if sourceID is non-empty, and returns
// the local SDP offer for the signaling layer to forward. Every locally
// gathered ICE candidate is handed to onCandidate as it arrives.
func (s *Streamer) CreateOffer(client *clientConn, sourceID string, onCandidate ICECandidateFunc) (webrtc.SessionDescription, error) {
	if !client.setOfferInFlight(true) {
		return webrtc.SessionDescription{}, fmt.Errorf("transport: offer already in flight for %s", client.id)
	}
	defer client.setOfferInFlight(false)

	if sourceID != "" {
		client.setRequestedSource(sourceID)
	}

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("transport: new peer connection: %w", err)
	}

	dc, err := pc.CreateDataChannel("video", nil)
	if err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("transport: create data channel: %w", err)
	}

	client.mu.Lock()
	client.pc = pc
	client.dc = dc
	client.mu.Unlock()

	if onCandidate != nil {
		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				return
			}
			mid := ""
			init := c.ToJSON()
			if init.SDPMid != nil {
				mid = *init.SDPMid
			}
			s.log.DebugStreamer("local ice candidate gathered", "client_id", client.id, "candidate", init.Candidate)
			onCandidate(init.Candidate, mid)
		})
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.DebugStreamer("peer connection state changed", "client_id", client.id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			client.setConnected(true)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			client.setConnected(false)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("transport: create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("transport: set local description: %w", err)
	}
	return offer, nil
}

// SetAnswer applies the client's SDP answer to its PeerConnection.
func (s *Streamer) SetAnswer(client *clientConn, sdp string) error {
	client.mu.RLock()
	pc := client.pc
	client.mu.RUnlock()
	if pc == nil {
		return fmt.Errorf("transport: no peer connection for client %s", client.id)
	}
	return pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// AddICECandidate adds a remote ICE candidate to the client's PeerConnection.
func (s *Streamer) AddICECandidate(client *clientConn, candidate, sdpMid string) error {
	client.mu.RLock()
	pc := client.pc
	client.mu.RUnlock()
	if pc == nil {
		return fmt.Errorf("transport: no peer connection for client %s", client.id)
	}
	mid := sdpMid
	return pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate, SDPMid: &mid})
}

// SwitchSource updates the client's requested source id.
func (s *Streamer) SwitchSource(client *clientConn, sourceID string) {
	client.setRequestedSource(sourceID)
}

// Stats returns aggregate counters across all tracks.
func (s *Streamer) Stats() Stats {
	var agg Stats
	s.mu.RLock()
	for _, c := range s.clients {
		if c.isConnected() {
			agg.Connected = true
			break
		}
	}
	s.mu.RUnlock()

	s.counters.Range(func(_, v any) bool {
		c := v.(*trackCounters)
		agg.Packets += c.packets.Load()
		agg.Bytes += c.bytes.Load()
		return true
	})
	return agg
}

// PerTrackStats returns a snapshot keyed by track id.
func (s *Streamer) PerTrackStats() map[string]Stats {
	out := make(map[string]Stats)
	s.counters.Range(func(k, v any) bool {
		c := v.(*trackCounters)
		out[k.(string)] = Stats{Packets: c.packets.Load(), Bytes: c.bytes.Load()}
		return true
	})
	return out
}

// Close stops the fan-out loop and tears down every client connection.
func (s *Streamer) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	clients := make([]*clientConn, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*clientConn)
	s.mu.Unlock()

	for _, c := range clients {
		c.mu.RLock()
		pc := c.pc
		c.mu.RUnlock()
		if pc != nil {
			_ = pc.Close()
		}
	}
}
