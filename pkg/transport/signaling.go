package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ethan/visionrelay/pkg/logger"
)

// signalingRateLimit bounds how many signaling messages one connection may
// send per second before being dropped, using golang.org/x/time/rate for
// abuse-resistant signaling ingestion: handlers must be reentrant and
// never block on a slow or hostile peer.
const signalingRateLimit = 20

// inboundMessage is the generic envelope every client message is decoded
// into before type-specific dispatch.
type inboundMessage struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Client string          `json:"client_type"`
}

type authData struct {
	ClientType string `json:"client_type"`
}

type offerData struct {
	SourceID string `json:"source_id"`
}

type answerData struct {
	SDP string `json:"sdp"`
}

type iceCandidateData struct {
	Candidate string `json:"candidate"`
	SDPMid    string `json:"sdpMid"`
}

type switchSourceData struct {
	SourceID string `json:"source_id"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// safeConn serializes writes to a *websocket.Conn. gorilla/websocket permits
// one concurrent reader and one concurrent writer, but this server has two
// independent writers per connection: the dispatch loop and pion's
// asynchronous ICE-gathering goroutine invoking onCandidate. Without this
// mutex those two can interleave writes on the wire.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *safeConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// SignalingServer is the single WebSocket endpoint from §4.3/§6: client
// auth, then routing of offer/answer/ice_candidate/switch_source messages
// to the Streamer, modeled on the websocket signaling loops in
// other_examples/11bb8697_ciptacoding-command-center-vms-BE and
// n0remac-robot-webrtc.
type SignalingServer struct {
	log      *logger.Logger
	streamer *Streamer
	server   *http.Server

	mu    sync.Mutex
	conns map[string]*safeConn
}

// NewSignalingServer returns a SignalingServer that routes authenticated
// traffic to streamer.
func NewSignalingServer(streamer *Streamer, log *logger.Logger) *SignalingServer {
	if log == nil {
		log = logger.Default()
	}
	return &SignalingServer{log: log, streamer: streamer, conns: make(map[string]*safeConn)}
}

// Start begins listening on port and starts the streamer's fan-out loop.
func (s *SignalingServer) Start(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	s.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	ln, err := newListener(s.server.Addr)
	if err != nil {
		return fmt.Errorf("signaling: listen: %w", err)
	}

	s.streamer.Run(ctx)

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("signaling server stopped unexpectedly", "error", err)
		}
	}()
	s.log.Info("signaling server started", "port", port)
	return nil
}

// Stop shuts down the HTTP server; the streamer's own Close handles the
// fan-out loop and client teardown.
func (s *SignalingServer) Stop() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

func (s *SignalingServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer rawConn.Close()
	conn := &safeConn{conn: rawConn}

	welcome := map[string]any{
		"type":      "welcome",
		"message":   "Please send authentication info",
		"timestamp": time.Now().Unix(),
	}
	if err := conn.writeJSON(welcome); err != nil {
		return
	}

	limiter := rate.NewLimiter(rate.Limit(signalingRateLimit), signalingRateLimit)

	client := s.awaitAuth(conn, limiter)
	if client == nil {
		return
	}
	defer s.streamer.RemoveClient(client.id)

	s.mu.Lock()
	s.conns[client.id] = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, client.id)
		s.mu.Unlock()
	}()

	for {
		var msg inboundMessage
		if err := rawConn.ReadJSON(&msg); err != nil {
			return
		}
		if !limiter.Allow() {
			continue
		}
		s.dispatch(client, conn, msg)
	}
}

// awaitAuth blocks for the first message, requiring it to be an "auth"
// message, and returns the newly registered client on success. Any other
// message type before auth is ignored per §4.3.
func (s *SignalingServer) awaitAuth(conn *safeConn, limiter *rate.Limiter) *clientConn {
	for {
		var msg inboundMessage
		if err := conn.conn.ReadJSON(&msg); err != nil {
			return nil
		}
		if !limiter.Allow() {
			continue
		}
		if msg.Type != "auth" {
			continue
		}

		var auth authData
		if len(msg.Data) > 0 {
			_ = json.Unmarshal(msg.Data, &auth)
		} else if msg.Client != "" {
			auth.ClientType = msg.Client
		}

		client := s.streamer.RegisterClient()
		_ = conn.writeJSON(map[string]any{"type": "auth_success", "client_id": client.id})
		s.log.Info("signaling client authenticated", "client_id", client.id, "client_type", auth.ClientType)
		return client
	}
}

func (s *SignalingServer) dispatch(client *clientConn, conn *safeConn, msg inboundMessage) {
	switch msg.Type {
	case "request_offer":
		var data offerData
		_ = json.Unmarshal(msg.Data, &data)
		onCandidate := func(candidate, sdpMid string) {
			_ = conn.writeJSON(map[string]any{
				"type":      "ice_candidate",
				"client_id": client.id,
				"data":      map[string]any{"candidate": candidate, "sdpMid": sdpMid},
			})
		}
		offer, err := s.streamer.CreateOffer(client, data.SourceID, onCandidate)
		if err != nil {
			s.log.Warn("create offer failed", "client_id", client.id, "error", err)
			return
		}
		_ = conn.writeJSON(map[string]any{
			"type": "offer",
			"data": map[string]any{"type": "offer", "sdp": offer.SDP},
		})
		s.log.DebugSignaling("offer sent", "client_id", client.id, "source_id", data.SourceID)

	case "answer":
		var data answerData
		_ = json.Unmarshal(msg.Data, &data)
		if err := s.streamer.SetAnswer(client, data.SDP); err != nil {
			s.log.Warn("set answer failed", "client_id", client.id, "error", err)
		} else {
			s.log.DebugSignaling("answer applied", "client_id", client.id)
		}

	case "ice_candidate":
		var data iceCandidateData
		_ = json.Unmarshal(msg.Data, &data)
		if err := s.streamer.AddICECandidate(client, data.Candidate, data.SDPMid); err != nil {
			s.log.Warn("add ice candidate failed", "client_id", client.id, "error", err)
		} else {
			s.log.DebugSignaling("remote ice candidate added", "client_id", client.id)
		}

	case "switch_source":
		var data switchSourceData
		_ = json.Unmarshal(msg.Data, &data)
		s.streamer.SwitchSource(client, data.SourceID)
		s.log.DebugSignaling("source switched", "client_id", client.id, "source_id", data.SourceID)

	default:
		s.log.DebugSignaling("ignoring unknown signaling message type", "type", msg.Type, "client_id", client.id)
	}
}
