package previewrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"telepresence-headset/config"
	"telepresence-headset/frame"
)

// signalMessage mirrors the teacher's SignalingMessage envelope, trimmed to
// the offer/answer/ICE exchange the debug preview needs.
type signalMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Server is the optional debug WebRTC preview server (§4.12): it serves a
// signaling WebSocket and streams the left eye's re-encoded video to every
// connected browser.
type Server struct {
	cfg    config.PreviewConfig
	fps    int
	logger *zap.Logger

	webrtcConfig webrtc.Configuration
	upgrader     websocket.Upgrader

	reenc *reencoder

	mu    sync.RWMutex
	peers map[string]*peerConnection

	httpServer *http.Server
	cancel     context.CancelFunc
}

// New returns a preview server for leftEye, disabled until Start is called.
// Callers should check cfg.Enabled before calling Start.
func New(cfg config.PreviewConfig, fps int, leftEye *frame.Buffer, logger *zap.Logger) *Server {
	return &Server{
		cfg:          cfg,
		fps:          fps,
		logger:       logger,
		webrtcConfig: webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}},
		upgrader:     websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		reenc:        newReencoder(leftEye, fps, logger),
		peers:        make(map[string]*peerConnection),
	}
}

// Start launches the re-encoder, the frame-distribution loop, and the HTTP
// signaling server, if enabled.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("debug preview disabled, skipping start")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.reenc.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("previewrtc: %w", err)
	}
	go s.distributeLoop(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	addr := fmt.Sprintf(":%d", s.cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("preview server error", zap.Error(err))
		}
	}()

	s.logger.Info("debug preview started", zap.String("address", addr))
	return nil
}

// Stop shuts the preview server and all its peer connections down.
func (s *Server) Stop() {
	if !s.cfg.Enabled {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.peers {
		p.close()
		delete(s.peers, id)
	}
}

func (s *Server) distributeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-s.reenc.Frames():
			if !ok {
				return
			}
			s.mu.RLock()
			for _, p := range s.peers {
				if err := p.writeFrame(chunk); err != nil {
					s.logger.Warn("preview frame write failed", zap.String("peer", p.id), zap.Error(err))
				}
			}
			s.mu.RUnlock()
		}
	}
}

// handleWebSocket serves one peer connection per WebSocket: each offer
// received is answered on that same peer connection and streaming starts
// once an answer is sent; ICE candidates are applied one message at a time.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("preview ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	peerID := uuid.New().String()
	peer, err := newPeerConnection(peerID, s.webrtcConfig, s.fps, s.logger)
	if err != nil {
		s.logger.Error("failed to create preview peer", zap.Error(err))
		return
	}
	defer peer.close()

	peer.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, _ := json.Marshal(c.ToJSON())
		conn.WriteJSON(signalMessage{Type: "ice", Data: payload})
	})

	for {
		var msg signalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.removePeer(peerID)
			return
		}

		switch msg.Type {
		case "offer":
			var offer webrtc.SessionDescription
			if err := json.Unmarshal(msg.Data, &offer); err != nil {
				s.logger.Warn("malformed preview offer", zap.Error(err))
				continue
			}
			if err := peer.pc.SetRemoteDescription(offer); err != nil {
				s.logger.Warn("set remote description failed", zap.Error(err))
				continue
			}
			answer, err := peer.pc.CreateAnswer(nil)
			if err != nil {
				s.logger.Warn("create answer failed", zap.Error(err))
				continue
			}
			if err := peer.pc.SetLocalDescription(answer); err != nil {
				s.logger.Warn("set local description failed", zap.Error(err))
				continue
			}

			s.mu.Lock()
			s.peers[peerID] = peer
			s.mu.Unlock()
			peer.startStreaming()

			payload, _ := json.Marshal(answer)
			conn.WriteJSON(signalMessage{Type: "answer", Data: payload})

		case "ice":
			var candidate webrtc.ICECandidateInit
			if err := json.Unmarshal(msg.Data, &candidate); err != nil {
				s.logger.Warn("malformed preview ICE candidate", zap.Error(err))
				continue
			}
			if err := peer.pc.AddICECandidate(candidate); err != nil {
				s.logger.Warn("add ICE candidate failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) removePeer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[id]; ok {
		p.close()
		delete(s.peers, id)
	}
}
