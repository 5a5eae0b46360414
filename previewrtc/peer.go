// Package previewrtc implements the optional browser debug preview (§4.12):
// a WebRTC peer per connected browser, streaming a VP8-re-encoded view of
// the left eye's decoded frames. Gated by config.Preview.Enabled; never
// touches the control or datagram planes.
package previewrtc

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// peerConnection is a single browser's WebRTC connection, adapted from the
// teacher's webrtc.PeerConnection down to what the debug preview needs:
// one outbound video track, no renegotiation.
type peerConnection struct {
	id             string
	pc             *webrtc.PeerConnection
	videoTrack     *webrtc.TrackLocalStaticSample
	logger         *zap.Logger
	sampleDuration time.Duration

	mu           sync.RWMutex
	isStreaming  bool
	frameCounter int64
}

func newPeerConnection(id string, cfg webrtc.Configuration, fps int, logger *zap.Logger) (*peerConnection, error) {
	if fps <= 0 {
		fps = 30
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("previewrtc: new peer connection: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "preview")
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("previewrtc: new video track: %w", err)
	}
	if _, err := pc.AddTrack(videoTrack); err != nil {
		pc.Close()
		return nil, fmt.Errorf("previewrtc: add track: %w", err)
	}

	p := &peerConnection{
		id:             id,
		pc:             pc,
		videoTrack:     videoTrack,
		logger:         logger.With(zap.String("preview_peer", id)),
		sampleDuration: time.Second / time.Duration(fps),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Info("preview peer connection state changed", zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			p.stopStreaming()
		}
	})

	return p, nil
}

func (p *peerConnection) startStreaming() { p.mu.Lock(); p.isStreaming = true; p.mu.Unlock() }
func (p *peerConnection) stopStreaming()  { p.mu.Lock(); p.isStreaming = false; p.mu.Unlock() }

// writeFrame forwards one encoded VP8 chunk to the browser.
func (p *peerConnection) writeFrame(data []byte) error {
	p.mu.RLock()
	streaming := p.isStreaming
	p.mu.RUnlock()
	if !streaming {
		return nil
	}

	atomic.AddInt64(&p.frameCounter, 1)
	err := p.videoTrack.WriteSample(media.Sample{Data: data, Duration: p.sampleDuration})
	if err != nil {
		if err == io.ErrClosedPipe {
			return nil
		}
		return fmt.Errorf("previewrtc: write sample: %w", err)
	}
	return nil
}

func (p *peerConnection) close() error {
	p.stopStreaming()
	return p.pc.Close()
}
