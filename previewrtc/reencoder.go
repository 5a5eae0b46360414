package previewrtc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"telepresence-headset/frame"
)

// reencoder periodically snapshots a frame.Buffer and re-encodes it to VP8
// via an external GStreamer subprocess, reusing the chunked-read idiom the
// teacher's capture loop uses for headerless VP8 streams.
type reencoder struct {
	buf    *frame.Buffer
	fps    int
	logger *zap.Logger

	cmd    *exec.Cmd
	output chan []byte
}

func newReencoder(buf *frame.Buffer, fps int, logger *zap.Logger) *reencoder {
	if fps <= 0 {
		fps = 30
	}
	return &reencoder{buf: buf, fps: fps, logger: logger, output: make(chan []byte, 4)}
}

// Frames returns the channel of re-encoded VP8 chunks.
func (r *reencoder) Frames() <-chan []byte { return r.output }

// Start spawns the encoder subprocess and the snapshot-feed and chunk-read
// goroutines.
func (r *reencoder) Start(ctx context.Context) error {
	pipeline := fmt.Sprintf(
		"fdsrc fd=0 ! video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1 ! videoconvert ! vp8enc deadline=1 target-bitrate=1000000 cpu-used=4 ! fdsink fd=1 sync=false",
		r.buf.Width, r.buf.Height, r.fps)

	r.cmd = exec.CommandContext(ctx, "gst-launch-1.0", append([]string{"-q"}, strings.Fields(pipeline)...)...)
	stdin, err := r.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("previewrtc: reencoder stdin pipe: %w", err)
	}
	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("previewrtc: reencoder stdout pipe: %w", err)
	}
	if err := r.cmd.Start(); err != nil {
		return fmt.Errorf("previewrtc: start reencoder: %w", err)
	}

	go r.feedLoop(ctx, stdin)
	go r.readLoop(ctx, stdout)
	return nil
}

func (r *reencoder) feedLoop(ctx context.Context, stdin io.Writer) {
	ticker := time.NewTicker(time.Second / time.Duration(r.fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := stdin.Write(r.buf.Snapshot()); err != nil {
				select {
				case <-ctx.Done():
				default:
					r.logger.Warn("reencoder stdin write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

const vp8ChunkSize = 4096

func (r *reencoder) readLoop(ctx context.Context, stdout io.Reader) {
	reader := bufio.NewReader(stdout)
	var dropped int64
	for {
		chunk := make([]byte, vp8ChunkSize)
		n, err := reader.Read(chunk)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				r.logger.Info("reencoder stdout closed", zap.Error(err))
			}
			return
		}
		if n == 0 {
			continue
		}
		select {
		case r.output <- chunk[:n]:
		default:
			dropped++
			if dropped%30 == 0 {
				r.logger.Warn("dropping preview chunk, output channel full", zap.Int64("dropped", dropped))
			}
		}
	}
}
