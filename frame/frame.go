// Package frame holds the decoded-frame buffers shared between the ingest
// pipeline and the (external) renderer.
package frame

import (
	"sync"

	"telepresence-headset/framestats"
)

// Buffer is a single eye's decoded frame. Either Data or GPUHandle is
// meaningful at any time; the renderer picks whichever path HasGPUTexture
// indicates.
type Buffer struct {
	mu sync.RWMutex

	Width  int
	Height int
	Stride int

	Data []byte

	HasGPUTexture bool
	GPUHandle     uintptr
	GPUTarget     uint32

	Stats *framestats.Stats
}

// NewBuffer allocates a zero-filled RGB buffer of width*height*3 bytes.
func NewBuffer(width, height int) *Buffer {
	stride := width * height * 3
	return &Buffer{
		Width:  width,
		Height: height,
		Stride: stride,
		Data:   make([]byte, stride),
		Stats:  framestats.New(),
	}
}

// CopyFrom copies exactly len(b.Data) bytes into the buffer's backing store.
// It panics if src is shorter than the buffer's configured stride — this is
// a programmer error (codec/resolution mismatch), not a runtime condition.
func (b *Buffer) CopyFrom(src []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(src) < len(b.Data) {
		panic("frame: source buffer shorter than configured stride")
	}
	copy(b.Data, src[:len(b.Data)])
	b.HasGPUTexture = false
}

// SetGPUTexture records a GPU-backed handle in place of a CPU copy.
func (b *Buffer) SetGPUTexture(handle uintptr, target uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.GPUHandle = handle
	b.GPUTarget = target
	b.HasGPUTexture = true
}

// Snapshot returns a read-locked copy of the pixel data for presentation.
func (b *Buffer) Snapshot() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]byte, len(b.Data))
	copy(out, b.Data)
	return out
}

// Resize reallocates the buffer for a new width/height, zero-filling the new
// backing store. Used by PipelineSupervisor during reconfigure.
func (b *Buffer) Resize(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Width = width
	b.Height = height
	b.Stride = width * height * 3
	b.Data = make([]byte, b.Stride)
	b.HasGPUTexture = false
}

// Pair holds both eyes' buffers. Created at pipeline configure time and
// destroyed when the pipeline is torn down; ingest threads exclusively
// mutate buffer contents while the renderer only reads them.
type Pair struct {
	Left  *Buffer
	Right *Buffer
}

// NewPair allocates a fresh left/right buffer pair at the given resolution.
func NewPair(width, height int) *Pair {
	return &Pair{
		Left:  NewBuffer(width, height),
		Right: NewBuffer(width, height),
	}
}

// MirrorLeftToRight copies the left eye's last frame into the right eye's
// buffer, used for VideoMode=Mono per the configuration surface.
func (p *Pair) MirrorLeftToRight() {
	p.Right.CopyFrom(p.Left.Snapshot())
}
