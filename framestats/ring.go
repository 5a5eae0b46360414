package framestats

import "sync"

// Ring is a fixed-capacity, append-only (from the writer's side) history of
// snapshots. Readers take a short lock to copy out an average.
type Ring struct {
	mu      sync.Mutex
	entries []Snapshot
}

// Push appends a snapshot, evicting the oldest entry once len(entries)
// exceeds HistorySize.
func (r *Ring) Push(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, s)
	if len(r.entries) > HistorySize {
		r.entries = r.entries[len(r.entries)-HistorySize:]
	}
}

// Len reports the number of entries currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Average computes the arithmetic mean of duration fields and fps across all
// entries, with identity fields and stage timestamps copied from the most
// recent entry. ok is false when the ring is empty.
func (r *Ring) Average() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.entries)
	if n == 0 {
		return Snapshot{}, false
	}

	var sum Snapshot
	for _, e := range r.entries {
		sum.VidConv += e.VidConv
		sum.Enc += e.Enc
		sum.RtpPay += e.RtpPay
		sum.UDPStream += e.UDPStream
		sum.RtpDepay += e.RtpDepay
		sum.Dec += e.Dec
		sum.Queue += e.Queue
		sum.TotalLatency += e.TotalLatency
		sum.FPS += e.FPS
	}

	latest := r.entries[n-1]
	avg := Snapshot{
		FrameID: latest.FrameID,

		VidConv:      sum.VidConv / int64(n),
		Enc:          sum.Enc / int64(n),
		RtpPay:       sum.RtpPay / int64(n),
		UDPStream:    sum.UDPStream / int64(n),
		RtpDepay:     sum.RtpDepay / int64(n),
		Dec:          sum.Dec / int64(n),
		Queue:        sum.Queue / int64(n),
		TotalLatency: sum.TotalLatency / int64(n),
		FPS:          sum.FPS / float64(n),

		RtpPayTS:       latest.RtpPayTS,
		UDPSrcTS:       latest.UDPSrcTS,
		RtpDepayTS:     latest.RtpDepayTS,
		DecTS:          latest.DecTS,
		QueueTS:        latest.QueueTS,
		FrameReadyTS:   latest.FrameReadyTS,
		PresentationTS: latest.PresentationTS,
	}
	return avg, true
}
