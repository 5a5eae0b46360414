package ntpsync

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ntpEpochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01), per RFC 4330.
const ntpEpochOffset = 2_208_988_800

// packetSize is the fixed SNTPv4 client/server wire size.
const packetSize = 48

// firstByteClientRequest is LI=3 (clock unsynchronized), VN=4, Mode=3
// (client), encoded as 0b11100011 per spec §6.1.
const firstByteClientRequest = 0b11100011

// packet mirrors the fixed SNTPv4 header fields in wire order. Every field
// is named; this client reads only TxTimeSec and TxTimeFrac.
type packet struct {
	FirstByte      uint8
	Stratum        uint8
	Poll           int8
	Precision      int8
	RootDelay      uint32
	RootDispersion uint32
	ReferenceID    uint32
	RefTimeSec     uint32
	RefTimeFrac    uint32
	OrigTimeSec    uint32
	OrigTimeFrac   uint32
	RxTimeSec      uint32
	RxTimeFrac     uint32
	TxTimeSec      uint32
	TxTimeFrac     uint32
}

// clientRequestBytes builds a minimal 48-byte SNTPv4 client request. Only
// the first byte is meaningful to a standard-compliant server; the rest are
// zeroed.
func clientRequestBytes() []byte {
	buf := make([]byte, packetSize)
	buf[0] = firstByteClientRequest
	return buf
}

// parseResponse decodes a 48-byte SNTP response and returns the server's
// transmit timestamp in microseconds since the Unix epoch.
func parseResponse(b []byte) (txUS int64, err error) {
	if len(b) < packetSize {
		return 0, fmt.Errorf("ntpsync: short response (%d bytes, want %d)", len(b), packetSize)
	}

	var p packet
	if err := binary.Read(bytes.NewReader(b[:packetSize]), binary.BigEndian, &p); err != nil {
		return 0, fmt.Errorf("ntpsync: decode response: %w", err)
	}

	secondsSinceUnixEpoch := int64(p.TxTimeSec) - ntpEpochOffset
	fracUS := int64(p.TxTimeFrac) * 1_000_000 / (1 << 32)
	return secondsSinceUnixEpoch*1_000_000 + fracUS, nil
}
