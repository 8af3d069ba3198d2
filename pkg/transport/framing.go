package transport

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// maxSingleMessage is the largest payload (excluding the 4-byte length
// prefix) that still fits in one DataChannel message alongside its
// prefix: 16 380 bytes, per §4.3/§6/§8.
const maxSingleMessage = 16380

// maxChunkSize bounds every individual chunked message to avoid SCTP
// congestion, per §4.3.
const maxChunkSize = 16384

// interChunkDelay is slept between chunked messages, per §4.3.
const interChunkDelay = time.Millisecond

// sendFramed writes payload to dc using the framing discipline from §4.3
// and §6: every encoded frame carries a 4-byte big-endian length prefix.
// If the total fits in maxSingleMessage bytes it is sent as one
// [len(4)||payload] message; otherwise the length prefix is sent alone,
// followed by the payload split into <= maxChunkSize byte chunks with a
// short sleep between chunks.
func sendFramed(dc *webrtc.DataChannel, payload []byte) error {
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))

	if len(payload) <= maxSingleMessage {
		buf := make([]byte, 0, 4+len(payload))
		buf = append(buf, lenPrefix[:]...)
		buf = append(buf, payload...)
		return dc.Send(buf)
	}

	if err := dc.Send(lenPrefix[:]); err != nil {
		return fmt.Errorf("transport: send length prefix: %w", err)
	}

	for offset := 0; offset < len(payload); offset += maxChunkSize {
		end := offset + maxChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if err := dc.Send(payload[offset:end]); err != nil {
			return fmt.Errorf("transport: send chunk: %w", err)
		}
		if end < len(payload) {
			time.Sleep(interChunkDelay)
		}
	}
	return nil
}

// chunkCount returns how many DataChannel messages sendFramed will emit
// for a payload of the given length, including the length-prefix-only
// message when chunking applies. Exported for tests exercising the
// boundary behaviors in §8.
func chunkCount(payloadLen int) int {
	if payloadLen <= maxSingleMessage {
		return 1
	}
	n := 1 // the lone length-prefix message
	for offset := 0; offset < payloadLen; offset += maxChunkSize {
		n++
	}
	return n
}
