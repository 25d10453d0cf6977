package arq

import "encoding/binary"

// Segment layout, little endian:
//
//	conv u32 | cmd u8 | frg u8 | wnd u16 | ts u32 | sn u32 | una u32 | len u32
const (
	segmentHeaderSize = 24

	cmdPush = 81
	cmdAck  = 82
)

type segmentHeader struct {
	conv uint32
	cmd  uint8
	sn   uint32
	una  uint32
}

// forEachSegment calls fn for every complete segment header in b.
func forEachSegment(b []byte, fn func(h segmentHeader)) {
	for len(b) >= segmentHeaderSize {
		h := segmentHeader{
			conv: binary.LittleEndian.Uint32(b[0:]),
			cmd:  b[4],
			sn:   binary.LittleEndian.Uint32(b[12:]),
			una:  binary.LittleEndian.Uint32(b[16:]),
		}
		length := binary.LittleEndian.Uint32(b[20:])
		if uint64(length) > uint64(len(b)-segmentHeaderSize) {
			return
		}
		fn(h)
		b = b[segmentHeaderSize+int(length):]
	}
}

// retransmitTracker counts transmissions of every unacknowledged data
// segment by watching the segment stream in both directions.
type retransmitTracker struct {
	conv     uint32
	limit    int
	xmit     map[uint32]int
	exceeded bool
}

func newRetransmitTracker(conv uint32, limit int) *retransmitTracker {
	return &retransmitTracker{conv: conv, limit: limit, xmit: make(map[uint32]int)}
}

func (t *retransmitTracker) outgoing(b []byte) {
	forEachSegment(b, func(h segmentHeader) {
		if h.conv != t.conv || h.cmd != cmdPush {
			return
		}
		t.xmit[h.sn]++
		if t.limit > 0 && t.xmit[h.sn]-1 > t.limit {
			t.exceeded = true
		}
	})
}

func (t *retransmitTracker) incoming(b []byte) {
	forEachSegment(b, func(h segmentHeader) {
		if h.conv != t.conv {
			return
		}
		for sn := range t.xmit {
			if int32(sn-h.una) < 0 {
				delete(t.xmit, sn)
			}
		}
		if h.cmd == cmdAck {
			delete(t.xmit, h.sn)
		}
	})
}
