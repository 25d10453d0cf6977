package arq

import (
	"fmt"
	"time"

	"github.com/xtaci/kcp-go/v5"
)

// KCP is an Engine backed by kcp-go.
type KCP struct {
	kcp     *kcp.KCP
	tracker *retransmitTracker
	limit   int
}

// NewKCP creates an engine for conversation conv. The slice passed to output
// is only valid for the duration of the call.
func NewKCP(conv uint32, opts Options, output func(segments []byte)) (*KCP, error) {
	k := &KCP{
		tracker: newRetransmitTracker(conv, opts.MaxRetransmits),
		limit:   opts.QueueLimit,
	}
	k.kcp = kcp.NewKCP(conv, func(buf []byte, size int) {
		if size <= 0 {
			return
		}
		k.tracker.outgoing(buf[:size])
		output(buf[:size])
	})

	if ret := k.kcp.SetMtu(opts.MTU); ret < 0 {
		return nil, fmt.Errorf("kcp.SetMtu(%d): %d", opts.MTU, ret)
	}
	nodelay, nc := 0, 0
	if opts.NoDelay {
		nodelay = 1
	}
	if !opts.CongestionWindow {
		nc = 1
	}
	k.kcp.NoDelay(nodelay, int(opts.Interval.Milliseconds()), opts.FastResend, nc)
	k.kcp.WndSize(opts.SendWindow, opts.ReceiveWindow)

	return k, nil
}

// Input implements Engine.
func (k *KCP) Input(segments []byte) error {
	k.tracker.incoming(segments)
	if ret := k.kcp.Input(segments, true, true); ret < 0 {
		return fmt.Errorf("kcp.Input(): %d: %w", ret, ErrInvalidSegment)
	}
	return nil
}

// Send implements Engine.
func (k *KCP) Send(msg []byte) error {
	if len(msg) == 0 {
		return ErrEmptyMessage
	}
	if k.limit > 0 && k.kcp.WaitSnd() >= k.limit {
		return ErrQueueFull
	}
	switch ret := k.kcp.Send(msg); {
	case ret == -2:
		return ErrMessageTooLarge
	case ret < 0:
		return fmt.Errorf("kcp.Send(): %d", ret)
	}
	return nil
}

// Receive implements Engine.
func (k *KCP) Receive() ([]byte, bool) {
	n := k.kcp.PeekSize()
	if n < 0 {
		return nil, false
	}
	buf := make([]byte, n)
	if k.kcp.Recv(buf) < 0 {
		return nil, false
	}
	return buf, true
}

// Update implements Engine. kcp-go schedules retransmissions from its own
// monotonic clock, so now is not used.
func (k *KCP) Update(_ time.Time) {
	k.kcp.Update()
}

// RetransmitLimitExceeded implements Engine.
func (k *KCP) RetransmitLimitExceeded() bool {
	return k.tracker.exceeded
}

// Pending implements Engine.
func (k *KCP) Pending() int {
	return k.kcp.WaitSnd()
}
