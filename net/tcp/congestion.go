package tcp

// Congestion implements AIMD slow start / congestion avoidance / fast
// retransmit / fast recovery (spec §4.7). cwnd and ssthresh are tracked in
// bytes.
type Congestion struct {
	cwnd     uint32
	ssthresh uint32
	mss      uint32
}

const defaultSsthresh = 64 * 1024

// NewCongestion initializes cwnd = 1 MSS, ssthresh = 64 KiB (spec §4.7).
func NewCongestion(mss uint32) *Congestion {
	return &Congestion{cwnd: mss, ssthresh: defaultSsthresh, mss: mss}
}

// Cwnd returns the current congestion window in bytes.
func (c *Congestion) Cwnd() uint32 { return c.cwnd }

// Ssthresh returns the current slow-start threshold in bytes.
func (c *Congestion) Ssthresh() uint32 { return c.ssthresh }

// OnNewAck grows cwnd on an ACK that acknowledges new data: by one MSS
// during slow start, by MSS*MSS/cwnd during congestion avoidance.
func (c *Congestion) OnNewAck() {
	if c.cwnd < c.ssthresh {
		c.cwnd += c.mss
		return
	}

	growth := (c.mss * c.mss) / c.cwnd
	if growth == 0 {
		growth = 1
	}
	c.cwnd += growth
}

// FastRetransmit applies the fast-retransmit/fast-recovery response to
// three duplicate ACKs: halve cwnd into ssthresh (floored at 2 MSS) and
// inflate cwnd by 3 MSS for the segments already in flight.
func (c *Congestion) FastRetransmit() {
	c.ssthresh = max32(c.cwnd/2, 2*c.mss)
	c.cwnd = c.ssthresh + 3*c.mss
}

// Timeout applies the retransmission-timeout response: halve cwnd into
// ssthresh (floored at 2 MSS) and collapse cwnd back to 1 MSS.
func (c *Congestion) Timeout() {
	c.ssthresh = max32(c.cwnd/2, 2*c.mss)
	c.cwnd = c.mss
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
