package tcp

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/nucleuskernel/nucleus/metrics"
	"github.com/nucleuskernel/nucleus/task"
)

// State is one of the eleven TCP connection states of spec §3.
type State int

const (
	Closed State = iota
	Listen
	SynSent
	SynReceived
	Established
	FinWait1
	FinWait2
	CloseWait
	Closing
	LastAck
	TimeWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Listen:
		return "LISTEN"
	case SynSent:
		return "SYN_SENT"
	case SynReceived:
		return "SYN_RECEIVED"
	case Established:
		return "ESTABLISHED"
	case FinWait1:
		return "FIN_WAIT_1"
	case FinWait2:
		return "FIN_WAIT_2"
	case CloseWait:
		return "CLOSE_WAIT"
	case Closing:
		return "CLOSING"
	case LastAck:
		return "LAST_ACK"
	case TimeWait:
		return "TIME_WAIT"
	default:
		return "?"
	}
}

// MSL is the maximum segment lifetime; TimeWait drains after 2*MSL (spec
// §4.7). Kept short relative to a real stack's 2-minute MSL since this
// kernel runs in a cooperative, simulated-time-friendly environment.
const MSL = 30 * time.Second

const (
	DefaultMSS     = 1460 // interface MTU 1500 minus 20-byte IPv4 + 20-byte TCP headers
	defaultSendCap = 64 * 1024
	// defaultRecvCap must fit in the 16-bit advertised window field.
	defaultRecvCap = 32 * 1024
)

var (
	ErrNotConnected    = errors.New("tcp: socket not connected")
	ErrWouldBlock      = errors.New("tcp: operation would block")
	ErrConnectionReset = errors.New("tcp: connection reset")
	ErrAlreadyClosing  = errors.New("tcp: close already in progress")
)

// Transmitter is the narrow surface Socket needs to emit a segment; the
// orchestration layer (net/stack) implements it by wrapping ipv4.Build,
// ARP resolution, and the NIC driver.
type Transmitter interface {
	SendSegment(local, remote Endpoint, h Header, payload []byte) error
}

// Socket is one TCP connection's full state (spec §3).
type Socket struct {
	mu sync.Mutex

	Local, Remote Endpoint
	state         State

	tx      Transmitter
	Metrics *metrics.Registry // optional; counters incremented if non-nil

	sendBuf []byte // bytes from sndUna onward: unacked + unsent
	sendCap int
	recvBuf []byte // in-order bytes awaiting Recv()
	recvCap int

	sndUna, sndNxt uint32
	sndWnd         uint32
	rcvNxt         uint32
	rcvWnd         uint32

	iss, irs uint32
	mss      uint32

	cong        *Congestion
	dupAckCount int

	rto          *RTOEstimator
	rtoPending   bool
	rtoDeadline  time.Time
	sampleValid  bool
	sampleSeq    uint32
	sampleSentAt time.Time

	finSent    bool
	peerClosed bool

	timeWaitDeadline time.Time

	waker    *task.Waker
	listener *Listener
}

// NewSocket builds an idle (Closed) socket bound to local, ready for
// Connect or to be handed to a Listener.
func NewSocket(local Endpoint, tx Transmitter, w *task.Waker) *Socket {
	return newSocket(local, tx, DefaultMSS, defaultSendCap, defaultRecvCap, w)
}

func newSocket(local Endpoint, tx Transmitter, mss uint32, sendCap, recvCap int, w *task.Waker) *Socket {
	return &Socket{
		Local:   local,
		tx:      tx,
		sendCap: sendCap,
		recvCap: recvCap,
		rcvWnd:  uint32(recvCap),
		mss:     mss,
		cong:    NewCongestion(mss),
		rto:     NewRTOEstimator(),
		waker:   w,
	}
}

// State returns the socket's current connection state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SndWnd returns the peer's last advertised send window.
func (s *Socket) SndWnd() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sndWnd
}

// Connect initiates an active open (Closed -> SynSent, spec §4.7).
func (s *Socket) Connect(remote Endpoint, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Closed {
		return errors.New("tcp: socket not closed")
	}

	s.Remote = remote
	s.iss = NewISN(now, s.Local, remote)
	s.sndUna = s.iss
	s.sndNxt = s.iss + 1
	s.state = SynSent

	return s.sendSegmentLocked(now, Header{Flags: FlagSYN, Seq: s.iss, Window: uint16(s.rcvWnd), MSS: uint16(s.mss)}, nil)
}

// Send enqueues data into the send buffer; it suspends (returns
// ErrWouldBlock) when the buffer is full.
func (s *Socket) Send(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Established && s.state != CloseWait {
		return 0, ErrNotConnected
	}

	avail := s.sendCap - len(s.sendBuf)
	if avail <= 0 {
		return 0, ErrWouldBlock
	}

	n := len(data)
	if n > avail {
		n = avail
	}
	s.sendBuf = append(s.sendBuf, data[:n]...)

	return n, nil
}

// Recv dequeues up to max bytes; it suspends (ErrWouldBlock) when nothing
// is queued and the peer hasn't closed, and reports io.EOF once the
// buffer has drained after a peer FIN.
func (s *Socket) Recv(max int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.recvBuf) == 0 {
		if s.peerClosed {
			return nil, io.EOF
		}
		return nil, ErrWouldBlock
	}

	if max <= 0 || max > len(s.recvBuf) {
		max = len(s.recvBuf)
	}

	out := append([]byte(nil), s.recvBuf[:max]...)
	s.recvBuf = s.recvBuf[max:]
	s.rcvWnd = uint32(s.recvCap - len(s.recvBuf))

	return out, nil
}

// Close initiates an active close from the user's side (spec §4.7).
func (s *Socket) Close(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Established:
		s.sendFINLocked(now)
		s.state = FinWait1
	case CloseWait:
		s.sendFINLocked(now)
		s.state = LastAck
	case SynSent, Listen:
		s.state = Closed
	default:
		return ErrAlreadyClosing
	}

	return nil
}

func (s *Socket) sendFINLocked(now time.Time) {
	seq := s.sndNxt
	s.sendSegmentLocked(now, Header{Flags: FlagFIN | FlagACK, Seq: seq, Ack: s.rcvNxt, Window: uint16(s.rcvWnd)}, nil)
	s.sndNxt++
	s.finSent = true
}

func (s *Socket) sendAckOnlyLocked(now time.Time) {
	s.sendSegmentLocked(now, Header{Flags: FlagACK, Seq: s.sndNxt, Ack: s.rcvNxt, Window: uint16(s.rcvWnd)}, nil)
}

func (s *Socket) sendSegmentLocked(now time.Time, h Header, payload []byte) error {
	h.SrcPort = s.Local.Port
	h.DstPort = s.Remote.Port
	return s.tx.SendSegment(s.Local, s.Remote, h, payload)
}

func (s *Socket) signal() {
	if s.waker != nil {
		s.waker.Signal()
	}
}

// seqGT reports a > b under 32-bit sequence-number wraparound rules.
func seqGT(a, b uint32) bool { return int32(a-b) > 0 }

// HandleSegment processes one inbound segment addressed to this socket
// (spec §4.7's transition table).
func (s *Socket) HandleSegment(h Header, payload []byte, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.Flags&FlagRST != 0 {
		s.resetLocked()
		return
	}

	switch s.state {
	case Closed, Listen:
		return
	case SynSent:
		s.handleSynSentLocked(h, now)
	default:
		s.handleGeneralLocked(h, payload, now)
	}
}

func (s *Socket) resetLocked() {
	s.sendBuf = nil
	s.recvBuf = nil
	s.state = Closed
	if s.Metrics != nil {
		s.Metrics.TCPResets.Inc()
	}
	s.signal()
}

func (s *Socket) handleSynSentLocked(h Header, now time.Time) {
	switch {
	case h.Flags&FlagSYN != 0 && h.Flags&FlagACK != 0:
		if h.Ack != s.sndNxt {
			return // invalid ack for our SYN
		}
		s.irs = h.Seq
		s.rcvNxt = h.Seq + 1
		s.sndUna = h.Ack
		s.sndWnd = uint32(h.Window)
		if h.MSS != 0 && uint32(h.MSS) < s.mss {
			s.mss = uint32(h.MSS)
		}
		s.state = Established
		s.sendAckOnlyLocked(now)
		s.signal()

	case h.Flags&FlagSYN != 0:
		// simultaneous open
		s.irs = h.Seq
		s.rcvNxt = h.Seq + 1
		s.state = SynReceived
		s.sendSegmentLocked(now, Header{Flags: FlagSYN | FlagACK, Seq: s.iss, Ack: s.rcvNxt, Window: uint16(s.rcvWnd)}, nil)
	}
}

func (s *Socket) handleGeneralLocked(h Header, payload []byte, now time.Time) {
	if h.Flags&FlagACK != 0 {
		s.processAckLocked(h, now)
	}

	if s.state == SynReceived && s.sndUna == s.sndNxt {
		s.state = Established
		if s.listener != nil {
			s.listener.enqueue(s)
		}
		s.signal()
	}

	if len(payload) > 0 && h.Seq == s.rcvNxt && s.acceptsData() {
		s.acceptDataLocked(payload)
		s.sendAckOnlyLocked(now)
	}

	if h.Flags&FlagFIN != 0 && h.Seq+uint32(len(payload)) == s.rcvNxt {
		s.rcvNxt++
		s.peerClosed = true
		s.sendAckOnlyLocked(now)

		switch s.state {
		case Established:
			s.state = CloseWait
		case FinWait1:
			s.state = Closing
		case FinWait2:
			s.state = TimeWait
			s.timeWaitDeadline = now.Add(2 * MSL)
		}
		s.signal()
	}

	switch s.state {
	case FinWait1:
		if s.finAcked() {
			s.state = FinWait2
		}
	case Closing:
		if s.finAcked() {
			s.state = TimeWait
			s.timeWaitDeadline = now.Add(2 * MSL)
		}
	case LastAck:
		if s.finAcked() {
			s.state = Closed
			s.signal()
		}
	}
}

func (s *Socket) acceptsData() bool {
	switch s.state {
	case Established, FinWait1, FinWait2:
		return true
	default:
		return false
	}
}

func (s *Socket) finAcked() bool {
	return s.finSent && s.sndUna == s.sndNxt
}

func (s *Socket) acceptDataLocked(payload []byte) {
	room := s.recvCap - len(s.recvBuf)
	n := len(payload)
	if n > room {
		n = room
	}
	s.recvBuf = append(s.recvBuf, payload[:n]...)
	s.rcvNxt += uint32(n)
	s.rcvWnd = uint32(s.recvCap - len(s.recvBuf))
	s.signal()
}

// acceptWindowLocked updates sndWnd to window unless doing so would pull
// the window's right edge (una+window) behind sndNxt, i.e. behind data
// already sent (spec §4.7: never accept such a retraction).
func (s *Socket) acceptWindowLocked(una uint32, window uint16) {
	if una+uint32(window) < s.sndNxt {
		return
	}
	s.sndWnd = uint32(window)
}

func (s *Socket) processAckLocked(h Header, now time.Time) {
	if seqGT(h.Ack, s.sndNxt) {
		return // acks data never sent
	}

	if h.Ack == s.sndUna {
		s.acceptWindowLocked(h.Ack, h.Window)
		if s.sndUna != s.sndNxt {
			s.dupAckCount++
			if s.dupAckCount == 3 {
				s.retransmitOldestLocked(now)
				s.cong.FastRetransmit()
				if s.Metrics != nil {
					s.Metrics.TCPRetransmit.Inc()
				}
			}
		}
		return
	}

	acked := h.Ack - s.sndUna
	if acked > uint32(len(s.sendBuf)) {
		acked = uint32(len(s.sendBuf))
	}
	s.sendBuf = s.sendBuf[acked:]
	s.sndUna = h.Ack
	s.acceptWindowLocked(s.sndUna, h.Window)
	s.dupAckCount = 0
	s.cong.OnNewAck()

	if s.sampleValid && !seqGT(s.sampleSeq, h.Ack-1) {
		s.rto.Sample(now.Sub(s.sampleSentAt))
		s.sampleValid = false
	}

	if s.sndUna == s.sndNxt {
		s.rtoPending = false
	} else {
		s.rtoDeadline = now.Add(s.rto.RTO())
	}

	s.signal()
}

// retransmitOldestLocked resends the oldest unacknowledged segment (spec
// §4.7 fast retransmit / RTO retransmit). Per Karn's algorithm, a
// retransmitted segment is never used as an RTT sample.
func (s *Socket) retransmitOldestLocked(now time.Time) {
	n := uint32(len(s.sendBuf))
	if n > s.mss {
		n = s.mss
	}
	s.sampleValid = false
	s.sendSegmentLocked(now, Header{Flags: FlagACK, Seq: s.sndUna, Ack: s.rcvNxt, Window: uint16(s.rcvWnd)}, s.sendBuf[:n])
}

// trySendLocked transmits as much of the unsent send buffer as the
// min(snd_wnd, cwnd) window allows (invariant 7: snd_una <= snd_nxt <=
// snd_una + min(snd_wnd, cwnd)).
func (s *Socket) trySendLocked(now time.Time) {
	if s.state != Established && s.state != CloseWait {
		return
	}

	window := min32(s.sndWnd, s.cong.Cwnd())
	sentUnacked := s.sndNxt - s.sndUna

	if sentUnacked >= window {
		return
	}

	available := window - sentUnacked
	remaining := uint32(len(s.sendBuf)) - sentUnacked
	toSend := min32(min32(available, remaining), s.mss)
	if toSend == 0 {
		return
	}

	segment := s.sendBuf[sentUnacked : sentUnacked+toSend]
	seq := s.sndNxt

	if err := s.sendSegmentLocked(now, Header{Flags: FlagACK, Seq: seq, Ack: s.rcvNxt, Window: uint16(s.rcvWnd)}, segment); err != nil {
		return
	}
	s.sndNxt += toSend

	if !s.sampleValid {
		s.sampleValid = true
		s.sampleSeq = s.sndNxt - 1
		s.sampleSentAt = now
	}
	if !s.rtoPending {
		s.rtoPending = true
	}
	s.rtoDeadline = now.Add(s.rto.RTO())
}

// Poll drives retransmission timeouts, TimeWait expiry, and outstanding
// sends; net/stack calls it for every registered connection, once per run
// of the stack's single poll task (spec §4.7/§5). Reports task.Complete
// once the socket has reached Closed.
func (s *Socket) Poll(now time.Time) task.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return task.Complete
	}

	if s.state == TimeWait && !s.timeWaitDeadline.IsZero() && !now.Before(s.timeWaitDeadline) {
		s.state = Closed
		return task.Complete
	}

	if s.rtoPending && !now.Before(s.rtoDeadline) {
		s.retransmitOldestLocked(now)
		s.rto.Backoff()
		s.cong.Timeout()
		s.rtoDeadline = now.Add(s.rto.RTO())
		if s.Metrics != nil {
			s.Metrics.TCPRetransmit.Inc()
		}
	}

	s.trySendLocked(now)

	return task.Pending
}
