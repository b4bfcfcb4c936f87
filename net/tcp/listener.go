package tcp

import (
	"sync"
	"time"

	"github.com/nucleuskernel/nucleus/task"
)

// Listener owns the accept queue for a passively-opened port (spec §9:
// "the listener own[s] the accept queue" to break the socket/listener
// cycle by identifying connections through the queue rather than
// pointers back to the listener from an unbounded set of children).
type Listener struct {
	Port uint16

	tx      Transmitter
	mss     uint32
	sendCap int
	recvCap int

	mu          sync.Mutex
	acceptQueue []*Socket
	waker       *task.Waker
}

// NewListener builds a listener bound to port, passively open (spec
// §4.7's Closed -> Listen transition requires no segment exchange).
func NewListener(port uint16, tx Transmitter, w *task.Waker) *Listener {
	return &Listener{
		Port:    port,
		tx:      tx,
		mss:     DefaultMSS,
		sendCap: defaultSendCap,
		recvCap: defaultRecvCap,
		waker:   w,
	}
}

// SpawnChild handles an inbound SYN addressed to this listener: it creates
// a new socket in SynReceived, sends SYN+ACK, and returns it so the
// orchestration layer can register it for subsequent segment delivery
// (spec §4.7, Listen -> SynReceived).
func (l *Listener) SpawnChild(local, remote Endpoint, segSeq uint32, segMSS uint16, now time.Time, w *task.Waker) *Socket {
	s := newSocket(local, l.tx, l.mss, l.sendCap, l.recvCap, w)
	s.listener = l
	s.Remote = remote
	s.irs = segSeq
	s.rcvNxt = segSeq + 1
	s.iss = NewISN(now, local, remote)
	s.sndUna = s.iss
	s.sndNxt = s.iss + 1
	s.state = SynReceived

	if segMSS != 0 && uint32(segMSS) < s.mss {
		s.mss = uint32(segMSS)
	}

	s.sendSegmentLocked(now, Header{Flags: FlagSYN | FlagACK, Seq: s.iss, Ack: s.rcvNxt, Window: uint16(s.rcvWnd), MSS: uint16(s.mss)}, nil)

	return s
}

func (l *Listener) enqueue(s *Socket) {
	l.mu.Lock()
	l.acceptQueue = append(l.acceptQueue, s)
	l.mu.Unlock()

	if l.waker != nil {
		l.waker.Signal()
	}
}

// Accept pops the next fully-established connection, or reports false if
// none is ready (the caller, a polled task, suspends on false).
func (l *Listener) Accept() (*Socket, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.acceptQueue) == 0 {
		return nil, false
	}

	s := l.acceptQueue[0]
	l.acceptQueue = l.acceptQueue[1:]

	return s, true
}
