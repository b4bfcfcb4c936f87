package tcp

import "time"

const (
	minRTO = 200 * time.Millisecond
	maxRTO = 60 * time.Second
	// initialRTO is used before the first RTT sample is taken.
	initialRTO = time.Second
)

// RTOEstimator computes the retransmission timeout from a smoothed RTT
// estimate using the standard Jacobson/Karels algorithm (spec §4.7),
// bounded below by minRTO and above by maxRTO.
type RTOEstimator struct {
	srtt        time.Duration
	rttvar      time.Duration
	rto         time.Duration
	initialized bool
}

// NewRTOEstimator builds an estimator with the conventional 1-second
// initial RTO used before any sample has been taken.
func NewRTOEstimator() *RTOEstimator {
	return &RTOEstimator{rto: initialRTO}
}

// Sample folds a new round-trip measurement into the estimate.
func (r *RTOEstimator) Sample(rtt time.Duration) {
	if rtt <= 0 {
		return
	}

	if !r.initialized {
		r.srtt = rtt
		r.rttvar = rtt / 2
		r.initialized = true
	} else {
		diff := r.srtt - rtt
		if diff < 0 {
			diff = -diff
		}
		r.rttvar += (diff - r.rttvar) / 4
		r.srtt += (rtt - r.srtt) / 8
	}

	r.rto = r.srtt + 4*r.rttvar
	r.clamp()
}

func (r *RTOEstimator) clamp() {
	if r.rto < minRTO {
		r.rto = minRTO
	}
	if r.rto > maxRTO {
		r.rto = maxRTO
	}
}

// RTO returns the current retransmission timeout.
func (r *RTOEstimator) RTO() time.Duration { return r.rto }

// Backoff doubles the current RTO, as required on every timer expiry
// (spec §4.7), bounded by maxRTO.
func (r *RTOEstimator) Backoff() {
	r.rto *= 2
	r.clamp()
}
