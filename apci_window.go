package iec104

import "time"

/*
apciWindow tracks the CS104 k/w sliding-window sequence numbers from
spec.md §4.7: send_count/receive_count modulo 32768, the k-buffer of
outstanding I-frames, and the w-threshold for unsolicited S-frame acks.

Grounded on pascaldekloe-part5/session/tcp.go's tcp struct
(seqNoOut/seqNoIn/ackNoOut/ackNoIn fields, the `pending` ring and
`seqNoCount`/`updateAckNoOut` wraparound arithmetic), adapted from that
file's unbounded-array ring (`pending [1<<15]struct{...}`) to a
k-sized ring since spec.md bounds outstanding I-frames to k -- slots
beyond the window are never addressed, so the smaller ring is
equivalent and lighter, and carries an entryID handle into the
low-priority MessageQueue instead of a bare completion channel.
*/

const seqNoModulo = 1 << 15 // 32768, per spec.md §4.7

type pendingSlot struct {
	inUse   bool
	seqNo   uint16
	sent    time.Time
	entryID uint64
}

type apciWindow struct {
	k, w int

	seqNoOut uint16 // next outbound N(S)
	seqNoIn  uint16 // next expected inbound N(S)
	ackNoOut uint16 // outbound N(S) confirmed by the peer so far
	ackNoIn  uint16 // inbound N(S) we have acknowledged so far

	unackRecvSince time.Time // zero when nothing is pending ack-out

	pending []pendingSlot // ring of length k, indexed by seqNo % k
}

func newAPCIWindow(k, w int) *apciWindow {
	return &apciWindow{k: k, w: w, pending: make([]pendingSlot, k)}
}

// seqNoCount returns the modulo-32768 distance from ack to seq, per
// pascaldekloe-part5/session/tcp.go's seqNoCount.
func seqNoCount(ack, seq uint16) int {
	a, s := int(ack), int(seq)
	if a > s {
		s += seqNoModulo
	}
	return s - a
}

func incSeqNo(n uint16) uint16 { return (n + 1) % seqNoModulo }

// outstanding reports how many I-frames are sent but not yet acked.
func (w *apciWindow) outstanding() int { return seqNoCount(w.ackNoOut, w.seqNoOut) }

// canSend reports whether the k-buffer has room for one more I-frame.
func (w *apciWindow) canSend() bool { return w.outstanding() < w.k }

// Submit records a newly sent I-frame in its k-buffer slot, returning
// its N(S) and the current receive count to carry as N(R). Caller must
// have already checked canSend().
func (w *apciWindow) submit(entryID uint64) (sendSN, recvSN uint16) {
	sendSN = w.seqNoOut
	recvSN = w.seqNoIn
	slot := &w.pending[sendSN%uint16(w.k)]
	*slot = pendingSlot{inUse: true, seqNo: sendSN, sent: time.Now(), entryID: entryID}
	w.seqNoOut = incSeqNo(sendSN)
	w.ackNoIn = w.seqNoIn
	return sendSN, recvSN
}

/*
UpdateAckNoOut processes an incoming N(R), confirming every pending
I-frame up to and including it. Returns the entryIDs that were
confirmed (to release MessageQueue slots) and an error if n is outside
the valid [ackNoOut, seqNoOut] window -- which per spec.md §4.7 must
close the connection.

A repeat of the already-confirmed N(R) (n == ackNoOut) is a no-op, not
an error, per the "latest-valid-seq" Open Question decision in
DESIGN.md -- matching updateAckNoOut's `n == last` short-circuit.
*/
func (w *apciWindow) updateAckNoOut(n uint16) ([]uint64, error) {
	if n == w.ackNoOut {
		return nil, nil
	}
	if seqNoCount(w.ackNoOut, w.seqNoOut) < seqNoCount(n, w.seqNoOut) {
		return nil, ErrSequence
	}

	var confirmed []uint64
	cur := w.ackNoOut
	for cur != n {
		slot := &w.pending[cur%uint16(w.k)]
		if slot.inUse && slot.seqNo == cur {
			confirmed = append(confirmed, slot.entryID)
			slot.inUse = false
		}
		cur = incSeqNo(cur)
	}
	w.ackNoOut = n
	return confirmed, nil
}

// AcceptIFrame validates an incoming I-frame's N(S), advancing
// receive_count on success. Returns ErrSequence when N(S) does not
// match the expected receive_count, per spec.md §4.7.
func (w *apciWindow) acceptIFrame(sendSN uint16) error {
	if sendSN != w.seqNoIn {
		return ErrSequence
	}
	if w.ackNoIn == w.seqNoIn {
		w.unackRecvSince = time.Now()
	}
	w.seqNoIn = incSeqNo(w.seqNoIn)
	return nil
}

// needsAck reports whether w received I-frames without acking have
// accumulated to the w threshold, per spec.md §4.7.
func (w *apciWindow) needsAck() bool {
	return seqNoCount(w.ackNoIn, w.seqNoIn) >= w.w
}

// ack marks every received I-frame up to receive_count as acked and
// clears the delayed-ack (t2) deadline.
func (w *apciWindow) ack() {
	w.ackNoIn = w.seqNoIn
	w.unackRecvSince = time.Time{}
}

// hasUnackedRecv reports whether t2 should be running.
func (w *apciWindow) hasUnackedRecv() bool { return w.ackNoIn != w.seqNoIn }

// expiredSlots returns the entryIDs of I-frames sent more than
// deadline ago and still unconfirmed -- a t1 timeout per spec.md §4.7.
func (w *apciWindow) expiredSlots(deadline time.Duration, now time.Time) []uint64 {
	var expired []uint64
	for i := range w.pending {
		s := &w.pending[i]
		if !s.inUse {
			continue
		}
		sent := s.sent
		// clamp implausible future timestamps (wall-clock jump) back to
		// now, per spec.md §4.7's monotonic-clock defense.
		if sent.After(now) {
			sent = now
		}
		if now.Sub(sent) >= deadline {
			expired = append(expired, s.entryID)
		}
	}
	return expired
}

// reset clears all sequence-number and pending-slot state, used when a
// connection transitions back to idle/stopped (STOPDT confirmed, or a
// hard close) and is about to be reused or retired.
func (w *apciWindow) reset() {
	w.seqNoOut, w.seqNoIn, w.ackNoOut, w.ackNoIn = 0, 0, 0, 0
	w.unackRecvSince = time.Time{}
	for i := range w.pending {
		w.pending[i] = pendingSlot{}
	}
}
