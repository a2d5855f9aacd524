package iec104

import (
	"sync"
	"time"
)

/*
LinkLayerPrimaryUnbalanced is the CS101 master side of an unbalanced
link: one primary station polling one or more secondary stations
(slaves) in turn, per spec.md §4.5. Each slave gets its own FCB/FCV
toggle state and timeout-repeat counter, matching
original_source/lib60870-C's per-slave sLinkLayerPrimaryUnbalancedSlave
bookkeeping, adapted to a Go map keyed by slave address instead of a
linked list.

The function-code field carries RESET_REMOTE_LINK(0), USER_DATA_CONFIRMED(3),
USER_DATA_NO_REPLY(4), REQ_CLASS_1(10), REQ_CLASS_2(11), REQ_STATUS_LINK(9),
per spec.md §4.5.
*/

type primarySlaveState int

const (
	slaveIdle primarySlaveState = iota
	slaveRequestingLinkStatus
	slaveLinkAvailable
	slaveExecuteRequest
	slaveWaitForAck
	slaveError
)

type primarySlave struct {
	address       int
	state         primarySlaveState
	fcb           bool // next FCB to send
	pendingSince  time.Time
	timeoutCount  int
	linkState     LinkLayerState
}

// LinkLayerPrimaryUnbalanced drives the FT 1.2 transceiver and one or
// more primarySlave sub-state-machines. It does no I/O itself (serial
// port I/O is out of scope per spec.md §1): its methods return encoded
// frame bytes for the caller to write, and HandleFrame takes frames the
// caller has read and decoded. This type only performs frame encoding
// (via FT12Transceiver) and the link-layer protocol.
type LinkLayerPrimaryUnbalanced struct {
	mu      sync.Mutex
	params  *LinkLayerParams
	ft12    *FT12Transceiver
	slaves  map[int]*primarySlave
	handler LinkLayerStateChangeHandler

	// GetClass1Data/GetClass2Data return the next encoded ASDU for
	// class-1 (event/spontaneous) or class-2 (cyclic) data for the
	// given slave, or nil when there is nothing to send -- mirroring
	// IPrimaryApplicationLayer's UserData callback shape but pull-based
	// to match this module's queue-driven architecture (queue.go).
	GetClass1Data func(slaveAddress int) []byte
	GetClass2Data func(slaveAddress int) []byte

	// OnUserData delivers a decoded ASDU frame received from a slave's
	// response.
	OnUserData func(slaveAddress int, asduBytes []byte)
}

func NewLinkLayerPrimaryUnbalanced(params *LinkLayerParams, ft12 *FT12Transceiver) *LinkLayerPrimaryUnbalanced {
	return &LinkLayerPrimaryUnbalanced{
		params: params,
		ft12:   ft12,
		slaves: make(map[int]*primarySlave),
	}
}

func (l *LinkLayerPrimaryUnbalanced) SetStateChangeHandler(h LinkLayerStateChangeHandler) {
	l.handler = h
}

// AddSlaveConnection registers a slave address to poll, per
// LinkLayerPrimaryUnbalanced_addSlaveConnection in link_layer.h.
func (l *LinkLayerPrimaryUnbalanced) AddSlaveConnection(address int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slaves[address] = &primarySlave{address: address, state: slaveIdle, linkState: LinkLayerIdle}
}

func (l *LinkLayerPrimaryUnbalanced) setSlaveState(s *primarySlave, state LinkLayerState) {
	if s.linkState == state {
		return
	}
	s.linkState = state
	if l.handler != nil {
		l.handler(s.address, state)
	}
}

// IsChannelAvailable reports whether the slave's link has completed a
// RESET_REMOTE_LINK handshake and is ready for data requests.
func (l *LinkLayerPrimaryUnbalanced) IsChannelAvailable(address int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slaves[address]
	return ok && s.linkState == LinkLayerAvailable
}

// ResetCU sends RESET_REMOTE_LINK to the given slave, clearing its FCB
// and moving it to the link-available state once acknowledged (the ACK
// itself arrives through HandleFrame, called from the caller's read loop).
func (l *LinkLayerPrimaryUnbalanced) ResetCU(address int) ([]byte, error) {
	l.mu.Lock()
	s, ok := l.slaves[address]
	if !ok {
		l.mu.Unlock()
		return nil, ErrProtocolViolation
	}
	s.fcb = false
	s.state = slaveWaitForAck
	s.pendingSince = time.Now()
	l.mu.Unlock()
	return l.ft12.EncodeFixed(controlOctet(true, false, false, FuncResetRemoteLink), uint16(address))
}

// RequestClass1/2Data builds the REQ_CLASS_1/REQ_CLASS_2 poll frame for
// address, toggling FCB per the primary-station FCB discipline: the bit
// flips on every new confirmed-service request and stays fixed across
// retransmissions of the same request (spec.md §4.5).
func (l *LinkLayerPrimaryUnbalanced) requestClassData(address int, fn FunctionCode) ([]byte, error) {
	l.mu.Lock()
	s, ok := l.slaves[address]
	if !ok {
		l.mu.Unlock()
		return nil, ErrProtocolViolation
	}
	s.state = slaveWaitForAck
	s.pendingSince = time.Now()
	fcb := s.fcb
	l.mu.Unlock()
	return l.ft12.EncodeFixed(controlOctet(true, fcb, true, fn), uint16(address))
}

func (l *LinkLayerPrimaryUnbalanced) RequestClass1Data(address int) ([]byte, error) {
	return l.requestClassData(address, FuncReqUserData1)
}

func (l *LinkLayerPrimaryUnbalanced) RequestClass2Data(address int) ([]byte, error) {
	return l.requestClassData(address, FuncReqUserData2)
}

// SendConfirmed builds a USER_DATA_CONFIRMED variable frame expecting an
// ACK in reply, per spec.md §4.5.
func (l *LinkLayerPrimaryUnbalanced) SendConfirmed(address int, userData []byte) ([]byte, error) {
	l.mu.Lock()
	s, ok := l.slaves[address]
	if !ok {
		l.mu.Unlock()
		return nil, ErrProtocolViolation
	}
	s.state = slaveWaitForAck
	s.pendingSince = time.Now()
	fcb := s.fcb
	l.mu.Unlock()
	return l.ft12.EncodeVariable(controlOctet(true, fcb, true, FuncUserDataConfirmed), uint16(address), userData)
}

// SendNoReply builds a USER_DATA_NO_REPLY frame, which the secondary
// never acknowledges.
func (l *LinkLayerPrimaryUnbalanced) SendNoReply(address int, userData []byte) ([]byte, error) {
	return l.ft12.EncodeVariable(controlOctet(true, false, false, FuncUserDataNoReply), uint16(address), userData)
}

// HandleFrame processes one decoded frame received from a slave,
// advancing its sub-state-machine and FCB, and forwards any delivered
// user data to OnUserData.
func (l *LinkLayerPrimaryUnbalanced) HandleFrame(f *FT12Frame) {
	l.mu.Lock()
	var s *primarySlave
	if f.IsSingleChar() {
		// a single-character ACK carries no station address; unbalanced
		// polling keeps at most one request outstanding, so it belongs
		// to the slave currently awaiting its reply
		for _, cand := range l.slaves {
			if cand.state == slaveWaitForAck {
				s = cand
				break
			}
		}
	} else {
		s = l.slaves[int(f.Address)]
	}
	if s == nil {
		l.mu.Unlock()
		return
	}

	if f.IsSingleChar() {
		if f.Kind == ft12SingleAck {
			s.fcb = !s.fcb
			s.timeoutCount = 0
			s.state = slaveLinkAvailable
			l.setSlaveState(s, LinkLayerAvailable)
		} else {
			l.retryOrError(s)
		}
		l.mu.Unlock()
		return
	}

	_, _, _, fn := parseControlOctet(f.Control)
	switch fn {
	case FuncRespStatusLink:
		s.fcb = false
		s.timeoutCount = 0
		s.state = slaveLinkAvailable
		l.setSlaveState(s, LinkLayerAvailable)
	case FuncRespUserData:
		s.fcb = !s.fcb
		s.timeoutCount = 0
		s.state = slaveLinkAvailable
		l.setSlaveState(s, LinkLayerAvailable)
		if l.OnUserData != nil && len(f.UserData) > 0 {
			l.mu.Unlock()
			l.OnUserData(s.address, f.UserData)
			return
		}
	case FuncRespNack:
		s.timeoutCount = 0
		s.state = slaveLinkAvailable
		l.setSlaveState(s, LinkLayerAvailable)
	default:
		l.retryOrError(s)
	}
	l.mu.Unlock()
}

// retryOrError must be called with l.mu held. It increments the
// timeout-repeat counter and, once TimeoutRepeat consecutive failures
// have accumulated, moves the slave to LinkLayerError per spec.md §4.5:
// "On N consecutive timeouts (timeout_repeat retries), declare the
// slave ERROR."
func (l *LinkLayerPrimaryUnbalanced) retryOrError(s *primarySlave) {
	s.timeoutCount++
	if s.timeoutCount >= l.params.TimeoutRepeat {
		s.state = slaveError
		l.setSlaveState(s, LinkLayerError)
		return
	}
	s.state = slaveWaitForAck
	s.pendingSince = time.Now()
}

// CheckTimeouts scans every slave for an expired TimeoutForAck deadline,
// returning the addresses whose last request should be retransmitted
// (same FCB, per spec.md §4.5: "if an ACK is lost, retransmit with the
// same FCB").
func (l *LinkLayerPrimaryUnbalanced) CheckTimeouts(now time.Time) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var expired []int
	for _, s := range l.slaves {
		if s.state != slaveWaitForAck {
			continue
		}
		if now.Sub(s.pendingSince) >= l.params.TimeoutForAck {
			l.retryOrError(s)
			if s.state == slaveWaitForAck {
				expired = append(expired, s.address)
			}
		}
	}
	return expired
}
