package iec104

import (
	"sync"
	"time"
)

/*
LinkLayerBalanced implements the CS101 "balanced" transmission
procedure, per spec.md §4.5: both stations act as primary and secondary
simultaneously over the same point-to-point link. Each direction
maintains its own FCB; the receiver of a confirmed-service request
deduplicates retransmissions by comparing the received FCB against the
last one it accepted (FCV=1 and a repeated FCB means "resend the last
response instead of reprocessing").

Grounded on original_source/lib60870-C's LinkLayerBalanced_create/_run
(one struct playing both IPrimaryApplicationLayer and
IBalancedApplicationLayer roles over one transceiver), reshaped into
explicit SendX/HandleFrame methods instead of a run-loop callback
table, matching this module's synchronous, caller-driven I/O style
(connection.go's read/write loops).
*/

type LinkLayerBalanced struct {
	mu     sync.Mutex
	params *LinkLayerParams
	ft12   *FT12Transceiver
	addr   int
	other  int

	sendFCB bool // FCB for our own outbound confirmed requests
	sendFCV bool

	expectRecvFCB bool // FCB we expect on the next confirmed request *from* the peer
	haveRecvFCB   bool // false until the first confirmed request has been seen
	lastResponse  []byte

	state        LinkLayerState
	pendingSince time.Time
	waitingAck   bool
	timeoutCount int

	handler LinkLayerStateChangeHandler

	// GetUserData returns the next encoded ASDU to send as this
	// station's own confirmed-service payload, or nil when idle.
	GetUserData func() []byte
	// OnUserData delivers a decoded ASDU received from the peer.
	OnUserData func(asduBytes []byte)
}

func NewLinkLayerBalanced(params *LinkLayerParams, ft12 *FT12Transceiver, address, otherAddress int) *LinkLayerBalanced {
	return &LinkLayerBalanced{
		params: params,
		ft12:   ft12,
		addr:   address,
		other:  otherAddress,
		state:  LinkLayerIdle,
	}
}

func (l *LinkLayerBalanced) SetStateChangeHandler(h LinkLayerStateChangeHandler) { l.handler = h }

func (l *LinkLayerBalanced) setState(s LinkLayerState) {
	if l.state == s {
		return
	}
	l.state = s
	if l.handler != nil {
		l.handler(0, s)
	}
}

// SendResetRemoteLink builds RESET_REMOTE_LINK, clearing both FCBs, per
// spec.md §4.5 ("RESET_REMOTE_LINK clears both FCBs and empties
// transmit state").
func (l *LinkLayerBalanced) SendResetRemoteLink() ([]byte, error) {
	l.mu.Lock()
	l.sendFCB = false
	l.haveRecvFCB = false
	l.waitingAck = true
	l.pendingSince = time.Now()
	l.mu.Unlock()
	return l.ft12.EncodeFixed(controlOctet(true, false, false, FuncResetRemoteLink), uint16(l.other))
}

// SendUserData builds USER_DATA_CONFIRMED carrying userData, toggling
// our outbound FCB only once the prior request has been acknowledged
// (same FCB on retransmission).
func (l *LinkLayerBalanced) SendUserData(userData []byte) ([]byte, error) {
	l.mu.Lock()
	l.waitingAck = true
	l.pendingSince = time.Now()
	fcb := l.sendFCB
	l.mu.Unlock()
	return l.ft12.EncodeVariable(controlOctet(true, fcb, true, FuncUserDataConfirmed), uint16(l.other), userData)
}

// HandleFrame processes one frame received from the peer. When the
// frame carries the peer's own confirmed-service request (PRM=1,
// FuncUserDataConfirmed), it returns the reply bytes to send;
// ACK/NACK frames (PRM=0, responses to our own requests)
// update our send-side state and return nil.
func (l *LinkLayerBalanced) HandleFrame(f *FT12Frame) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f.IsSingleChar() {
		if f.Kind == ft12SingleAck {
			l.sendFCB = !l.sendFCB
			l.waitingAck = false
			l.timeoutCount = 0
			l.setState(LinkLayerAvailable)
		} else {
			l.retryOrError()
		}
		return nil, nil
	}

	prm, fcb, fcv, fn := parseControlOctet(f.Control)
	if !prm {
		// Response to our own outbound request.
		switch fn {
		case FuncRespStatusLink:
			l.sendFCB = false
			l.timeoutCount = 0
			l.setState(LinkLayerAvailable)
		case FuncRespUserData, FuncAck:
			l.sendFCB = !l.sendFCB
			l.waitingAck = false
			l.timeoutCount = 0
			l.setState(LinkLayerAvailable)
			if fn == FuncRespUserData && l.OnUserData != nil && len(f.UserData) > 0 {
				l.mu.Unlock()
				l.OnUserData(f.UserData)
				l.mu.Lock()
			}
		case FuncRespNack, FuncNack:
			l.timeoutCount = 0
			l.setState(LinkLayerAvailable)
		default:
			l.retryOrError()
		}
		return nil, nil
	}

	// A request from the peer, playing secondary.
	switch fn {
	case FuncResetRemoteLink:
		l.expectRecvFCB = false
		l.haveRecvFCB = false
		l.lastResponse = nil
		return l.ft12.EncodeSingleChar(ft12SingleAck), nil

	case FuncUserDataConfirmed:
		if fcv && l.haveRecvFCB && fcb != l.expectRecvFCB {
			// Duplicate of the last confirmed request: FCV=1 and the
			// received FCB repeats what we already processed, so
			// retransmit the cached response instead of reprocessing
			// (spec.md §4.5 FCB/FCV dedup rule).
			return l.lastResponse, nil
		}
		l.expectRecvFCB = !fcb
		l.haveRecvFCB = true
		if l.OnUserData != nil && len(f.UserData) > 0 {
			l.mu.Unlock()
			l.OnUserData(f.UserData)
			l.mu.Lock()
		}
		ack, err := l.ft12.EncodeSingleChar(ft12SingleAck), error(nil)
		l.lastResponse = ack
		return ack, err

	case FuncReqStatusOfLink:
		resp, err := l.ft12.EncodeFixed(controlOctet(false, false, false, FuncRespStatusLink), uint16(l.addr))
		return resp, err

	default:
		return nil, ErrProtocolViolation
	}
}

func (l *LinkLayerBalanced) retryOrError() {
	l.timeoutCount++
	if l.timeoutCount >= l.params.TimeoutRepeat {
		l.setState(LinkLayerError)
		l.waitingAck = false
		return
	}
	l.pendingSince = time.Now()
}

// CheckTimeout reports whether the outstanding confirmed request has
// exceeded TimeoutForAck and should be retransmitted with the same FCB.
func (l *LinkLayerBalanced) CheckTimeout(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.waitingAck {
		return false
	}
	if now.Sub(l.pendingSince) < l.params.TimeoutForAck {
		return false
	}
	l.retryOrError()
	return l.waitingAck
}
