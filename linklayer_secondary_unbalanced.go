package iec104

import (
	"sync"
	"time"
)

/*
LinkLayerSecondaryUnbalanced is the CS101 slave side of an unbalanced
link (one primary master polling potentially many secondaries, each on
its own address, sharing one physical medium), per spec.md §4.5.

It answers REQ_CLASS_1 with the oldest class-1 event (or RESP_NACK if
none), REQ_CLASS_2 with cyclic data (or a NACK), and RESET_REMOTE_LINK
by clearing both FCBs -- matching
original_source/lib60870-C/src/iec60870/cs101/cs101_slave.c's
unbalanced response dispatch, rewritten as direct method calls instead
of the C file's ISecondaryApplicationLayer callback struct.
*/

type LinkLayerSecondaryUnbalanced struct {
	mu     sync.Mutex
	params *LinkLayerParams
	ft12   *FT12Transceiver
	addr   int

	expectFCB   bool
	haveFCB     bool
	lastResp    []byte
	lastWasDupe bool

	lastActivity time.Time
	state        LinkLayerState
	handler      LinkLayerStateChangeHandler

	// GetClass1Data/GetClass2Data mirror
	// ISecondaryApplicationLayer.GetClass1Data/GetClass2Data: return the
	// next encoded ASDU, or nil when there is nothing queued.
	GetClass1Data func() []byte
	GetClass2Data func() []byte
	// OnUserData delivers a decoded ASDU carried by a
	// USER_DATA_CONFIRMED or USER_DATA_NO_REPLY request.
	OnUserData func(asduBytes []byte)
}

func NewLinkLayerSecondaryUnbalanced(params *LinkLayerParams, ft12 *FT12Transceiver, address int) *LinkLayerSecondaryUnbalanced {
	return &LinkLayerSecondaryUnbalanced{
		params:       params,
		ft12:         ft12,
		addr:         address,
		lastActivity: time.Now(),
		state:        LinkLayerIdle,
	}
}

func (l *LinkLayerSecondaryUnbalanced) SetStateChangeHandler(h LinkLayerStateChangeHandler) {
	l.handler = h
}

func (l *LinkLayerSecondaryUnbalanced) setState(s LinkLayerState) {
	if l.state == s {
		return
	}
	l.state = s
	if l.handler != nil {
		l.handler(l.addr, s)
	}
}

// HandleFrame processes one request addressed to this secondary,
// returning the response frame bytes to transmit (nil for
// USER_DATA_NO_REPLY, which is never acknowledged).
func (l *LinkLayerSecondaryUnbalanced) HandleFrame(f *FT12Frame) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if int(f.Address) != l.addr {
		return nil, nil
	}
	l.lastActivity = time.Now()
	l.setState(LinkLayerBusy)

	prm, fcb, fcv, fn := parseControlOctet(f.Control)
	if !prm {
		return nil, ErrProtocolViolation
	}

	switch fn {
	case FuncResetRemoteLink:
		l.haveFCB = false
		l.lastResp = nil
		l.setState(LinkLayerAvailable)
		return l.ft12.EncodeSingleChar(ft12SingleAck), nil

	case FuncUserDataConfirmed:
		if fcv && l.haveFCB && fcb != l.expectFCB {
			l.setState(LinkLayerAvailable)
			return l.lastResp, nil
		}
		l.expectFCB = !fcb
		l.haveFCB = true
		if l.OnUserData != nil && len(f.UserData) > 0 {
			l.mu.Unlock()
			l.OnUserData(f.UserData)
			l.mu.Lock()
		}
		resp := l.ft12.EncodeSingleChar(ft12SingleAck)
		l.lastResp = resp
		l.setState(LinkLayerAvailable)
		return resp, nil

	case FuncUserDataNoReply:
		if l.OnUserData != nil && len(f.UserData) > 0 {
			l.mu.Unlock()
			l.OnUserData(f.UserData)
			l.mu.Lock()
		}
		l.setState(LinkLayerAvailable)
		return nil, nil

	case FuncReqStatusOfLink:
		l.setState(LinkLayerAvailable)
		return l.ft12.EncodeFixed(controlOctet(false, false, false, FuncRespStatusLink), uint16(l.addr))

	case FuncReqUserData1:
		l.setState(LinkLayerAvailable)
		if l.GetClass1Data != nil {
			if data := l.GetClass1Data(); data != nil {
				return l.ft12.EncodeVariable(controlOctet(false, false, false, FuncRespUserData), uint16(l.addr), data)
			}
		}
		return l.ft12.EncodeFixed(controlOctet(false, false, false, FuncRespNack), uint16(l.addr))

	case FuncReqUserData2:
		l.setState(LinkLayerAvailable)
		if l.GetClass2Data != nil {
			if data := l.GetClass2Data(); data != nil {
				return l.ft12.EncodeVariable(controlOctet(false, false, false, FuncRespUserData), uint16(l.addr), data)
			}
		}
		return l.ft12.EncodeFixed(controlOctet(false, false, false, FuncRespNack), uint16(l.addr))

	default:
		return nil, ErrProtocolViolation
	}
}

// CheckIdleTimeout transitions to LinkLayerIdle when no link activity
// occurred within params.IdleTimeout, per spec.md §4.5.
func (l *LinkLayerSecondaryUnbalanced) CheckIdleTimeout(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkLayerIdle {
		return
	}
	if now.Sub(l.lastActivity) >= l.params.IdleTimeout {
		l.setState(LinkLayerIdle)
	}
}
