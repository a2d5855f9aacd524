package iec104

import "time"

/*
LinkLayer (spec.md §4.5, component C5) is the CS101 link-layer state
machine family: one balanced/secondary-unbalanced peer, or a primary
unbalanced master polling many slaves. All three variants share the
function-code vocabulary and the IDLE/ERROR/BUSY/AVAILABLE state enum
below.

Grounded on original_source/lib60870-C's link_layer.h (the
IPrimaryApplicationLayer/ISecondaryApplicationLayer/IBalancedApplicationLayer
callback interfaces and function-code constants), rewritten in the
teacher's idiom: iota-style constant blocks (matching ConnState in
connection.go) and a plain Go func observer
(LinkLayerStateChangeHandler) instead of a C function pointer + void*
parameter pair.
*/

// FunctionCode is the 4-bit primary-to-secondary (or secondary-to-
// primary) function field of a CS101 control octet, per spec.md §4.5.
type FunctionCode byte

const (
	FuncResetRemoteLink     FunctionCode = 0
	FuncResetUserProcess    FunctionCode = 1
	FuncTestLinkFunction    FunctionCode = 2
	FuncUserDataConfirmed   FunctionCode = 3
	FuncUserDataNoReply     FunctionCode = 4
	FuncAccessDemand        FunctionCode = 8 // secondary -> primary, ACD bit equivalent in unbalanced polling
	FuncReqStatusOfLink     FunctionCode = 9
	FuncReqUserData1        FunctionCode = 10 // request class 1 data
	FuncReqUserData2        FunctionCode = 11 // request class 2 data

	// Secondary -> primary responses.
	FuncAck            FunctionCode = 0
	FuncNack           FunctionCode = 1
	FuncRespUserData   FunctionCode = 8
	FuncRespNack       FunctionCode = 9
	FuncRespStatusLink FunctionCode = 11
	FuncRespLinkNotFunc FunctionCode = 14
)

// LinkLayerState is the four-way state reported to a
// LinkLayerStateChangeHandler, per spec.md §4.5.
type LinkLayerState int

const (
	LinkLayerIdle LinkLayerState = iota
	LinkLayerError
	LinkLayerBusy
	LinkLayerAvailable
)

func (s LinkLayerState) String() string {
	switch s {
	case LinkLayerIdle:
		return "idle"
	case LinkLayerError:
		return "error"
	case LinkLayerBusy:
		return "busy"
	case LinkLayerAvailable:
		return "available"
	default:
		return "unknown"
	}
}

// LinkLayerStateChangeHandler is notified whenever a link layer (or, for
// LinkLayerPrimaryUnbalanced, one of its per-slave sub-state machines)
// changes state. The balanced variant always reports address 0; the
// secondary-unbalanced variant reports its own station address.
type LinkLayerStateChangeHandler func(address int, state LinkLayerState)

// controlOctet packs function code, FCB, FCV and the PRM (primary)
// direction bit, per spec.md §4.5/§4.4's FT 1.2 control field layout.
func controlOctet(prm bool, fcb bool, fcv bool, fn FunctionCode) byte {
	b := byte(fn) & 0x0f
	if fcv {
		b |= 0x10
		if fcb {
			b |= 0x20
		}
	}
	if prm {
		b |= 0x40
	}
	return b
}

func parseControlOctet(c byte) (prm, fcb, fcv bool, fn FunctionCode) {
	fn = FunctionCode(c & 0x0f)
	fcv = c&0x10 != 0
	fcb = c&0x20 != 0
	prm = c&0x40 != 0
	return
}

// LinkLayerParams controls the timing and retry behaviour shared by all
// link-layer variants, per spec.md §4.5 and the
// original_source/lib60870-C link_layer_parameters.h fields it is
// grounded on.
type LinkLayerParams struct {
	AddressLength    int // 0, 1 or 2 octets, per FT12Transceiver.AddrSize
	TimeoutForAck    time.Duration
	TimeoutRepeat    int // consecutive timeouts before declaring a slave in error
	UseSingleCharACK bool
	IdleTimeout      time.Duration
}

// DefaultLinkLayerParams mirrors lib60870-C's link_layer_parameters.h
// defaults: 1-byte address, 200ms ack timeout, 3 repeats, single-char
// ACK enabled, 30s idle timeout.
func DefaultLinkLayerParams() *LinkLayerParams {
	return &LinkLayerParams{
		AddressLength:    1,
		TimeoutForAck:    200 * time.Millisecond,
		TimeoutRepeat:    3,
		UseSingleCharACK: true,
		IdleTimeout:      30 * time.Second,
	}
}
