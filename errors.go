package iec104

import "errors"

// Sentinel error taxonomy for the codec, queue and transport layers, per
// spec.md §7. The teacher only needed the two command-termination errors
// below; this extends errors.go with the rest of the taxonomy, kept in
// the same flat var-block style rather than a typed hierarchy.
var (
	// ErrASDUFull is returned by ASDU.AddInformationObject when adding
	// would exceed 127 elements or ALParams.MaxSizeOfASDU.
	ErrASDUFull = errors.New("iec104: asdu full")
	// ErrSequence is returned when a received I-frame's N(S) does not
	// match the receive count, when an N(R) acknowledges more I-frames
	// than are currently in flight, or when MessageQueue.MarkConfirmed is
	// given an entry id outside the queue's range.
	ErrSequence = errors.New("iec104: sequence number out of range")
	// ErrTimeout is returned by Master101.PollSingleSlave when the link
	// reset leaves the slave's channel unavailable. CS104 timer expiries
	// close the connection instead of returning an error.
	ErrTimeout = errors.New("iec104: timeout")
	// ErrQueueFull is returned when HighPrioQueue has no free entry for a
	// new ASDU, or when a payload is larger than the whole MessageQueue
	// arena.
	ErrQueueFull = errors.New("iec104: queue full")
	// ErrProtocolViolation covers input a layer cannot handle that is not
	// a simple encoding error: an oversized FT 1.2 variable frame, a
	// link-layer function code or direction the receiving link layer does
	// not handle, a request for an unregistered slave address, and a poll
	// on a CS101 master without an unbalanced link.
	ErrProtocolViolation = errors.New("iec104: protocol violation")
	// ErrTransportClosed is returned by any operation attempted after the
	// underlying connection (TCP socket or serial link) has been closed.
	ErrTransportClosed = errors.New("iec104: transport closed")
)

type errSingleCmdTerm struct{}

func (e errSingleCmdTerm) Error() string {
	return "termination of single command"
}

func IsErrSingleCmdTerm(err error) bool {
	_, ok := err.(errSingleCmdTerm)
	return ok
}

type errDoubleCmdTerm struct{}

func (e errDoubleCmdTerm) Error() string {
	return "termination of double command"
}

func IsErrDoubleCmdTerm(err error) bool {
	_, ok := err.(errDoubleCmdTerm)
	return ok
}
