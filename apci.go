package iec104

import (
	"errors"
)

const startByte = 0x68

/*
APCI (Application Protocol Control Information) is the fixed 6-byte
header of every CS104 APDU: start byte 0x68, the 8-bit APDU length,
and four control-field octets. The two low bits of CF1 select the
frame format (I/S/U); the remaining bits carry the 15-bit send and
receive sequence numbers or the U-frame function bits.

Kept from the teacher's apci.go (the Cf1..Cf4 struct and the
Cf1&0x1/Cf1&0x3 dispatch tests); the sequence-number extraction is
widened to uint16 before shifting, since N(S)/N(R) span both control
octets.
*/
type APCI struct {
	Cf1 byte
	Cf2 byte
	Cf3 byte
	Cf4 byte
}

// Parse dispatches the four control-field octets into an I-, S- or
// U-frame.
func (apci *APCI) Parse(data []byte) (Frame, error) {
	apci.Cf1 = data[0]
	apci.Cf2 = data[1]
	apci.Cf3 = data[2]
	apci.Cf4 = data[3]

	switch {
	case apci.Cf1&0x1 == FrameTypeI:
		return apci.parseIFrame(), nil
	case apci.Cf1&0x3 == FrameTypeS:
		return apci.parseSFrame(), nil
	case apci.Cf1&0x3 == FrameTypeU:
		return apci.parseUFrame(), nil
	default:
		return nil, errors.New("unknown frame type")
	}
}

// parseIFrame extracts N(S) = CF1>>1 | CF2<<7 and N(R) = CF3>>1 | CF4<<7,
// each a 15-bit LSB-first sequence number with bit 0 of the low octet
// reserved as the format flag.
func (apci *APCI) parseIFrame() *IFrame {
	send := uint16(apci.Cf1)>>1 | uint16(apci.Cf2)<<7
	recv := uint16(apci.Cf3)>>1 | uint16(apci.Cf4)<<7
	return &IFrame{
		SendSN: send,
		RecvSN: recv,
	}
}

func (apci *APCI) parseSFrame() *SFrame {
	recv := uint16(apci.Cf3)>>1 | uint16(apci.Cf4)<<7
	return &SFrame{
		RecvSN: recv,
	}
}

func (apci *APCI) parseUFrame() *UFrame {
	cmd := []byte{apci.Cf1, apci.Cf2, apci.Cf3, apci.Cf4}
	return &UFrame{
		Cmd: cmd,
	}
}

/*
FrameType is the transmission frame format, determined by the low bits
of the first control field: bit0=0 is an I-frame, 01 is an S-frame and
11 is a U-frame.
*/
type FrameType = byte

const (
	FrameTypeI FrameType = iota
	FrameTypeS
	FrameTypeU FrameType = iota + 1
)

// UFrameFunction is one of the six unnumbered control functions; at
// most one function bit may be set in any U-frame, per spec.md §4.7.
type UFrameFunction []byte

var (
	UFrameFunctionStartDTA UFrameFunction = []byte{0x07, 0x00, 0x00, 0x00} // STARTDT act
	UFrameFunctionStartDTC UFrameFunction = []byte{0x0B, 0x00, 0x00, 0x00} // STARTDT con
	UFrameFunctionStopDTA  UFrameFunction = []byte{0x13, 0x00, 0x00, 0x00} // STOPDT act
	UFrameFunctionStopDTC  UFrameFunction = []byte{0x23, 0x00, 0x00, 0x00} // STOPDT con
	UFrameFunctionTestFA   UFrameFunction = []byte{0x43, 0x00, 0x00, 0x00} // TESTFR act
	UFrameFunctionTestFC   UFrameFunction = []byte{0x83, 0x00, 0x00, 0x00} // TESTFR con
)

type Frame interface {
	Type() FrameType
	Data() []byte
}

/*
IFrame (information transfer format) performs numbered information
transfer. An I-frame always carries an ASDU, so its APDU has variable
length. The sender stamps its own send sequence number N(S) and echoes
the highest received N(R); the peer holds sent APDUs in its k-buffer
until it sees its own N(S) come back as an N(R), which acknowledges
every frame up to and including that number. After TCP connect both
counters start at zero.
*/
type IFrame struct {
	APCI
	SendSN uint16
	RecvSN uint16
}

func (i *IFrame) Type() FrameType {
	return FrameTypeI
}

func (i *IFrame) Data() []byte {
	sBytes, rBytes := serializeLittleEndianUint16(i.SendSN<<1), serializeLittleEndianUint16(i.RecvSN<<1)
	return []byte{sBytes[0], sBytes[1], rBytes[0], rBytes[1]}
}

/*
SFrame (numbered supervisory format) acknowledges received I-frames
without carrying data: when traffic flows in a single direction only,
the receiver must emit an S-frame before timeout (t2) or window
overflow (w received frames), per spec.md §4.7.
*/
type SFrame struct {
	APCI
	RecvSN uint16
}

func (s *SFrame) Type() FrameType {
	return FrameTypeS
}

func (s *SFrame) Data() []byte {
	rBytes := serializeLittleEndianUint16(s.RecvSN << 1)
	return []byte{0x01, 0x00, rBytes[0], rBytes[1]}
}

/*
UFrame (unnumbered control format) carries the STARTDT/STOPDT/TESTFR
activation-confirmation handshakes. A fresh connection starts in the
stopped state: the controlled station sends nothing but U-frames and
confirmations until the controlling station activates data transfer
with STARTDT act. TESTFR act/con probes an idle connection in either
direction: connection.go answers every TESTFR act with a con, sends its
own TESTFR act each time t3 passes without received traffic, and closes
the connection at the third such t3 period in a row. No t1 deadline is
kept for the TESTFR con.
*/
type UFrame struct {
	APCI
	Cmd []byte
}

func (u *UFrame) Type() FrameType {
	return FrameTypeU
}

func (u *UFrame) Data() []byte {
	return u.Cmd
}
