package iec104

import "fmt"

/*
APDU (Application Protocol Data Unit) is one full CS104 frame: the
start byte and length prefix, the 4-byte APCI control field, and (for
I-frames only) an ASDU.

The teacher's original apdu.go referenced an `APCI.ApduLen` field that
apci.go never defines (it is commented out there) -- a genuine gap in
the teacher's incomplete implementation. This rewrite drops ApduLen
entirely: the length prefix is always derived from Data() at encode
time and consumed by the caller (Connection.readLoop in connection.go)
at decode time, so no redundant length field needs to be kept in sync.
*/
type APDU struct {
	Frame Frame
	ASDU  *ASDU
}

// ParseAPDU parses the 4 control-field bytes plus, for I-frames, the
// trailing ASDU. data must be exactly the bytes following the start
// byte and length prefix (i.e. as many bytes as the length prefix
// gives, as Connection.readLoop in connection.go reads them).
func ParseAPDU(params *ALParams, data []byte) (*APDU, error) {
	if len(data) < 4 {
		return nil, newInvalidEncoding(fmt.Sprintf("apdu: short control field, have %d want 4", len(data)))
	}
	apci := &APCI{}
	frame, err := apci.Parse(data[:4])
	if err != nil {
		return nil, err
	}

	out := &APDU{Frame: frame}
	if frame.Type() == FrameTypeI {
		asdu, err := ParseASDU(params, data[4:])
		if err != nil {
			return nil, err
		}
		out.ASDU = asdu
	}
	return out, nil
}

// Data encodes the full wire frame: start byte, 1-byte length, the 4
// control-field bytes, and the ASDU payload when present.
func (a *APDU) Data() []byte {
	body := a.Frame.Data()
	if a.ASDU != nil {
		body = append(body, a.ASDU.Data()...)
	}
	out := make([]byte, 0, 2+len(body))
	out = append(out, startByte, byte(len(body)))
	return append(out, body...)
}
