package iec104

import (
	"io"
	"time"
)

/*
Master101 is the CS101 master-side orchestration (spec.md §6's
"Master/Slave (101)" surface): it owns the FT12Transceiver, ALParams,
and either a LinkLayerBalanced (one peer) or a
LinkLayerPrimaryUnbalanced (many polled slaves). It keeps no outbound
queue: each request is encoded and written to the port when the
application calls it.

Grounded on original_source/lib60870-C's CS101_Master_create /
CS101_Master_pollSingleSlave / CS101_Master_isChannelReady, rewritten
against an injected io.ReadWriter (the out-of-scope serial driver, per
spec.md §1) instead of the C library's SerialPort abstraction, and
against the teacher's synchronous read/encode/write style (client.go)
rather than a background worker thread -- PollSingleSlave is the
threadless "tick" entry point named in spec.md §5 and SPEC_FULL.md §5
for CS101 masters.
*/
type Master101 struct {
	port   io.ReadWriter
	params *ALParams
	ll     *LinkLayerParams
	ft12   *FT12Transceiver

	balanced   *LinkLayerBalanced
	unbalanced *LinkLayerPrimaryUnbalanced

	onASDU ASDUHandler
}

// NewMaster101Balanced constructs a balanced-link CS101 master talking
// to exactly one peer station.
func NewMaster101Balanced(port io.ReadWriter, params *ALParams, ll *LinkLayerParams, ownAddr, peerAddr int) (*Master101, error) {
	ft12, err := NewFT12Transceiver(ll.AddressLength, params.MaxSizeOfASDU)
	if err != nil {
		return nil, err
	}
	m := &Master101{port: port, params: params, ll: ll, ft12: ft12}
	m.balanced = NewLinkLayerBalanced(ll, ft12, ownAddr, peerAddr)
	m.balanced.OnUserData = func(data []byte) { m.dispatch(data) }
	return m, nil
}

// NewMaster101Unbalanced constructs an unbalanced-link CS101 master
// that polls one or more slave addresses in turn.
func NewMaster101Unbalanced(port io.ReadWriter, params *ALParams, ll *LinkLayerParams) (*Master101, error) {
	ft12, err := NewFT12Transceiver(ll.AddressLength, params.MaxSizeOfASDU)
	if err != nil {
		return nil, err
	}
	m := &Master101{port: port, params: params, ll: ll, ft12: ft12}
	m.unbalanced = NewLinkLayerPrimaryUnbalanced(ll, ft12)
	m.unbalanced.OnUserData = func(addr int, data []byte) { m.dispatch(data) }
	return m, nil
}

func (m *Master101) SetASDUHandler(h ASDUHandler) { m.onASDU = h }

func (m *Master101) SetLinkLayerStateChanged(h LinkLayerStateChangeHandler) {
	if m.balanced != nil {
		m.balanced.SetStateChangeHandler(h)
	}
	if m.unbalanced != nil {
		m.unbalanced.SetStateChangeHandler(h)
	}
}

func (m *Master101) AddSlave(address int) {
	if m.unbalanced != nil {
		m.unbalanced.AddSlaveConnection(address)
	}
}

func (m *Master101) IsChannelReady(address int) bool {
	if m.unbalanced != nil {
		return m.unbalanced.IsChannelAvailable(address)
	}
	return m.balanced != nil && m.balanced.state == LinkLayerAvailable
}

func (m *Master101) dispatch(asduBytes []byte) {
	if m.onASDU == nil {
		return
	}
	asdu, err := ParseASDU(m.params, asduBytes)
	if err != nil {
		_lg.Errorf("cs101: master: parse asdu: %v", err)
		return
	}
	m.onASDU(asdu)
}

func (m *Master101) writeAndRead(frame []byte) (*FT12Frame, error) {
	if _, err := m.port.Write(frame); err != nil {
		return nil, err
	}
	return m.readFrame()
}

// readFrame blocks until one complete FT 1.2 frame has been read from
// the port, per spec.md §4.4's read_message contract. It reads one
// byte at a time to discover the frame shape/length without requiring
// the caller's io.ReadWriter to support peeking.
func (m *Master101) readFrame() (*FT12Frame, error) {
	head := make([]byte, 1)
	if _, err := io.ReadFull(m.port, head); err != nil {
		return nil, err
	}
	switch head[0] {
	case ft12SingleAck, ft12SingleNack:
		f, _, err := m.ft12.Decode(head)
		return f, err
	case ft12FixedStart:
		rest := make([]byte, 1+m.ll.AddressLength+2)
		if _, err := io.ReadFull(m.port, rest); err != nil {
			return nil, err
		}
		f, _, err := m.ft12.Decode(append(head, rest...))
		return f, err
	case ft12VariableStart:
		lenBuf := make([]byte, 3)
		if _, err := io.ReadFull(m.port, lenBuf); err != nil {
			return nil, err
		}
		size := int(lenBuf[0])
		body := make([]byte, size+2)
		if _, err := io.ReadFull(m.port, body); err != nil {
			return nil, err
		}
		full := append(append(head, lenBuf...), body...)
		f, _, err := m.ft12.Decode(full)
		return f, err
	default:
		return nil, newInvalidEncoding("cs101: master: unknown start byte")
	}
}

// PollSingleSlave drives one request/response exchange with address:
// RESET_REMOTE_LINK first (if the channel is not yet available), then
// REQ_CLASS_1, per spec.md §6's threadless master surface. It is the
// synchronous equivalent of CS101_Master_pollSingleSlave.
func (m *Master101) PollSingleSlave(address int) error {
	if m.unbalanced == nil {
		return ErrProtocolViolation
	}
	if !m.unbalanced.IsChannelAvailable(address) {
		frame, err := m.unbalanced.ResetCU(address)
		if err != nil {
			return err
		}
		resp, err := m.writeAndRead(frame)
		if err != nil {
			return err
		}
		m.unbalanced.HandleFrame(resp)
		if !m.unbalanced.IsChannelAvailable(address) {
			return ErrTimeout
		}
	}
	frame, err := m.unbalanced.RequestClass1Data(address)
	if err != nil {
		return err
	}
	resp, err := m.writeAndRead(frame)
	if err != nil {
		return err
	}
	m.unbalanced.HandleFrame(resp)
	return nil
}

// SendASDU transmits asdu as a USER_DATA_CONFIRMED (unbalanced: to the
// given slave address; balanced: to the configured peer).
func (m *Master101) SendASDU(address int, asdu *ASDU) error {
	body := asdu.Data()
	var frame []byte
	var err error
	if m.unbalanced != nil {
		frame, err = m.unbalanced.SendConfirmed(address, body)
	} else {
		frame, err = m.balanced.SendUserData(body)
	}
	if err != nil {
		return err
	}
	resp, err := m.writeAndRead(frame)
	if err != nil {
		return err
	}
	if m.unbalanced != nil {
		m.unbalanced.HandleFrame(resp)
	} else {
		out, err := m.balanced.HandleFrame(resp)
		if err != nil {
			return err
		}
		if out != nil {
			_, _ = m.port.Write(out)
		}
	}
	return nil
}

// SendInterrogationCommand builds and sends a C_IC_NA_1 with the given
// qualifier of interrogation, per spec.md §6.
func (m *Master101) SendInterrogationCommand(address int, cot COT, ca COA, qoi byte) error {
	asdu := NewASDU(m.params, false, cot, 0, ca, false, false)
	if err := asdu.AddInformationObject(&InformationObject{Address: GlobalIOA, Element: InformationElement{TypeID: CIcNa1, InterrogationQualifier: qoi}}); err != nil {
		return err
	}
	return m.SendASDU(address, asdu)
}

// CheckTimeouts should be called periodically by the caller's own
// ticking loop (there is no background goroutine here, matching
// spec.md §5's threadless CS101 master mode).
func (m *Master101) CheckTimeouts(now time.Time) {
	if m.unbalanced != nil {
		m.unbalanced.CheckTimeouts(now)
	}
	if m.balanced != nil {
		m.balanced.CheckTimeout(now)
	}
}
