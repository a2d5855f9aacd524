package iec104

import (
	"bytes"
	"testing"
	"time"
)

func TestControlOctetRoundTrip(t *testing.T) {
	tests := []struct {
		prm, fcb, fcv bool
		fn            FunctionCode
	}{
		{true, true, true, FuncUserDataConfirmed},
		{true, false, true, FuncReqUserData1},
		{true, false, false, FuncResetRemoteLink},
		{false, false, false, FuncRespNack},
	}
	for _, tt := range tests {
		c := controlOctet(tt.prm, tt.fcb, tt.fcv, tt.fn)
		prm, fcb, fcv, fn := parseControlOctet(c)
		if prm != tt.prm || fcv != tt.fcv || fn != tt.fn {
			t.Errorf("0x%02x: prm=%v fcv=%v fn=%d", c, prm, fcv, fn)
		}
		if tt.fcv && fcb != tt.fcb {
			t.Errorf("0x%02x: fcb=%v, want %v", c, fcb, tt.fcb)
		}
	}
}

func newTestSecondary(t *testing.T) *LinkLayerSecondaryUnbalanced {
	t.Helper()
	ft12, err := NewFT12Transceiver(1, 249)
	if err != nil {
		t.Fatal(err)
	}
	return NewLinkLayerSecondaryUnbalanced(DefaultLinkLayerParams(), ft12, 3)
}

func requestFrame(t *testing.T, control byte, addr uint16) *FT12Frame {
	t.Helper()
	ft12, _ := NewFT12Transceiver(1, 249)
	raw, err := ft12.EncodeFixed(control, addr)
	if err != nil {
		t.Fatal(err)
	}
	f, _, err := ft12.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestSecondaryAnswersClassRequests(t *testing.T) {
	sec := newTestSecondary(t)
	event := []byte{0x01, 0x01, 0x03, 0x00, 0x01, 0x00, 0x64, 0x00, 0x00, 0x01}
	sec.GetClass1Data = func() []byte {
		data := event
		event = nil
		return data
	}

	// class 1 with data queued: variable frame carrying the event
	resp, err := sec.HandleFrame(requestFrame(t, controlOctet(true, false, true, FuncReqUserData1), 3))
	if err != nil {
		t.Fatal(err)
	}
	ft12, _ := NewFT12Transceiver(1, 249)
	decoded, _, err := ft12.Decode(resp)
	if err != nil {
		t.Fatal(err)
	}
	_, _, _, fn := parseControlOctet(decoded.Control)
	if fn != FuncRespUserData || !bytes.Equal(decoded.UserData, []byte{0x01, 0x01, 0x03, 0x00, 0x01, 0x00, 0x64, 0x00, 0x00, 0x01}) {
		t.Fatalf("class 1 response: fn=%d data=% x", fn, decoded.UserData)
	}

	// class 1 again, queue empty: RESP_NACK fixed frame
	resp, err = sec.HandleFrame(requestFrame(t, controlOctet(true, true, true, FuncReqUserData1), 3))
	if err != nil {
		t.Fatal(err)
	}
	decoded, _, err = ft12.Decode(resp)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, fn := parseControlOctet(decoded.Control); fn != FuncRespNack {
		t.Fatalf("empty class 1 response fn = %d, want RESP_NACK", fn)
	}

	// class 2 with no provider: RESP_NACK as well
	resp, err = sec.HandleFrame(requestFrame(t, controlOctet(true, false, true, FuncReqUserData2), 3))
	if err != nil {
		t.Fatal(err)
	}
	decoded, _, _ = ft12.Decode(resp)
	if _, _, _, fn := parseControlOctet(decoded.Control); fn != FuncRespNack {
		t.Fatalf("class 2 response fn = %d, want RESP_NACK", fn)
	}
}

func TestSecondaryIgnoresOtherAddresses(t *testing.T) {
	sec := newTestSecondary(t)
	resp, err := sec.HandleFrame(requestFrame(t, controlOctet(true, false, true, FuncReqUserData1), 9))
	if err != nil || resp != nil {
		t.Fatalf("frame for another station: resp=% x err=%v", resp, err)
	}
}

func TestSecondaryDeduplicatesRepeatedFCB(t *testing.T) {
	sec := newTestSecondary(t)
	var delivered int
	sec.OnUserData = func([]byte) { delivered++ }

	ft12, _ := NewFT12Transceiver(1, 249)
	raw, err := ft12.EncodeVariable(controlOctet(true, true, true, FuncUserDataConfirmed), 3, []byte{0x0a, 0x0b})
	if err != nil {
		t.Fatal(err)
	}
	f, _, err := ft12.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}

	first, err := sec.HandleFrame(f)
	if err != nil {
		t.Fatal(err)
	}
	// identical frame again (lost ACK, same FCB): the cached response is
	// retransmitted and the payload is NOT delivered twice
	second, err := sec.HandleFrame(f)
	if err != nil {
		t.Fatal(err)
	}
	if delivered != 1 {
		t.Fatalf("payload delivered %d times, want 1", delivered)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("dedup response % x differs from original % x", second, first)
	}
}

func TestSecondaryResetClearsFCBState(t *testing.T) {
	sec := newTestSecondary(t)
	var delivered int
	sec.OnUserData = func([]byte) { delivered++ }

	ft12, _ := NewFT12Transceiver(1, 249)
	raw, _ := ft12.EncodeVariable(controlOctet(true, true, true, FuncUserDataConfirmed), 3, []byte{0x01})
	f, _, _ := ft12.Decode(raw)

	if _, err := sec.HandleFrame(f); err != nil {
		t.Fatal(err)
	}
	if _, err := sec.HandleFrame(requestFrame(t, controlOctet(true, false, false, FuncResetRemoteLink), 3)); err != nil {
		t.Fatal(err)
	}
	// after RESET_REMOTE_LINK the same FCB is no longer a duplicate
	if _, err := sec.HandleFrame(f); err != nil {
		t.Fatal(err)
	}
	if delivered != 2 {
		t.Fatalf("payload delivered %d times, want 2", delivered)
	}
}

func TestSecondaryIdleTimeout(t *testing.T) {
	sec := newTestSecondary(t)
	var states []LinkLayerState
	sec.SetStateChangeHandler(func(addr int, s LinkLayerState) { states = append(states, s) })

	if _, err := sec.HandleFrame(requestFrame(t, controlOctet(true, false, false, FuncReqStatusOfLink), 3)); err != nil {
		t.Fatal(err)
	}
	sec.CheckIdleTimeout(time.Now().Add(time.Hour))

	if len(states) == 0 || states[len(states)-1] != LinkLayerIdle {
		t.Fatalf("states = %v, want trailing idle", states)
	}
}

func TestPrimaryUnbalancedErrorAfterRepeatedTimeouts(t *testing.T) {
	ft12, _ := NewFT12Transceiver(1, 249)
	params := DefaultLinkLayerParams()
	prim := NewLinkLayerPrimaryUnbalanced(params, ft12)
	var states []LinkLayerState
	prim.SetStateChangeHandler(func(addr int, s LinkLayerState) { states = append(states, s) })
	prim.AddSlaveConnection(5)

	if _, err := prim.RequestClass1Data(5); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(params.TimeoutForAck + time.Millisecond)
	for i := 0; i < params.TimeoutRepeat; i++ {
		prim.CheckTimeouts(deadline)
		deadline = deadline.Add(params.TimeoutForAck + time.Millisecond)
	}

	if len(states) == 0 || states[len(states)-1] != LinkLayerError {
		t.Fatalf("states = %v, want trailing error", states)
	}
	if prim.IsChannelAvailable(5) {
		t.Error("errored slave still reported available")
	}
}

func TestPrimaryUnbalancedFCBToggleOnAck(t *testing.T) {
	ft12, _ := NewFT12Transceiver(1, 249)
	prim := NewLinkLayerPrimaryUnbalanced(DefaultLinkLayerParams(), ft12)
	prim.AddSlaveConnection(5)

	frame1, err := prim.SendConfirmed(5, []byte{0x01})
	if err != nil {
		t.Fatal(err)
	}
	_, fcb1, _, _ := parseControlOctet(frame1[4])

	ack, _, err := ft12.Decode(ft12.EncodeSingleChar(ft12SingleAck))
	if err != nil {
		t.Fatal(err)
	}
	prim.HandleFrame(ack)

	frame2, err := prim.SendConfirmed(5, []byte{0x02})
	if err != nil {
		t.Fatal(err)
	}
	_, fcb2, _, _ := parseControlOctet(frame2[4])
	if fcb1 == fcb2 {
		t.Error("FCB did not toggle after a confirmed transmission")
	}
}
