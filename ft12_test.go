package iec104

import (
	"bytes"
	"testing"
)

func TestFT12VariableFrameWireFormat(t *testing.T) {
	// primary frame, address 3, USER_DATA_CONFIRMED, FCB+FCV set:
	// control octet 0x73, L = 1 + 1 + 7 = 9.
	ft, err := NewFT12Transceiver(1, 249)
	if err != nil {
		t.Fatal(err)
	}
	userData := []byte{0x68, 0x01, 0x06, 0x01, 0x01, 0x00, 0x14}
	frame, err := ft.EncodeVariable(controlOctet(true, true, true, FuncUserDataConfirmed), 3, userData)
	if err != nil {
		t.Fatal(err)
	}

	wantHead := []byte{0x68, 0x09, 0x09, 0x68, 0x73, 0x03}
	if !bytes.Equal(frame[:6], wantHead) {
		t.Fatalf("frame head = % x, want % x", frame[:6], wantHead)
	}
	var sum byte = 0x73 + 0x03
	for _, b := range userData {
		sum += b
	}
	if cs := frame[len(frame)-2]; cs != sum {
		t.Errorf("checksum = 0x%02x, want 0x%02x", cs, sum)
	}
	if end := frame[len(frame)-1]; end != 0x16 {
		t.Errorf("end byte = 0x%02x, want 0x16", end)
	}

	decoded, n, err := ft.Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(frame) {
		t.Errorf("consumed %d bytes, want %d", n, len(frame))
	}
	if decoded.Control != 0x73 || decoded.Address != 3 || !bytes.Equal(decoded.UserData, userData) {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestFT12FixedFrameRoundTrip(t *testing.T) {
	ft, err := NewFT12Transceiver(1, 249)
	if err != nil {
		t.Fatal(err)
	}
	control := controlOctet(true, false, false, FuncResetRemoteLink)
	frame, err := ft.EncodeFixed(control, 7)
	if err != nil {
		t.Fatal(err)
	}
	decoded, _, err := ft.Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Kind != ft12FixedStart || decoded.Control != control || decoded.Address != 7 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestFT12SingleChar(t *testing.T) {
	ft, _ := NewFT12Transceiver(1, 249)
	f, n, err := ft.Decode(ft.EncodeSingleChar(ft12SingleAck))
	if err != nil || n != 1 || !f.IsSingleChar() || f.Kind != ft12SingleAck {
		t.Errorf("single char decode: f=%+v n=%d err=%v", f, n, err)
	}
}

func TestFT12RejectsCorruption(t *testing.T) {
	ft, _ := NewFT12Transceiver(1, 249)
	frame, _ := ft.EncodeVariable(0x73, 3, []byte{0x01, 0x02})

	bad := append([]byte(nil), frame...)
	bad[len(bad)-2]++ // checksum
	if _, _, err := ft.Decode(bad); err == nil {
		t.Error("corrupted checksum accepted")
	}

	bad = append([]byte(nil), frame...)
	bad[2]++ // length repeat mismatch
	if _, _, err := ft.Decode(bad); err == nil {
		t.Error("length mismatch accepted")
	}

	bad = append([]byte(nil), frame...)
	bad[len(bad)-1] = 0x00 // end byte
	if _, _, err := ft.Decode(bad); err == nil {
		t.Error("missing end byte accepted")
	}

	if _, _, err := ft.Decode([]byte{0x42}); err == nil {
		t.Error("unknown start byte accepted")
	}
}

func TestFT12AddressWidths(t *testing.T) {
	// addrSize 0 transmits no address octets and forces the broadcast
	// address on encode.
	ft0, _ := NewFT12Transceiver(0, 249)
	if _, err := ft0.EncodeFixed(0x40, 3); err == nil {
		t.Error("addrSize 0 accepted a station address")
	}
	frame, err := ft0.EncodeFixed(0x40, GlobalLinkAddress)
	if err != nil {
		t.Fatal(err)
	}
	f, _, err := ft0.Decode(frame)
	if err != nil || f.Address != GlobalLinkAddress {
		t.Errorf("addrSize 0 decode: %+v err=%v", f, err)
	}

	ft2, _ := NewFT12Transceiver(2, 249)
	frame, err = ft2.EncodeFixed(0x40, 0x1234)
	if err != nil {
		t.Fatal(err)
	}
	f, _, err = ft2.Decode(frame)
	if err != nil || f.Address != 0x1234 {
		t.Errorf("addrSize 2 decode: %+v err=%v", f, err)
	}
}
