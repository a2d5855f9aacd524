package iec104

import (
	"testing"
)

func elementRoundTrip(t *testing.T, id TypeID, in InformationElement) InformationElement {
	t.Helper()
	in.TypeID = id
	entry, ok := ioTable[id]
	if !ok {
		t.Fatalf("%s missing from ioTable", id)
	}
	encoded := entry.encode(&in)
	if entry.elemLen >= 0 && len(encoded) != entry.elemLen {
		t.Fatalf("%s encoded %d bytes, table says %d", id, len(encoded), entry.elemLen)
	}
	out := InformationElement{TypeID: id}
	n, err := entry.decode(&out, encoded)
	if err != nil {
		t.Fatalf("%s decode: %v", id, err)
	}
	if n != len(encoded) {
		t.Fatalf("%s consumed %d of %d bytes", id, n, len(encoded))
	}
	return out
}

func TestStepPositionElement(t *testing.T) {
	for _, step := range []int8{-64, -1, 0, 63} {
		out := elementRoundTrip(t, MStNa1, InformationElement{StepPos: step, Transient: true, Quality: IV})
		if out.StepPos != step || !out.Transient || out.Quality != IV {
			t.Errorf("step %d: decoded %+v", step, out)
		}
	}
}

func TestMeasuredValueElements(t *testing.T) {
	out := elementRoundTrip(t, MMeNa1, InformationElement{Normalized: -12345, Quality: OV})
	if out.Normalized != -12345 || out.Quality != OV {
		t.Errorf("normalized: %+v", out)
	}

	out = elementRoundTrip(t, MMeNb1, InformationElement{Scaled: 4095, Quality: BL})
	if out.Scaled != 4095 || out.Quality != BL {
		t.Errorf("scaled: %+v", out)
	}

	out = elementRoundTrip(t, MMeNc1, InformationElement{Float: -0.5, Quality: SB})
	if out.Float != -0.5 || out.Quality != SB {
		t.Errorf("short float: %+v", out)
	}

	out = elementRoundTrip(t, MMeNd1, InformationElement{Normalized: 32767})
	if out.Normalized != 32767 {
		t.Errorf("normalized without quality: %+v", out)
	}
}

func TestTimeTaggedElements(t *testing.T) {
	ct := newCP24Time2a(17, 12345, false)
	out := elementRoundTrip(t, MSpTa1, InformationElement{Single: SpiOn, CP24: ct, HasCP24: true})
	if out.Single != SpiOn || !out.HasCP24 || out.CP24 != ct {
		t.Errorf("single point with CP24: %+v", out)
	}

	cp56, err := parseCP56Time2a([]byte{0x8e, 0x13, 0x04, 0x03, 0x22, 0x01, 0x17})
	if err != nil {
		t.Fatal(err)
	}
	out = elementRoundTrip(t, MMeTf1, InformationElement{Float: 42.5, Quality: NT, CP56: cp56, HasCP56: true})
	if out.Float != 42.5 || !out.HasCP56 || out.CP56 != cp56 {
		t.Errorf("short float with CP56: %+v", out)
	}
}

func TestCounterElement(t *testing.T) {
	out := elementRoundTrip(t, MItNa1, InformationElement{Counter: 0xdeadbeef, CounterSeq: 0x1f})
	if out.Counter != 0xdeadbeef || out.CounterSeq != 0x1f {
		t.Errorf("counter: %+v", out)
	}
}

func TestCommandElements(t *testing.T) {
	// single command, select, qualifier 1, value on
	out := elementRoundTrip(t, CScNa1, InformationElement{Command: 0x85})
	if out.Command != 0x85 || !out.Select() || out.Qualifier() != 1 {
		t.Errorf("single command: %+v select=%v qu=%d", out, out.Select(), out.Qualifier())
	}

	out = elementRoundTrip(t, CSeNc1, InformationElement{Float: 50.0, SetPointQualifier: 0x80})
	if out.Float != 50.0 || out.SetPointQualifier != 0x80 {
		t.Errorf("set point: %+v", out)
	}
}

func TestSystemCommandElements(t *testing.T) {
	out := elementRoundTrip(t, CIcNa1, InformationElement{InterrogationQualifier: 20})
	if out.InterrogationQualifier != 20 {
		t.Errorf("qoi: %+v", out)
	}

	out = elementRoundTrip(t, CCiNa1, InformationElement{CounterQualifier: 0x45})
	if out.CounterQualifier != 0x45 {
		t.Errorf("qcc: %+v", out)
	}

	out = elementRoundTrip(t, CTsNa1, InformationElement{TestPattern: 0x55aa})
	if out.TestPattern != 0x55aa {
		t.Errorf("fbp: %+v", out)
	}

	out = elementRoundTrip(t, CRdNa1, InformationElement{})
	_ = out // read command carries nothing beyond the IOA
}

func TestProtectionEquipmentElement(t *testing.T) {
	ct := newCP24Time2a(5, 100, false)
	out := elementRoundTrip(t, MEpTb1, InformationElement{
		StartEvents:       0x1f,
		ProtectionQuality: 0x08,
		RelayDuration:     CP16Time2a(300),
		CP24:              ct,
		HasCP24:           true,
	})
	if out.StartEvents != 0x1f || out.ProtectionQuality != 0x08 || out.RelayDuration != 300 || out.CP24 != ct {
		t.Errorf("protection start events: %+v", out)
	}
}

func TestFileSegmentElement(t *testing.T) {
	seg := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	out := elementRoundTrip(t, FSgNa1, InformationElement{
		NameOfFile:    7,
		NameOfSection: 2,
		SegmentData:   seg,
	})
	if out.NameOfFile != 7 || out.NameOfSection != 2 || string(out.SegmentData) != string(seg) {
		t.Errorf("segment: %+v", out)
	}
	if out.LengthOfSegment != byte(len(seg)) {
		t.Errorf("segment length = %d, want %d", out.LengthOfSegment, len(seg))
	}
}

func TestElementSizeTable(t *testing.T) {
	// spot checks against the fixed sizes spec'd per type: M_ME_TE_1 is
	// 10 bytes after the IOA
	tests := []struct {
		id   TypeID
		want int
	}{
		{MSpNa1, 1},
		{MMeTe1, 10},
		{MMeTf1, 12},
		{CCsNa1, 7},
		{CTsTa1, 9},
		{FSgNa1, -1},
	}
	for _, tt := range tests {
		got, ok := elementSize(tt.id)
		if !ok || got != tt.want {
			t.Errorf("elementSize(%s) = (%d, %v), want %d", tt.id, got, ok, tt.want)
		}
	}
	if _, ok := elementSize(TypeID(99)); ok {
		t.Error("elementSize accepted an unassigned type id")
	}
}
