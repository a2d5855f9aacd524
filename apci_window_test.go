package iec104

import (
	"errors"
	"testing"
	"time"
)

func TestWindowBoundsOutstandingFrames(t *testing.T) {
	w := newAPCIWindow(3, 2)
	for i := 0; i < 3; i++ {
		if !w.canSend() {
			t.Fatalf("canSend() = false with %d outstanding, k=3", i)
		}
		w.submit(uint64(i))
	}
	if w.canSend() {
		t.Fatal("canSend() = true with k frames outstanding")
	}
	if w.outstanding() != 3 {
		t.Fatalf("outstanding() = %d, want 3", w.outstanding())
	}
}

func TestWindowAckConfirmsUpToN(t *testing.T) {
	w := newAPCIWindow(12, 8)
	for i := 0; i < 5; i++ {
		w.submit(uint64(100 + i))
	}

	confirmed, err := w.updateAckNoOut(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(confirmed) != 3 || confirmed[0] != 100 || confirmed[2] != 102 {
		t.Fatalf("confirmed = %v, want [100 101 102]", confirmed)
	}
	if w.outstanding() != 2 {
		t.Fatalf("outstanding() = %d after ack, want 2", w.outstanding())
	}

	// repeated ack of the same N(R) is a no-op, not an error
	confirmed, err = w.updateAckNoOut(3)
	if err != nil || confirmed != nil {
		t.Fatalf("duplicate ack: confirmed=%v err=%v", confirmed, err)
	}
}

func TestWindowRejectsAckBeyondWindow(t *testing.T) {
	w := newAPCIWindow(12, 8)
	w.submit(1)
	w.submit(2)

	if _, err := w.updateAckNoOut(7); !errors.Is(err, ErrSequence) {
		t.Fatalf("ack beyond seqNoOut: err = %v, want ErrSequence", err)
	}
}

func TestWindowSequenceNumberWraparound(t *testing.T) {
	w := newAPCIWindow(12, 8)
	w.seqNoOut, w.ackNoOut = 32766, 32766

	first, _ := w.submit(1)
	second, _ := w.submit(2)
	third, _ := w.submit(3)
	if first != 32766 || second != 32767 || third != 0 {
		t.Fatalf("wrap sequence = %d %d %d", first, second, third)
	}

	confirmed, err := w.updateAckNoOut(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(confirmed) != 2 {
		t.Fatalf("confirmed %d entries across the wrap, want 2", len(confirmed))
	}
	if w.outstanding() != 1 {
		t.Fatalf("outstanding() = %d, want 1", w.outstanding())
	}
}

func TestWindowRejectsUnexpectedIncomingSeq(t *testing.T) {
	w := newAPCIWindow(12, 8)
	if err := w.acceptIFrame(0); err != nil {
		t.Fatal(err)
	}
	if err := w.acceptIFrame(2); !errors.Is(err, ErrSequence) {
		t.Fatalf("out-of-order N(S): err = %v, want ErrSequence", err)
	}
}

func TestWindowAckThreshold(t *testing.T) {
	w := newAPCIWindow(12, 3)
	for i := uint16(0); i < 2; i++ {
		if err := w.acceptIFrame(i); err != nil {
			t.Fatal(err)
		}
		if w.needsAck() {
			t.Fatalf("needsAck() = true after %d frames, w=3", i+1)
		}
	}
	if err := w.acceptIFrame(2); err != nil {
		t.Fatal(err)
	}
	if !w.needsAck() {
		t.Fatal("needsAck() = false after w received frames")
	}

	w.ack()
	if w.needsAck() || w.hasUnackedRecv() {
		t.Fatal("ack() did not clear the pending receive count")
	}
}

func TestWindowExpiredSlots(t *testing.T) {
	w := newAPCIWindow(12, 8)
	w.submit(7)
	w.pending[0].sent = time.Now().Add(-20 * time.Second)

	expired := w.expiredSlots(15*time.Second, time.Now())
	if len(expired) != 1 || expired[0] != 7 {
		t.Fatalf("expiredSlots() = %v, want [7]", expired)
	}

	// a slot stamped in the future (wall clock jump) is clamped, not
	// reported expired
	w.pending[0].sent = time.Now().Add(time.Hour)
	if expired := w.expiredSlots(15*time.Second, time.Now()); len(expired) != 0 {
		t.Fatalf("future-stamped slot reported expired: %v", expired)
	}
}
