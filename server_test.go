package iec104

import (
	"net"
	"testing"
	"time"
)

// rawPeer drives one side of a CS104 connection byte-by-byte, standing
// in for a remote master the tests control frame-by-frame.
type rawPeer struct {
	t      *testing.T
	conn   net.Conn
	params *ALParams
}

func dialRaw(t *testing.T, addr string) *rawPeer {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &rawPeer{t: t, conn: conn, params: DefaultCS104Params()}
}

func (p *rawPeer) write(body []byte) {
	p.t.Helper()
	if _, err := p.conn.Write(wrapAPDU(body)); err != nil {
		p.t.Fatal(err)
	}
}

// readAPDU returns the next frame, or nil on timeout/EOF when
// allowClose is set.
func (p *rawPeer) readAPDU(timeout time.Duration, allowClose bool) *APDU {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(timeout))
	hdr := make([]byte, 2)
	if _, err := readFull(p.conn, hdr); err != nil {
		if allowClose {
			return nil
		}
		p.t.Fatalf("read header: %v", err)
	}
	if hdr[0] != startByte {
		p.t.Fatalf("unexpected start byte 0x%02x", hdr[0])
	}
	body := make([]byte, hdr[1])
	if _, err := readFull(p.conn, body); err != nil {
		p.t.Fatalf("read body: %v", err)
	}
	apdu, err := ParseAPDU(p.params, body)
	if err != nil {
		p.t.Fatalf("parse apdu: %v", err)
	}
	return apdu
}

func (p *rawPeer) startDT() {
	p.t.Helper()
	p.write((&UFrame{Cmd: UFrameFunctionStartDTA}).Data())
	for {
		apdu := p.readAPDU(2*time.Second, false)
		if u, ok := apdu.Frame.(*UFrame); ok && u.Cmd[0] == UFrameFunctionStartDTC[0] {
			return
		}
	}
}

func (p *rawPeer) sendI(ns, nr uint16, asdu *ASDU) {
	p.t.Helper()
	frame := &IFrame{SendSN: ns, RecvSN: nr}
	p.write(append(frame.Data(), asdu.Data()...))
}

func (p *rawPeer) sendS(nr uint16) {
	p.t.Helper()
	p.write((&SFrame{RecvSN: nr}).Data())
}

// readIFrames collects n I-frames, acking as it goes, skipping any
// interleaved S/U frames.
func (p *rawPeer) readIFrames(n int) []*APDU {
	p.t.Helper()
	var out []*APDU
	for len(out) < n {
		apdu := p.readAPDU(2*time.Second, false)
		if i, ok := apdu.Frame.(*IFrame); ok {
			out = append(out, apdu)
			p.sendS(i.SendSN + 1)
		}
	}
	return out
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", nil)
	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(server.Stop)
	return server
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClockSyncRoundTrip(t *testing.T) {
	server := startTestServer(t)

	received := make(chan CP56Time2a, 1)
	server.SetClockSyncHandler(func(mc *MasterConnection, asdu *ASDU, ct CP56Time2a) HandlerResult {
		if asdu.TypeID() != CCsNa1 || asdu.COT() != CotAct {
			t.Errorf("clock sync asdu: type=%s cot=%d", asdu.TypeID(), asdu.COT())
		}
		received <- ct
		return Handled
	})

	client := NewClient(server.Addr().String(), nil)
	actCon := make(chan *ASDU, 1)
	client.SetASDUHandler(func(asdu *ASDU) HandlerResult {
		if asdu.TypeID() == CCsNa1 && asdu.COT() == CotActCon {
			actCon <- asdu
		}
		return Handled
	})
	started := make(chan struct{}, 1)
	client.SetConnectionEventHandler(func(e ConnectionEvent) {
		if e == EventStartDtConReceived {
			started <- struct{}{}
		}
	})
	if err := client.Connect(); err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	client.SendStartDT()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("no STARTDT confirmation")
	}

	ts := time.Date(2023, time.January, 2, 3, 4, 5, 6e6, time.UTC)
	if err := client.SendClockSyncCommand(1, CP56Time2aFromTime(ts)); err != nil {
		t.Fatal(err)
	}

	select {
	case ct := <-received:
		want := CP56Time2a{0x8e, 0x13, 0x04, 0x03, 0x22, 0x01, 0x17}
		if ct != want {
			t.Errorf("received CP56Time2a = % x, want % x", ct[:], want[:])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server handler never saw the clock sync")
	}

	select {
	case <-actCon:
	case <-time.After(2 * time.Second):
		t.Fatal("no ACT_CON for the clock sync")
	}
}

func TestSequenceErrorClosesConnection(t *testing.T) {
	server := startTestServer(t)

	closed := make(chan struct{}, 1)
	server.SetConnectionEventHandler(func(mc *MasterConnection, e ConnectionEvent) {
		if e == EventClosed {
			closed <- struct{}{}
		}
	})

	peer := dialRaw(t, server.Addr().String())
	peer.startDT()

	asdu := NewASDU(peer.params, false, CotAct, 0, 1, false, false)
	if err := asdu.AddInformationObject(&InformationObject{Address: GlobalIOA, Element: InformationElement{TypeID: CIcNa1, InterrogationQualifier: 20}}); err != nil {
		t.Fatal(err)
	}
	// N(S)=1 while the server expects 0
	peer.sendI(1, 0, asdu)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("sequence error did not close the connection")
	}
	// the socket is gone: reads drain any final frames then hit EOF
	for peer.readAPDU(time.Second, true) != nil {
	}
}

func TestInterrogationResponseSequence(t *testing.T) {
	server := startTestServer(t)
	params := DefaultCS104Params()

	server.SetInterrogationHandler(func(mc *MasterConnection, asdu *ASDU, qoi byte) HandlerResult {
		if qoi != 20 {
			t.Errorf("qoi = %d, want 20", qoi)
		}
		data := NewASDU(params, false, CotInrogen, 0, 1, false, false)
		if err := data.AddInformationObject(&InformationObject{Address: 100, Element: InformationElement{TypeID: MSpNa1, Single: SpiOn}}); err != nil {
			t.Error(err)
			return Invalid
		}
		if err := mc.SendASDU(data); err != nil {
			t.Error(err)
			return Invalid
		}
		return Handled
	})

	peer := dialRaw(t, server.Addr().String())
	peer.startDT()

	req := NewASDU(peer.params, false, CotAct, 0, 1, false, false)
	if err := req.AddInformationObject(&InformationObject{Address: GlobalIOA, Element: InformationElement{TypeID: CIcNa1, InterrogationQualifier: 20}}); err != nil {
		t.Fatal(err)
	}
	peer.sendI(0, 0, req)

	frames := peer.readIFrames(3)
	wantCOT := []COT{CotActCon, CotInrogen, CotActTerm}
	for i, apdu := range frames {
		if apdu.ASDU.COT() != wantCOT[i] {
			t.Errorf("frame %d cot = %d, want %d", i, apdu.ASDU.COT(), wantCOT[i])
		}
	}
	if frames[0].ASDU.TypeID() != CIcNa1 || frames[0].ASDU.IsNegative() {
		t.Errorf("act_con = %s negative=%v", frames[0].ASDU.TypeID(), frames[0].ASDU.IsNegative())
	}
	if frames[1].ASDU.TypeID() != MSpNa1 {
		t.Errorf("data frame type = %s, want M_SP_NA_1", frames[1].ASDU.TypeID())
	}
}

func TestUnknownTypeIDReply(t *testing.T) {
	server := startTestServer(t)
	peer := dialRaw(t, server.Addr().String())
	peer.startDT()

	// C_TS_NA_1 is rejected unless AllowCSTSNA1 is configured
	req := NewASDU(peer.params, false, CotAct, 0, 1, false, false)
	if err := req.AddInformationObject(&InformationObject{Address: GlobalIOA, Element: InformationElement{TypeID: CTsNa1, TestPattern: 0x55aa}}); err != nil {
		t.Fatal(err)
	}
	peer.sendI(0, 0, req)

	frames := peer.readIFrames(1)
	reply := frames[0].ASDU
	if reply.TypeID() != CTsNa1 || reply.COT() != CotUnType || !reply.IsNegative() {
		t.Errorf("reply = %s cot=%d negative=%v, want unknown-type mirror", reply.TypeID(), reply.COT(), reply.IsNegative())
	}
}

func TestRedundancyFailover(t *testing.T) {
	server := startTestServer(t)
	params := DefaultCS104Params()

	// client A activates and receives the event but never acknowledges
	peerA := dialRaw(t, server.Addr().String())
	peerA.startDT()

	event := NewASDU(params, false, CotSpt, 0, 1, false, false)
	if err := event.AddInformationObject(&InformationObject{Address: 400, Element: InformationElement{TypeID: MSpNa1, Single: SpiOn}}); err != nil {
		t.Fatal(err)
	}
	if err := server.EnqueueASDU(event); err != nil {
		t.Fatal(err)
	}

	apdu := peerA.readAPDU(2*time.Second, false)
	iframe, ok := apdu.Frame.(*IFrame)
	if !ok || apdu.ASDU.TypeID() != MSpNa1 {
		t.Fatalf("peer A received %T %v", apdu.Frame, apdu.ASDU)
	}
	if iframe.SendSN != 0 {
		t.Fatalf("peer A first I-frame N(S) = %d", iframe.SendSN)
	}

	// A drops mid-transfer; the unacknowledged event must be requeued
	peerA.conn.Close()
	waitFor(t, "server to reap peer A", func() bool { return server.OpenConnections() == 0 })

	peerB := dialRaw(t, server.Addr().String())
	peerB.startDT()

	frames := peerB.readIFrames(1)
	got := frames[0].ASDU
	if got.TypeID() != MSpNa1 || got.COT() != CotSpt {
		t.Fatalf("peer B received %s cot=%d", got.TypeID(), got.COT())
	}
	elems, err := got.AllElements()
	if err != nil {
		t.Fatal(err)
	}
	if len(elems) != 1 || elems[0].Address != 400 {
		t.Fatalf("peer B payload = %+v", elems)
	}
}

func TestActiveConnectionExclusivity(t *testing.T) {
	server := startTestServer(t)

	peerA := dialRaw(t, server.Addr().String())
	peerA.startDT()
	waitFor(t, "peer A active", func() bool { return server.ActiveConnections() == 1 })

	peerB := dialRaw(t, server.Addr().String())
	peerB.startDT()

	// in a single redundancy group, B's STARTDT deactivates A
	waitFor(t, "single active peer", func() bool {
		return server.OpenConnections() == 2 && server.ActiveConnections() == 1
	})
}

func TestConnectionRequestHandlerRefusal(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	server.SetConnectionRequestHandler(func(ip string) bool { return false })
	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	defer server.Stop()

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("refused connection stayed open")
	}
}

func TestTransmitBufferBackpressure(t *testing.T) {
	// k = 1: the second command waits in the high-priority queue until
	// the first outstanding I-frame is acknowledged.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	type accepted struct{ peer *rawPeer }
	peerCh := make(chan accepted, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		p := &rawPeer{t: t, conn: conn, params: DefaultCS104Params()}
		// answer STARTDT, then leave flow control to the test body
		apdu := p.readAPDU(2*time.Second, false)
		if u, ok := apdu.Frame.(*UFrame); !ok || u.Cmd[0] != UFrameFunctionStartDTA[0] {
			t.Errorf("expected STARTDT act, got %+v", apdu.Frame)
		}
		p.write((&UFrame{Cmd: UFrameFunctionStartDTC}).Data())
		peerCh <- accepted{peer: p}
	}()

	client := NewClient(ln.Addr().String(), nil)
	client.SetAPCIParameters(&APCIParameters{K: 1, W: 1, T0: 10, T1: 15, T2: 10, T3: 20})
	started := make(chan struct{}, 1)
	client.SetConnectionEventHandler(func(e ConnectionEvent) {
		if e == EventStartDtConReceived {
			started <- struct{}{}
		}
	})
	if err := client.Connect(); err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	client.SendStartDT()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("no STARTDT confirmation")
	}
	slave := (<-peerCh).peer
	defer slave.conn.Close()

	if err := client.SendReadCommand(1, 100); err != nil {
		t.Fatal(err)
	}
	if err := client.SendReadCommand(1, 101); err != nil {
		t.Fatal(err)
	}

	first := slave.readAPDU(2*time.Second, false)
	if _, ok := first.Frame.(*IFrame); !ok {
		t.Fatalf("expected I-frame, got %T", first.Frame)
	}
	elems, err := first.ASDU.AllElements()
	if err != nil || len(elems) != 1 || elems[0].Address != 100 {
		t.Fatalf("first command = %+v err=%v", elems, err)
	}

	waitFor(t, "transmit buffer full", client.IsTransmitBufferFull)

	// no second I-frame until the first is acknowledged
	if apdu := slave.readAPDU(400*time.Millisecond, true); apdu != nil {
		t.Fatalf("second I-frame sent before ack: %+v", apdu.Frame)
	}

	slave.sendS(1)
	second := slave.readAPDU(2*time.Second, false)
	iframe, ok := second.Frame.(*IFrame)
	if !ok || iframe.SendSN != 1 {
		t.Fatalf("expected I-frame N(S)=1, got %+v", second.Frame)
	}
	elems, err = second.ASDU.AllElements()
	if err != nil || len(elems) != 1 || elems[0].Address != 101 {
		t.Fatalf("second command = %+v err=%v", elems, err)
	}
}
