package iec104

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

/*
Server in IEC 104 is also called the slave or controlled station: it
listens for master connections, binds each accepted peer to a
redundancy group per the configured ServerMode, enforces
active-connection exclusivity inside each group, and runs the default
slave-side ASDU dispatch (interrogation, clock sync, read, test,
unknown-* replies) from spec.md §4.8 and §7.

The listen/accept skeleton and the tls.Listen/net.Listen split are the
teacher's server.go; everything past the accept call is new, grounded
on original_source/lib60870-C/src/iec60870/cs104/cs104_slave.c
(CS104_Slave_create, handleConnectionsThreadless, the
CS104_ServerMode queue wiring and the sCS104_RedundancyGroup matcher).
*/
type Server struct {
	address string
	tc      *tls.Config

	cfg    *Config
	params *ALParams
	apci   *APCIParameters
	ca     COA // 0 accepts any common address

	mu       sync.Mutex
	listener net.Listener
	conns    []*MasterConnection
	groups   []*RedundancyGroup
	running  bool
	stop     chan struct{}

	connectionRequestHandler func(ip string) bool
	onConnEvent              func(*MasterConnection, ConnectionEvent)

	onInterrogation        func(*MasterConnection, *ASDU, byte) HandlerResult
	onCounterInterrogation func(*MasterConnection, *ASDU, byte) HandlerResult
	onRead                 func(*MasterConnection, *ASDU, IOA) HandlerResult
	onClockSync            func(*MasterConnection, *ASDU, CP56Time2a) HandlerResult
	onResetProcess         func(*MasterConnection, *ASDU, byte) HandlerResult
	onASDU                 func(*MasterConnection, *ASDU) HandlerResult

	lg *logrus.Logger
}

func NewServer(address string, tc *tls.Config) *Server {
	return &Server{
		address: address,
		tc:      tc,
		cfg:     NewConfig(),
		params:  DefaultCS104Params(),
		apci:    DefaultAPCIParameters(),
		stop:    make(chan struct{}),
		lg:      _lg,
	}
}

func (s *Server) SetConfig(cfg *Config)                  { s.cfg = cfg }
func (s *Server) SetALParams(p *ALParams)                { s.params = p }
func (s *Server) SetAPCIParameters(a *APCIParameters)    { s.apci = a }
func (s *Server) SetServerMode(m ServerMode)             { s.cfg.ServerMode = m }
func (s *Server) SetCommonAddress(ca COA)                { s.ca = ca }
func (s *Server) SetConnectionRequestHandler(h func(ip string) bool) {
	s.connectionRequestHandler = h
}
func (s *Server) SetConnectionEventHandler(h func(*MasterConnection, ConnectionEvent)) {
	s.onConnEvent = h
}
func (s *Server) SetInterrogationHandler(h func(*MasterConnection, *ASDU, byte) HandlerResult) {
	s.onInterrogation = h
}
func (s *Server) SetCounterInterrogationHandler(h func(*MasterConnection, *ASDU, byte) HandlerResult) {
	s.onCounterInterrogation = h
}
func (s *Server) SetReadHandler(h func(*MasterConnection, *ASDU, IOA) HandlerResult) {
	s.onRead = h
}
func (s *Server) SetClockSyncHandler(h func(*MasterConnection, *ASDU, CP56Time2a) HandlerResult) {
	s.onClockSync = h
}
func (s *Server) SetResetProcessHandler(h func(*MasterConnection, *ASDU, byte) HandlerResult) {
	s.onResetProcess = h
}
func (s *Server) SetASDUHandler(h func(*MasterConnection, *ASDU) HandlerResult) {
	s.onASDU = h
}

// AddRedundancyGroup registers a group for ModeMultipleRedundancyGroups.
// A group whose allowed-client set stays empty is the catch-all.
func (s *Server) AddRedundancyGroup(g *RedundancyGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.initQueues(s.cfg)
	s.groups = append(s.groups, g)
}

// Start launches the accept loop in its own goroutine; Serve is the
// blocking form.
func (s *Server) Start() error {
	if err := s.listen(); err != nil {
		return err
	}
	go s.acceptLoop()
	return nil
}

func (s *Server) Serve() error {
	if err := s.listen(); err != nil {
		return err
	}
	s.acceptLoop()
	return nil
}

func (s *Server) listen() error {
	if s.tc != nil {
		listener, err := tls.Listen("tcp", s.address, s.tc)
		if err != nil {
			return err
		}
		s.lg.Debugf("IEC104 server serve at %s with security: %+v", s.address, s.tc)
		s.listener = listener
	} else {
		listener, err := net.Listen("tcp", s.address)
		if err != nil {
			return err
		}
		s.lg.Debugf("IEC104 server serve at %s no security", s.address)
		s.listener = listener
	}

	s.mu.Lock()
	s.running = true
	if s.cfg.ServerMode != ModeMultipleRedundancyGroups || len(s.groups) == 0 {
		// a default catch-all backs the single-group mode and serves as
		// a template for per-connection queues
		g := NewRedundancyGroup("")
		g.initQueues(s.cfg)
		s.groups = append([]*RedundancyGroup{g}, s.groups...)
	}
	s.mu.Unlock()
	return nil
}

// Addr reports the bound listen address, useful when the configured
// address carried port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	conns := append([]*MasterConnection(nil), s.conns...)
	s.mu.Unlock()

	s.listener.Close()
	for _, mc := range conns {
		mc.Close()
	}
}

func (s *Server) acceptLoop() {
	defer s.listener.Close()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			s.lg.Errorf("iec104: accept: %v", err)
			return
		}
		s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	ip := peerIP(conn)
	s.lg.Debugf("serve connection from %s", conn.RemoteAddr())

	if s.connectionRequestHandler != nil && !s.connectionRequestHandler(ip) {
		s.lg.Infof("iec104: connection from %s refused by handler", ip)
		conn.Close()
		return
	}

	s.mu.Lock()
	if len(s.conns) >= s.cfg.MaxClientConnections {
		s.mu.Unlock()
		s.lg.Infof("iec104: connection from %s refused, %d slots in use", ip, s.cfg.MaxClientConnections)
		conn.Close()
		return
	}

	var group *RedundancyGroup
	var lowQ *MessageQueue
	var hiQ *HighPrioQueue
	switch s.cfg.ServerMode {
	case ModeConnectionIsRedundancyGroup:
		lowQ = s.cfg.newLowQueue()
		hiQ = s.cfg.newHighQueue()
	case ModeMultipleRedundancyGroups:
		group = selectGroup(s.groups, ip)
		if group == nil {
			s.mu.Unlock()
			s.lg.Infof("iec104: connection from %s matches no redundancy group", ip)
			conn.Close()
			return
		}
		lowQ, hiQ = group.lowQ, group.hiQ
	default:
		group = s.groups[0]
		lowQ, hiQ = group.lowQ, group.hiQ
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tuneKeepalive(tcpConn)
	}

	mc := &MasterConnection{
		server: s,
		group:  group,
		ip:     ip,
		lowQ:   lowQ,
	}
	mc.c = NewConnection(conn, s.params, s.apci, lowQ, hiQ, true)
	mc.c.SetASDUHandler(func(asdu *ASDU) HandlerResult { return s.dispatch(mc, asdu) })
	mc.c.SetStateChangeHandler(func(old, new ConnState) { s.onConnState(mc, old, new) })
	mc.c.SetClosedHandler(func() { s.onConnClosed(mc) })
	s.conns = append(s.conns, mc)
	s.mu.Unlock()

	mc.c.Start()
	s.notifyEvent(mc, EventOpened)
}

func peerIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func (s *Server) notifyEvent(mc *MasterConnection, e ConnectionEvent) {
	if s.onConnEvent != nil {
		s.onConnEvent(mc, e)
	}
}

// onConnState enforces the single-active rule: a peer entering the
// active state deactivates every other member of its redundancy group
// (STOPDT semantics imposed locally, per spec.md §4.8).
func (s *Server) onConnState(mc *MasterConnection, old, new ConnState) {
	if new != ConnActive {
		return
	}
	if s.cfg.ServerMode == ModeConnectionIsRedundancyGroup {
		return
	}
	s.mu.Lock()
	peers := append([]*MasterConnection(nil), s.conns...)
	s.mu.Unlock()
	for _, other := range peers {
		if other == mc || other.group != mc.group {
			continue
		}
		other.c.Deactivate()
	}
}

func (s *Server) onConnClosed(mc *MasterConnection) {
	s.mu.Lock()
	for i, c := range s.conns {
		if c == mc {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.notifyEvent(mc, EventClosed)
}

// EnqueueASDU submits a periodic/spontaneous event for delivery through
// the low-priority queue of every redundancy group (or of every
// connection in ModeConnectionIsRedundancyGroup), per spec.md §4.8.
func (s *Server) EnqueueASDU(asdu *ASDU) error {
	payload := asdu.Data()
	s.mu.Lock()
	groups := append([]*RedundancyGroup(nil), s.groups...)
	conns := append([]*MasterConnection(nil), s.conns...)
	mode := s.cfg.ServerMode
	s.mu.Unlock()

	var firstErr error
	if mode == ModeConnectionIsRedundancyGroup {
		for _, mc := range conns {
			if _, err := mc.lowQ.Enqueue(payload); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	} else {
		for _, g := range groups {
			if _, err := g.lowQ.Enqueue(payload); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, mc := range conns {
		mc.c.drainSendable()
	}
	return firstErr
}

// ActiveConnections counts peers currently in the active state.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, mc := range s.conns {
		if mc.c.State() == ConnActive {
			n++
		}
	}
	return n
}

func (s *Server) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

/*
MasterConnection is the server-side view of one accepted peer: the
shared APCI Connection plus its redundancy-group binding. It is the
handle passed to every server-side handler so command confirmations can
be addressed to the requesting master, mirroring lib60870-C's
IMasterConnection.
*/
type MasterConnection struct {
	server *Server
	group  *RedundancyGroup
	ip     string
	lowQ   *MessageQueue
	c      *Connection
}

func (mc *MasterConnection) RemoteIP() string     { return mc.ip }
func (mc *MasterConnection) State() ConnState     { return mc.c.State() }
func (mc *MasterConnection) IsActive() bool       { return mc.c.State() == ConnActive }
func (mc *MasterConnection) Close()               { mc.c.Close() }

// SendASDU queues a data ASDU behind any pending events (low
// priority); use SendActCon/SendActTerm for confirmations, which jump
// the event backlog.
func (mc *MasterConnection) SendASDU(asdu *ASDU) error {
	return mc.c.Send(asdu.Data(), false)
}

// SendActCon replies to an activation with ACTIVATION_CON, echoing the
// request payload, per spec.md §8's interrogation scenario.
func (mc *MasterConnection) SendActCon(asdu *ASDU, negative bool) error {
	return mc.c.Send(asdu.MirrorReply(CotActCon, negative).Data(), true)
}

// SendActTerm terminates an activation sequence with ACTIVATION_TERM.
// It travels the low-priority queue so it follows, not overtakes, the
// data ASDUs of the activation it closes.
func (mc *MasterConnection) SendActTerm(asdu *ASDU) error {
	return mc.c.Send(asdu.MirrorReply(CotActTerm, false).Data(), false)
}

func (mc *MasterConnection) sendUnknown(asdu *ASDU, cot COT) {
	if err := mc.c.Send(asdu.MirrorReply(cot, true).Data(), true); err != nil {
		_lg.Errorf("iec104: unknown-reply: %v", err)
	}
}

/*
dispatch is the default slave-side dispatcher from spec.md §7: system
commands are routed to their dedicated handlers; anything the
application does not handle is bounced back with the matching
UNKNOWN_* cause and the negative flag set.
*/
func (s *Server) dispatch(mc *MasterConnection, asdu *ASDU) HandlerResult {
	if _, supported := elementSize(asdu.TypeID()); !supported {
		mc.sendUnknown(asdu, CotUnType)
		return Invalid
	}
	if s.ca != 0 && asdu.CA() != s.ca && !isGlobalCA(s.params, asdu.CA()) {
		mc.sendUnknown(asdu, CotUnAsduAddr)
		return Invalid
	}

	switch asdu.TypeID() {
	case CIcNa1:
		return s.dispatchInterrogation(mc, asdu)
	case CCiNa1:
		return s.dispatchCounterInterrogation(mc, asdu)
	case CRdNa1:
		return s.dispatchRead(mc, asdu)
	case CCsNa1:
		return s.dispatchClockSync(mc, asdu)
	case CTsNa1:
		if !s.cfg.AllowCSTSNA1 {
			mc.sendUnknown(asdu, CotUnType)
			return Invalid
		}
		_ = mc.SendActCon(asdu, false)
		return Handled
	case CTsTa1, CCdNa1:
		if asdu.COT() != CotAct {
			mc.sendUnknown(asdu, CotUnCause)
			return Invalid
		}
		_ = mc.SendActCon(asdu, false)
		return Handled
	case CRpNa1:
		return s.dispatchResetProcess(mc, asdu)
	}

	if s.onASDU != nil {
		r := s.onASDU(mc, asdu)
		if r == NotHandled && asdu.COT() == CotAct {
			_ = mc.SendActCon(asdu, true)
		}
		return r
	}
	if asdu.COT() == CotAct {
		_ = mc.SendActCon(asdu, true)
	}
	return NotHandled
}

func (s *Server) dispatchInterrogation(mc *MasterConnection, asdu *ASDU) HandlerResult {
	if asdu.COT() != CotAct && asdu.COT() != CotDeact {
		mc.sendUnknown(asdu, CotUnCause)
		return Invalid
	}
	if s.onInterrogation == nil {
		_ = mc.SendActCon(asdu, true)
		return NotHandled
	}
	qoi := firstElementByte(asdu, func(ie *InformationElement) byte { return ie.InterrogationQualifier })
	r := s.onInterrogation(mc, asdu, qoi)
	switch r {
	case Handled:
		// ACT_CON rides the high-priority queue so it precedes the
		// interrogated data the handler enqueued; ACT_TERM rides the
		// low-priority queue so it follows that data.
		_ = mc.SendActCon(asdu, false)
		_ = mc.SendActTerm(asdu)
	case NotHandled:
		_ = mc.SendActCon(asdu, true)
	case Invalid:
		mc.sendUnknown(asdu, CotUnCause)
	}
	return r
}

func (s *Server) dispatchCounterInterrogation(mc *MasterConnection, asdu *ASDU) HandlerResult {
	if asdu.COT() != CotAct {
		mc.sendUnknown(asdu, CotUnCause)
		return Invalid
	}
	if s.onCounterInterrogation == nil {
		_ = mc.SendActCon(asdu, true)
		return NotHandled
	}
	qcc := firstElementByte(asdu, func(ie *InformationElement) byte { return ie.CounterQualifier })
	r := s.onCounterInterrogation(mc, asdu, qcc)
	switch r {
	case Handled:
		_ = mc.SendActCon(asdu, false)
		_ = mc.SendActTerm(asdu)
	case NotHandled:
		_ = mc.SendActCon(asdu, true)
	case Invalid:
		mc.sendUnknown(asdu, CotUnCause)
	}
	return r
}

func (s *Server) dispatchRead(mc *MasterConnection, asdu *ASDU) HandlerResult {
	if asdu.COT() != CotReq {
		mc.sendUnknown(asdu, CotUnCause)
		return Invalid
	}
	elems, err := asdu.AllElements()
	if err != nil || len(elems) == 0 {
		mc.sendUnknown(asdu, CotUnObjAddr)
		return Invalid
	}
	if s.onRead == nil {
		mc.sendUnknown(asdu, CotUnObjAddr)
		return NotHandled
	}
	r := s.onRead(mc, asdu, elems[0].Address)
	if r == NotHandled {
		mc.sendUnknown(asdu, CotUnObjAddr)
	}
	return r
}

func (s *Server) dispatchClockSync(mc *MasterConnection, asdu *ASDU) HandlerResult {
	if asdu.COT() != CotAct {
		mc.sendUnknown(asdu, CotUnCause)
		return Invalid
	}
	if s.onClockSync == nil {
		_ = mc.SendActCon(asdu, true)
		return NotHandled
	}
	var t CP56Time2a
	if elems, err := asdu.AllElements(); err == nil && len(elems) > 0 {
		t = elems[0].Element.CP56
	}
	r := s.onClockSync(mc, asdu, t)
	_ = mc.SendActCon(asdu, r != Handled)
	return r
}

func (s *Server) dispatchResetProcess(mc *MasterConnection, asdu *ASDU) HandlerResult {
	if asdu.COT() != CotAct {
		mc.sendUnknown(asdu, CotUnCause)
		return Invalid
	}
	if s.onResetProcess == nil {
		_ = mc.SendActCon(asdu, true)
		return NotHandled
	}
	qrp := firstElementByte(asdu, func(ie *InformationElement) byte { return ie.ResetQualifier })
	r := s.onResetProcess(mc, asdu, qrp)
	_ = mc.SendActCon(asdu, r != Handled)
	return r
}

func firstElementByte(asdu *ASDU, pick func(*InformationElement) byte) byte {
	elems, err := asdu.AllElements()
	if err != nil || len(elems) == 0 {
		return 0
	}
	return pick(&elems[0].Element)
}

func isGlobalCA(params *ALParams, ca COA) bool {
	if params.SizeOfCA == 1 {
		return ca == uint16(GlobalCA8)
	}
	return ca == uint16(GlobalCA16)
}
