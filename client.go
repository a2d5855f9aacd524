package iec104

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

/*
Client is the CS104 master (controlling station) from spec.md §6: one
outbound TCP (or TLS) connection carrying the k/w sliding window from
connection.go. The teacher's original Client was a goroutine-pair
(writingToSocket/readingFromSocket) built directly against an
incomplete APCI codec; this keeps the teacher's dial/TLS/option-builder
shape (client_option.go) but delegates all framing, sequencing and
timer logic to the shared Connection type so the client and each
server-side MasterConnection run identical APCI state machines, per
spec.md §4.7.
*/
type Client struct {
	address     string
	tc          *tls.Config
	dialTimeout time.Duration
	reconnect   *AutoReconnectRule

	params *ALParams
	apci   *APCIParameters
	lowQ   *MessageQueue
	hiQ    *HighPrioQueue

	conn *Connection

	onASDU      ASDUHandler
	onConnEvent func(ConnectionEvent)
	lg          *logrus.Logger
}

// ConnectionEvent is the user-visible connection lifecycle stream from
// spec.md §7: "a ConnectionEvent stream delivers
// Opened | Closed | Failed | StartDtConReceived | StopDtConReceived".
type ConnectionEvent int

const (
	EventOpened ConnectionEvent = iota
	EventClosed
	EventFailed
	EventStartDtConReceived
	EventStopDtConReceived
)

func (e ConnectionEvent) String() string {
	switch e {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventFailed:
		return "failed"
	case EventStartDtConReceived:
		return "startdt_con_received"
	case EventStopDtConReceived:
		return "stopdt_con_received"
	default:
		return "unknown"
	}
}

// NewClient builds a CS104 master with the conventional default CS104
// ALParams/APCIParameters (see params.go). Use the setters below, or
// NewClientFromOption, to override queue sizes, TLS or timers before
// Connect.
func NewClient(address string, tc *tls.Config) *Client {
	return &Client{
		address:     address,
		tc:          tc,
		dialTimeout: DefaultConnectTimeout,
		params:      DefaultCS104Params(),
		apci:        DefaultAPCIParameters(),
		lowQ:        NewMessageQueue(16*1024, 1000),
		hiQ:         NewHighPrioQueue(100),
		lg:          _lg,
	}
}

// NewClientFromOption builds a master from a ClientOption builder.
func NewClientFromOption(o *ClientOption) *Client {
	c := NewClient(o.server.Host, o.tc)
	c.dialTimeout = o.connectTimeout
	c.reconnect = o.autoReconnectRule
	c.params = o.params
	c.apci = o.apci
	return c
}

func (c *Client) SetAPCIParameters(apci *APCIParameters)            { c.apci = apci }
func (c *Client) SetALParams(p *ALParams)                           { c.params = p }
func (c *Client) SetConnectionEventHandler(h func(ConnectionEvent)) { c.onConnEvent = h }
func (c *Client) SetASDUHandler(h ASDUHandler)                      { c.onASDU = h }

func (c *Client) notify(e ConnectionEvent) {
	if c.onConnEvent != nil {
		c.onConnEvent(e)
	}
}

// Connect dials the server (within t0), starts the Connection's
// read/write/timer loops -- STARTDT is sent separately via SendStartDT,
// matching spec.md §6's public-surface split between connect and
// send_start_dt.
func (c *Client) Connect() error {
	dialer := &net.Dialer{Timeout: c.dialTimeout}
	var conn net.Conn
	var err error
	if c.tc != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", c.address, c.tc)
	} else {
		conn, err = dialer.Dial("tcp", c.address)
	}
	if err != nil {
		c.notify(EventFailed)
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tuneKeepalive(tcpConn)
	}

	c.conn = NewConnection(conn, c.params, c.apci, c.lowQ, c.hiQ, false)
	c.conn.SetASDUHandler(c.onASDU)
	c.conn.SetStateChangeHandler(func(old, new ConnState) {
		switch new {
		case ConnActive:
			if old == ConnWaitingStartDTCon {
				c.notify(EventStartDtConReceived)
			}
		case ConnStopped:
			if old == ConnUnconfirmedStopped || old == ConnWaitingStopDTCon {
				c.notify(EventStopDtConReceived)
			}
		}
	})
	c.conn.SetClosedHandler(func() { c.notify(EventClosed) })
	c.conn.Start()
	c.notify(EventOpened)
	return nil
}

// ConnectAsync mirrors Connect but runs the dial in a goroutine,
// reporting completion through the ConnectionEvent handler instead of
// a blocking return, per spec.md §6's connect_async. When an
// AutoReconnectRule is configured it also drives the redial attempts.
func (c *Client) ConnectAsync() {
	go func() {
		err := c.Connect()
		if err == nil || c.reconnect == nil {
			if err != nil {
				c.lg.Errorf("iec104: connect_async: %v", err)
			}
			return
		}
		for attempt := 0; attempt < c.reconnect.retries; attempt++ {
			time.Sleep(c.reconnect.interval)
			if err = c.Connect(); err == nil {
				return
			}
			c.lg.Errorf("iec104: reconnect %d/%d: %v", attempt+1, c.reconnect.retries, err)
		}
	}()
}

// SendStartDT requests the active (data-transfer) state, per spec.md §6.
func (c *Client) SendStartDT() { c.conn.StartDataTransfer() }

// SendStopDT requests the stopped state, per spec.md §6.
func (c *Client) SendStopDT() { c.conn.StopDataTransfer() }

func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.State() != ConnStopped && c.conn.State() != ConnIdle
}

// IsTransmitBufferFull reports whether the k-buffer has no room for
// another I-frame, per spec.md §6.
func (c *Client) IsTransmitBufferFull() bool {
	return c.conn.IsTransmitBufferFull()
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// SendASDU submits an already-built ASDU for transmission through the
// low-priority queue, per spec.md §6.
func (c *Client) SendASDU(asdu *ASDU) error {
	return c.conn.Send(asdu.Data(), false)
}

func (c *Client) sendSystemCommand(asdu *ASDU) error {
	return c.conn.Send(asdu.Data(), true)
}

// SendInterrogationCommand builds and sends a C_IC_NA_1.
func (c *Client) SendInterrogationCommand(cot COT, ca COA, qoi byte) error {
	asdu := NewASDU(c.params, false, cot, 0, ca, false, false)
	if err := asdu.AddInformationObject(&InformationObject{Address: GlobalIOA, Element: InformationElement{TypeID: CIcNa1, InterrogationQualifier: qoi}}); err != nil {
		return err
	}
	return c.sendSystemCommand(asdu)
}

// SendCounterInterrogationCommand builds and sends a C_CI_NA_1.
func (c *Client) SendCounterInterrogationCommand(cot COT, ca COA, qcc byte) error {
	asdu := NewASDU(c.params, false, cot, 0, ca, false, false)
	if err := asdu.AddInformationObject(&InformationObject{Address: GlobalIOA, Element: InformationElement{TypeID: CCiNa1, CounterQualifier: qcc}}); err != nil {
		return err
	}
	return c.sendSystemCommand(asdu)
}

// SendReadCommand builds and sends a C_RD_NA_1 for the given IOA.
func (c *Client) SendReadCommand(ca COA, ioa IOA) error {
	asdu := NewASDU(c.params, false, CotReq, 0, ca, false, false)
	if err := asdu.AddInformationObject(&InformationObject{Address: ioa, Element: InformationElement{TypeID: CRdNa1}}); err != nil {
		return err
	}
	return c.sendSystemCommand(asdu)
}

// SendClockSyncCommand builds and sends a C_CS_NA_1 carrying cp56.
func (c *Client) SendClockSyncCommand(ca COA, cp56 CP56Time2a) error {
	asdu := NewASDU(c.params, false, CotAct, 0, ca, false, false)
	if err := asdu.AddInformationObject(&InformationObject{Address: GlobalIOA, Element: InformationElement{TypeID: CCsNa1, CP56: cp56, HasCP56: true}}); err != nil {
		return err
	}
	return c.sendSystemCommand(asdu)
}

// SendTestCommandWithTimestamp builds and sends a C_TS_TA_1 carrying
// the fixed bit pattern tsc and cp56, per spec.md §6's
// send_test_with_timestamp.
func (c *Client) SendTestCommandWithTimestamp(ca COA, tsc uint16, cp56 CP56Time2a) error {
	asdu := NewASDU(c.params, false, CotAct, 0, ca, false, false)
	if err := asdu.AddInformationObject(&InformationObject{Address: GlobalIOA, Element: InformationElement{TypeID: CTsTa1, TestPattern: tsc, CP56: cp56, HasCP56: true}}); err != nil {
		return err
	}
	return c.sendSystemCommand(asdu)
}

// SendProcessCommand submits a control-direction ASDU (single/double/
// regulating-step/set-point command) built by the caller, per spec.md
// §6's send_process_command.
func (c *Client) SendProcessCommand(cot COT, ca COA, io *InformationObject) error {
	asdu := NewASDU(c.params, false, cot, 0, ca, false, false)
	if err := asdu.AddInformationObject(io); err != nil {
		return err
	}
	return c.sendSystemCommand(asdu)
}
