package iec104

import (
	"io"
	"time"
)

/*
Slave101 is the CS101 slave-side orchestration (spec.md §6's
"Master/Slave (101)" surface, secondary role): owns a
LinkLayerSecondaryUnbalanced (or LinkLayerBalanced played as secondary)
plus two application queues -- class-1 (event/spontaneous, urgent) and
class-2 (cyclic) -- matching
original_source/lib60870-C/src/iec60870/cs101/cs101_slave.c's
class1Queue/class2Queue pair.

Grounded on CS101_Slave_enqueueUserDataClass1/2,
CS101_Slave_isClass1QueueFull/2 and the handler-setter family
(CS101_Slave_setInterrogationHandler etc.), rewritten against this
module's HighPrioQueue (class 1: urgent, bounded, drop-on-overflow) and
MessageQueue (class 2: cyclic, evict-oldest) instead of distinct queue
implementations, since both already model spec.md §4.6's two
queue-discipline styles.
*/
type Slave101 struct {
	port   io.ReadWriter
	params *ALParams

	secondary *LinkLayerSecondaryUnbalanced
	class1    *HighPrioQueue
	class2    *MessageQueue

	onASDU            ASDUHandler
	onInterrogation   func(asdu *ASDU, qoi byte) HandlerResult
	onCounterInterrog func(asdu *ASDU, qcc byte) HandlerResult
	onClockSync       func(asdu *ASDU, t CP56Time2a) HandlerResult
}

func NewSlave101(port io.ReadWriter, params *ALParams, ll *LinkLayerParams, address int, class1Cap int, class2Cap, class2ArenaBytes int) (*Slave101, error) {
	ft12, err := NewFT12Transceiver(ll.AddressLength, params.MaxSizeOfASDU)
	if err != nil {
		return nil, err
	}
	s := &Slave101{
		port:      port,
		params:    params,
		secondary: NewLinkLayerSecondaryUnbalanced(ll, ft12, address),
		class1:    NewHighPrioQueue(class1Cap),
		class2:    NewMessageQueue(class2ArenaBytes, class2Cap),
	}
	s.secondary.GetClass1Data = func() []byte {
		data, ok := s.class1.Dequeue()
		if !ok {
			return nil
		}
		return data
	}
	s.secondary.GetClass2Data = func() []byte {
		id, payload, ok := s.class2.NextWaiting()
		if !ok {
			return nil
		}
		// CS101 has no higher-layer confirmation of class-2 data like
		// CS104's N(R): the FT 1.2 single-char ACK from the primary
		// already confirms receipt of the response frame, so the
		// MessageQueue entry is freed as soon as it is handed to the
		// link layer rather than staying "sent" awaiting an ack that
		// never arrives at this layer.
		_ = s.class2.MarkConfirmed(id)
		return payload
	}
	s.secondary.OnUserData = func(data []byte) { s.dispatch(data) }
	return s, nil
}

func (s *Slave101) SetASDUHandler(h ASDUHandler)                                   { s.onASDU = h }
func (s *Slave101) SetLinkLayerStateChanged(h LinkLayerStateChangeHandler)         { s.secondary.SetStateChangeHandler(h) }
func (s *Slave101) SetInterrogationHandler(h func(asdu *ASDU, qoi byte) HandlerResult) {
	s.onInterrogation = h
}
func (s *Slave101) SetCounterInterrogationHandler(h func(asdu *ASDU, qcc byte) HandlerResult) {
	s.onCounterInterrog = h
}
func (s *Slave101) SetClockSyncHandler(h func(asdu *ASDU, t CP56Time2a) HandlerResult) {
	s.onClockSync = h
}

// EnqueueClass1/EnqueueClass2 submit an already-built ASDU to the
// urgent/cyclic queue respectively, per spec.md §6.
func (s *Slave101) EnqueueClass1(asdu *ASDU) bool {
	return s.class1.Enqueue(asdu.Data())
}

func (s *Slave101) EnqueueClass2(asdu *ASDU) error {
	_, err := s.class2.Enqueue(asdu.Data())
	return err
}

func (s *Slave101) IsClass1QueueFull() bool { return s.class1.IsFull() }

func (s *Slave101) dispatch(asduBytes []byte) {
	asdu, err := ParseASDU(s.params, asduBytes)
	if err != nil {
		_lg.Errorf("cs101: slave: parse asdu: %v", err)
		return
	}

	switch asdu.TypeID() {
	case CIcNa1:
		if s.onInterrogation != nil {
			elems, _ := asdu.AllElements()
			var qoi byte
			if len(elems) > 0 {
				qoi = elems[0].Element.InterrogationQualifier
			}
			s.onInterrogation(asdu, qoi)
			return
		}
	case CCiNa1:
		if s.onCounterInterrog != nil {
			elems, _ := asdu.AllElements()
			var qcc byte
			if len(elems) > 0 {
				qcc = elems[0].Element.CounterQualifier
			}
			s.onCounterInterrog(asdu, qcc)
			return
		}
	case CCsNa1:
		if s.onClockSync != nil {
			elems, _ := asdu.AllElements()
			if len(elems) > 0 {
				s.onClockSync(asdu, elems[0].Element.CP56)
			}
			return
		}
	}
	if s.onASDU != nil {
		s.onASDU(asdu)
	}
}

// HandleFrame processes one frame read from the port, replying directly
// on the same ReadWriter when the link layer produced a response.
func (s *Slave101) HandleFrame(f *FT12Frame) error {
	resp, err := s.secondary.HandleFrame(f)
	if err != nil {
		return err
	}
	if resp != nil {
		_, err = s.port.Write(resp)
	}
	return err
}

// Tick should be called periodically by the caller to evaluate the idle
// timeout, matching spec.md §5's threadless mode.
func (s *Slave101) Tick(now time.Time) {
	s.secondary.CheckIdleTimeout(now)
}
