package iec104

import (
	"encoding/binary"
	"fmt"
)

/*
ASDU (Application Service Data Unit).

The ASDU contains two main sections:
- the data unit identifier (6 bytes under the CS104 default ALParams,
  narrower under CS101 profiles that drop the originator-address byte
  or use a 1-byte Common Address):
  - defining the specific type of data;
  - providing addressing to identify the specific data;
  - including information as cause of transmission.
- the data itself, made up of one or more information objects:
  - each ASDU can transmit maximum 127 objects;
  - the type identification is applied to the entire ASDU, so the information objects contained in the ASDU
    are of the same type.

The format of ASDU:
 | <-              8 bits              -> |
 | Type Identification                    |  --------------------
 | SQ | Number of objects                 |           |
 | T  | P/N | Cause of transmission (COT) |           |
 | Original address (ORG)                 |  Data Uint Identifier
 | ASDU address fields                    |           |
 | ASDU address fields                    |  --------------------
 | Information object address (IOA)       |  --------------------
 | Information object address (IOA)       |           |
 | Information object address (IOA)       |  Information Object 1
 | Information Elements                   |           |
 | Time Tag                               |  --------------------
 | Information Object 2                   |
 | Information Object N                   |

The teacher hard-coded a fixed 6-byte header (1-byte COT + 1-byte ORG +
2-byte COA); this generalizes header width to the ALParams threaded into
NewASDU/ParseASDU, per spec.md §3's size_of_cot/size_of_ca/size_of_ioa.
*/
type ASDU struct {
	params *ALParams

	typeID TypeID // 8  bits
	sq     SQ     // 1  bit
	nObjs  NOO    // 7  bits
	t      T      // 1  bit
	pn     PN     // 1  bit
	cot    COT    // 6  bits
	org    ORG    // 8  bits
	coa    COA    // 16 bits

	ios []*InformationObject

	// body holds the raw payload bytes for a decoded ASDU, consumed
	// lazily by Elements() so a malformed tail surfaces on iteration,
	// not on ParseASDU, per spec.md §4.3.
	body []byte
}

// NewASDU builds an empty ASDU ready for AddInformationObject calls.
func NewASDU(params *ALParams, isSequence bool, cot COT, oa ORG, ca COA, test, negative bool) *ASDU {
	return &ASDU{
		params: params,
		sq:     SQ(isSequence),
		cot:    cot,
		org:    oa,
		coa:    ca,
		t:      T(test),
		pn:     PN(negative),
	}
}

func (asdu *ASDU) TypeID() TypeID { return asdu.typeID }
func (asdu *ASDU) COT() COT       { return asdu.cot }
func (asdu *ASDU) CA() COA        { return asdu.coa }
func (asdu *ASDU) OA() ORG        { return asdu.org }
func (asdu *ASDU) IsSequence() bool { return bool(asdu.sq) }
func (asdu *ASDU) IsTest() bool     { return bool(asdu.t) }
func (asdu *ASDU) IsNegative() bool { return bool(asdu.pn) }

// AddInformationObject enforces the three invariants of spec.md §4.3:
// every element in an ASDU shares one type_id, SQ=1 addresses must be
// consecutive, and the encoded ASDU must stay within MaxSizeOfASDU.
func (asdu *ASDU) AddInformationObject(io *InformationObject) error {
	if len(asdu.ios) == 0 {
		asdu.typeID = io.Element.TypeID
	} else if io.Element.TypeID != asdu.typeID {
		return newInvalidEncoding(fmt.Sprintf("asdu: type mismatch, have %s want %s", io.Element.TypeID, asdu.typeID))
	}

	if bool(asdu.sq) && len(asdu.ios) > 0 {
		want := asdu.ios[0].Address + IOA(len(asdu.ios))
		if io.Address != want {
			return newInvalidEncoding(fmt.Sprintf("asdu: ioa mismatch in sequence, have %d want %d", io.Address, want))
		}
	}

	if len(asdu.ios) >= 127 {
		return ErrASDUFull
	}

	includeAddress := !bool(asdu.sq) || len(asdu.ios) == 0
	encoded, err := encodeInformationObject(asdu.params, io, includeAddress)
	if err != nil {
		return err
	}
	if asdu.params.headerLen()+asdu.bodyLen()+len(encoded) > asdu.params.MaxSizeOfASDU {
		return ErrASDUFull
	}

	asdu.ios = append(asdu.ios, io)
	return nil
}

func (asdu *ASDU) bodyLen() int {
	n := 0
	for i, io := range asdu.ios {
		includeAddress := !bool(asdu.sq) || i == 0
		encoded, _ := encodeInformationObject(asdu.params, io, includeAddress)
		n += len(encoded)
	}
	return n
}

// ParseASDU parses the fixed-width header and retains the remaining
// bytes for lazy element decoding via Elements().
func ParseASDU(params *ALParams, data []byte) (*ASDU, error) {
	hdr := params.headerLen()
	if len(data) < hdr {
		return nil, newInvalidEncoding(fmt.Sprintf("asdu: short header, have %d want %d", len(data), hdr))
	}

	asdu := &ASDU{params: params}
	asdu.parseTypeID(data[0])
	asdu.parseSQ(data[1])
	asdu.parseNOO(data[1])
	asdu.parseT(data[2])
	asdu.parsePN(data[2])
	asdu.parseCOT(data[2])

	off := 3
	if params.SizeOfCOT == 2 {
		asdu.parseORG(data[off])
		off++
	}
	asdu.parseCOA(data[off : off+params.SizeOfCA])
	off += params.SizeOfCA

	asdu.body = data[off:]
	return asdu, nil
}

// Data encodes the full ASDU (header plus every information object).
func (asdu *ASDU) Data() []byte {
	data := make([]byte, 0, asdu.params.headerLen()+asdu.bodyLen())
	data = append(data, byte(asdu.typeID))
	data = append(data, func() byte {
		if asdu.sq {
			return (1 << 7) | (asdu.nObjs2() & 0x7f)
		}
		return asdu.nObjs2() & 0x7f
	}())
	data = append(data, func() byte {
		b := byte(asdu.cot) & 0x3f
		if asdu.t {
			b |= 1 << 7
		}
		if asdu.pn {
			b |= 1 << 6
		}
		return b
	}())
	if asdu.params.SizeOfCOT == 2 {
		data = append(data, byte(asdu.org))
	}
	data = append(data, serializeCOA(asdu.params, asdu.coa)...)

	if len(asdu.ios) == 0 && len(asdu.body) > 0 {
		// decoded ASDU being re-emitted (e.g. an unknown-* mirror reply):
		// the undecoded object bytes are passed through untouched
		return append(data, asdu.body...)
	}
	for i, io := range asdu.ios {
		includeAddress := !bool(asdu.sq) || i == 0
		encoded, err := encodeInformationObject(asdu.params, io, includeAddress)
		if err != nil {
			continue // AddInformationObject already validated this; unreachable in practice
		}
		data = append(data, encoded...)
	}
	return data
}

// MirrorReply builds the response ASDU spec.md §7 prescribes for
// command handling: same type, elements and addressing as the request,
// with the cause of transmission replaced and the P/N flag set for a
// negative confirmation.
func (asdu *ASDU) MirrorReply(cot COT, negative bool) *ASDU {
	out := *asdu
	out.cot = cot
	out.pn = PN(negative)
	return &out
}

func (asdu *ASDU) nObjs2() byte {
	if len(asdu.ios) > 0 {
		return byte(len(asdu.ios))
	}
	return asdu.nObjs
}

func serializeCOA(params *ALParams, coa COA) []byte {
	if params.SizeOfCA == 1 {
		return []byte{byte(coa)}
	}
	return serializeLittleEndianUint16(uint16(coa))
}

// ioIterator lazily decodes information objects out of an ASDU's body,
// per spec.md §4.3: "element i is parsed lazily so malformed tails
// surface as Err on iteration, not construction."
type ioIterator struct {
	asdu      *ASDU
	data      []byte
	index     int
	firstAddr IOA
	haveFirst bool
}

// Elements returns an iterator over this ASDU's information objects.
func (asdu *ASDU) Elements() *ioIterator {
	return &ioIterator{asdu: asdu, data: asdu.body}
}

// Next returns the next information object, or (nil, nil) once every
// object named by the VSQ element count has been consumed.
func (it *ioIterator) Next() (*InformationObject, error) {
	if it.index >= int(it.asdu.nObjs) {
		return nil, nil
	}

	includeAddress := !bool(it.asdu.sq) || it.index == 0
	implied := IOA(0)
	if !includeAddress {
		implied = it.firstAddr + IOA(it.index)
	}

	io, n, err := decodeInformationObject(it.asdu.params, it.asdu.typeID, it.data, includeAddress, implied)
	if err != nil {
		return nil, err
	}
	if includeAddress && it.index == 0 {
		it.firstAddr = io.Address
		it.haveFirst = true
	}
	it.data = it.data[n:]
	it.index++
	return io, nil
}

// AllElements drains the iterator, returning every decoded object or
// the first decode error encountered.
func (asdu *ASDU) AllElements() ([]*InformationObject, error) {
	it := asdu.Elements()
	out := make([]*InformationObject, 0, asdu.nObjs)
	for {
		io, err := it.Next()
		if err != nil {
			return nil, err
		}
		if io == nil {
			return out, nil
		}
		out = append(out, io)
	}
}

func (asdu *ASDU) parseTypeID(data byte) TypeID {
	asdu.typeID = TypeID(data)
	return asdu.typeID
}

/*
SQ (Structure Qualifier, 1 bit) specifies how information objects or elements are addressed.
- SQ=0 (false): each ASDU contains one or more than one equal information objects, each
  with its own IOA.
- SQ=1  (true): each ASDU contains just one information object sequence: a single IOA
  followed by N elements at consecutive addresses.
*/
type SQ bool

func (asdu *ASDU) parseSQ(data byte) SQ {
	asdu.sq = (data & (1 << 7)) == 1<<7
	return asdu.sq
}

// NOO (Number of Objects/Elements, 7 bits).
type NOO = uint8

func (asdu *ASDU) parseNOO(data byte) NOO {
	asdu.nObjs = data & 0b1111111
	return asdu.nObjs
}

/*
T (Test, 1 bit) defines ASDUs which generated during test conditions. That is to say, it is not intended to control the
process or change the system state.
*/
type T bool // Test

func (asdu *ASDU) parseT(data byte) T {
	asdu.t = (data & (1 << 7)) == 1<<7
	return asdu.t
}

/*
PN (Positive/Negative, 1 bit) indicates the positive or negative confirmation of an activation requested by a primary
application function.
*/
type PN bool

func (asdu *ASDU) parsePN(data byte) PN {
	asdu.pn = (data & (1 << 6)) == 1<<6
	return asdu.pn
}

func (asdu *ASDU) parseCOT(data byte) COT {
	asdu.cot = COT(data & 0b111111)
	return asdu.cot
}

/*
ORG (Originator Address, 1 byte) provides a method for a controlling station to explicitly identify itself.
Present only when params.SizeOfCOT == 2.
*/
type ORG uint8

func (asdu *ASDU) parseORG(data byte) ORG {
	asdu.org = ORG(data)
	return asdu.org
}

/*
COA (Common Address of ASDU) is normally interpreted as a station address, 1 or 2 bytes
wide per ALParams.SizeOfCA. 0xFFFF (or 0xFF when 1 byte) is the broadcast/global address.
*/
type COA = uint16

func (asdu *ASDU) parseCOA(data []byte) COA {
	if len(data) == 1 {
		asdu.coa = COA(data[0])
	} else {
		asdu.coa = binary.LittleEndian.Uint16(data[:2])
	}
	return asdu.coa
}
