package iec104

import "fmt"

/*
InformationObject pairs an Information Object Address with its already
decoded InformationElement. The teacher's asdu_information_object.go
modeled an IO the same way (address + payload) but only for its 3
implemented types; this generalizes address encoding to the 1/2/3-byte
ALParams.SizeOfIOA width spec.md §4.2 requires, and routes the payload
through information_element.go's ioTable for every TypeID.
*/
type InformationObject struct {
	Address IOA
	Element InformationElement
}

func errIOAWidth(n int) error {
	return newInvalidEncoding(fmt.Sprintf("information object address: unsupported width %d", n))
}

func parseIOA(params *ALParams, data []byte) (IOA, error) {
	if len(data) < params.SizeOfIOA {
		return 0, newInvalidEncoding("information object address: short buffer")
	}
	switch params.SizeOfIOA {
	case 1:
		return IOA(data[0]), nil
	case 2:
		return IOA(parseLittleEndianUint16(data[:2])), nil
	case 3:
		return IOA(uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16), nil
	default:
		return 0, errIOAWidth(params.SizeOfIOA)
	}
}

func serializeIOA(params *ALParams, addr IOA) ([]byte, error) {
	switch params.SizeOfIOA {
	case 1:
		if addr > 0xff {
			return nil, newInvalidEncoding("information object address: overflows 1 byte")
		}
		return []byte{byte(addr)}, nil
	case 2:
		if addr > 0xffff {
			return nil, newInvalidEncoding("information object address: overflows 2 bytes")
		}
		return serializeLittleEndianUint16(uint16(addr)), nil
	case 3:
		if addr > 0xffffff {
			return nil, newInvalidEncoding("information object address: overflows 3 bytes")
		}
		return []byte{byte(addr), byte(addr >> 8), byte(addr >> 16)}, nil
	default:
		return nil, errIOAWidth(params.SizeOfIOA)
	}
}

// encodeInformationObject writes the IOA (unless includeAddress is
// false, which happens for every element after the first in an SQ=1
// ASDU) followed by the type-specific element payload.
func encodeInformationObject(params *ALParams, io *InformationObject, includeAddress bool) ([]byte, error) {
	entry, ok := ioTable[io.Element.TypeID]
	if !ok {
		return nil, newInvalidEncoding(fmt.Sprintf("information object: unsupported type %s", io.Element.TypeID))
	}
	var out []byte
	if includeAddress {
		addr, err := serializeIOA(params, io.Address)
		if err != nil {
			return nil, err
		}
		out = addr
	}
	return append(out, entry.encode(&io.Element)...), nil
}

// decodeInformationObject reads one IO from data. When includeAddress
// is false, impliedAddress is used instead (the SQ=1 consecutive
// addressing rule from spec.md §4.3), and no address bytes are
// consumed. Returns the object and the number of bytes consumed from
// data (NOT including a leading address when includeAddress is false).
func decodeInformationObject(params *ALParams, id TypeID, data []byte, includeAddress bool, impliedAddress IOA) (*InformationObject, int, error) {
	entry, ok := ioTable[id]
	if !ok {
		return nil, 0, newInvalidEncoding(fmt.Sprintf("information object: unsupported type %s", id))
	}

	consumed := 0
	addr := impliedAddress
	if includeAddress {
		a, err := parseIOA(params, data)
		if err != nil {
			return nil, 0, err
		}
		addr = a
		consumed = params.SizeOfIOA
	}

	ie := InformationElement{TypeID: id, Address: addr}
	n, err := entry.decode(&ie, data[consumed:])
	if err != nil {
		return nil, 0, err
	}
	if entry.elemLen >= 0 && n != entry.elemLen {
		return nil, 0, newInvalidEncoding(fmt.Sprintf("information object %s: decoded %d bytes, want %d", id, n, entry.elemLen))
	}
	return &InformationObject{Address: addr, Element: ie}, consumed + n, nil
}
