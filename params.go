package iec104

/*
ALParams (Application Layer Parameters) fixes the wire width of the four
variable-width ASDU fields for one link, per spec.md §3. These are
negotiated out-of-band (by configuration, not on the wire) and must
match on both ends of a connection, the same way lib60870-C's
`CS101_AppLayerParameters`/`CS104_APCIParameters` are configured before
a connection is started.

Modeled on rob-gra-go-iecp5/cs104/config.go's `Config`/`NewConfig()`
defaults pattern, adapted to the teacher's plain-struct style (no
functional options here; ALParams is a value object threaded explicitly
through ASDU/InformationObject codec calls, not a builder).
*/
type ALParams struct {
	// SizeOfCOT is 1 (cause of transmission only) or 2 (cause of
	// transmission plus one originator-address byte).
	SizeOfCOT int
	// SizeOfCA is the Common Address width, 1 or 2 bytes.
	SizeOfCA int
	// SizeOfIOA is the Information Object Address width, 1, 2 or 3 bytes.
	SizeOfIOA int
	// MaxSizeOfASDU bounds the encoded ASDU length (header + payload),
	// must not exceed 249 per spec.md §3.
	MaxSizeOfASDU int
}

// DefaultCS104Params returns the conventional CS104 link parameters: a
// 2-byte CA, a 3-byte IOA, and an originator-address byte present.
func DefaultCS104Params() *ALParams {
	return &ALParams{
		SizeOfCOT:     2,
		SizeOfCA:      2,
		SizeOfIOA:     3,
		MaxSizeOfASDU: 249,
	}
}

// DefaultCS101Params returns CS101 balanced/unbalanced link parameters
// with a 2-byte CA, a 2-byte IOA and an originator-address byte present.
// CS101 networks with few stations commonly narrow SizeOfCA to 1 byte.
func DefaultCS101Params() *ALParams {
	return &ALParams{
		SizeOfCOT:     2,
		SizeOfCA:      2,
		SizeOfIOA:     2,
		MaxSizeOfASDU: 249,
	}
}

func (p *ALParams) headerLen() int {
	return 2 + p.SizeOfCOT + p.SizeOfCA // type-id + vsq, then cot/org, then ca
}

func (p *ALParams) validate() error {
	if p.SizeOfCOT != 1 && p.SizeOfCOT != 2 {
		return newInvalidEncoding("ALParams: size_of_cot must be 1 or 2")
	}
	if p.SizeOfCA != 1 && p.SizeOfCA != 2 {
		return newInvalidEncoding("ALParams: size_of_ca must be 1 or 2")
	}
	if p.SizeOfIOA < 1 || p.SizeOfIOA > 3 {
		return newInvalidEncoding("ALParams: size_of_ioa must be 1, 2 or 3")
	}
	if p.MaxSizeOfASDU < 1 || p.MaxSizeOfASDU > 249 {
		return newInvalidEncoding("ALParams: max_size_of_asdu must be in 1..249")
	}
	return nil
}

/*
APCIParameters holds the CS104 sliding-window and timer tuning from
spec.md §3: k (max sent-but-unacked I-frames), w (ack-trigger threshold)
and t0-t3. Grounded on the same rob-gra-go-iecp5 config pattern; values
mirror lib60870-C's CS104_APCIParameters defaults
(`original_source/lib60870-C/src/iec60870/cs104/cs104_connection.c`).
*/
type APCIParameters struct {
	K  int
	W  int
	T0 Seconds
	T1 Seconds
	T2 Seconds
	T3 Seconds
}

// Seconds is a small alias kept distinct from time.Duration so config
// literals in Config/APCIParameters read as plain integers, matching
// lib60870-C's integer-seconds timeout fields.
type Seconds = int

// DefaultAPCIParameters returns k=12, w=8, t0=10s, t1=15s, t2=10s, t3=20s.
func DefaultAPCIParameters() *APCIParameters {
	return &APCIParameters{K: 12, W: 8, T0: 10, T1: 15, T2: 10, T3: 20}
}

func (a *APCIParameters) validate() error {
	if a.K < 1 || a.K > 32767 {
		return newInvalidEncoding("APCIParameters: k out of range")
	}
	if a.W < 1 || a.W > a.K {
		return newInvalidEncoding("APCIParameters: w must be in 1..k")
	}
	if a.T2 >= a.T1 {
		return newInvalidEncoding("APCIParameters: t2 must be less than t1")
	}
	return nil
}
