package iec104

/*
TypeID (Type Identification, 1 byte) classifies an ASDU's information
objects. Value range per spec.md §3:
  - 0 is not used
  - 1-127 standard IEC 101/104 definitions (~60 types are assigned)
  - 128-135 reserved for message routing
  - 136-255 for special use

The teacher (asdu.go) defined ten of these (MSpNa1, MSpTa1, MDpNa1,
MDpTa1, MMeNd1, MSpTb1, MDpTb1, CIcNa1, CCiNa1, CCsNa1); this block
completes the set to the ~60 types enumerated in spec.md §3, grounded on
pascaldekloe-part5/info/code.go's TypeID block and
rob-gra-go-iecp5/asdu/identifier.go for the numeric assignments, kept
under the teacher's naming convention (MSpNa1 rather than M_SP_NA_1).
*/
type TypeID uint8

const (
	// Process information in monitor direction.

	MSpNa1 TypeID = 1  // single-point information                         [SIQ]
	MSpTa1 TypeID = 2  // single-point information with CP24Time2a         [SIQ+CP24]
	MDpNa1 TypeID = 3  // double-point information                         [DIQ]
	MDpTa1 TypeID = 4  // double-point information with CP24Time2a         [DIQ+CP24]
	MStNa1 TypeID = 5  // step position information                        [VTI+QDS]
	MStTa1 TypeID = 6  // step position information with CP24Time2a        [VTI+QDS+CP24]
	MBoNa1 TypeID = 7  // bitstring of 32 bits                             [BSI+QDS]
	MBoTa1 TypeID = 8  // bitstring of 32 bits with CP24Time2a             [BSI+QDS+CP24]
	MMeNa1 TypeID = 9  // measured value, normalized value                 [NVA+QDS]
	MMeTa1 TypeID = 10 // measured value, normalized value with CP24Time2a [NVA+QDS+CP24]
	MMeNb1 TypeID = 11 // measured value, scaled value                     [SVA+QDS]
	MMeTb1 TypeID = 12 // measured value, scaled value with CP24Time2a     [SVA+QDS+CP24]
	MMeNc1 TypeID = 13 // measured value, short float                     [IEEESTD754+QDS]
	MMeTc1 TypeID = 14 // measured value, short float with CP24Time2a      [IEEESTD754+QDS+CP24]
	MItNa1 TypeID = 15 // integrated totals                                [BCR]
	MItTa1 TypeID = 16 // integrated totals with CP24Time2a                [BCR+CP24]
	MEpTa1 TypeID = 17 // event of protection equipment with CP16/CP24     [SEP+CP16+CP24]
	MEpTb1 TypeID = 18 // packed start events of protection equipment      [SPE+QDP+CP16+CP24]
	MEpTc1 TypeID = 19 // packed output circuit info of protection equip.  [OCI+QDP+CP16+CP24]
	MPsNa1 TypeID = 20 // packed single-point info with status change      [SCD+QDS]
	MMeNd1 TypeID = 21 // measured value, normalized value without quality [NVA]

	MSpTb1 TypeID = 30 // single-point information with CP56Time2a
	MDpTb1 TypeID = 31 // double-point information with CP56Time2a
	MStTb1 TypeID = 32 // step position information with CP56Time2a
	MBoTb1 TypeID = 33 // bitstring of 32 bits with CP56Time2a
	MMeTd1 TypeID = 34 // measured value, normalized value with CP56Time2a
	MMeTe1 TypeID = 35 // measured value, scaled value with CP56Time2a
	MMeTf1 TypeID = 36 // measured value, short float with CP56Time2a
	MItTb1 TypeID = 37 // integrated totals with CP56Time2a
	MEpTd1 TypeID = 38 // event of protection equipment with CP56Time2a
	MEpTe1 TypeID = 39 // packed start events of protection equip. CP56
	MEpTf1 TypeID = 40 // packed output circuit info of protection equip. CP56

	// Process information in control direction.

	CScNa1 TypeID = 45 // single command                          [SCO]
	CDcNa1 TypeID = 46 // double command                           [DCO]
	CRcNa1 TypeID = 47 // regulating step command                 [RCO]
	CSeNa1 TypeID = 48 // set-point command, normalized value      [NVA+QOS]
	CSeNb1 TypeID = 49 // set-point command, scaled value          [SVA+QOS]
	CSeNc1 TypeID = 50 // set-point command, short float           [IEEESTD754+QOS]
	CBoNa1 TypeID = 51 // bitstring of 32 bits                     [BSI]

	CScTa1 TypeID = 58 // single command with CP56Time2a
	CDcTa1 TypeID = 59 // double command with CP56Time2a
	CRcTa1 TypeID = 60 // regulating step command with CP56Time2a
	CSeTa1 TypeID = 61 // set-point command, normalized, with CP56Time2a
	CSeTb1 TypeID = 62 // set-point command, scaled, with CP56Time2a
	CSeTc1 TypeID = 63 // set-point command, short float, with CP56Time2a
	CBoTa1 TypeID = 64 // bitstring of 32 bits with CP56Time2a

	// System information in monitor direction.

	MEiNa1 TypeID = 70 // end of initialization [COI]

	// System information in control direction.

	CIcNa1 TypeID = 100 // interrogation command                [QOI]
	CCiNa1 TypeID = 101 // counter interrogation command         [QCC]
	CRdNa1 TypeID = 102 // read command                          (no payload besides IOA)
	CCsNa1 TypeID = 103 // clock synchronization command         [CP56Time2a]
	CTsNa1 TypeID = 104 // test command                          [FBP]
	CRpNa1 TypeID = 105 // reset process command                 [QRP]
	CCdNa1 TypeID = 106 // delay acquisition command              [CP56Time2a]
	CTsTa1 TypeID = 107 // test command with CP56Time2a          [FBP+CP56]

	// Parameter in control direction.

	PMeNa1 TypeID = 110 // parameter of measured value, normalized [NVA+QPM]
	PMeNb1 TypeID = 111 // parameter of measured value, scaled     [SVA+QPM]
	PMeNc1 TypeID = 112 // parameter of measured value, short float [IEEESTD754+QPM]
	PAcNa1 TypeID = 113 // parameter activation                    [QPA]

	// File transfer.

	FFrNa1 TypeID = 120 // file ready                  [NOF+LOF+FRQ]
	FSrNa1 TypeID = 121 // section ready               [NOF+NOS+LOF+SRQ]
	FScNa1 TypeID = 122 // call/select directory/file/section [NOF+NOS+SCQ]
	FLsNa1 TypeID = 123 // last section, last segment  [NOF+NOS+LSQ+CHS]
	FAfNa1 TypeID = 124 // ack file, ack section        [NOF+NOS+AFQ]
	FSgNa1 TypeID = 125 // segment                      [NOF+NOS+LOS+data]
	FDrTa1 TypeID = 126 // directory                    [NOF+LOF+SOF+CP56Time2a]
	FScNb1 TypeID = 127 // QueryLog (104 only)          [NOF+NOS+SCQ+CP56+CP56]
)

var typeIDNames = map[TypeID]string{
	MSpNa1: "M_SP_NA_1", MSpTa1: "M_SP_TA_1", MDpNa1: "M_DP_NA_1", MDpTa1: "M_DP_TA_1",
	MStNa1: "M_ST_NA_1", MStTa1: "M_ST_TA_1", MBoNa1: "M_BO_NA_1", MBoTa1: "M_BO_TA_1",
	MMeNa1: "M_ME_NA_1", MMeTa1: "M_ME_TA_1", MMeNb1: "M_ME_NB_1", MMeTb1: "M_ME_TB_1",
	MMeNc1: "M_ME_NC_1", MMeTc1: "M_ME_TC_1", MItNa1: "M_IT_NA_1", MItTa1: "M_IT_TA_1",
	MEpTa1: "M_EP_TA_1", MEpTb1: "M_EP_TB_1", MEpTc1: "M_EP_TC_1", MPsNa1: "M_PS_NA_1",
	MMeNd1: "M_ME_ND_1",
	MSpTb1: "M_SP_TB_1", MDpTb1: "M_DP_TB_1", MStTb1: "M_ST_TB_1", MBoTb1: "M_BO_TB_1",
	MMeTd1: "M_ME_TD_1", MMeTe1: "M_ME_TE_1", MMeTf1: "M_ME_TF_1", MItTb1: "M_IT_TB_1",
	MEpTd1: "M_EP_TD_1", MEpTe1: "M_EP_TE_1", MEpTf1: "M_EP_TF_1",
	CScNa1: "C_SC_NA_1", CDcNa1: "C_DC_NA_1", CRcNa1: "C_RC_NA_1", CSeNa1: "C_SE_NA_1",
	CSeNb1: "C_SE_NB_1", CSeNc1: "C_SE_NC_1", CBoNa1: "C_BO_NA_1",
	CScTa1: "C_SC_TA_1", CDcTa1: "C_DC_TA_1", CRcTa1: "C_RC_TA_1", CSeTa1: "C_SE_TA_1",
	CSeTb1: "C_SE_TB_1", CSeTc1: "C_SE_TC_1", CBoTa1: "C_BO_TA_1",
	MEiNa1: "M_EI_NA_1",
	CIcNa1: "C_IC_NA_1", CCiNa1: "C_CI_NA_1", CRdNa1: "C_RD_NA_1", CCsNa1: "C_CS_NA_1",
	CTsNa1: "C_TS_NA_1", CRpNa1: "C_RP_NA_1", CCdNa1: "C_CD_NA_1", CTsTa1: "C_TS_TA_1",
	PMeNa1: "P_ME_NA_1", PMeNb1: "P_ME_NB_1", PMeNc1: "P_ME_NC_1", PAcNa1: "P_AC_NA_1",
	FFrNa1: "F_FR_NA_1", FSrNa1: "F_SR_NA_1", FScNa1: "F_SC_NA_1", FLsNa1: "F_LS_NA_1",
	FAfNa1: "F_AF_NA_1", FSgNa1: "F_SG_NA_1", FDrTa1: "F_DR_TA_1", FScNb1: "F_SC_NB_1",
}

func (id TypeID) String() string {
	if name, ok := typeIDNames[id]; ok {
		return name
	}
	return "unknown"
}

// COT (Cause of Transmission, 6 bits) controls message routing, per
// spec.md §3. The teacher's COT block (asdu.go) already covers the
// periodic..unknown-object-address range; this adds the handful of
// 101/104 codes it omitted (Init, File) for completeness.
type COT uint8

const (
	CotPer       COT = 1 // periodic, cyclic
	CotCyc       COT = 1
	CotBack      COT = 2 // background scan
	CotSpt       COT = 3 // spontaneous
	CotInit      COT = 4 // initialized
	CotReq       COT = 5 // request or requested
	CotAct       COT = 6 // activation
	CotActCon    COT = 7 // activation confirmation
	CotDeact     COT = 8 // deactivation
	CotDeactCon  COT = 9 // deactivation confirmation
	CotActTerm   COT = 10
	CotRetRem    COT = 11
	CotRetLoc    COT = 12
	CotFile      COT = 13
	CotInrogen   COT = 20
	CotInro1     COT = 21
	CotInro2     COT = 22
	CotInro3     COT = 23
	CotInro4     COT = 24
	CotInro5     COT = 25
	CotInro6     COT = 26
	CotInro7     COT = 27
	CotInro8     COT = 28
	CotInro9     COT = 29
	CotInro10    COT = 30
	CotInro11    COT = 31
	CotInro12    COT = 32
	CotInro13    COT = 33
	CotInro14    COT = 34
	CotInro15    COT = 35
	CotInro16    COT = 36
	CotReqcogen  COT = 37
	CotReqco1    COT = 38
	CotReqco2    COT = 39
	CotReqco3    COT = 40
	CotReqco4    COT = 41
	CotUnType    COT = 44 // unknown type identification
	CotUnCause   COT = 45 // unknown cause of transmission
	CotUnAsduAddr COT = 46 // unknown common address of ASDU
	CotUnObjAddr COT = 47 // unknown information object address
)

// IOA (Information Object Address, 1-3 bytes) identifies data within a
// common address; see InformationObject in information_object.go.
type IOA uint32

const GlobalIOA IOA = 0

// CA (Common Address of ASDU) addresses a logical station. 0xFFFF (or
// 0xFF when 1 byte wide) is the broadcast/global address, restricted to
// CIcNa1, CCiNa1, CCsNa1 and CRpNa1 per spec.md §3.
type CA uint16

const GlobalCA16 CA = 0xFFFF
const GlobalCA8 CA = 0xFF

// QualityDescriptor is the shared quality byte; bit constants live in
// byte_codec.go (IV, NT, SB, BL, OV).
type QualityDescriptor byte
