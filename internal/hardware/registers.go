package hardware

// Register window offsets of the CRTCs and the channel groups.
const (
	DU0RegOffset Register = 0x00000
	DU1RegOffset Register = 0x30000
	DU2RegOffset Register = 0x40000
)

// Display control registers (per CRTC, DSYSR also per group).
const (
	DSYSR Register = 0x00000

	DSYSRILTS       uint32 = 1 << 29
	DSYSRDSEC       uint32 = 1 << 20
	DSYSRIUPD       uint32 = 1 << 16
	DSYSRDRES       uint32 = 1 << 9
	DSYSRDEN        uint32 = 1 << 8
	DSYSRTVMMaster  uint32 = 0 << 6
	DSYSRTVMSwitch  uint32 = 1 << 6
	DSYSRTVMTVSync  uint32 = 2 << 6
	DSYSRTVMMask    uint32 = 3 << 6
	DSYSRSCMIntNone uint32 = 0 << 4
	DSYSRSCMIntSync uint32 = 2 << 4
	DSYSRSCMIntVid  uint32 = 3 << 4
	DSYSRSCMMask    uint32 = 3 << 4

	DSMR Register = 0x00004

	DSMRVSPM   uint32 = 1 << 28
	DSMRODPM   uint32 = 1 << 27
	DSMRDIPMDE uint32 = 3 << 25
	DSMRCSPM   uint32 = 1 << 24
	DSMRDIL    uint32 = 1 << 19
	DSMRVSL    uint32 = 1 << 18 // VSYNC active low
	DSMRHSL    uint32 = 1 << 17 // HSYNC active low

	DSSR Register = 0x00008

	DSSRTVR  uint32 = 1 << 15
	DSSRFRM  uint32 = 1 << 14
	DSSRVBK  uint32 = 1 << 11
	DSSRRINT uint32 = 1 << 9
	DSSRHBK  uint32 = 1 << 8

	DSRCR Register = 0x0000c

	DSRCRTVCL uint32 = 1 << 15
	DSRCRFRCL uint32 = 1 << 14
	DSRCRVBCL uint32 = 1 << 11
	DSRCRRICL uint32 = 1 << 9
	DSRCRHBCL uint32 = 1 << 8
	DSRCRMask uint32 = 0x0000cbff

	DIER Register = 0x00010

	DIERTVE uint32 = 1 << 15
	DIERFRE uint32 = 1 << 14
	DIERVBE uint32 = 1 << 11
	DIERRIE uint32 = 1 << 9
	DIERHBE uint32 = 1 << 8

	DPPR Register = 0x00018

	DEFR     Register = 0x00020
	DEFRCode uint32   = 0x7773 << 16
	DEFRDEFE uint32   = 1 << 0

	DEFR2       Register = 0x00034
	DEFR2Code   uint32   = 0x7775 << 16
	DEFR2DEFE2G uint32   = 1 << 0

	DEFR3      Register = 0x00038
	DEFR3Code  uint32   = 0x7776 << 16
	DEFR3DEFE3 uint32   = 1 << 0

	DEFR4     Register = 0x0003c
	DEFR4Code uint32   = 0x7777 << 16

	DEFR5      Register = 0x000e0
	DEFR5Code  uint32   = 0x66 << 24
	DEFR5DEFE5 uint32   = 1 << 4
)

// Display timing generation registers.
const (
	HDSR Register = 0x00040
	HDER Register = 0x00044
	VDSR Register = 0x00048
	VDER Register = 0x0004c
	HCR  Register = 0x00050
	HSWR Register = 0x00054
	VCR  Register = 0x00058
	VSPR Register = 0x0005c
	DESR Register = 0x00078
	DEWR Register = 0x0007c
)

// Display attribute registers.
const (
	DOOR Register = 0x00090
	BPOR Register = 0x00098
)

// DOORRGB encodes the display-off output colour.
func DOORRGB(r, g, b uint8) uint32 {
	return uint32(r)<<18 | uint32(g)<<10 | uint32(b)<<2
}

// BPORRGB encodes the background plane colour.
func BPORRGB(r, g, b uint8) uint32 {
	return uint32(r)<<18 | uint32(g)<<10 | uint32(b)<<2
}

// Display plane registers. Plane n lives at n*PlaneOff from the group base.
const (
	PlaneOff Register = 0x00100

	PnMR Register = 0x00100

	PnMRYCDFYUYV  uint32 = 1 << 20
	PnMRSPIMTP    uint32 = 0 << 12
	PnMRSPIMALP   uint32 = 1 << 12
	PnMRSPIMEOR   uint32 = 2 << 12
	PnMRSPIMTPOff uint32 = 1 << 14
	PnMRBMMD      uint32 = 0 << 4
	PnMRDDDF8BPP  uint32 = 0 << 0
	PnMRDDDF16BPP uint32 = 1 << 0
	PnMRDDDFARGB  uint32 = 2 << 0
	PnMRDDDFYC    uint32 = 3 << 0
	PnMRDDDFMask  uint32 = 3 << 0

	PnMWR Register = 0x00104

	PnALPHAR      Register = 0x00108
	PnALPHARABIT1 uint32   = 0 << 12
	PnALPHARABIT0 uint32   = 1 << 12
	PnALPHARABITX uint32   = 2 << 12

	PnDSXR  Register = 0x00110
	PnDSYR  Register = 0x00114
	PnDPXR  Register = 0x00118
	PnDPYR  Register = 0x0011c
	PnDSA0R Register = 0x00120
	PnSPXR  Register = 0x00130
	PnSPYR  Register = 0x00134
	PnWASPR Register = 0x00138
	PnWAMWR Register = 0x0013c
	PnBTR   Register = 0x00140
	PnTC2R  Register = 0x00148
	PnTC3R  Register = 0x0014c
	PnMLR   Register = 0x00150

	PnTC3RCode uint32 = 0x66 << 24

	PnDDCR2     Register = 0x00188
	PnDDCR2Code uint32   = 0x7776 << 16
	PnDDCR2NV21 uint32   = 1 << 5
	PnDDCR2Y420 uint32   = 1 << 4
	PnDDCR2DIVY uint32   = 1 << 1
	PnDDCR2DIVU uint32   = 1 << 0

	PnDDCR4            Register = 0x00190
	PnDDCR4Code        uint32   = 0x7766 << 16
	PnDDCR4EDFNone     uint32   = 0 << 0
	PnDDCR4EDFYC570    uint32   = 1 << 0
	PnDDCR4EDFARGB8888 uint32   = 2 << 0
	PnDDCR4EDFRGB888   uint32   = 3 << 0
	PnDDCR4EDFRGB666   uint32   = 4 << 0
	PnDDCR4EDFMask     uint32   = 7 << 0
)

// PlaneReg returns the register of hardware plane index relative to the
// group base.
func PlaneReg(index int, reg Register) Register {
	return Register(index)*PlaneOff + reg
}

// External synchronization control registers.
const (
	ESCR  Register = 0x10000
	ESCR2 Register = 0x31000

	ESCRDCLKOINV      uint32 = 1 << 25
	ESCRDCLKSELDCLKIN uint32 = 1 << 20
	ESCRDCLKSELCLKS   uint32 = 0 << 20
	ESCRDCLKSELMask   uint32 = 1 << 20
	ESCRDCLKDIS       uint32 = 1 << 16
	ESCRFRQSELMask    uint32 = 0x3f << 0

	OTAR  Register = 0x10004
	OTAR2 Register = 0x31004
)

// Dual display output control registers.
const (
	DORCR Register = 0x11000

	DORCRPG2T     uint32 = 1 << 30
	DORCRDK2S     uint32 = 1 << 28
	DORCRPG2DDS1  uint32 = 0 << 24
	DORCRPG2DDS2  uint32 = 1 << 24
	DORCRPG2DFIX0 uint32 = 2 << 24
	DORCRPG2DDOOR uint32 = 3 << 24
	DORCRPG2DMask uint32 = 3 << 24
	DORCRDR1D     uint32 = 1 << 21
	DORCRPG1DDS1  uint32 = 0 << 16
	DORCRPG1DDS2  uint32 = 1 << 16
	DORCRPG1DMask uint32 = 3 << 16
	DORCRRGPV     uint32 = 1 << 4
	DORCRDPRS     uint32 = 1 << 0

	DPTSR Register = 0x11004

	DS1PR Register = 0x11020
	DS2PR Register = 0x11024
)

// DPTSRPnDK selects dot clock generator 2 for hardware plane n.
func DPTSRPnDK(n int) uint32 { return 1 << (uint(n) + 16) }

// DPTSRPnTS selects display timing generator 2 for hardware plane n.
func DPTSRPnTS(n int) uint32 { return 1 << uint(n) }

// External control registers (first group only, when present).
const (
	DEFR8      Register = 0x20020
	DEFR8Code  uint32   = 0x7790 << 16
	DEFR8DEFE8 uint32   = 1 << 0
)

// DEFR8DRGBSDU routes RGB output of CRTC n to DPAD0.
func DEFR8DRGBSDU(n int) uint32 { return uint32(n) << 4 }

// PackPriority packs hardware plane indices into a DSnPR value. indices
// are ordered from lowest to highest priority; the highest priority plane
// ends up in the least significant field.
func PackPriority(indices []int) uint32 {
	var dspr uint32
	shift := uint(len(indices)) * 4
	for _, idx := range indices {
		shift -= 4
		dspr |= uint32(idx+1) << shift
	}
	return dspr
}

// UnpackPriority returns the hardware plane indices packed in dspr, from
// lowest to highest priority. Empty fields terminate the list.
func UnpackPriority(dspr uint32) []int {
	var fields []int
	for shift := 0; shift < 32; shift += 4 {
		v := (dspr >> uint(shift)) & 0xf
		if v == 0 {
			break
		}
		fields = append(fields, int(v)-1)
	}
	// fields is highest priority first
	for i, j := 0, len(fields)-1; i < j; i, j = i+1, j-1 {
		fields[i], fields[j] = fields[j], fields[i]
	}
	return fields
}
