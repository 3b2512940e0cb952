package chip

import "strconv"

// Mode is the operating mode field of REG_OP_MODE.
type Mode uint8

const (
	ModeSleep        Mode = 0x00
	ModeStandby      Mode = 0x01
	ModeFSTX         Mode = 0x02
	ModeTX           Mode = 0x03
	ModeFSRX         Mode = 0x04
	ModeRXContinuous Mode = 0x05
	ModeRXSingle     Mode = 0x06
	ModeCAD          Mode = 0x07
)

func (m Mode) String() string {
	switch m {
	case ModeSleep:
		return "sleep"
	case ModeStandby:
		return "standby"
	case ModeFSTX:
		return "fstx"
	case ModeTX:
		return "tx"
	case ModeFSRX:
		return "fsrx"
	case ModeRXContinuous:
		return "rx"
	case ModeRXSingle:
		return "rx-single"
	case ModeCAD:
		return "cad"
	default:
		return strconv.Itoa(int(m))
	}
}

// Modulation selects between the LoRa and FSK/OOK modems.
type Modulation uint8

const (
	ModulationFSK  Modulation = 0x00
	ModulationLoRa Modulation = Modulation(OPMODE_LORA)
)

// Bandwidth is the LoRa signal bandwidth.
type Bandwidth uint8

const (
	BW7800 Bandwidth = iota + 1
	BW10400
	BW15600
	BW20800
	BW31250
	BW41700
	BW62500
	BW125000
	BW250000
	BW500000
)

var bandwidthHz = [...]uint32{0, 7800, 10400, 15600, 20800, 31250, 41700, 62500, 125000, 250000, 500000}

// Hz returns the bandwidth in hertz, or 0 if b is not a valid bandwidth.
func (b Bandwidth) Hz() uint32 {
	if b == 0 || int(b) >= len(bandwidthHz) {
		return 0
	}
	return bandwidthHz[b]
}

// Valid reports whether b is one of the supported bandwidths.
func (b Bandwidth) Valid() bool { return b.Hz() != 0 }

func (b Bandwidth) bits() uint8 { return uint8(b-1) << 4 }

func (b Bandwidth) String() string {
	switch b {
	case BW7800:
		return "7.8 kHz"
	case BW10400:
		return "10.4 kHz"
	case BW15600:
		return "15.6 kHz"
	case BW20800:
		return "20.8 kHz"
	case BW31250:
		return "31.25 kHz"
	case BW41700:
		return "41.7 kHz"
	case BW62500:
		return "62.5 kHz"
	case BW125000:
		return "125 kHz"
	case BW250000:
		return "250 kHz"
	case BW500000:
		return "500 kHz"
	default:
		return "unknown"
	}
}

// BandwidthFromHz returns the bandwidth matching hz exactly.
func BandwidthFromHz(hz uint32) (Bandwidth, bool) {
	for i := 1; i < len(bandwidthHz); i++ {
		if bandwidthHz[i] == hz {
			return Bandwidth(i), true
		}
	}
	return 0, false
}

// SpreadingFactor is the LoRa spreading factor, SF6 to SF12.
type SpreadingFactor uint8

const (
	SF6  SpreadingFactor = 6
	SF7  SpreadingFactor = 7
	SF8  SpreadingFactor = 8
	SF9  SpreadingFactor = 9
	SF10 SpreadingFactor = 10
	SF11 SpreadingFactor = 11
	SF12 SpreadingFactor = 12
)

// Valid reports whether sf is in SF6..SF12.
func (sf SpreadingFactor) Valid() bool { return sf >= SF6 && sf <= SF12 }

func (sf SpreadingFactor) String() string {
	if !sf.Valid() {
		return "unknown"
	}
	return "SF" + strconv.Itoa(int(sf))
}

// CodingRate is the LoRa forward error correction rate.
type CodingRate uint8

const (
	CR4_5 CodingRate = iota + 1
	CR4_6
	CR4_7
	CR4_8
)

// Valid reports whether cr is one of 4/5 to 4/8.
func (cr CodingRate) Valid() bool { return cr >= CR4_5 && cr <= CR4_8 }

func (cr CodingRate) String() string {
	if !cr.Valid() {
		return "unknown"
	}
	return "4/" + strconv.Itoa(int(cr)+4)
}

// PaPin selects the power amplifier output pin.
type PaPin uint8

const (
	PaPinRFO PaPin = iota + 1
	PaPinBoost
)

func (p PaPin) String() string {
	switch p {
	case PaPinRFO:
		return "RFO"
	case PaPinBoost:
		return "PA_BOOST"
	default:
		return "unknown"
	}
}
