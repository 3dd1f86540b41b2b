package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Command ids, the first byte of every command frame.
const (
	CmdInit          byte = 0x0A
	CmdStart         byte = 0x03
	CmdStop          byte = 0x05
	CmdProgramParams byte = 0x04
	CmdColorScheme   byte = 0x11
	CmdEchoControl   byte = 0x4E
)

// Frame sizes in bytes.
const (
	InitFrameSize          = 4
	StartStopFrameSize     = 4
	InitPresetFrameSize    = 34
	ColorSchemeFrameSize   = 34
	EchoControlFrameSize   = 32
	ProgramParamsFrameSize = 96
	MonitorFrameSize       = 16
	RepFrameSize           = 6

	// MaxCommandSize is the largest command the transport must write in one go.
	MaxCommandSize = ProgramParamsFrameSize
)

// PROGRAM_PARAMS field offsets.
const (
	programRepsOffset      = 0x04
	programProfileOffset   = 0x30
	programEffectiveOffset = 0x54
	programTotalOffset     = 0x58
	programProgressOffset  = 0x5C
)

// ECHO_CONTROL field offsets.
const (
	echoWarmupOffset     = 0x04
	echoRepsOffset       = 0x05
	echoSpotterOffset    = 0x06
	echoEccentricOffset  = 0x08
	echoConcentricOffset = 0x0A
	echoSmoothingOffset  = 0x0C
	echoGainOffset       = 0x10
	echoCapOffset        = 0x14
	echoFloorOffset      = 0x18
	echoNegLimitOffset   = 0x1C
)

const (
	colorBrightnessOffset = 12
	colorTripletOffset    = 16

	// justLiftReps tells the firmware there is no rep target.
	justLiftReps byte = 0xFF

	// effectiveWeightOffsetKg is added to the per cable weight in the
	// "effective weight" field.
	effectiveWeightOffsetKg = 10.0

	// MaxWeightPerCableKg is the heaviest load one cable can produce.
	MaxWeightPerCableKg = 100.0

	echoConcentricPct = 50
	echoSmoothing     = 0.1
	echoNegLimit      = -100.0
)

func newFrame(size int, cmd byte) []byte {
	buf := make([]byte, size)
	buf[0] = cmd
	return buf
}

func putU16(buf []byte, offset int, v uint16) {
	binary.LittleEndian.PutUint16(buf[offset:], v)
}

func putI16(buf []byte, offset int, v int16) {
	binary.LittleEndian.PutUint16(buf[offset:], uint16(v))
}

func putF32(buf []byte, offset int, v float32) {
	binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(v))
}

// repsField computes the reps byte shared by PROGRAM_PARAMS and ECHO_CONTROL.
// The firmware bumps completeCounter at the start of the last concentric
// phase, so one extra rep is requested to keep tension until the set ends.
func repsField(reps, warmupReps int, isJustLift bool) (byte, error) {
	if isJustLift {
		return justLiftReps, nil
	}
	if reps < 0 {
		return 0, &ConfigurationError{Field: "reps", Reason: fmt.Sprintf("must be >= 0, got %d", reps)}
	}
	if warmupReps < 0 {
		return 0, &ConfigurationError{Field: "warmup_reps", Reason: fmt.Sprintf("must be >= 0, got %d", warmupReps)}
	}
	total := reps + warmupReps + 1
	if total >= int(justLiftReps) {
		return 0, &ConfigurationError{Field: "reps", Reason: fmt.Sprintf("reps+warmup %d exceeds %d", reps+warmupReps, int(justLiftReps)-2)}
	}
	return byte(total), nil
}

// EncodeInit builds the INIT command that halts any program and releases resistance.
func EncodeInit() []byte {
	return newFrame(InitFrameSize, CmdInit)
}

// EncodeStart builds the START command.
func EncodeStart() []byte {
	return newFrame(StartStopFrameSize, CmdStart)
}

// EncodeStop builds the STOP command. Sets are normally ended with EncodeInit.
func EncodeStop() []byte {
	return newFrame(StartStopFrameSize, CmdStop)
}

// EncodeInitPreset builds the INIT_PRESET frame sent once after connecting.
func EncodeInitPreset() []byte {
	buf := newFrame(InitPresetFrameSize, CmdColorScheme)
	writeColorBlock(buf, DefaultBrightness, DefaultColors)
	return buf
}

// EncodeColorScheme builds a COLOR_SCHEME frame. Exactly three colours are
// required, they are mirrored for the left and right channel.
func EncodeColorScheme(brightness float32, colors []RGB) ([]byte, error) {
	if len(colors) != 3 {
		return nil, &ConfigurationError{Field: "colors", Reason: fmt.Sprintf("want 3 colours, got %d", len(colors))}
	}
	if brightness < 0 || brightness > 1 || math.IsNaN(float64(brightness)) {
		return nil, &ConfigurationError{Field: "brightness", Reason: fmt.Sprintf("must be within 0..1, got %v", brightness)}
	}
	buf := newFrame(ColorSchemeFrameSize, CmdColorScheme)
	writeColorBlock(buf, brightness, colors)
	return buf, nil
}

func writeColorBlock(buf []byte, brightness float32, colors []RGB) {
	putF32(buf, colorBrightnessOffset, brightness)
	offset := colorTripletOffset
	for pass := 0; pass < 2; pass++ {
		for _, c := range colors {
			buf[offset] = c.R
			buf[offset+1] = c.G
			buf[offset+2] = c.B
			offset += 3
		}
	}
}

// EncodeProgramParams builds the 96 byte PROGRAM_PARAMS frame. Echo sets and
// Just Lift use the Old School profile block.
func EncodeProgramParams(p ProgramParams) ([]byte, error) {
	reps, err := repsField(p.Reps, p.WarmupReps, p.IsJustLift)
	if err != nil {
		return nil, err
	}
	if p.WeightPerCableKg < 0 || p.WeightPerCableKg > MaxWeightPerCableKg || math.IsNaN(p.WeightPerCableKg) {
		return nil, &ConfigurationError{Field: "weight_per_cable_kg", Reason: fmt.Sprintf("must be within 0..%v, got %v", MaxWeightPerCableKg, p.WeightPerCableKg)}
	}
	if math.IsNaN(p.ProgressionKg) || math.IsInf(p.ProgressionKg, 0) {
		return nil, &ConfigurationError{Field: "progression_kg", Reason: "must be finite"}
	}

	mode := OldSchool
	switch t := p.Type.(type) {
	case Program:
		if !t.Mode.valid() {
			return nil, &ConfigurationError{Field: "mode", Reason: t.Mode.String()}
		}
		mode = t.Mode
	case Echo, nil:
	default:
		return nil, &ConfigurationError{Field: "type", Reason: fmt.Sprintf("unsupported workout type %T", p.Type)}
	}
	if p.IsJustLift {
		mode = OldSchool
	}

	buf := newFrame(ProgramParamsFrameSize, CmdProgramParams)
	buf[programRepsOffset] = reps
	writeProgramHeader(buf)
	writeProfile(buf[programProfileOffset:programProfileOffset+32], modeProfiles[mode])

	// The firmware applies progression from a virtual rep zero, so the base
	// is shifted back one step for the first working rep to land on the
	// configured weight.
	adjusted := p.WeightPerCableKg
	if p.ProgressionKg != 0 {
		adjusted = p.WeightPerCableKg - p.ProgressionKg
	}
	putF32(buf, programEffectiveOffset, float32(adjusted+effectiveWeightOffsetKg))
	// Per cable. Never double this.
	putF32(buf, programTotalOffset, float32(adjusted))
	putF32(buf, programProgressOffset, float32(p.ProgressionKg))
	return buf, nil
}

// writeProgramHeader fills the constant part of PROGRAM_PARAMS between the
// reps byte and the profile block.
func writeProgramHeader(buf []byte) {
	buf[0x05] = 0x03
	buf[0x06] = 0x03
	putF32(buf, 0x08, 5.0)
	putF32(buf, 0x0C, 5.0)
	putU16(buf, 0x14, 250)
	putU16(buf, 0x16, 250)
	putU16(buf, 0x18, 200)
	putU16(buf, 0x1A, 30)
	putF32(buf, 0x1C, 5.0)
	putF32(buf, 0x24, 0.5)
}

func writeProfile(dst []byte, profile modeProfile) {
	for i, seg := range profile {
		off := i * 8
		putI16(dst, off, seg.min)
		putI16(dst, off+2, seg.max)
		putF32(dst, off+4, seg.gain)
	}
}

// EncodeEchoControl builds the 32 byte ECHO_CONTROL frame.
func EncodeEchoControl(level EchoLevel, warmupReps, targetReps int, isJustLift bool, eccentricPct int) ([]byte, error) {
	tuning, ok := echoTunings[level]
	if !ok {
		return nil, &ConfigurationError{Field: "echo_level", Reason: level.String()}
	}
	if eccentricPct < 0 || eccentricPct > int(MaxEccentricLoad) {
		return nil, &ConfigurationError{Field: "eccentric_load", Reason: fmt.Sprintf("must be within 0..%d, got %d", int(MaxEccentricLoad), eccentricPct)}
	}
	reps, err := repsField(targetReps, warmupReps, isJustLift)
	if err != nil {
		return nil, err
	}
	if warmupReps > math.MaxUint8 {
		return nil, &ConfigurationError{Field: "warmup_reps", Reason: fmt.Sprintf("too large: %d", warmupReps)}
	}

	buf := newFrame(EchoControlFrameSize, CmdEchoControl)
	buf[echoWarmupOffset] = byte(warmupReps)
	buf[echoRepsOffset] = reps
	putU16(buf, echoSpotterOffset, 0)
	putU16(buf, echoEccentricOffset, uint16(eccentricPct))
	putU16(buf, echoConcentricOffset, echoConcentricPct)
	putF32(buf, echoSmoothingOffset, echoSmoothing)
	putF32(buf, echoGainOffset, tuning.gain)
	putF32(buf, echoCapOffset, tuning.cap)
	putF32(buf, echoFloorOffset, 0)
	putF32(buf, echoNegLimitOffset, echoNegLimit)
	return buf, nil
}
