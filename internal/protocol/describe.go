package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DescribeCommand names a command frame by its id and size, for logs and the
// simulated device's write history.
func DescribeCommand(frame []byte) string {
	if len(frame) == 0 {
		return "EMPTY"
	}
	switch frame[0] {
	case CmdInit:
		return "INIT"
	case CmdStart:
		return "START"
	case CmdStop:
		return "STOP"
	case CmdProgramParams:
		if len(frame) == ProgramParamsFrameSize {
			return fmt.Sprintf("PROGRAM_PARAMS reps=0x%02X", frame[programRepsOffset])
		}
	case CmdEchoControl:
		if len(frame) == EchoControlFrameSize {
			return fmt.Sprintf("ECHO_CONTROL reps=0x%02X", frame[echoRepsOffset])
		}
	case CmdColorScheme:
		if len(frame) == ColorSchemeFrameSize {
			return "COLOR_SCHEME"
		}
	}
	return fmt.Sprintf("UNKNOWN 0x%02X (%d bytes)", frame[0], len(frame))
}

// StartsProgram reports whether frame puts the machine under load.
func StartsProgram(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	return (frame[0] == CmdProgramParams && len(frame) == ProgramParamsFrameSize) ||
		(frame[0] == CmdEchoControl && len(frame) == EchoControlFrameSize)
}

// ReleasesLoad reports whether frame stops the running program.
func ReleasesLoad(frame []byte) bool {
	return len(frame) == InitFrameSize && (frame[0] == CmdInit || frame[0] == CmdStop)
}

// ProgramWeightPerCable reads the per-cable weight back out of a
// PROGRAM_PARAMS frame.
func ProgramWeightPerCable(frame []byte) (float64, bool) {
	if len(frame) != ProgramParamsFrameSize || frame[0] != CmdProgramParams {
		return 0, false
	}
	bits := binary.LittleEndian.Uint32(frame[programTotalOffset:])
	return float64(math.Float32frombits(bits)), true
}
